package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/adapters/s3store"
	"github.com/hca-atlas-tracker/tracker/pkg/adapters/snsverify"
	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
	"github.com/hca-atlas-tracker/tracker/pkg/conceptkey"
	"github.com/hca-atlas-tracker/tracker/pkg/logging"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
	"github.com/hca-atlas-tracker/tracker/pkg/services"
)

const (
	snsTypeSubscriptionConfirmation = snsverify.TypeSubscriptionConfirmation
	snsTypeNotification             = snsverify.TypeNotification
	snsTypeUnsubscribeConfirmation  = snsverify.TypeUnsubscribeConfirmation
)

const maxSNSBodyBytes = 256 * 1024

// SNSMessage is the envelope SNS posts to HTTP endpoints.
type SNSMessage = snsverify.Message

// MessageVerifier authenticates an SNS envelope. *snsverify.Verifier satisfies it.
type MessageVerifier interface {
	Verify(ctx context.Context, msg *snsverify.Message) error
}

// S3EventNotification is the S3 event document carried in an SNS Message.
type S3EventNotification struct {
	// Event is set only on the s3:TestEvent sent when a notification is configured.
	Event   string          `json:"Event,omitempty"`
	Records []S3EventRecord `json:"Records"`
}

// S3EventRecord is one object event.
type S3EventRecord struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key       string `json:"key"`
			Size      int64  `json:"size"`
			ETag      string `json:"eTag"`
			VersionID string `json:"versionId"`
		} `json:"object"`
	} `json:"s3"`
}

// ValidatorResultMessage is the document the dataset validator publishes
// when a job finishes.
type ValidatorResultMessage struct {
	FileID            uuid.UUID                `json:"file_id"`
	ValidatorName     string                   `json:"validator_name"`
	Status            models.ValidatorStatus   `json:"status"`
	IntegrityStatus   models.IntegrityStatus   `json:"integrity_status,omitempty"`
	BatchJobID        string                   `json:"batch_job_id,omitempty"`
	ValidationReports models.ValidationReports `json:"validation_reports,omitempty"`
	DatasetInfo       *models.DatasetInfo      `json:"dataset_info,omitempty"`
	ErrorMessage      string                   `json:"error_message,omitempty"`
}

// SubscriptionConfirmer visits an SNS SubscribeURL.
type SubscriptionConfirmer interface {
	Confirm(ctx context.Context, subscribeURL string) error
}

// HTTPSubscriptionConfirmer confirms subscriptions with a plain GET.
type HTTPSubscriptionConfirmer struct {
	Client *http.Client
}

func (c *HTTPSubscriptionConfirmer) Confirm(ctx context.Context, subscribeURL string) error {
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscribe url returned %d", resp.StatusCode)
	}
	return nil
}

// SNSTopics names the topics the endpoint accepts.
type SNSTopics struct {
	// Storage relays S3 object-created events.
	Storage string
	// ValidatorResults carries dataset validator callbacks.
	ValidatorResults string
}

// SNSHandler receives SNS HTTP deliveries.
type SNSHandler struct {
	topics     SNSTopics
	ingestion  services.IngestionService
	validation services.ValidationService
	reconciler services.ValidationReconciler
	verifier   MessageVerifier
	confirmer  SubscriptionConfirmer
	logger     *zap.Logger
}

// NewSNSHandler creates a new SNS handler.
func NewSNSHandler(
	topics SNSTopics,
	ingestion services.IngestionService,
	validation services.ValidationService,
	reconciler services.ValidationReconciler,
	verifier MessageVerifier,
	confirmer SubscriptionConfirmer,
	logger *zap.Logger,
) *SNSHandler {
	return &SNSHandler{
		topics:     topics,
		ingestion:  ingestion,
		validation: validation,
		reconciler: reconciler,
		verifier:   verifier,
		confirmer:  confirmer,
		logger:     logger.Named("sns-handler"),
	}
}

// RegisterRoutes registers the SNS endpoint. SNS cannot present a user
// token, so the route is gated by topic and message signature instead.
func (h *SNSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sns", h.Receive)
}

func (h *SNSHandler) knownTopic(arn string) bool {
	return arn != "" && (arn == h.topics.Storage || arn == h.topics.ValidatorResults)
}

// Receive handles POST /api/sns
func (h *SNSHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var msg SNSMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSNSBodyBytes)).Decode(&msg); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_message", "Invalid SNS message body")
		return
	}

	if !h.knownTopic(msg.TopicARN) {
		h.logger.Warn("Rejected SNS message from unknown topic",
			zap.String("topic_arn", msg.TopicARN),
			zap.String("type", msg.Type))
		h.respondError(w, http.StatusForbidden, "unknown_topic", "Topic is not accepted by this endpoint")
		return
	}

	if err := h.verifier.Verify(r.Context(), &msg); err != nil {
		h.logger.Warn("Rejected SNS message with invalid signature",
			zap.String("topic_arn", msg.TopicARN),
			zap.String("message_id", msg.MessageID),
			zap.String("signing_cert_url", logging.SanitizeURL(msg.SigningCertURL)),
			zap.Error(err))
		h.respondError(w, http.StatusForbidden, "invalid_signature", "SNS message signature could not be verified")
		return
	}

	switch msg.Type {
	case snsTypeSubscriptionConfirmation:
		h.confirmSubscription(w, r, msg)
	case snsTypeNotification:
		if msg.TopicARN == h.topics.Storage {
			h.handleStorageEvent(w, r, msg)
		} else {
			h.handleValidatorResult(w, r, msg)
		}
	case snsTypeUnsubscribeConfirmation:
		h.logger.Warn("Subscription removed", zap.String("topic_arn", msg.TopicARN))
		writeOK(w, h.logger, map[string]string{"status": "ignored"})
	default:
		h.respondError(w, http.StatusBadRequest, "invalid_message", fmt.Sprintf("Unsupported SNS message type %q", msg.Type))
	}
}

func (h *SNSHandler) confirmSubscription(w http.ResponseWriter, r *http.Request, msg SNSMessage) {
	if err := validateSubscribeURL(msg.SubscribeURL); err != nil {
		h.logger.Warn("Rejected subscription confirmation",
			zap.String("topic_arn", msg.TopicARN),
			zap.Error(err))
		h.respondError(w, http.StatusBadRequest, "invalid_subscribe_url", err.Error())
		return
	}

	if err := h.confirmer.Confirm(r.Context(), msg.SubscribeURL); err != nil {
		h.logger.Error("Failed to confirm subscription",
			zap.String("topic_arn", msg.TopicARN),
			zap.String("subscribe_url", logging.SanitizeURL(msg.SubscribeURL)),
			zap.Error(err))
		h.respondError(w, http.StatusBadGateway, "confirmation_failed", "Failed to confirm subscription")
		return
	}

	h.logger.Info("Confirmed SNS subscription", zap.String("topic_arn", msg.TopicARN))
	writeOK(w, h.logger, map[string]string{"status": "confirmed"})
}

// validateSubscribeURL only allows HTTPS URLs on SNS hosts.
func validateSubscribeURL(raw string) error {
	if err := snsverify.ValidateSNSURL(raw); err != nil {
		return fmt.Errorf("subscribe %w", err)
	}
	return nil
}

// storageEventResult summarizes one record of an S3 event.
type storageEventResult struct {
	Key        string `json:"key"`
	FileID     string `json:"file_id,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Validation string `json:"validation,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (h *SNSHandler) handleStorageEvent(w http.ResponseWriter, r *http.Request, msg SNSMessage) {
	var event S3EventNotification
	if err := json.Unmarshal([]byte(msg.Message), &event); err != nil {
		h.logUndecodable(msg, err)
		h.respondError(w, http.StatusBadRequest, "invalid_message", "SNS message is not an S3 event")
		return
	}
	if event.Event == "s3:TestEvent" {
		writeOK(w, h.logger, map[string]string{"status": "ignored"})
		return
	}

	results := make([]storageEventResult, 0, len(event.Records))
	var clientErr error
	for i, record := range event.Records {
		if !strings.HasPrefix(record.EventName, "ObjectCreated:") {
			continue
		}

		n, err := notificationFromRecord(msg.MessageID, i, len(event.Records), record)
		if err != nil {
			clientErr = err
			results = append(results, storageEventResult{Key: record.S3.Object.Key, Error: err.Error()})
			continue
		}

		res, err := h.ingestion.IngestFile(r.Context(), n)
		if err != nil {
			if !apperrors.IsClientError(err) {
				// Nothing is lost: redelivery of the whole message is idempotent.
				writeServiceError(w, h.logger, err, "ingestion_failed")
				return
			}
			clientErr = err
			results = append(results, storageEventResult{Key: n.Key, Error: err.Error()})
			continue
		}

		result := storageEventResult{Key: n.Key, FileID: res.File.ID.String(), Duplicate: res.Duplicate}
		if !res.Duplicate && res.Concept != nil && conceptkey.IsH5AD(n.Key) {
			result.Validation = h.requestValidation(r.Context(), res.File.ID)
		}
		results = append(results, result)
	}

	if clientErr != nil {
		if err := WriteJSON(w, http.StatusBadRequest, ApiResponse{
			Success: false,
			Error:   "invalid_request",
			Message: clientErr.Error(),
			Data:    results,
		}); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}
	writeOK(w, h.logger, results)
}

// requestValidation starts validation for a newly ingested dataset. The
// file is already recorded, so failures are reported rather than returned.
func (h *SNSHandler) requestValidation(ctx context.Context, fileID uuid.UUID) string {
	file, err := h.validation.RequestValidation(ctx, fileID)
	if err != nil {
		h.logger.Error("Failed to request validation for ingested file",
			zap.String("file_id", fileID.String()),
			zap.Error(err))
		if file != nil {
			return string(file.ValidationStatus)
		}
		return "not_requested"
	}
	return string(file.ValidationStatus)
}

// notificationFromRecord normalizes an S3 event record. S3 URL-encodes
// object keys in event payloads.
func notificationFromRecord(messageID string, index, total int, record S3EventRecord) (models.StorageNotification, error) {
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return models.StorageNotification{}, &apperrors.MalformedKeyError{Key: record.S3.Object.Key, Reason: "key is not URL-encoded correctly"}
	}
	if record.S3.Bucket.Name == "" {
		return models.StorageNotification{}, fmt.Errorf("%w: record %d has no bucket", apperrors.ErrInvalidInput, index)
	}

	id := messageID
	if total > 1 {
		id = fmt.Sprintf("%s:%d", messageID, index)
	}
	return models.StorageNotification{
		Bucket:    record.S3.Bucket.Name,
		Key:       key,
		VersionID: record.S3.Object.VersionID,
		ETag:      s3store.NormalizeETag(record.S3.Object.ETag),
		Size:      record.S3.Object.Size,
		MessageID: id,
	}, nil
}

func (h *SNSHandler) handleValidatorResult(w http.ResponseWriter, r *http.Request, msg SNSMessage) {
	var result ValidatorResultMessage
	if err := json.Unmarshal([]byte(msg.Message), &result); err != nil {
		h.logUndecodable(msg, err)
		h.respondError(w, http.StatusBadRequest, "invalid_message", "SNS message is not a validator result")
		return
	}

	outcome, err := h.reconciler.ApplyValidationResult(r.Context(), models.ValidatorCallback{
		MessageID:       msg.MessageID,
		FileID:          result.FileID,
		ValidatorName:   result.ValidatorName,
		Status:          result.Status,
		IntegrityStatus: result.IntegrityStatus,
		BatchJobID:      result.BatchJobID,
		Reports:         result.ValidationReports,
		DatasetInfo:     result.DatasetInfo,
		ErrorMessage:    result.ErrorMessage,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "apply_result_failed")
		return
	}
	writeOK(w, h.logger, map[string]string{"outcome": string(outcome)})
}

func (h *SNSHandler) respondError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *SNSHandler) logUndecodable(msg SNSMessage, err error) {
	h.logger.Warn("Undecodable SNS message",
		zap.String("message_id", msg.MessageID),
		zap.String("topic_arn", msg.TopicARN),
		zap.String("message", logging.TruncateString(msg.Message, 200)),
		zap.Error(err))
}
