package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/auth"
	"github.com/hca-atlas-tracker/tracker/pkg/services"
)

// SyncRequest is the body of POST /api/sync.
type SyncRequest struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix"`
}

// FileHandler exposes file validation and storage sync operations.
type FileHandler struct {
	validation    services.ValidationService
	sync          services.FileSyncService
	defaultBucket string
	logger        *zap.Logger
}

// NewFileHandler creates a new file handler. defaultBucket is used when a
// sync request names no bucket.
func NewFileHandler(validation services.ValidationService, sync services.FileSyncService, defaultBucket string, logger *zap.Logger) *FileHandler {
	return &FileHandler{
		validation:    validation,
		sync:          sync,
		defaultBucket: defaultBucket,
		logger:        logger.Named("file-handler"),
	}
}

// RegisterRoutes registers the file handler's routes on the given mux.
func (h *FileHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	requireAdmin := authMiddleware.RequireRole(auth.RoleContentAdmin)

	mux.HandleFunc("POST /api/files/{fileId}/validate", requireAdmin(h.RequestValidation))
	mux.HandleFunc("POST /api/sync", requireAdmin(h.Sync))
}

// RequestValidation handles POST /api/files/{fileId}/validate
func (h *FileHandler) RequestValidation(w http.ResponseWriter, r *http.Request) {
	fileID, ok := ParseFileID(w, r, h.logger)
	if !ok {
		return
	}

	file, err := h.validation.RequestValidation(r.Context(), fileID)
	if err != nil {
		// A failed submission is recorded on the file; report it with the
		// updated state so the caller can see request_failed.
		if file != nil {
			status, code := StatusForError(err, "validation_request_failed")
			if status == http.StatusInternalServerError {
				status = http.StatusBadGateway
			}
			h.logger.Warn("Validation request failed",
				zap.String("file_id", fileID.String()),
				zap.Error(err))
			if err := WriteJSON(w, status, ApiResponse{Success: false, Error: code, Message: "Validation job could not be submitted", Data: file}); err != nil {
				h.logger.Error("Failed to write response", zap.Error(err))
			}
			return
		}
		writeServiceError(w, h.logger, err, "validation_request_failed")
		return
	}

	writeOK(w, h.logger, file)
}

// Sync handles POST /api/sync
func (h *FileHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	bucket := strings.TrimSpace(req.Bucket)
	if bucket == "" {
		bucket = h.defaultBucket
	}

	report, err := h.sync.SyncPrefix(r.Context(), bucket, req.Prefix)
	if err != nil {
		writeServiceError(w, h.logger, err, "sync_failed")
		return
	}

	h.logger.Info("Storage sync finished",
		zap.String("bucket", bucket),
		zap.String("prefix", req.Prefix),
		zap.String("subject", auth.GetUserIDFromContext(r.Context())),
		zap.Int("ingested", report.Ingested),
		zap.Int("failed", len(report.Failed)))
	writeOK(w, h.logger, report)
}
