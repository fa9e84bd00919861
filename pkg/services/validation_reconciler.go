package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
	"github.com/hca-atlas-tracker/tracker/pkg/database"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
	"github.com/hca-atlas-tracker/tracker/pkg/repositories"
)

const datasetValidationPrefix = "dataset-validation:"

// errDuplicateCallback aborts the apply transaction when the callback's
// message id was already recorded.
var errDuplicateCallback = errors.New("validation callback already applied")

// ValidationReconciler applies validator results to files.
type ValidationReconciler interface {
	// ApplyValidationResult is idempotent on the callback message id.
	// Results for a superseded file are recorded as stale, not as failures.
	ApplyValidationResult(ctx context.Context, cb models.ValidatorCallback) (models.ApplyOutcome, error)
}

type validationReconciler struct {
	tx          database.Transactor
	files       repositories.FileRepository
	versions    repositories.VersionRepository
	atlases     repositories.AtlasRepository
	validations repositories.ValidationRepository
	aggregates  AtlasAggregateService
	logger      *zap.Logger
	now         func() time.Time
}

func NewValidationReconciler(
	tx database.Transactor,
	files repositories.FileRepository,
	versions repositories.VersionRepository,
	atlases repositories.AtlasRepository,
	validations repositories.ValidationRepository,
	aggregates AtlasAggregateService,
	logger *zap.Logger,
) ValidationReconciler {
	return &validationReconciler{
		tx:          tx,
		files:       files,
		versions:    versions,
		atlases:     atlases,
		validations: validations,
		aggregates:  aggregates,
		logger:      logger.Named("validation-reconciler"),
		now:         time.Now,
	}
}

var _ ValidationReconciler = (*validationReconciler)(nil)

func (r *validationReconciler) ApplyValidationResult(ctx context.Context, cb models.ValidatorCallback) (models.ApplyOutcome, error) {
	if err := validateCallback(cb); err != nil {
		return "", err
	}

	logFields := []zap.Field{
		zap.String("message_id", cb.MessageID),
		zap.String("file_id", cb.FileID.String()),
		zap.String("validator", cb.ValidatorName),
		zap.String("status", string(cb.Status)),
	}

	var (
		outcome  models.ApplyOutcome
		atlasIDs []uuid.UUID
	)
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		file, err := r.files.LockByID(ctx, cb.FileID)
		if err != nil {
			return err
		}

		// Claimed under the file lock; a concurrent delivery of the same
		// message blocks on the key until the first commits or rolls back.
		recorded, err := r.files.RecordValidationMessage(ctx, cb.MessageID, file.ID)
		if err != nil {
			return err
		}
		if !recorded {
			return errDuplicateCallback
		}

		var owning *models.VersionRow
		if versionID := file.OwningVersionID(); versionID != nil {
			if file.ValidationStatus != models.FileValidationStatusRequested {
				newer, err := r.versions.HasNewerRevision(ctx, file.FileType, *versionID)
				if err != nil {
					return err
				}
				if newer {
					outcome = models.ApplyOutcomeStale
					return r.markStale(ctx, file, cb)
				}
			}
			owning, err = r.versions.GetByVersionID(ctx, file.FileType, *versionID)
			if err != nil {
				return fmt.Errorf("load owning version: %w", err)
			}
		}

		r.applyToFile(file, cb)
		if err := r.files.UpdateValidationState(ctx, file); err != nil {
			return err
		}

		if owning != nil {
			atlasIDs, err = r.upsertValidation(ctx, file, owning, cb)
			if err != nil {
				return err
			}
		}
		outcome = models.ApplyOutcomeApplied
		return nil
	})
	if errors.Is(err, errDuplicateCallback) {
		r.logger.Info("Ignoring duplicate validation callback", logFields...)
		return models.ApplyOutcomeDuplicate, nil
	}
	if err != nil {
		r.logger.Error("Failed to apply validation result", append(logFields, zap.Error(err))...)
		return "", err
	}

	if outcome == models.ApplyOutcomeStale {
		r.logger.Info("Discarded validation result for superseded file",
			append(logFields, zap.NamedError("reason", apperrors.ErrStaleResult))...)
		return outcome, nil
	}

	// Counts are a rebuildable cache; a failed refresh does not undo the result.
	for _, atlasID := range atlasIDs {
		if _, err := r.aggregates.RecomputeAtlasCounts(ctx, atlasID); err != nil {
			r.logger.Warn("Failed to recompute atlas task counts",
				zap.String("atlas_id", atlasID.String()),
				zap.Error(err))
		}
	}

	r.logger.Info("Applied validation result", append(logFields, zap.Int("atlas_count", len(atlasIDs)))...)
	return outcome, nil
}

func (r *validationReconciler) markStale(ctx context.Context, file *models.File, cb models.ValidatorCallback) error {
	file.ValidationStatus = models.FileValidationStatusStale
	messageID := cb.MessageID
	file.ValidationSNSMessageID = &messageID
	return r.files.UpdateValidationState(ctx, file)
}

func (r *validationReconciler) applyToFile(file *models.File, cb models.ValidatorCallback) {
	now := r.now().UTC()

	if integrity, ok := integrityFromCallback(cb); ok {
		file.IntegrityStatus = integrity
	}

	if file.ValidationReports == nil {
		file.ValidationReports = make(models.ValidationReports)
	}
	if len(cb.Reports) > 0 {
		for name, report := range cb.Reports {
			file.ValidationReports[name] = report
		}
	} else {
		report := models.ValidatorReport{
			Valid:      cb.Status == models.ValidatorStatusValid,
			Errors:     []string{},
			Warnings:   []string{},
			FinishedAt: now,
		}
		if cb.ErrorMessage != "" {
			report.Errors = append(report.Errors, cb.ErrorMessage)
		}
		file.ValidationReports[cb.ValidatorName] = report
	}
	file.ValidationSummary = file.ValidationReports.Summarize()

	// Status follows every validator heard from so far, not just this one.
	if file.ValidationSummary.OverallValid {
		file.ValidationStatus = models.FileValidationStatusCompleted
	} else {
		file.ValidationStatus = models.FileValidationStatusJobFailed
	}

	if cb.DatasetInfo != nil {
		file.DatasetInfo = cb.DatasetInfo
	}

	info := models.FileValidationInfo{}
	if file.ValidationInfo != nil {
		info = *file.ValidationInfo
	}
	if cb.BatchJobID != "" {
		info.BatchJobID = cb.BatchJobID
	}
	info.CompletedAt = &now
	info.Error = cb.ErrorMessage
	file.ValidationInfo = &info

	messageID := cb.MessageID
	file.ValidationSNSMessageID = &messageID
}

// upsertValidation records the result against the lineage's logical id and
// returns the atlases that include it.
func (r *validationReconciler) upsertValidation(ctx context.Context, file *models.File, owning *models.VersionRow, cb models.ValidatorCallback) ([]uuid.UUID, error) {
	atlasIDs, err := r.atlases.ListIDsContaining(ctx, owning.Kind, owning.ID)
	if err != nil {
		return nil, fmt.Errorf("list atlases for %s: %w", owning.ID, err)
	}

	status := models.ValidationStatusFailed
	if cb.Status == models.ValidatorStatusValid {
		status = models.ValidationStatusPassed
	}

	fileID := file.ID
	v := &models.Validation{
		EntityID:         owning.ID,
		ValidationID:     datasetValidationPrefix + cb.ValidatorName,
		EntityType:       models.EntityTypeForFileType(owning.Kind),
		AtlasIDs:         atlasIDs,
		ValidationStatus: status,
		ValidationInfo: models.ValidationInfo{
			System:         SystemForValidator(cb.ValidatorName),
			ValidationType: "INGEST",
			Description:    fmt.Sprintf("Dataset passes the %s validator", cb.ValidatorName),
			FileID:         &fileID,
		},
	}
	if cb.ErrorMessage != "" {
		v.ValidationInfo.Differences = []string{cb.ErrorMessage}
	}
	if err := r.validations.Upsert(ctx, v); err != nil {
		return nil, err
	}
	return atlasIDs, nil
}

// SystemForValidator classifies a validator into the system whose
// ingestion task it represents.
func SystemForValidator(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "cellxgene"):
		return models.SystemCELLxGENE
	case strings.Contains(lower, "cap"):
		return models.SystemCAP
	}
	return models.SystemHCA
}

func integrityFromCallback(cb models.ValidatorCallback) (models.IntegrityStatus, bool) {
	if cb.IntegrityStatus != "" {
		return cb.IntegrityStatus, true
	}
	if cb.ValidatorName != models.IntegrityValidatorName {
		return "", false
	}
	switch cb.Status {
	case models.ValidatorStatusValid:
		return models.IntegrityStatusValid, true
	case models.ValidatorStatusInvalid:
		return models.IntegrityStatusInvalid, true
	}
	return models.IntegrityStatusError, true
}

func validateCallback(cb models.ValidatorCallback) error {
	switch {
	case strings.TrimSpace(cb.MessageID) == "":
		return fmt.Errorf("%w: validation callback has no message id", apperrors.ErrInvalidInput)
	case cb.FileID == uuid.Nil:
		return fmt.Errorf("%w: validation callback has no file id", apperrors.ErrInvalidInput)
	case strings.TrimSpace(cb.ValidatorName) == "":
		return fmt.Errorf("%w: validation callback has no validator name", apperrors.ErrInvalidInput)
	}
	switch cb.Status {
	case models.ValidatorStatusValid, models.ValidatorStatusInvalid, models.ValidatorStatusError:
	default:
		return fmt.Errorf("%w: unknown validator status %q", apperrors.ErrInvalidInput, cb.Status)
	}
	switch cb.IntegrityStatus {
	case "", models.IntegrityStatusValid, models.IntegrityStatusInvalid, models.IntegrityStatusError:
	default:
		return fmt.Errorf("%w: unknown integrity status %q", apperrors.ErrInvalidInput, cb.IntegrityStatus)
	}
	if err := cb.DatasetInfo.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	return nil
}
