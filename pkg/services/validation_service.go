package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
	"github.com/hca-atlas-tracker/tracker/pkg/database"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
	"github.com/hca-atlas-tracker/tracker/pkg/repositories"
	"github.com/hca-atlas-tracker/tracker/pkg/retry"
)

// ValidationService requests dataset validation for ingested files.
type ValidationService interface {
	// RequestValidation submits a validation job for the file and moves it to
	// requested, or to request_failed when submission fails. Configuration
	// errors leave the file untouched.
	RequestValidation(ctx context.Context, fileID uuid.UUID) (*models.File, error)
}

type validationService struct {
	tx         database.Transactor
	files      repositories.FileRepository
	dispatcher ValidationDispatcher
	retryCfg   *retry.Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewValidationService creates a ValidationService. A nil retryCfg uses
// retry.DefaultConfig.
func NewValidationService(
	tx database.Transactor,
	files repositories.FileRepository,
	dispatcher ValidationDispatcher,
	retryCfg *retry.Config,
	logger *zap.Logger,
) ValidationService {
	return &validationService{
		tx:         tx,
		files:      files,
		dispatcher: dispatcher,
		retryCfg:   retryCfg,
		logger:     logger.Named("validation-service"),
		now:        time.Now,
	}
}

var _ ValidationService = (*validationService)(nil)

func (s *validationService) RequestValidation(ctx context.Context, fileID uuid.UUID) (*models.File, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := checkRequestable(file); err != nil {
		return nil, err
	}

	job, dispatchErr := retry.DoWithResult(ctx, s.retryCfg, func() (*models.SubmittedJob, error) {
		return s.dispatcher.SubmitDatasetValidationJob(ctx, file.ID, file.Bucket, file.Key)
	})

	var cfgErr *apperrors.ConfigurationError
	if errors.As(dispatchErr, &cfgErr) {
		return nil, dispatchErr
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		locked, err := s.files.LockByID(ctx, fileID)
		if err != nil {
			return err
		}
		// Another request may have submitted a job while ours was in flight.
		if err := checkRequestable(locked); err != nil {
			return err
		}

		if dispatchErr != nil {
			locked.ValidationStatus = models.FileValidationStatusRequestFailed
			locked.ValidationInfo = &models.FileValidationInfo{
				RequestedAt: &now,
				Error:       dispatchErr.Error(),
			}
		} else {
			locked.ValidationStatus = models.FileValidationStatusRequested
			locked.IntegrityStatus = models.IntegrityStatusRequested
			locked.ValidationInfo = &models.FileValidationInfo{
				BatchJobID:   job.JobID,
				BatchJobName: job.JobName,
				RequestedAt:  &now,
			}
		}

		if err := s.files.UpdateValidationState(ctx, locked); err != nil {
			return err
		}
		file = locked
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to record validation request",
			zap.String("file_id", fileID.String()),
			zap.Error(err))
		return nil, err
	}

	if dispatchErr != nil {
		s.logger.Error("Validation request failed",
			zap.String("file_id", fileID.String()),
			zap.Bool("retryable", retry.IsRetryable(dispatchErr)),
			zap.Error(dispatchErr))
		return file, fmt.Errorf("submit validation job for file %s: %w", fileID, dispatchErr)
	}

	s.logger.Info("Validation requested",
		zap.String("file_id", fileID.String()),
		zap.String("job_id", job.JobID))
	return file, nil
}

func checkRequestable(file *models.File) error {
	if !file.FileType.HasConcept() {
		return fmt.Errorf("%w: %s files are not validated", apperrors.ErrConflict, file.FileType)
	}
	if !file.ValidationStatus.CanRequest() {
		return fmt.Errorf("%w: file %s has validation status %s", apperrors.ErrConflict, file.ID, file.ValidationStatus)
	}
	return nil
}
