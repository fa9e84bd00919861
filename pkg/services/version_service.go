package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
	"github.com/hca-atlas-tracker/tracker/pkg/database"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
	"github.com/hca-atlas-tracker/tracker/pkg/repositories"
)

// VersionService maintains the work-in-progress version chain of each concept.
type VersionService interface {
	// RecordNewRevision appends a revision for fileID to the concept's chain
	// and makes it the single latest row. contentChanged bumps the revision.
	RecordNewRevision(ctx context.Context, conceptID, fileID uuid.UUID, kind models.FileType, contentChanged bool) (*models.VersionRow, error)
	GetLatest(ctx context.Context, conceptID uuid.UUID, kind models.FileType) (*models.VersionRow, error)
	ListVersions(ctx context.Context, conceptID uuid.UUID, kind models.FileType) ([]*models.VersionRow, error)
}

type versionService struct {
	tx       database.Transactor
	concepts repositories.ConceptRepository
	versions repositories.VersionRepository
	logger   *zap.Logger
}

func NewVersionService(
	tx database.Transactor,
	concepts repositories.ConceptRepository,
	versions repositories.VersionRepository,
	logger *zap.Logger,
) VersionService {
	return &versionService{
		tx:       tx,
		concepts: concepts,
		versions: versions,
		logger:   logger.Named("version-service"),
	}
}

var _ VersionService = (*versionService)(nil)

func (s *versionService) RecordNewRevision(ctx context.Context, conceptID, fileID uuid.UUID, kind models.FileType, contentChanged bool) (*models.VersionRow, error) {
	if !kind.HasConcept() {
		return nil, fmt.Errorf("%w: file type %q has no version chain", apperrors.ErrInvalidInput, kind)
	}

	var row *models.VersionRow
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		// The concept lock serializes every writer of this chain, so the
		// latest row read below cannot change before the insert.
		if _, err := s.concepts.LockByID(ctx, conceptID); err != nil {
			return fmt.Errorf("lock concept: %w", err)
		}

		latest, err := s.versions.GetLatest(ctx, conceptID, kind)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			row = models.FirstRevision(conceptID, fileID, kind)
		case err != nil:
			return fmt.Errorf("read latest version: %w", err)
		default:
			row = latest.NextRevision(fileID, contentChanged)
			if err := s.versions.ClearLatest(ctx, kind, latest.VersionID); err != nil {
				return fmt.Errorf("clear latest flag: %w", err)
			}
		}

		if err := s.versions.Insert(ctx, row); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to record revision",
			zap.String("concept_id", conceptID.String()),
			zap.String("file_id", fileID.String()),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Recorded revision",
		zap.String("concept_id", conceptID.String()),
		zap.String("id", row.ID.String()),
		zap.String("version_id", row.VersionID.String()),
		zap.Int("wip_number", row.WIPNumber),
		zap.Int("revision", row.Revision))
	return row, nil
}

func (s *versionService) GetLatest(ctx context.Context, conceptID uuid.UUID, kind models.FileType) (*models.VersionRow, error) {
	return s.versions.GetLatest(ctx, conceptID, kind)
}

func (s *versionService) ListVersions(ctx context.Context, conceptID uuid.UUID, kind models.FileType) ([]*models.VersionRow, error) {
	if !kind.HasConcept() {
		return nil, fmt.Errorf("%w: file type %q has no version chain", apperrors.ErrInvalidInput, kind)
	}
	if _, err := s.concepts.GetByID(ctx, conceptID); err != nil {
		return nil, err
	}
	return s.versions.ListByConcept(ctx, conceptID, kind)
}
