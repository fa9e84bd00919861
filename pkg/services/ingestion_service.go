package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
	"github.com/hca-atlas-tracker/tracker/pkg/conceptkey"
	"github.com/hca-atlas-tracker/tracker/pkg/config"
	"github.com/hca-atlas-tracker/tracker/pkg/database"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
	"github.com/hca-atlas-tracker/tracker/pkg/repositories"
)

// IngestionService records object-storage uploads as File rows and threads
// them into their concept's version chain.
type IngestionService interface {
	// IngestFile is idempotent on the notification's message id: a redelivered
	// notification returns the file recorded the first time.
	IngestFile(ctx context.Context, n models.StorageNotification) (*models.IngestResult, error)
}

// BucketPolicy decides which buckets the tracker accepts files from.
// Implemented by *config.ValidatorConfig.
type BucketPolicy interface {
	CheckBucket(bucket string) error
}

var _ BucketPolicy = (*config.ValidatorConfig)(nil)

type ingestionService struct {
	tx       database.Transactor
	buckets  BucketPolicy
	concepts repositories.ConceptRepository
	files    repositories.FileRepository
	atlases  repositories.AtlasRepository
	versions VersionService
	logger   *zap.Logger
}

func NewIngestionService(
	tx database.Transactor,
	buckets BucketPolicy,
	concepts repositories.ConceptRepository,
	files repositories.FileRepository,
	atlases repositories.AtlasRepository,
	versions VersionService,
	logger *zap.Logger,
) IngestionService {
	return &ingestionService{
		tx:       tx,
		buckets:  buckets,
		concepts: concepts,
		files:    files,
		atlases:  atlases,
		versions: versions,
		logger:   logger.Named("ingestion-service"),
	}
}

var _ IngestionService = (*ingestionService)(nil)

func (s *ingestionService) IngestFile(ctx context.Context, n models.StorageNotification) (*models.IngestResult, error) {
	if strings.TrimSpace(n.MessageID) == "" {
		return nil, fmt.Errorf("%w: notification for %q has no message id", apperrors.ErrInvalidInput, n.Key)
	}
	if n.Bucket == "" || n.Key == "" {
		return nil, fmt.Errorf("%w: notification %s has no bucket or key", apperrors.ErrInvalidInput, n.MessageID)
	}
	if err := s.buckets.CheckBucket(n.Bucket); err != nil {
		s.logger.Warn("Rejected notification from bucket",
			zap.String("bucket", n.Bucket),
			zap.String("key", n.Key),
			zap.String("message_id", n.MessageID),
			zap.Error(err))
		return nil, err
	}

	if existing, err := s.files.GetBySNSMessageID(ctx, n.MessageID); err == nil {
		s.logger.Debug("Notification already ingested",
			zap.String("message_id", n.MessageID),
			zap.String("file_id", existing.ID.String()))
		return &models.IngestResult{File: existing, Duplicate: true}, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, &apperrors.IngestionError{Op: "lookup message id", Err: err}
	}

	identity, err := conceptkey.Parse(n.Key)
	if err != nil {
		s.logger.Warn("Rejected storage key",
			zap.String("bucket", n.Bucket),
			zap.String("key", n.Key),
			zap.Error(err))
		return nil, err
	}

	result := &models.IngestResult{}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var previous *models.VersionRow
		if identity.FileType.HasConcept() {
			concept, err := s.concepts.GetOrCreateForUpdate(ctx, identity.ConceptIdentity)
			if err != nil {
				return &apperrors.IngestionError{Op: "resolve concept", Err: err}
			}
			result.Concept = concept

			previous, err = s.versions.GetLatest(ctx, concept.ID, identity.FileType)
			if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
				return &apperrors.IngestionError{Op: "read latest version", Err: err}
			}
		}

		file := newFileFromNotification(n, identity.FileType)
		if result.Concept != nil {
			file.ConceptID = &result.Concept.ID
		}

		created, err := s.files.Insert(ctx, file)
		if err != nil {
			return &apperrors.IngestionError{Op: "insert file", Err: err}
		}
		if !created {
			// A concurrent delivery of the same message won the insert.
			existing, err := s.files.GetBySNSMessageID(ctx, n.MessageID)
			if err != nil {
				return &apperrors.IngestionError{Op: "reload duplicate file", Err: err}
			}
			result.File = existing
			result.Concept = nil
			result.Duplicate = true
			return nil
		}
		result.File = file

		if result.Concept == nil {
			return nil
		}

		version, err := s.versions.RecordNewRevision(ctx, result.Concept.ID, file.ID, identity.FileType,
			revisionChanged(previous, identity.Filename))
		if err != nil {
			return &apperrors.IngestionError{Op: "record revision", Err: err}
		}
		result.Version = version

		if err := s.files.LinkVersion(ctx, file.ID, identity.FileType, version.VersionID); err != nil {
			return &apperrors.IngestionError{Op: "link version", Err: err}
		}
		switch identity.FileType {
		case models.FileTypeSourceDataset:
			file.SourceDatasetVersionID = &version.VersionID
		case models.FileTypeIntegratedObject:
			file.IntegratedObjectVersionID = &version.VersionID
		}

		if version.WIPNumber == 1 {
			return s.attachToAtlas(ctx, identity, version)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to ingest file",
			zap.String("message_id", n.MessageID),
			zap.String("bucket", n.Bucket),
			zap.String("key", n.Key),
			zap.Error(err))
		return nil, err
	}

	if result.Duplicate {
		s.logger.Debug("Notification already ingested",
			zap.String("message_id", n.MessageID),
			zap.String("file_id", result.File.ID.String()))
		return result, nil
	}

	fields := []zap.Field{
		zap.String("file_id", result.File.ID.String()),
		zap.String("key", n.Key),
		zap.String("file_type", string(identity.FileType)),
	}
	if result.Version != nil {
		fields = append(fields,
			zap.String("concept_id", result.Concept.ID.String()),
			zap.Int("wip_number", result.Version.WIPNumber))
	}
	s.logger.Info("Ingested file", fields...)
	return result, nil
}

// attachToAtlas adds a new lineage to the atlas its key names, when that
// atlas is tracked. Later revisions share the logical id and need no update.
func (s *ingestionService) attachToAtlas(ctx context.Context, identity conceptkey.Identity, version *models.VersionRow) error {
	atlas, err := s.atlases.FindByIdentity(ctx, identity.Network, identity.AtlasShortName, identity.Generation)
	if errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Debug("No tracked atlas for key",
			zap.String("network", identity.Network),
			zap.String("short_name", identity.AtlasShortName),
			zap.Int("generation", identity.Generation))
		return nil
	}
	if err != nil {
		return &apperrors.IngestionError{Op: "find atlas", Err: err}
	}

	if err := s.atlases.AppendEntity(ctx, atlas.ID, version.Kind, version.ID); err != nil {
		return &apperrors.IngestionError{Op: "attach to atlas", Err: err}
	}
	return nil
}

// revisionChanged reports whether the uploaded filename announces a revision
// beyond the one recorded on the current latest row.
func revisionChanged(previous *models.VersionRow, filename string) bool {
	if previous == nil {
		return false
	}
	marker, ok := conceptkey.RevisionMarker(filename)
	return ok && marker > previous.Revision
}

func newFileFromNotification(n models.StorageNotification, fileType models.FileType) *models.File {
	file := &models.File{
		Bucket:           n.Bucket,
		Key:              n.Key,
		ETag:             n.ETag,
		SizeBytes:        n.Size,
		FileType:         fileType,
		IntegrityStatus:  models.IntegrityStatusPending,
		ValidationStatus: models.FileValidationStatusPending,
		SNSMessageID:     n.MessageID,
	}
	if n.VersionID != "" {
		versionID := n.VersionID
		file.VersionID = &versionID
	}
	if n.SHA256 != "" {
		sha := n.SHA256
		file.SHA256Client = &sha
	}
	return file
}
