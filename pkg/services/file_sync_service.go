package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/adapters/s3store"
	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
	"github.com/hca-atlas-tracker/tracker/pkg/repositories"
)

// ObjectLister lists objects under a bucket prefix. Implemented by *s3store.Lister.
type ObjectLister interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]models.StorageObject, error)
}

var _ ObjectLister = (*s3store.Lister)(nil)

// FileSyncService backfills files that were uploaded while notifications
// were not being delivered.
type FileSyncService interface {
	SyncPrefix(ctx context.Context, bucket, prefix string) (*models.SyncReport, error)
}

type fileSyncService struct {
	lister    ObjectLister
	buckets   BucketPolicy
	files     repositories.FileRepository
	ingestion IngestionService
	logger    *zap.Logger
}

func NewFileSyncService(lister ObjectLister, buckets BucketPolicy, files repositories.FileRepository, ingestion IngestionService, logger *zap.Logger) FileSyncService {
	return &fileSyncService{
		lister:    lister,
		buckets:   buckets,
		files:     files,
		ingestion: ingestion,
		logger:    logger.Named("file-sync-service"),
	}
}

var _ FileSyncService = (*fileSyncService)(nil)

// SyncMessageID derives the delivery id for a listed object, so syncing the
// same object twice is a no-op.
func SyncMessageID(bucket, key, etag string) string {
	sum := sha256.Sum256([]byte(bucket + "/" + key + "/" + etag))
	return "s3-sync:" + hex.EncodeToString(sum[:])
}

func (s *fileSyncService) SyncPrefix(ctx context.Context, bucket, prefix string) (*models.SyncReport, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", apperrors.ErrInvalidInput)
	}
	if err := s.buckets.CheckBucket(bucket); err != nil {
		return nil, err
	}

	objects, err := s.lister.ListObjects(ctx, bucket, prefix)
	if err != nil {
		s.logger.Error("Failed to list objects",
			zap.String("bucket", bucket),
			zap.String("prefix", prefix),
			zap.Error(err))
		return nil, err
	}

	report := &models.SyncReport{
		Listed:    len(objects),
		Malformed: []string{},
		Failed:    []string{},
	}
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		// Objects already recorded through a notification carry a different
		// message id, so they are matched on their stored identity instead.
		_, err := s.files.GetByObject(ctx, obj.Bucket, obj.Key, obj.ETag)
		if err == nil {
			report.Duplicates++
			continue
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Warn("Failed to look up listed object",
				zap.String("bucket", obj.Bucket),
				zap.String("key", obj.Key),
				zap.Error(err))
			report.Failed = append(report.Failed, obj.Key)
			continue
		}

		result, err := s.ingestion.IngestFile(ctx, models.StorageNotification{
			Bucket:    obj.Bucket,
			Key:       obj.Key,
			VersionID: obj.VersionID,
			ETag:      obj.ETag,
			Size:      obj.Size,
			MessageID: SyncMessageID(obj.Bucket, obj.Key, obj.ETag),
		})

		var malformed *apperrors.MalformedKeyError
		switch {
		case errors.As(err, &malformed):
			report.Malformed = append(report.Malformed, obj.Key)
		case err != nil:
			s.logger.Warn("Failed to ingest listed object",
				zap.String("bucket", obj.Bucket),
				zap.String("key", obj.Key),
				zap.Error(err))
			report.Failed = append(report.Failed, obj.Key)
		case result.Duplicate:
			report.Duplicates++
		default:
			report.Ingested++
		}
	}

	s.logger.Info("Synced prefix",
		zap.String("bucket", bucket),
		zap.String("prefix", prefix),
		zap.Int("listed", report.Listed),
		zap.Int("ingested", report.Ingested),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("malformed", len(report.Malformed)),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}
