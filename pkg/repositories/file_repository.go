package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
	"github.com/hca-atlas-tracker/tracker/pkg/database"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
)

// FileRepository provides data access for ingested files.
// Files are never deleted.
type FileRepository interface {
	// Insert stores f unless a file with the same SNS message id exists.
	// It reports whether this call created the row.
	Insert(ctx context.Context, f *models.File) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.File, error)
	GetBySNSMessageID(ctx context.Context, messageID string) (*models.File, error)
	// GetByObject returns the most recent file recorded for the stored object
	// identified by bucket, key and ETag.
	GetByObject(ctx context.Context, bucket, key, etag string) (*models.File, error)
	// LockByID returns the file holding a row lock until the transaction ends.
	LockByID(ctx context.Context, id uuid.UUID) (*models.File, error)
	// RecordValidationMessage claims a validator callback message id for
	// fileID. It reports false when the id was already recorded, so each
	// callback is applied at most once.
	RecordValidationMessage(ctx context.Context, messageID string, fileID uuid.UUID) (bool, error)
	LinkVersion(ctx context.Context, fileID uuid.UUID, kind models.FileType, versionID uuid.UUID) error
	// UpdateValidationState persists the validation columns of f: statuses,
	// job bookkeeping, reports, summary, dataset info and the latest callback
	// message id.
	UpdateValidationState(ctx context.Context, f *models.File) error
	ListByConcept(ctx context.Context, conceptID uuid.UUID) ([]*models.File, error)
}

type fileRepository struct {
	db *database.DB
}

// NewFileRepository creates a new FileRepository.
func NewFileRepository(db *database.DB) FileRepository {
	return &fileRepository{db: db}
}

var _ FileRepository = (*fileRepository)(nil)

const fileColumns = `
	id, bucket, key, version_id, etag, size_bytes, sha256_client, file_type,
	integrity_status, validation_status, validation_info, dataset_info,
	validation_reports, validation_summary, is_archived, sns_message_id,
	validation_sns_message_id, concept_id, source_dataset_version_id,
	integrated_object_version_id, created_at, updated_at`

func (r *fileRepository) Insert(ctx context.Context, f *models.File) (bool, error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.IntegrityStatus == "" {
		f.IntegrityStatus = models.IntegrityStatusPending
	}
	if f.ValidationStatus == "" {
		f.ValidationStatus = models.FileValidationStatusPending
	}

	err := r.db.Conn(ctx).QueryRow(ctx, `
		INSERT INTO tracker.files (
			id, bucket, key, version_id, etag, size_bytes, sha256_client, file_type,
			integrity_status, validation_status, sns_message_id, concept_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (sns_message_id) DO NOTHING
		RETURNING created_at, updated_at`,
		f.ID, f.Bucket, f.Key, f.VersionID, f.ETag, f.SizeBytes, f.SHA256Client, f.FileType,
		f.IntegrityStatus, f.ValidationStatus, f.SNSMessageID, f.ConceptID,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert file: %w", err)
	}
	return true, nil
}

func (r *fileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.File, error) {
	row := r.db.Conn(ctx).QueryRow(ctx, `SELECT `+fileColumns+` FROM tracker.files WHERE id = $1`, id)
	f, err := scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", id, err)
	}
	return f, nil
}

func (r *fileRepository) GetByObject(ctx context.Context, bucket, key, etag string) (*models.File, error) {
	row := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT `+fileColumns+` FROM tracker.files
		WHERE bucket = $1 AND key = $2 AND etag = $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, bucket, key, etag)
	f, err := scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get file by object: %w", err)
	}
	return f, nil
}

func (r *fileRepository) GetBySNSMessageID(ctx context.Context, messageID string) (*models.File, error) {
	row := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT `+fileColumns+` FROM tracker.files WHERE sns_message_id = $1`, messageID)
	f, err := scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get file by message id: %w", err)
	}
	return f, nil
}

func (r *fileRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.File, error) {
	row := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT `+fileColumns+` FROM tracker.files WHERE id = $1 FOR UPDATE`, id)
	f, err := scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("failed to lock file %s: %w", id, err)
	}
	return f, nil
}

func (r *fileRepository) RecordValidationMessage(ctx context.Context, messageID string, fileID uuid.UUID) (bool, error) {
	tag, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO tracker.file_validation_messages (message_id, file_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING`,
		messageID, fileID)
	if err != nil {
		return false, fmt.Errorf("failed to record validation message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *fileRepository) LinkVersion(ctx context.Context, fileID uuid.UUID, kind models.FileType, versionID uuid.UUID) error {
	var column string
	switch kind {
	case models.FileTypeSourceDataset:
		column = "source_dataset_version_id"
	case models.FileTypeIntegratedObject:
		column = "integrated_object_version_id"
	default:
		return fmt.Errorf("file type %q has no version chain", kind)
	}

	tag, err := r.db.Conn(ctx).Exec(ctx,
		`UPDATE tracker.files SET `+column+` = $2 WHERE id = $1`, fileID, versionID)
	if err != nil {
		return fmt.Errorf("failed to link file to version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *fileRepository) UpdateValidationState(ctx context.Context, f *models.File) error {
	infoJSON, err := marshalNullable(f.ValidationInfo, "validation_info")
	if err != nil {
		return err
	}
	if err := f.DatasetInfo.Validate(); err != nil {
		return err
	}
	datasetJSON, err := marshalNullable(f.DatasetInfo, "dataset_info")
	if err != nil {
		return err
	}
	summaryJSON, err := marshalNullable(f.ValidationSummary, "validation_summary")
	if err != nil {
		return err
	}
	var reportsJSON []byte
	if len(f.ValidationReports) > 0 {
		if reportsJSON, err = json.Marshal(f.ValidationReports); err != nil {
			return fmt.Errorf("failed to marshal validation_reports: %w", err)
		}
	}

	err = r.db.Conn(ctx).QueryRow(ctx, `
		UPDATE tracker.files SET
			integrity_status = $2,
			validation_status = $3,
			validation_info = $4,
			dataset_info = $5,
			validation_reports = $6,
			validation_summary = $7,
			validation_sns_message_id = $8
		WHERE id = $1
		RETURNING updated_at`,
		f.ID, f.IntegrityStatus, f.ValidationStatus, infoJSON, datasetJSON,
		reportsJSON, summaryJSON, f.ValidationSNSMessageID,
	).Scan(&f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update file validation state: %w", err)
	}
	return nil
}

func (r *fileRepository) ListByConcept(ctx context.Context, conceptID uuid.UUID) ([]*models.File, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT `+fileColumns+` FROM tracker.files WHERE concept_id = $1 ORDER BY created_at, id`, conceptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate files: %w", err)
	}
	return files, nil
}

func scanFile(row pgx.Row) (*models.File, error) {
	var f models.File
	var infoJSON, datasetJSON, reportsJSON, summaryJSON []byte

	err := row.Scan(
		&f.ID, &f.Bucket, &f.Key, &f.VersionID, &f.ETag, &f.SizeBytes, &f.SHA256Client, &f.FileType,
		&f.IntegrityStatus, &f.ValidationStatus, &infoJSON, &datasetJSON,
		&reportsJSON, &summaryJSON, &f.IsArchived, &f.SNSMessageID,
		&f.ValidationSNSMessageID, &f.ConceptID, &f.SourceDatasetVersionID,
		&f.IntegratedObjectVersionID, &f.CreatedAt, &f.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if f.ValidationInfo, err = unmarshalNullable[models.FileValidationInfo](infoJSON, "validation_info"); err != nil {
		return nil, err
	}
	if f.DatasetInfo, err = unmarshalNullable[models.DatasetInfo](datasetJSON, "dataset_info"); err != nil {
		return nil, err
	}
	if err := f.DatasetInfo.Validate(); err != nil {
		return nil, err
	}
	if f.ValidationSummary, err = unmarshalNullable[models.ValidationSummary](summaryJSON, "validation_summary"); err != nil {
		return nil, err
	}
	if len(reportsJSON) > 0 {
		if err := json.Unmarshal(reportsJSON, &f.ValidationReports); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation_reports: %w", err)
		}
	}
	return &f, nil
}
