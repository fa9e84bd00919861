package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
	"github.com/hca-atlas-tracker/tracker/pkg/database"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
)

// VersionRepository provides data access for version rows of source datasets
// and integrated objects. The kind argument selects the table.
type VersionRepository interface {
	GetLatest(ctx context.Context, conceptID uuid.UUID, kind models.FileType) (*models.VersionRow, error)
	GetByVersionID(ctx context.Context, kind models.FileType, versionID uuid.UUID) (*models.VersionRow, error)
	ListByConcept(ctx context.Context, conceptID uuid.UUID, kind models.FileType) ([]*models.VersionRow, error)
	// ClearLatest drops the latest flag from the given row.
	ClearLatest(ctx context.Context, kind models.FileType, versionID uuid.UUID) error
	Insert(ctx context.Context, row *models.VersionRow) error
	// HasNewerRevision reports whether the concept owning versionID has a row
	// with a higher wip number.
	HasNewerRevision(ctx context.Context, kind models.FileType, versionID uuid.UUID) (bool, error)
}

type versionRepository struct {
	db *database.DB
}

// NewVersionRepository creates a new VersionRepository.
func NewVersionRepository(db *database.DB) VersionRepository {
	return &versionRepository{db: db}
}

var _ VersionRepository = (*versionRepository)(nil)

type versionTable struct {
	name       string
	infoColumn string
}

func tableForKind(kind models.FileType) (versionTable, error) {
	switch kind {
	case models.FileTypeSourceDataset:
		return versionTable{name: "tracker.source_datasets", infoColumn: "sd_info"}, nil
	case models.FileTypeIntegratedObject:
		return versionTable{name: "tracker.integrated_objects", infoColumn: "io_info"}, nil
	}
	return versionTable{}, fmt.Errorf("file type %q has no version chain", kind)
}

func (t versionTable) columns() string {
	return `version_id, id, concept_id, is_latest, wip_number, revision, file_id, ` +
		t.infoColumn + `, created_at, updated_at`
}

func (r *versionRepository) GetLatest(ctx context.Context, conceptID uuid.UUID, kind models.FileType) (*models.VersionRow, error) {
	t, err := tableForKind(kind)
	if err != nil {
		return nil, err
	}

	row := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT `+t.columns()+` FROM `+t.name+` WHERE concept_id = $1 AND is_latest`, conceptID)
	v, err := scanVersionRow(row, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest version of concept %s: %w", conceptID, err)
	}
	return v, nil
}

func (r *versionRepository) GetByVersionID(ctx context.Context, kind models.FileType, versionID uuid.UUID) (*models.VersionRow, error) {
	t, err := tableForKind(kind)
	if err != nil {
		return nil, err
	}

	row := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT `+t.columns()+` FROM `+t.name+` WHERE version_id = $1`, versionID)
	v, err := scanVersionRow(row, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s: %w", versionID, err)
	}
	return v, nil
}

func (r *versionRepository) ListByConcept(ctx context.Context, conceptID uuid.UUID, kind models.FileType) ([]*models.VersionRow, error) {
	t, err := tableForKind(kind)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT `+t.columns()+` FROM `+t.name+` WHERE concept_id = $1 ORDER BY wip_number`, conceptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.VersionRow
	for rows.Next() {
		v, err := scanVersionRow(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}
	return versions, nil
}

func (r *versionRepository) ClearLatest(ctx context.Context, kind models.FileType, versionID uuid.UUID) error {
	t, err := tableForKind(kind)
	if err != nil {
		return err
	}

	tag, err := r.db.Conn(ctx).Exec(ctx,
		`UPDATE `+t.name+` SET is_latest = false WHERE version_id = $1 AND is_latest`, versionID)
	if err != nil {
		return fmt.Errorf("failed to clear latest flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: version %s is not the latest", apperrors.ErrConflict, versionID)
	}
	return nil
}

func (r *versionRepository) Insert(ctx context.Context, v *models.VersionRow) error {
	t, err := tableForKind(v.Kind)
	if err != nil {
		return err
	}

	var infoJSON []byte
	switch v.Kind {
	case models.FileTypeSourceDataset:
		if err := v.SourceDatasetInfo.Validate(); err != nil {
			return err
		}
		infoJSON, err = marshalNullable(v.SourceDatasetInfo, t.infoColumn)
	case models.FileTypeIntegratedObject:
		if err := v.IntegratedObjectInfo.Validate(); err != nil {
			return err
		}
		infoJSON, err = marshalNullable(v.IntegratedObjectInfo, t.infoColumn)
	}
	if err != nil {
		return err
	}
	if infoJSON == nil {
		infoJSON = []byte("{}")
	}

	err = r.db.Conn(ctx).QueryRow(ctx, `
		INSERT INTO `+t.name+` (version_id, id, concept_id, is_latest, wip_number, revision, file_id, `+t.infoColumn+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		v.VersionID, v.ID, v.ConceptID, v.IsLatest, v.WIPNumber, v.Revision, v.FileID, infoJSON,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if database.IsUniqueViolation(err, "") {
		return fmt.Errorf("%w: version chain of concept %s changed concurrently", apperrors.ErrConflict, v.ConceptID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}
	return nil
}

func (r *versionRepository) HasNewerRevision(ctx context.Context, kind models.FileType, versionID uuid.UUID) (bool, error) {
	t, err := tableForKind(kind)
	if err != nil {
		return false, err
	}

	var newer bool
	err = r.db.Conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM `+t.name+` later
			JOIN `+t.name+` v ON v.concept_id = later.concept_id
			WHERE v.version_id = $1 AND later.wip_number > v.wip_number
		)`, versionID).Scan(&newer)
	if err != nil {
		return false, fmt.Errorf("failed to check for newer revision: %w", err)
	}
	return newer, nil
}

func scanVersionRow(row pgx.Row, kind models.FileType) (*models.VersionRow, error) {
	v := models.VersionRow{Kind: kind}
	var infoJSON []byte

	err := row.Scan(&v.VersionID, &v.ID, &v.ConceptID, &v.IsLatest, &v.WIPNumber,
		&v.Revision, &v.FileID, &infoJSON, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	switch kind {
	case models.FileTypeSourceDataset:
		if v.SourceDatasetInfo, err = unmarshalNullable[models.SourceDatasetInfo](infoJSON, "sd_info"); err != nil {
			return nil, err
		}
		err = v.SourceDatasetInfo.Validate()
	case models.FileTypeIntegratedObject:
		if v.IntegratedObjectInfo, err = unmarshalNullable[models.IntegratedObjectInfo](infoJSON, "io_info"); err != nil {
			return nil, err
		}
		err = v.IntegratedObjectInfo.Validate()
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
