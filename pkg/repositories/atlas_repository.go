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

// AtlasRepository provides data access for atlases.
type AtlasRepository interface {
	Create(ctx context.Context, atlas *models.Atlas) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Atlas, error)
	// FindByIdentity looks an atlas up by network, short name and generation.
	// Network and short name compare case-insensitively.
	FindByIdentity(ctx context.Context, network, shortName string, generation int) (*models.Atlas, error)
	// AppendEntity adds the logical id of a source dataset or integrated
	// object to the atlas's member array unless it is already present.
	AppendEntity(ctx context.Context, atlasID uuid.UUID, kind models.FileType, entityID uuid.UUID) error
	// ListIDsContaining returns the atlases whose member array holds entityID.
	ListIDsContaining(ctx context.Context, kind models.FileType, entityID uuid.UUID) ([]uuid.UUID, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
	// MergeTaskCounts overwrites the task count keys of the overview,
	// leaving every other overview key untouched.
	MergeTaskCounts(ctx context.Context, atlasID uuid.UUID, counts models.AtlasTaskCounts) error
}

type atlasRepository struct {
	db *database.DB
}

// NewAtlasRepository creates a new AtlasRepository.
func NewAtlasRepository(db *database.DB) AtlasRepository {
	return &atlasRepository{db: db}
}

var _ AtlasRepository = (*atlasRepository)(nil)

const atlasColumns = `id, overview, generation, revision, status, source_datasets, integrated_objects, created_at, updated_at`

func memberColumn(kind models.FileType) (string, error) {
	switch kind {
	case models.FileTypeSourceDataset:
		return "source_datasets", nil
	case models.FileTypeIntegratedObject:
		return "integrated_objects", nil
	}
	return "", fmt.Errorf("file type %q is not an atlas member", kind)
}

func (r *atlasRepository) Create(ctx context.Context, a *models.Atlas) error {
	if err := a.Overview.Validate(); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.AtlasStatusDraft
	}
	if a.Overview.IngestionTaskCounts == nil {
		a.Overview.IngestionTaskCounts = []models.SystemTaskCount{}
	}
	if a.SourceDatasets == nil {
		a.SourceDatasets = []uuid.UUID{}
	}
	if a.IntegratedObjects == nil {
		a.IntegratedObjects = []uuid.UUID{}
	}

	overviewJSON, err := json.Marshal(a.Overview)
	if err != nil {
		return fmt.Errorf("failed to marshal overview: %w", err)
	}

	err = r.db.Conn(ctx).QueryRow(ctx, `
		INSERT INTO tracker.atlases (id, overview, generation, revision, status, source_datasets, integrated_objects)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		a.ID, overviewJSON, a.Generation, a.Revision, a.Status, a.SourceDatasets, a.IntegratedObjects,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create atlas: %w", err)
	}
	return nil
}

func (r *atlasRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Atlas, error) {
	row := r.db.Conn(ctx).QueryRow(ctx, `SELECT `+atlasColumns+` FROM tracker.atlases WHERE id = $1`, id)
	a, err := scanAtlas(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get atlas %s: %w", id, err)
	}
	return a, nil
}

func (r *atlasRepository) FindByIdentity(ctx context.Context, network, shortName string, generation int) (*models.Atlas, error) {
	row := r.db.Conn(ctx).QueryRow(ctx, `
		SELECT `+atlasColumns+`
		FROM tracker.atlases
		WHERE lower(overview->>'network') = lower($1)
		  AND lower(overview->>'shortName') = lower($2)
		  AND generation = $3
		ORDER BY revision DESC
		LIMIT 1`,
		network, shortName, generation)
	a, err := scanAtlas(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find atlas %s/%s v%d: %w", network, shortName, generation, err)
	}
	return a, nil
}

func (r *atlasRepository) AppendEntity(ctx context.Context, atlasID uuid.UUID, kind models.FileType, entityID uuid.UUID) error {
	column, err := memberColumn(kind)
	if err != nil {
		return err
	}

	tag, err := r.db.Conn(ctx).Exec(ctx, `
		UPDATE tracker.atlases
		SET `+column+` = array_append(`+column+`, $2)
		WHERE id = $1 AND NOT ($2 = ANY(`+column+`))`,
		atlasID, entityID)
	if err != nil {
		return fmt.Errorf("failed to append atlas member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either already a member or no such atlas.
		var exists bool
		if err := r.db.Conn(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM tracker.atlases WHERE id = $1)`, atlasID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check atlas: %w", err)
		}
		if !exists {
			return apperrors.ErrNotFound
		}
	}
	return nil
}

func (r *atlasRepository) ListIDsContaining(ctx context.Context, kind models.FileType, entityID uuid.UUID) ([]uuid.UUID, error) {
	column, err := memberColumn(kind)
	if err != nil {
		return nil, err
	}
	return r.queryIDs(ctx,
		`SELECT id FROM tracker.atlases WHERE $1 = ANY(`+column+`) ORDER BY id`, entityID)
}

func (r *atlasRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	return r.queryIDs(ctx, `SELECT id FROM tracker.atlases ORDER BY id`)
}

func (r *atlasRepository) queryIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list atlas ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to collect atlas ids: %w", err)
	}
	return ids, nil
}

func (r *atlasRepository) MergeTaskCounts(ctx context.Context, atlasID uuid.UUID, counts models.AtlasTaskCounts) error {
	if counts.IngestionTaskCounts == nil {
		counts.IngestionTaskCounts = []models.SystemTaskCount{}
	}
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to marshal task counts: %w", err)
	}

	tag, err := r.db.Conn(ctx).Exec(ctx,
		`UPDATE tracker.atlases SET overview = overview || $2::jsonb WHERE id = $1`,
		atlasID, countsJSON)
	if err != nil {
		return fmt.Errorf("failed to update atlas task counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanAtlas(row pgx.Row) (*models.Atlas, error) {
	var a models.Atlas
	var overviewJSON []byte

	err := row.Scan(&a.ID, &overviewJSON, &a.Generation, &a.Revision, &a.Status,
		&a.SourceDatasets, &a.IntegratedObjects, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(overviewJSON, &a.Overview); err != nil {
		return nil, fmt.Errorf("failed to unmarshal overview: %w", err)
	}
	if err := a.Overview.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
