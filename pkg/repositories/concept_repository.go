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

// ConceptRepository provides data access for concepts.
type ConceptRepository interface {
	// GetOrCreateForUpdate returns the concept for identity, creating it if
	// needed, and holds a row lock on it until the surrounding transaction ends.
	GetOrCreateForUpdate(ctx context.Context, identity models.ConceptIdentity) (*models.Concept, error)
	// LockByID takes the row lock on an existing concept.
	LockByID(ctx context.Context, id uuid.UUID) (*models.Concept, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Concept, error)
}

type conceptRepository struct {
	db *database.DB
}

// NewConceptRepository creates a new ConceptRepository.
func NewConceptRepository(db *database.DB) ConceptRepository {
	return &conceptRepository{db: db}
}

var _ ConceptRepository = (*conceptRepository)(nil)

const conceptColumns = `id, network, atlas_short_name, generation, base_filename, file_type, created_at, updated_at`

func (r *conceptRepository) GetOrCreateForUpdate(ctx context.Context, identity models.ConceptIdentity) (*models.Concept, error) {
	if !identity.FileType.HasConcept() {
		return nil, fmt.Errorf("file type %q has no concept", identity.FileType)
	}

	conn := r.db.Conn(ctx)

	// Concurrent creators of the same identity race here; the loser's insert
	// is discarded and both lock the winner's row below.
	_, err := conn.Exec(ctx, `
		INSERT INTO tracker.concepts (id, network, atlas_short_name, generation, base_filename, file_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (network, atlas_short_name, generation, base_filename, file_type) DO NOTHING`,
		uuid.New(), identity.Network, identity.AtlasShortName, identity.Generation,
		identity.BaseFilename, identity.FileType)
	if err != nil {
		return nil, fmt.Errorf("failed to insert concept: %w", err)
	}

	row := conn.QueryRow(ctx, `
		SELECT `+conceptColumns+`
		FROM tracker.concepts
		WHERE network = $1 AND atlas_short_name = $2 AND generation = $3
		  AND base_filename = $4 AND file_type = $5
		FOR UPDATE`,
		identity.Network, identity.AtlasShortName, identity.Generation,
		identity.BaseFilename, identity.FileType)

	concept, err := scanConcept(row)
	if err != nil {
		return nil, fmt.Errorf("failed to lock concept: %w", err)
	}
	return concept, nil
}

func (r *conceptRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.Concept, error) {
	row := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT `+conceptColumns+` FROM tracker.concepts WHERE id = $1 FOR UPDATE`, id)
	concept, err := scanConcept(row)
	if err != nil {
		return nil, fmt.Errorf("failed to lock concept %s: %w", id, err)
	}
	return concept, nil
}

func (r *conceptRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Concept, error) {
	row := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT `+conceptColumns+` FROM tracker.concepts WHERE id = $1`, id)
	concept, err := scanConcept(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get concept %s: %w", id, err)
	}
	return concept, nil
}

func scanConcept(row pgx.Row) (*models.Concept, error) {
	var c models.Concept
	err := row.Scan(&c.ID, &c.Network, &c.AtlasShortName, &c.Generation,
		&c.BaseFilename, &c.FileType, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
