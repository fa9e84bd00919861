package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hca-atlas-tracker/tracker/pkg/database"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
)

// ValidationRepository provides data access for validation tasks.
type ValidationRepository interface {
	// Upsert inserts v or, when (entity_id, validation_id) exists, updates its
	// status, info, entity type and atlas ids. v.ID and timestamps are set
	// from the stored row.
	Upsert(ctx context.Context, v *models.Validation) error
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Validation, error)
	// CountByAtlas returns per-system totals of validations whose atlas_ids
	// contain atlasID, ordered by system.
	CountByAtlas(ctx context.Context, atlasID uuid.UUID) ([]models.SystemTaskCount, error)
}

type validationRepository struct {
	db *database.DB
}

// NewValidationRepository creates a new ValidationRepository.
func NewValidationRepository(db *database.DB) ValidationRepository {
	return &validationRepository{db: db}
}

var _ ValidationRepository = (*validationRepository)(nil)

const validationColumns = `
	id, entity_id, validation_id, entity_type, atlas_ids, validation_status,
	validation_info, comment_thread_id, resolved_at, target_completion, created_at, updated_at`

func (r *validationRepository) Upsert(ctx context.Context, v *models.Validation) error {
	if err := v.ValidationInfo.Validate(); err != nil {
		return err
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.AtlasIDs == nil {
		v.AtlasIDs = []uuid.UUID{}
	}

	infoJSON, err := json.Marshal(v.ValidationInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal validation_info: %w", err)
	}

	err = r.db.Conn(ctx).QueryRow(ctx, `
		INSERT INTO tracker.validations (
			id, entity_id, validation_id, entity_type, atlas_ids, validation_status,
			validation_info, resolved_at, target_completion
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (entity_id, validation_id) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			atlas_ids = EXCLUDED.atlas_ids,
			validation_status = EXCLUDED.validation_status,
			validation_info = EXCLUDED.validation_info,
			resolved_at = EXCLUDED.resolved_at
		RETURNING id, created_at, updated_at`,
		v.ID, v.EntityID, v.ValidationID, v.EntityType, v.AtlasIDs, v.ValidationStatus,
		infoJSON, v.ResolvedAt, v.TargetCompletion,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert validation: %w", err)
	}
	return nil
}

func (r *validationRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Validation, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT `+validationColumns+` FROM tracker.validations WHERE entity_id = $1 ORDER BY validation_id`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list validations: %w", err)
	}
	defer rows.Close()

	var validations []*models.Validation
	for rows.Next() {
		var v models.Validation
		var infoJSON []byte
		if err := rows.Scan(&v.ID, &v.EntityID, &v.ValidationID, &v.EntityType, &v.AtlasIDs,
			&v.ValidationStatus, &infoJSON, &v.CommentThreadID, &v.ResolvedAt,
			&v.TargetCompletion, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan validation: %w", err)
		}
		if err := json.Unmarshal(infoJSON, &v.ValidationInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation_info: %w", err)
		}
		validations = append(validations, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate validations: %w", err)
	}
	return validations, nil
}

func (r *validationRepository) CountByAtlas(ctx context.Context, atlasID uuid.UUID) ([]models.SystemTaskCount, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `
		SELECT validation_info->>'system' AS system,
		       count(*)::int AS task_count,
		       (count(*) FILTER (WHERE validation_status = 'PASSED'))::int AS completed_task_count
		FROM tracker.validations
		WHERE $1 = ANY(atlas_ids)
		GROUP BY 1
		ORDER BY 1`, atlasID)
	if err != nil {
		return nil, fmt.Errorf("failed to count validations: %w", err)
	}
	counts, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.SystemTaskCount])
	if err != nil {
		return nil, fmt.Errorf("failed to collect validation counts: %w", err)
	}
	return counts, nil
}
