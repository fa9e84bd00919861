package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hca-atlas-tracker/tracker/pkg/cache"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
	"github.com/hca-atlas-tracker/tracker/pkg/repositories"
)

const recomputeAllConcurrency = 4

// AtlasAggregateService maintains the task count rollup stored in each
// atlas overview.
type AtlasAggregateService interface {
	// RecomputeAtlasCounts rebuilds the atlas's counts from validation rows
	// and merges them into its overview. Safe to run at any time.
	RecomputeAtlasCounts(ctx context.Context, atlasID uuid.UUID) (*models.AtlasTaskCounts, error)
	// GetAtlasCounts returns the counts, served from the cache when warm.
	GetAtlasCounts(ctx context.Context, atlasID uuid.UUID) (*models.AtlasTaskCounts, error)
	// RecomputeAll recomputes every atlas and returns how many were processed.
	RecomputeAll(ctx context.Context) (int, error)
}

type atlasAggregateService struct {
	atlases     repositories.AtlasRepository
	validations repositories.ValidationRepository
	cache       cache.TaskCountCache
	logger      *zap.Logger
}

func NewAtlasAggregateService(
	atlases repositories.AtlasRepository,
	validations repositories.ValidationRepository,
	taskCountCache cache.TaskCountCache,
	logger *zap.Logger,
) AtlasAggregateService {
	return &atlasAggregateService{
		atlases:     atlases,
		validations: validations,
		cache:       taskCountCache,
		logger:      logger.Named("atlas-aggregate-service"),
	}
}

var _ AtlasAggregateService = (*atlasAggregateService)(nil)

func (s *atlasAggregateService) RecomputeAtlasCounts(ctx context.Context, atlasID uuid.UUID) (*models.AtlasTaskCounts, error) {
	systems, err := s.validations.CountByAtlas(ctx, atlasID)
	if err != nil {
		return nil, fmt.Errorf("count validations for atlas %s: %w", atlasID, err)
	}

	counts := models.AtlasTaskCounts{IngestionTaskCounts: make([]models.SystemTaskCount, 0, len(systems))}
	for _, sc := range systems {
		counts.TaskCount += sc.TaskCount
		counts.CompletedTaskCount += sc.CompletedTaskCount
		counts.IngestionTaskCounts = append(counts.IngestionTaskCounts, sc)
	}

	if err := s.atlases.MergeTaskCounts(ctx, atlasID, counts); err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, atlasID, counts); err != nil {
		// The overview is the source of truth; a stale cache entry must not
		// outlive a failed refresh.
		s.logger.Warn("Failed to refresh cached task counts",
			zap.String("atlas_id", atlasID.String()),
			zap.Error(err))
		_ = s.cache.Invalidate(ctx, atlasID)
	}

	s.logger.Debug("Recomputed atlas task counts",
		zap.String("atlas_id", atlasID.String()),
		zap.Int("task_count", counts.TaskCount),
		zap.Int("completed_task_count", counts.CompletedTaskCount))
	return &counts, nil
}

func (s *atlasAggregateService) GetAtlasCounts(ctx context.Context, atlasID uuid.UUID) (*models.AtlasTaskCounts, error) {
	counts, err := s.cache.Get(ctx, atlasID)
	if err == nil {
		return counts, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("Task count cache read failed, falling back to database",
			zap.String("atlas_id", atlasID.String()),
			zap.Error(err))
	}

	atlas, err := s.atlases.GetByID(ctx, atlasID)
	if err != nil {
		return nil, err
	}
	stored := atlas.Overview.AtlasTaskCounts
	if stored.IngestionTaskCounts == nil {
		stored.IngestionTaskCounts = []models.SystemTaskCount{}
	}

	if err := s.cache.Set(ctx, atlasID, stored); err != nil {
		s.logger.Warn("Failed to populate task count cache",
			zap.String("atlas_id", atlasID.String()),
			zap.Error(err))
	}
	return &stored, nil
}

func (s *atlasAggregateService) RecomputeAll(ctx context.Context) (int, error) {
	ids, err := s.atlases.ListIDs(ctx)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recomputeAllConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			_, err := s.RecomputeAtlasCounts(gctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("Recompute of all atlases failed", zap.Error(err))
		return 0, err
	}

	s.logger.Info("Recomputed all atlases", zap.Int("atlas_count", len(ids)))
	return len(ids), nil
}
