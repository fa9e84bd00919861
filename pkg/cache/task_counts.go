// Package cache holds the Redis read cache for atlas task counts.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/models"
)

// ErrMiss is returned by Get when no counts are cached for the atlas.
var ErrMiss = errors.New("cache miss")

// TaskCountCache caches the task count rollup of each atlas.
type TaskCountCache interface {
	Get(ctx context.Context, atlasID uuid.UUID) (*models.AtlasTaskCounts, error)
	Set(ctx context.Context, atlasID uuid.UUID, counts models.AtlasTaskCounts) error
	Invalidate(ctx context.Context, atlasID uuid.UUID) error
}

// NewTaskCountCache returns a Redis-backed cache, or a cache that always
// misses when client is nil (Redis not configured).
func NewTaskCountCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) TaskCountCache {
	logger = logger.Named("task-count-cache")
	if client == nil {
		logger.Info("Task count cache disabled - no Redis host configured")
		return disabledCache{}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	logger.Info("Task count cache enabled", zap.Duration("ttl", ttl))
	return &redisTaskCountCache{client: client, ttl: ttl, logger: logger}
}

// Key returns the Redis key holding an atlas's counts.
func Key(atlasID uuid.UUID) string {
	return fmt.Sprintf("atlas:%s:task-counts", atlasID)
}

type redisTaskCountCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func (c *redisTaskCountCache) Get(ctx context.Context, atlasID uuid.UUID) (*models.AtlasTaskCounts, error) {
	val, err := c.client.Get(ctx, Key(atlasID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var counts models.AtlasTaskCounts
	if err := json.Unmarshal(val, &counts); err != nil {
		// Corrupted entry; drop it so the next read repopulates.
		c.logger.Warn("Discarding unreadable cached task counts",
			zap.String("atlas_id", atlasID.String()),
			zap.Error(err))
		_ = c.client.Del(ctx, Key(atlasID)).Err()
		return nil, ErrMiss
	}
	return &counts, nil
}

func (c *redisTaskCountCache) Set(ctx context.Context, atlasID uuid.UUID, counts models.AtlasTaskCounts) error {
	val, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal task counts: %w", err)
	}
	if err := c.client.Set(ctx, Key(atlasID), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *redisTaskCountCache) Invalidate(ctx context.Context, atlasID uuid.UUID) error {
	if err := c.client.Del(ctx, Key(atlasID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

type disabledCache struct{}

func (disabledCache) Get(context.Context, uuid.UUID) (*models.AtlasTaskCounts, error) {
	return nil, ErrMiss
}

func (disabledCache) Set(context.Context, uuid.UUID, models.AtlasTaskCounts) error { return nil }

func (disabledCache) Invalidate(context.Context, uuid.UUID) error { return nil }
