//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/models"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisTaskCountCache_RoundTripAndInvalidate(t *testing.T) {
	client := startRedis(t)
	c := NewTaskCountCache(client, time.Minute, zap.NewNop())
	ctx := context.Background()
	id := uuid.New()

	_, err := c.Get(ctx, id)
	require.ErrorIs(t, err, ErrMiss)

	counts := models.AtlasTaskCounts{
		TaskCount:          2,
		CompletedTaskCount: 1,
		IngestionTaskCounts: []models.SystemTaskCount{
			{System: models.SystemCAP, TaskCount: 2, CompletedTaskCount: 1},
		},
	}
	require.NoError(t, c.Set(ctx, id, counts))

	got, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, counts, *got)

	ttl, err := client.TTL(ctx, Key(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, c.Invalidate(ctx, id))
	_, err = c.Get(ctx, id)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisTaskCountCache_CorruptEntryIsMiss(t *testing.T) {
	client := startRedis(t)
	c := NewTaskCountCache(client, time.Minute, zap.NewNop())
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, client.Set(ctx, Key(id), "not json", time.Minute).Err())

	_, err := c.Get(ctx, id)
	assert.ErrorIs(t, err, ErrMiss)

	exists, err := client.Exists(ctx, Key(id)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
