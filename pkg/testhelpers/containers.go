package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/database"
)

// PostgresImage is the image integration tests run against.
const PostgresImage = "postgres:16-alpine"

// TrackerDB holds the shared test database with migrations applied.
// Use this for testing handlers, services, and repositories against a real database.
type TrackerDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedTrackerDB     *TrackerDB
	sharedTrackerDBOnce sync.Once
	sharedTrackerDBErr  error
)

// GetTrackerDB returns a shared PostgreSQL container for integration tests.
// The container is created once, migrated, and reused across all tests in the run.
func GetTrackerDB(t *testing.T) *TrackerDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTrackerDBOnce.Do(func() {
		sharedTrackerDB, sharedTrackerDBErr = setupTrackerDB()
	})

	if sharedTrackerDBErr != nil {
		t.Fatalf("Failed to setup tracker database: %v", sharedTrackerDBErr)
	}

	return sharedTrackerDB
}

func setupTrackerDB() (*TrackerDB, error) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, PostgresImage,
		tcpostgres.WithDatabase("atlas_tracker_test"),
		tcpostgres.WithUsername("tracker"),
		tcpostgres.WithPassword("test_password"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:             connStr,
		MaxConnections:  10,
		MaxConnLifetime: 10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tracker database: %w", err)
	}

	sqlDB, err := database.OpenSQL(connStr)
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TrackerDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// Reset truncates every tracker table so a test starts from an empty schema.
// Tests sharing the container must not run in parallel with a Reset.
func (tdb *TrackerDB) Reset(t *testing.T) {
	t.Helper()

	_, err := tdb.DB.Exec(context.Background(), `
		TRUNCATE tracker.file_validation_messages, tracker.validations, tracker.atlases,
			tracker.source_datasets, tracker.integrated_objects,
			tracker.files, tracker.concepts`)
	if err != nil {
		t.Fatalf("Failed to reset tracker tables: %v", err)
	}
}
