//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/hca-atlas-tracker/tracker/pkg/models"
	"github.com/hca-atlas-tracker/tracker/pkg/testhelpers"
)

// repoTestContext holds test dependencies for repository tests.
type repoTestContext struct {
	t           *testing.T
	trackerDB   *testhelpers.TrackerDB
	concepts    ConceptRepository
	files       FileRepository
	versions    VersionRepository
	atlases     AtlasRepository
	validations ValidationRepository
}

// setupRepoTest resets the shared testcontainer schema and builds every repository.
func setupRepoTest(t *testing.T) *repoTestContext {
	trackerDB := testhelpers.GetTrackerDB(t)
	trackerDB.Reset(t)
	return &repoTestContext{
		t:           t,
		trackerDB:   trackerDB,
		concepts:    NewConceptRepository(trackerDB.DB),
		files:       NewFileRepository(trackerDB.DB),
		versions:    NewVersionRepository(trackerDB.DB),
		atlases:     NewAtlasRepository(trackerDB.DB),
		validations: NewValidationRepository(trackerDB.DB),
	}
}

func testIdentity(baseFilename string) models.ConceptIdentity {
	return models.ConceptIdentity{
		Network:        "gut",
		AtlasShortName: "gut",
		Generation:     1,
		BaseFilename:   baseFilename,
		FileType:       models.FileTypeSourceDataset,
	}
}

// createConcept creates a concept inside its own transaction.
func (tc *repoTestContext) createConcept(identity models.ConceptIdentity) *models.Concept {
	tc.t.Helper()
	var concept *models.Concept
	err := tc.trackerDB.DB.WithTx(context.Background(), func(ctx context.Context) error {
		var err error
		concept, err = tc.concepts.GetOrCreateForUpdate(ctx, identity)
		return err
	})
	if err != nil {
		tc.t.Fatalf("failed to create concept: %v", err)
	}
	return concept
}

// createFile inserts a pending file for the concept.
func (tc *repoTestContext) createFile(conceptID *uuid.UUID, key string) *models.File {
	tc.t.Helper()
	f := &models.File{
		Bucket:       "hca-atlas-data",
		Key:          key,
		ETag:         "etag-" + uuid.NewString(),
		SizeBytes:    1024,
		FileType:     models.FileTypeSourceDataset,
		SNSMessageID: "msg-" + uuid.NewString(),
		ConceptID:    conceptID,
	}
	created, err := tc.files.Insert(context.Background(), f)
	if err != nil {
		tc.t.Fatalf("failed to insert file: %v", err)
	}
	if !created {
		tc.t.Fatalf("expected file to be created")
	}
	return f
}
