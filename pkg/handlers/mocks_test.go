package handlers

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
	"github.com/hca-atlas-tracker/tracker/pkg/auth"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
	"github.com/hca-atlas-tracker/tracker/pkg/testhelpers"
)

// mockIngestionService records notifications and returns a new file for each.
type mockIngestionService struct {
	mu            sync.Mutex
	notifications []models.StorageNotification
	duplicate     bool
	err           error
}

func (m *mockIngestionService) IngestFile(ctx context.Context, n models.StorageNotification) (*models.IngestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	if m.err != nil {
		return nil, m.err
	}
	result := &models.IngestResult{
		File:      &models.File{ID: uuid.New(), Bucket: n.Bucket, Key: n.Key},
		Duplicate: m.duplicate,
	}
	if !m.duplicate {
		result.Concept = &models.Concept{ID: uuid.New()}
	}
	return result, nil
}

type mockValidationService struct {
	requested []uuid.UUID
	file      *models.File
	err       error
}

func (m *mockValidationService) RequestValidation(ctx context.Context, fileID uuid.UUID) (*models.File, error) {
	m.requested = append(m.requested, fileID)
	if m.file != nil {
		return m.file, m.err
	}
	if m.err != nil {
		return nil, m.err
	}
	return &models.File{ID: fileID, ValidationStatus: models.FileValidationStatusRequested}, nil
}

type mockReconciler struct {
	callbacks []models.ValidatorCallback
	outcome   models.ApplyOutcome
	err       error
}

func (m *mockReconciler) ApplyValidationResult(ctx context.Context, cb models.ValidatorCallback) (models.ApplyOutcome, error) {
	m.callbacks = append(m.callbacks, cb)
	if m.err != nil {
		return "", m.err
	}
	if m.outcome == "" {
		return models.ApplyOutcomeApplied, nil
	}
	return m.outcome, nil
}

type mockSyncService struct {
	bucket, prefix string
	report         *models.SyncReport
	err            error
}

func (m *mockSyncService) SyncPrefix(ctx context.Context, bucket, prefix string) (*models.SyncReport, error) {
	m.bucket, m.prefix = bucket, prefix
	if m.err != nil {
		return nil, m.err
	}
	if bucket == "" {
		return nil, apperrors.ErrInvalidInput
	}
	if m.report != nil {
		return m.report, nil
	}
	return &models.SyncReport{Malformed: []string{}, Failed: []string{}}, nil
}

type mockVersionService struct {
	versions []*models.VersionRow
	kind     models.FileType
	err      error
}

func (m *mockVersionService) RecordNewRevision(ctx context.Context, conceptID, fileID uuid.UUID, kind models.FileType, contentChanged bool) (*models.VersionRow, error) {
	return nil, m.err
}

func (m *mockVersionService) GetLatest(ctx context.Context, conceptID uuid.UUID, kind models.FileType) (*models.VersionRow, error) {
	for _, v := range m.versions {
		if v.IsLatest {
			return v, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockVersionService) ListVersions(ctx context.Context, conceptID uuid.UUID, kind models.FileType) ([]*models.VersionRow, error) {
	m.kind = kind
	if m.err != nil {
		return nil, m.err
	}
	return m.versions, nil
}

type mockAggregateService struct {
	counts     *models.AtlasTaskCounts
	recomputed []uuid.UUID
	all        int
	err        error
}

func (m *mockAggregateService) RecomputeAtlasCounts(ctx context.Context, atlasID uuid.UUID) (*models.AtlasTaskCounts, error) {
	m.recomputed = append(m.recomputed, atlasID)
	return m.counts, m.err
}

func (m *mockAggregateService) GetAtlasCounts(ctx context.Context, atlasID uuid.UUID) (*models.AtlasTaskCounts, error) {
	return m.counts, m.err
}

func (m *mockAggregateService) RecomputeAll(ctx context.Context) (int, error) {
	return m.all, m.err
}

// newTestAuthMiddleware accepts unsigned tokens from testhelpers.
func newTestAuthMiddleware(t *testing.T) *auth.Middleware {
	t.Helper()
	client, err := auth.NewJWKSClient(context.Background(), &auth.JWKSConfig{EnableVerification: false})
	if err != nil {
		t.Fatalf("failed to create JWKS client: %v", err)
	}
	return auth.NewMiddleware(auth.NewAuthService(client, zap.NewNop()), zap.NewNop())
}

func withRoles(req *http.Request, roles ...string) *http.Request {
	req.Header.Set("Authorization", testhelpers.GenerateTestJWTWithBearer("user-1", roles...))
	return req
}
