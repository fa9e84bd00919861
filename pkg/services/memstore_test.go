package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
	"github.com/hca-atlas-tracker/tracker/pkg/repositories"
)

// passthroughTx runs fn without a transaction. The in-memory repositories
// serialize on their own mutex.
type passthroughTx struct {
	calls int
}

func (p *passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	p.calls++
	return fn(ctx)
}

// memStore backs in-memory implementations of every repository so service
// tests observe one consistent state.
type memStore struct {
	mu          sync.Mutex
	concepts    map[uuid.UUID]*models.Concept
	files       map[uuid.UUID]*models.File
	versions    map[uuid.UUID]*models.VersionRow
	atlases     map[uuid.UUID]*models.Atlas
	validations map[string]*models.Validation
	messages    map[string]uuid.UUID

	insertFileErr error
	upsertErr     error
	mergeErr      error
}

func newMemStore() *memStore {
	return &memStore{
		concepts:    make(map[uuid.UUID]*models.Concept),
		files:       make(map[uuid.UUID]*models.File),
		versions:    make(map[uuid.UUID]*models.VersionRow),
		atlases:     make(map[uuid.UUID]*models.Atlas),
		validations: make(map[string]*models.Validation),
		messages:    make(map[string]uuid.UUID),
	}
}

func (s *memStore) conceptRepo() repositories.ConceptRepository       { return &memConcepts{s} }
func (s *memStore) fileRepo() repositories.FileRepository             { return &memFiles{s} }
func (s *memStore) versionRepo() repositories.VersionRepository       { return &memVersions{s} }
func (s *memStore) atlasRepo() repositories.AtlasRepository           { return &memAtlases{s} }
func (s *memStore) validationRepo() repositories.ValidationRepository { return &memValidations{s} }

func (s *memStore) addAtlas(network, shortName string, generation int) *models.Atlas {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &models.Atlas{
		ID:         uuid.New(),
		Overview:   models.AtlasOverview{Network: network, ShortName: shortName, Version: fmt.Sprintf("%d", generation)},
		Generation: generation,
		Revision:   0,
		Status:     models.AtlasStatusInProgress,
	}
	s.atlases[a.ID] = a
	return a
}

func (s *memStore) latestRows(conceptID uuid.UUID) []*models.VersionRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.VersionRow
	for _, v := range s.versions {
		if v.ConceptID == conceptID && v.IsLatest {
			c := *v
			out = append(out, &c)
		}
	}
	return out
}

func (s *memStore) fileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

func cloneFile(f *models.File) *models.File {
	c := *f
	if f.ValidationReports != nil {
		c.ValidationReports = make(models.ValidationReports, len(f.ValidationReports))
		for k, v := range f.ValidationReports {
			c.ValidationReports[k] = v
		}
	}
	return &c
}

// ============================================================================
// Concepts
// ============================================================================

type memConcepts struct{ s *memStore }

func (m *memConcepts) GetOrCreateForUpdate(_ context.Context, identity models.ConceptIdentity) (*models.Concept, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, c := range m.s.concepts {
		if c.ConceptIdentity == identity {
			cc := *c
			return &cc, nil
		}
	}
	c := &models.Concept{ID: uuid.New(), ConceptIdentity: identity, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	m.s.concepts[c.ID] = c
	cc := *c
	return &cc, nil
}

func (m *memConcepts) LockByID(ctx context.Context, id uuid.UUID) (*models.Concept, error) {
	return m.GetByID(ctx, id)
}

func (m *memConcepts) GetByID(_ context.Context, id uuid.UUID) (*models.Concept, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.concepts[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

// ============================================================================
// Files
// ============================================================================

type memFiles struct{ s *memStore }

func (m *memFiles) Insert(_ context.Context, f *models.File) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.insertFileErr != nil {
		return false, m.s.insertFileErr
	}
	for _, existing := range m.s.files {
		if existing.SNSMessageID == f.SNSMessageID {
			return false, nil
		}
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.CreatedAt = time.Now()
	f.UpdatedAt = f.CreatedAt
	m.s.files[f.ID] = cloneFile(f)
	return true, nil
}

func (m *memFiles) GetByID(_ context.Context, id uuid.UUID) (*models.File, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	f, ok := m.s.files[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneFile(f), nil
}

func (m *memFiles) GetBySNSMessageID(_ context.Context, messageID string) (*models.File, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, f := range m.s.files {
		if f.SNSMessageID == messageID {
			return cloneFile(f), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memFiles) GetByObject(_ context.Context, bucket, key, etag string) (*models.File, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, f := range m.s.files {
		if f.Bucket == bucket && f.Key == key && f.ETag == etag {
			return cloneFile(f), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memFiles) LockByID(ctx context.Context, id uuid.UUID) (*models.File, error) {
	return m.GetByID(ctx, id)
}

func (m *memFiles) RecordValidationMessage(_ context.Context, messageID string, fileID uuid.UUID) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.messages[messageID]; ok {
		return false, nil
	}
	m.s.messages[messageID] = fileID
	return true, nil
}

func (m *memFiles) LinkVersion(_ context.Context, fileID uuid.UUID, kind models.FileType, versionID uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	f, ok := m.s.files[fileID]
	if !ok {
		return apperrors.ErrNotFound
	}
	switch kind {
	case models.FileTypeSourceDataset:
		f.SourceDatasetVersionID = &versionID
	case models.FileTypeIntegratedObject:
		f.IntegratedObjectVersionID = &versionID
	default:
		return fmt.Errorf("file type %q has no version chain", kind)
	}
	return nil
}

func (m *memFiles) UpdateValidationState(_ context.Context, f *models.File) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stored, ok := m.s.files[f.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	updated := cloneFile(f)
	// Only validation columns change.
	updated.Bucket, updated.Key, updated.ETag = stored.Bucket, stored.Key, stored.ETag
	updated.SourceDatasetVersionID = stored.SourceDatasetVersionID
	updated.IntegratedObjectVersionID = stored.IntegratedObjectVersionID
	updated.UpdatedAt = time.Now()
	m.s.files[f.ID] = updated
	return nil
}

func (m *memFiles) ListByConcept(_ context.Context, conceptID uuid.UUID) ([]*models.File, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.File
	for _, f := range m.s.files {
		if f.ConceptID != nil && *f.ConceptID == conceptID {
			out = append(out, cloneFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ============================================================================
// Versions
// ============================================================================

type memVersions struct{ s *memStore }

func (m *memVersions) GetLatest(_ context.Context, conceptID uuid.UUID, kind models.FileType) (*models.VersionRow, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, v := range m.s.versions {
		if v.ConceptID == conceptID && v.Kind == kind && v.IsLatest {
			c := *v
			return &c, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memVersions) GetByVersionID(_ context.Context, kind models.FileType, versionID uuid.UUID) (*models.VersionRow, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	v, ok := m.s.versions[versionID]
	if !ok || v.Kind != kind {
		return nil, apperrors.ErrNotFound
	}
	c := *v
	return &c, nil
}

func (m *memVersions) ListByConcept(_ context.Context, conceptID uuid.UUID, kind models.FileType) ([]*models.VersionRow, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.VersionRow
	for _, v := range m.s.versions {
		if v.ConceptID == conceptID && v.Kind == kind {
			c := *v
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WIPNumber < out[j].WIPNumber })
	return out, nil
}

func (m *memVersions) ClearLatest(_ context.Context, kind models.FileType, versionID uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	v, ok := m.s.versions[versionID]
	if !ok || v.Kind != kind || !v.IsLatest {
		return fmt.Errorf("%w: version %s is not latest", apperrors.ErrConflict, versionID)
	}
	v.IsLatest = false
	return nil
}

func (m *memVersions) Insert(_ context.Context, row *models.VersionRow) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, v := range m.s.versions {
		if v.ConceptID != row.ConceptID || v.Kind != row.Kind {
			continue
		}
		if v.WIPNumber == row.WIPNumber || (v.IsLatest && row.IsLatest) {
			return fmt.Errorf("%w: version chain of concept %s changed", apperrors.ErrConflict, row.ConceptID)
		}
	}
	row.CreatedAt = time.Now()
	row.UpdatedAt = row.CreatedAt
	c := *row
	m.s.versions[row.VersionID] = &c
	return nil
}

func (m *memVersions) HasNewerRevision(_ context.Context, kind models.FileType, versionID uuid.UUID) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	row, ok := m.s.versions[versionID]
	if !ok || row.Kind != kind {
		return false, apperrors.ErrNotFound
	}
	for _, v := range m.s.versions {
		if v.ConceptID == row.ConceptID && v.Kind == kind && v.WIPNumber > row.WIPNumber {
			return true, nil
		}
	}
	return false, nil
}

// ============================================================================
// Atlases
// ============================================================================

type memAtlases struct{ s *memStore }

func (m *memAtlases) Create(_ context.Context, atlas *models.Atlas) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if atlas.ID == uuid.Nil {
		atlas.ID = uuid.New()
	}
	c := *atlas
	m.s.atlases[atlas.ID] = &c
	return nil
}

func (m *memAtlases) GetByID(_ context.Context, id uuid.UUID) (*models.Atlas, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.atlases[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *a
	c.SourceDatasets = slices.Clone(a.SourceDatasets)
	c.IntegratedObjects = slices.Clone(a.IntegratedObjects)
	return &c, nil
}

func (m *memAtlases) FindByIdentity(_ context.Context, network, shortName string, generation int) (*models.Atlas, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, a := range m.s.atlases {
		if a.Overview.Network == network && a.Overview.ShortName == shortName && a.Generation == generation {
			c := *a
			return &c, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memAtlases) AppendEntity(_ context.Context, atlasID uuid.UUID, kind models.FileType, entityID uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.atlases[atlasID]
	if !ok {
		return apperrors.ErrNotFound
	}
	switch kind {
	case models.FileTypeSourceDataset:
		if !slices.Contains(a.SourceDatasets, entityID) {
			a.SourceDatasets = append(a.SourceDatasets, entityID)
		}
	case models.FileTypeIntegratedObject:
		if !slices.Contains(a.IntegratedObjects, entityID) {
			a.IntegratedObjects = append(a.IntegratedObjects, entityID)
		}
	}
	return nil
}

func (m *memAtlases) ListIDsContaining(_ context.Context, kind models.FileType, entityID uuid.UUID) ([]uuid.UUID, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []uuid.UUID
	for _, a := range m.s.atlases {
		members := a.SourceDatasets
		if kind == models.FileTypeIntegratedObject {
			members = a.IntegratedObjects
		}
		if slices.Contains(members, entityID) {
			out = append(out, a.ID)
		}
	}
	return out, nil
}

func (m *memAtlases) ListIDs(_ context.Context) ([]uuid.UUID, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := make([]uuid.UUID, 0, len(m.s.atlases))
	for id := range m.s.atlases {
		out = append(out, id)
	}
	return out, nil
}

func (m *memAtlases) MergeTaskCounts(_ context.Context, atlasID uuid.UUID, counts models.AtlasTaskCounts) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.mergeErr != nil {
		return m.s.mergeErr
	}
	a, ok := m.s.atlases[atlasID]
	if !ok {
		return apperrors.ErrNotFound
	}
	a.Overview.AtlasTaskCounts = counts
	return nil
}

// ============================================================================
// Validations
// ============================================================================

type memValidations struct{ s *memStore }

func (m *memValidations) Upsert(_ context.Context, v *models.Validation) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.upsertErr != nil {
		return m.s.upsertErr
	}
	key := v.EntityID.String() + "|" + v.ValidationID
	if existing, ok := m.s.validations[key]; ok {
		v.ID = existing.ID
		v.CreatedAt = existing.CreatedAt
	} else {
		v.ID = uuid.New()
		v.CreatedAt = time.Now()
	}
	v.UpdatedAt = time.Now()
	c := *v
	c.AtlasIDs = slices.Clone(v.AtlasIDs)
	m.s.validations[key] = &c
	return nil
}

func (m *memValidations) ListByEntity(_ context.Context, entityID uuid.UUID) ([]*models.Validation, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.Validation
	for _, v := range m.s.validations {
		if v.EntityID == entityID {
			c := *v
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidationID < out[j].ValidationID })
	return out, nil
}

func (m *memValidations) CountByAtlas(_ context.Context, atlasID uuid.UUID) ([]models.SystemTaskCount, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	bySystem := make(map[string]*models.SystemTaskCount)
	for _, v := range m.s.validations {
		if !slices.Contains(v.AtlasIDs, atlasID) {
			continue
		}
		sc, ok := bySystem[v.ValidationInfo.System]
		if !ok {
			sc = &models.SystemTaskCount{System: v.ValidationInfo.System}
			bySystem[v.ValidationInfo.System] = sc
		}
		sc.TaskCount++
		if v.ValidationStatus == models.ValidationStatusPassed {
			sc.CompletedTaskCount++
		}
	}
	out := make([]models.SystemTaskCount, 0, len(bySystem))
	for _, sc := range bySystem {
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].System < out[j].System })
	return out, nil
}
