package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/repositories"
)

// ============================================================================
// Cache repository
// ============================================================================

type mockCacheRepo struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
	err     error
	// afterGet runs once Get has released the lock, standing in for a writer
	// that lands between a read and the follow-up delete.
	afterGet func()
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{entries: make(map[string]*models.CacheEntry)}
}

var _ repositories.CacheRepository = (*mockCacheRepo)(nil)

func (r *mockCacheRepo) Get(ctx context.Context, cacheKey string) (*models.CacheEntry, error) {
	if r.afterGet != nil {
		defer r.afterGet()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	e, ok := r.entries[cacheKey]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *mockCacheRepo) Upsert(ctx context.Context, entry *models.CacheEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	cp := *entry
	if existing, ok := r.entries[entry.CacheKey]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	cp.HitCount = 0
	cp.LastHitAt = nil
	r.entries[entry.CacheKey] = &cp
	return nil
}

func (r *mockCacheRepo) RecordHit(ctx context.Context, cacheKey string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if e, ok := r.entries[cacheKey]; ok {
		e.HitCount++
		e.LastHitAt = &at
	}
	return nil
}

func (r *mockCacheRepo) Delete(ctx context.Context, cacheKey string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	if _, ok := r.entries[cacheKey]; !ok {
		return 0, nil
	}
	delete(r.entries, cacheKey)
	return 1, nil
}

func (r *mockCacheRepo) DeleteIfExpired(ctx context.Context, cacheKey string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	e, ok := r.entries[cacheKey]
	if !ok || !e.IsExpired(now) {
		return 0, nil
	}
	delete(r.entries, cacheKey)
	return 1, nil
}

func (r *mockCacheRepo) DeleteByDatasource(ctx context.Context, datasourceID uuid.UUID) (int64, error) {
	return r.deleteWhere(func(e *models.CacheEntry) bool {
		return e.DatasourceID != nil && *e.DatasourceID == datasourceID
	})
}

func (r *mockCacheRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteWhere(func(e *models.CacheEntry) bool { return e.IsExpired(now) })
}

func (r *mockCacheRepo) DeleteAll(ctx context.Context) (int64, error) {
	return r.deleteWhere(func(*models.CacheEntry) bool { return true })
}

func (r *mockCacheRepo) deleteWhere(match func(*models.CacheEntry) bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	for k, e := range r.entries {
		if match(e) {
			delete(r.entries, k)
			n++
		}
	}
	return n, nil
}

func (r *mockCacheRepo) Stats(ctx context.Context) (*models.CacheStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	s := &models.CacheStats{TotalEntries: int64(len(r.entries))}
	for _, e := range r.entries {
		s.TotalHits += e.HitCount
		s.TotalRecords += int64(e.RecordCount)
	}
	if s.TotalEntries > 0 {
		s.HitRate = float64(s.TotalHits) / float64(s.TotalEntries)
	}
	return s, nil
}

func (r *mockCacheRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ============================================================================
// Datasource repository
// ============================================================================

type mockDatasourceRepo struct {
	mu          sync.Mutex
	datasources map[uuid.UUID]*models.Datasource
}

func newMockDatasourceRepo(dss ...*models.Datasource) *mockDatasourceRepo {
	r := &mockDatasourceRepo{datasources: make(map[uuid.UUID]*models.Datasource)}
	for _, ds := range dss {
		r.datasources[ds.ID] = ds
	}
	return r
}

var _ repositories.DatasourceRepository = (*mockDatasourceRepo)(nil)

func (r *mockDatasourceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Datasource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.datasources[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return ds, nil
}

func (r *mockDatasourceRepo) ListActive(ctx context.Context) ([]*models.Datasource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Datasource
	for _, ds := range r.datasources {
		if ds.IsActive {
			out = append(out, ds)
		}
	}
	return out, nil
}

func (r *mockDatasourceRepo) Create(ctx context.Context, ds *models.Datasource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	r.datasources[ds.ID] = ds
	return nil
}

// ============================================================================
// Query repository
// ============================================================================

type mockQueryRepo struct {
	mu        sync.Mutex
	queries   map[uuid.UUID]*models.Query
	refreshed []uuid.UUID
	createErr error
}

func newMockQueryRepo(qs ...*models.Query) *mockQueryRepo {
	r := &mockQueryRepo{queries: make(map[uuid.UUID]*models.Query)}
	for _, q := range qs {
		r.queries[q.ID] = q
	}
	return r
}

var _ repositories.QueryRepository = (*mockQueryRepo)(nil)

func (r *mockQueryRepo) GetByOwner(ctx context.Context, id uuid.UUID, ownerID string) (*models.Query, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queries[id]
	if !ok || q.OwnerID != ownerID {
		return nil, apperrors.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (r *mockQueryRepo) Create(ctx context.Context, q *models.Query) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	cp := *q
	r.queries[q.ID] = &cp
	return nil
}

func (r *mockQueryRepo) UpdateResult(ctx context.Context, q *models.Query) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queries[q.ID]; !ok {
		return apperrors.ErrNotFound
	}
	cp := *q
	r.queries[q.ID] = &cp
	return nil
}

func (r *mockQueryRepo) MarkRefreshed(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queries[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	q.Status = models.QueryStatusCompleted
	r.refreshed = append(r.refreshed, id)
	return nil
}

func (r *mockQueryRepo) get(id uuid.UUID) *models.Query {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries[id]
}

func (r *mockQueryRepo) all() []*models.Query {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Query, 0, len(r.queries))
	for _, q := range r.queries {
		out = append(out, q)
	}
	return out
}

// ============================================================================
// Dashboard repository
// ============================================================================

type mockDashboardRepo struct {
	mu         sync.Mutex
	dashboards map[uuid.UUID]*models.Dashboard
	widgets    map[uuid.UUID][]uuid.UUID
	queries    *mockQueryRepo
	touched    []uuid.UUID
}

func newMockDashboardRepo(queries *mockQueryRepo) *mockDashboardRepo {
	return &mockDashboardRepo{
		dashboards: make(map[uuid.UUID]*models.Dashboard),
		widgets:    make(map[uuid.UUID][]uuid.UUID),
		queries:    queries,
	}
}

var _ repositories.DashboardRepository = (*mockDashboardRepo)(nil)

func (r *mockDashboardRepo) GetByOwner(ctx context.Context, id uuid.UUID, ownerID string) (*models.Dashboard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dashboards[id]
	if !ok || d.OwnerID != ownerID {
		return nil, apperrors.ErrNotFound
	}
	return d, nil
}

func (r *mockDashboardRepo) ListWidgetQueries(ctx context.Context, dashboardID uuid.UUID) ([]*models.Query, error) {
	r.mu.Lock()
	ids := append([]uuid.UUID(nil), r.widgets[dashboardID]...)
	r.mu.Unlock()

	out := make([]*models.Query, 0, len(ids))
	for _, id := range ids {
		if q := r.queries.get(id); q != nil {
			cp := *q
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *mockDashboardRepo) Touch(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, id)
	return nil
}

// ============================================================================
// Schedule repository
// ============================================================================

type mockScheduleRepo struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*models.RefreshSchedule
	runs      []models.ScheduleRun
	listErr   error
}

func newMockScheduleRepo(ss ...*models.RefreshSchedule) *mockScheduleRepo {
	r := &mockScheduleRepo{schedules: make(map[uuid.UUID]*models.RefreshSchedule)}
	for _, s := range ss {
		r.schedules[s.ID] = s
	}
	return r
}

var _ repositories.ScheduleRepository = (*mockScheduleRepo)(nil)

func (r *mockScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.RefreshSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *mockScheduleRepo) Create(ctx context.Context, s *models.RefreshSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	r.schedules[s.ID] = &cp
	return nil
}

func (r *mockScheduleRepo) SetActive(ctx context.Context, id uuid.UUID, active bool, nextRunAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.IsActive = active
	s.NextRunAt = nextRunAt
	return nil
}

func (r *mockScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.schedules, id)
	return nil
}

func (r *mockScheduleRepo) ListActiveCron(ctx context.Context) ([]*models.RefreshSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*models.RefreshSchedule
	for _, s := range r.schedules {
		if s.IsActive && s.Kind == models.ScheduleKindCron {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *mockScheduleRepo) RecordRun(ctx context.Context, id uuid.UUID, run models.ScheduleRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	r.runs = append(r.runs, run)
	lastRun := run.LastRunAt
	s.LastRunAt = &lastRun
	s.NextRunAt = run.NextRunAt
	s.RunCount++
	if run.Succeeded {
		s.LastError = nil
	} else {
		s.ErrorCount++
		s.LastError = run.Error
	}
	return nil
}

func (r *mockScheduleRepo) get(id uuid.UUID) *models.RefreshSchedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (r *mockScheduleRepo) set(s *models.RefreshSchedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[s.ID] = s
}

// ============================================================================
// Execution repository
// ============================================================================

type mockExecutionRepo struct {
	mu         sync.Mutex
	executions []*models.RefreshExecution
}

func newMockExecutionRepo() *mockExecutionRepo {
	return &mockExecutionRepo{}
}

var _ repositories.ExecutionRepository = (*mockExecutionRepo)(nil)

func (r *mockExecutionRepo) Create(ctx context.Context, exec *models.RefreshExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	cp := *exec
	r.executions = append(r.executions, &cp)
	return nil
}

func (r *mockExecutionRepo) Finish(ctx context.Context, exec *models.RefreshExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.executions {
		if e.ID == exec.ID {
			cp := *exec
			r.executions[i] = &cp
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *mockExecutionRepo) ListBySchedule(ctx context.Context, scheduleID uuid.UUID, limit int) ([]*models.RefreshExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.RefreshExecution
	for i := len(r.executions) - 1; i >= 0; i-- {
		if r.executions[i].ScheduleID == scheduleID {
			out = append(out, r.executions[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *mockExecutionRepo) all() []*models.RefreshExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.RefreshExecution(nil), r.executions...)
}
