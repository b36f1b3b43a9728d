package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/repositories"
)

// dashboardRefreshConcurrency bounds how many widget queries refresh at once.
const dashboardRefreshConcurrency = 4

// RefreshService re-runs saved queries and dashboards. Every operation reports
// its outcome in a RefreshResult instead of returning an error.
type RefreshService interface {
	RefreshQuery(ctx context.Context, queryID uuid.UUID, ownerID string) *models.RefreshResult
	RefreshDashboard(ctx context.Context, dashboardID uuid.UUID, ownerID string) *models.RefreshResult
	// ExecuteSchedule refreshes a schedule's target and records the attempt and
	// the next run on the schedule, whether or not the refresh succeeded.
	ExecuteSchedule(ctx context.Context, scheduleID uuid.UUID) *models.RefreshResult
}

type refreshService struct {
	queryRepo       repositories.QueryRepository
	dashboardRepo   repositories.DashboardRepository
	datasourceRepo  repositories.DatasourceRepository
	scheduleRepo    repositories.ScheduleRepository
	cache           CacheService
	introspector    Introspector
	executor        QueryExecutor
	cacheTTLMinutes int
	logger          *zap.Logger
	now             func() time.Time
}

// NewRefreshService creates the refresh service. executor runs the stored SQL
// of refreshed queries; its translation strategy is never used here.
func NewRefreshService(
	queryRepo repositories.QueryRepository,
	dashboardRepo repositories.DashboardRepository,
	datasourceRepo repositories.DatasourceRepository,
	scheduleRepo repositories.ScheduleRepository,
	cache CacheService,
	introspector Introspector,
	executor QueryExecutor,
	cacheTTLMinutes int,
	logger *zap.Logger,
) RefreshService {
	return &refreshService{
		queryRepo:       queryRepo,
		dashboardRepo:   dashboardRepo,
		datasourceRepo:  datasourceRepo,
		scheduleRepo:    scheduleRepo,
		cache:           cache,
		introspector:    introspector,
		executor:        executor,
		cacheTTLMinutes: cacheTTLMinutes,
		logger:          logger.Named("refresh-service"),
		now:             time.Now,
	}
}

var _ RefreshService = (*refreshService)(nil)

func failedRefresh(err error) *models.RefreshResult {
	return &models.RefreshResult{Success: false, Error: err.Error(), Metadata: map[string]any{}}
}

func (s *refreshService) RefreshQuery(ctx context.Context, queryID uuid.UUID, ownerID string) *models.RefreshResult {
	q, err := s.queryRepo.GetByOwner(ctx, queryID, ownerID)
	if err != nil {
		return failedRefresh(fmt.Errorf("query %s: %w", queryID, err))
	}
	return s.refreshLoadedQuery(ctx, q)
}

func (s *refreshService) refreshLoadedQuery(ctx context.Context, q *models.Query) *models.RefreshResult {
	s.cache.Invalidate(ctx, q.NaturalLanguageQuery, q.DatasourceID)
	if q.DatasourceID != nil {
		s.introspector.Invalidate(*q.DatasourceID)
	}

	if q.SQLQuery == "" || q.DatasourceID == nil {
		if err := s.queryRepo.MarkRefreshed(ctx, q.ID); err != nil {
			return failedRefresh(fmt.Errorf("mark query %s refreshed: %w", q.ID, err))
		}
		return &models.RefreshResult{
			Success:  true,
			Metadata: map[string]any{"query_id": q.ID.String(), "rerun": false},
		}
	}

	ds, err := s.datasourceRepo.GetByID(ctx, *q.DatasourceID)
	if err != nil {
		return failedRefresh(fmt.Errorf("data source %s: %w", *q.DatasourceID, err))
	}
	if !ds.IsActive {
		return failedRefresh(apperrors.ErrDatasourceInactive)
	}

	res := s.executor.RunSQL(ctx, ds, q.SQLQuery)

	q.Status = res.Status
	q.Result = res.Result
	q.ExecutionTimeMs = res.ExecutionTimeMs
	q.ErrorMessage = nil
	if res.Error != "" {
		msg := res.Error
		q.ErrorMessage = &msg
	}
	if err := s.queryRepo.UpdateResult(ctx, q); err != nil {
		return failedRefresh(fmt.Errorf("save query %s result: %w", q.ID, err))
	}

	metadata := map[string]any{
		"query_id":          q.ID.String(),
		"rerun":             true,
		"execution_time_ms": res.ExecutionTimeMs,
	}
	if res.Failed() {
		return &models.RefreshResult{Success: false, Error: res.Error, Metadata: metadata}
	}

	s.cache.Set(ctx, q.NaturalLanguageQuery, q.SQLQuery, res.Result, s.cacheTTLMinutes, q.DatasourceID)
	return &models.RefreshResult{Success: true, RecordsAffected: len(res.Result), Metadata: metadata}
}

func (s *refreshService) RefreshDashboard(ctx context.Context, dashboardID uuid.UUID, ownerID string) *models.RefreshResult {
	if _, err := s.dashboardRepo.GetByOwner(ctx, dashboardID, ownerID); err != nil {
		return failedRefresh(fmt.Errorf("dashboard %s: %w", dashboardID, err))
	}

	queries, err := s.dashboardRepo.ListWidgetQueries(ctx, dashboardID)
	if err != nil {
		return failedRefresh(fmt.Errorf("list dashboard %s widgets: %w", dashboardID, err))
	}

	var (
		mu       sync.Mutex
		records  int
		failures []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dashboardRefreshConcurrency)
	for _, q := range queries {
		g.Go(func() error {
			res := s.refreshLoadedQuery(gctx, q)
			mu.Lock()
			defer mu.Unlock()
			records += res.RecordsAffected
			if !res.Success {
				failures = append(failures, res.Error)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := s.dashboardRepo.Touch(ctx, dashboardID); err != nil {
		return failedRefresh(fmt.Errorf("touch dashboard %s: %w", dashboardID, err))
	}

	result := &models.RefreshResult{
		Success:         len(failures) == 0,
		RecordsAffected: records,
		Metadata: map[string]any{
			"dashboard_id": dashboardID.String(),
			"refreshed":    len(queries) - len(failures),
			"failed":       len(failures),
		},
	}
	if len(failures) > 0 {
		result.Error = fmt.Sprintf("%d of %d widget queries failed: %s", len(failures), len(queries), failures[0])
	}
	return result
}

func (s *refreshService) ExecuteSchedule(ctx context.Context, scheduleID uuid.UUID) *models.RefreshResult {
	schedule, err := s.scheduleRepo.GetByID(ctx, scheduleID)
	if err != nil {
		return failedRefresh(fmt.Errorf("schedule %s: %w", scheduleID, err))
	}

	var result *models.RefreshResult
	switch schedule.TargetType {
	case models.RefreshTargetDashboard:
		result = s.RefreshDashboard(ctx, schedule.TargetID, schedule.OwnerID)
	case models.RefreshTargetQuery:
		result = s.RefreshQuery(ctx, schedule.TargetID, schedule.OwnerID)
	default:
		result = failedRefresh(fmt.Errorf("%w: unknown target type %q", apperrors.ErrInvalidSchedule, schedule.TargetType))
	}

	now := s.now()
	run := models.ScheduleRun{LastRunAt: now, Succeeded: result.Success}
	if schedule.IsActive {
		next, err := NextRunTime(schedule, now)
		if err != nil {
			s.logger.Warn("Cannot compute next run",
				zap.String("schedule_id", scheduleID.String()),
				zap.Error(err))
		}
		run.NextRunAt = next
	}
	if !result.Success {
		msg := result.Error
		run.Error = &msg
	}

	if err := s.scheduleRepo.RecordRun(ctx, scheduleID, run); err != nil {
		s.logger.Error("Failed to record schedule run",
			zap.String("schedule_id", scheduleID.String()),
			zap.Error(err))
	}

	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["schedule_id"] = scheduleID.String()
	return result
}

// NextRunTime returns when a schedule should next run after from, or nil for
// kinds that never run on their own.
func NextRunTime(schedule *models.RefreshSchedule, from time.Time) (*time.Time, error) {
	switch schedule.Kind {
	case models.ScheduleKindInterval:
		if schedule.IntervalMinutes == nil || *schedule.IntervalMinutes <= 0 {
			return nil, fmt.Errorf("%w: interval schedule needs a positive interval", apperrors.ErrInvalidSchedule)
		}
		next := from.Add(time.Duration(*schedule.IntervalMinutes) * time.Minute)
		return &next, nil
	case models.ScheduleKindCron:
		if schedule.CronExpression == nil {
			return nil, fmt.Errorf("%w: cron schedule needs an expression", apperrors.ErrInvalidSchedule)
		}
		next, err := NextCronRun(*schedule.CronExpression, from)
		if err != nil {
			return nil, err
		}
		return &next, nil
	case models.ScheduleKindManual, models.ScheduleKindRealtime:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", apperrors.ErrInvalidSchedule, schedule.Kind)
	}
}

// NextCronRun returns the first time strictly after from matching a standard
// five-field cron expression, in from's location.
func NextCronRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parse cron expression %q: %v", apperrors.ErrInvalidSchedule, expr, err)
	}
	return sched.Next(from), nil
}
