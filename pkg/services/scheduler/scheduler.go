// Package scheduler keeps one cron timer armed per active cron schedule and
// reconciles that set against storage on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/repositories"
)

const (
	// DefaultResyncInterval bounds how long a schedule edit takes to be observed.
	DefaultResyncInterval = time.Minute
	// DefaultLockTTL covers one firing; it is shorter than the smallest cron period.
	DefaultLockTTL = 55 * time.Second
)

// ScheduleExecutor runs one schedule. services.RefreshService satisfies it.
type ScheduleExecutor interface {
	ExecuteSchedule(ctx context.Context, scheduleID uuid.UUID) *models.RefreshResult
}

// Config tunes a Scheduler. Zero values take the defaults above.
type Config struct {
	ResyncInterval time.Duration
	LockTTL        time.Duration
}

// ErrAlreadyFiring is returned by RunNow when another firing of the schedule
// holds the lock for the current minute.
var ErrAlreadyFiring = errors.New("schedule is already firing")

type armedEntry struct {
	entryID cron.EntryID
	expr    string
}

// Scheduler owns the in-memory timers. Storage is the source of truth; the
// armed set only mirrors it as of the last resync.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	armed   map[uuid.UUID]armedEntry
	resync  cron.EntryID
	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	scheduleRepo  repositories.ScheduleRepository
	executionRepo repositories.ExecutionRepository
	executor      ScheduleExecutor
	locker        Locker
	metrics       *metrics.Metrics
	cfg           Config
	logger        *zap.Logger
	now           func() time.Time
}

// New creates a stopped scheduler. A nil locker means NoopLocker.
func New(
	scheduleRepo repositories.ScheduleRepository,
	executionRepo repositories.ExecutionRepository,
	executor ScheduleExecutor,
	locker Locker,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = DefaultResyncInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if locker == nil {
		locker = NoopLocker{}
	}
	return &Scheduler{
		cron:          cron.New(),
		armed:         make(map[uuid.UUID]armedEntry),
		scheduleRepo:  scheduleRepo,
		executionRepo: executionRepo,
		executor:      executor,
		locker:        locker,
		metrics:       m,
		cfg:           cfg,
		logger:        logger.Named("scheduler"),
		now:           time.Now,
	}
}

// Start loads every active cron schedule, arms the periodic resync and starts
// the timers. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	run := s.ctx
	s.resync = s.cron.Schedule(cron.Every(s.cfg.ResyncInterval), cron.FuncJob(func() {
		if err := s.resyncRun(run, run); err != nil {
			s.logger.Error("Schedule resync failed", zap.Error(err))
		}
	}))
	s.running = true
	s.mu.Unlock()

	if err := s.resyncRun(ctx, run); err != nil {
		s.logger.Error("Initial schedule load failed; retrying on next resync", zap.Error(err))
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.Duration("resync_interval", s.cfg.ResyncInterval),
		zap.Int("armed", len(s.Armed())))
	return nil
}

// Stop disarms every timer and waits for in-flight firings to return.
// Calling Stop on a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.cron.Remove(s.resync)
	for id, entry := range s.armed {
		s.cron.Remove(entry.entryID)
		delete(s.armed, id)
	}
	s.metrics.ArmedSchedules.Set(0)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Armed returns the ids of schedules that currently have a timer.
func (s *Scheduler) Armed() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.armed))
	for id := range s.armed {
		ids = append(ids, id)
	}
	return ids
}

// Resync makes the armed set equal to the active cron schedules in storage.
// Schedules whose expression changed are re-armed; invalid expressions are
// logged and left unarmed.
func (s *Scheduler) Resync(ctx context.Context) error {
	return s.resyncRun(ctx, nil)
}

// resyncRun is Resync on behalf of the run started with context run. It makes
// no change once that run has been stopped, so a resync that was loading
// storage while Stop ran cannot re-arm timers. A nil run always applies.
func (s *Scheduler) resyncRun(ctx, run context.Context) error {
	schedules, err := s.scheduleRepo.ListActiveCron(ctx)
	if err != nil {
		return err
	}

	desired := make(map[uuid.UUID]string, len(schedules))
	for _, sch := range schedules {
		if sch.CronExpression != nil {
			desired[sch.ID] = *sch.CronExpression
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if run != nil && (!s.running || s.ctx != run) {
		return nil
	}

	var removed, added int
	for id, entry := range s.armed {
		if expr, ok := desired[id]; !ok || expr != entry.expr {
			s.cron.Remove(entry.entryID)
			delete(s.armed, id)
			removed++
		}
	}
	for id, expr := range desired {
		if _, ok := s.armed[id]; ok {
			continue
		}
		if err := s.armLocked(id, expr); err != nil {
			s.logger.Warn("Skipping schedule with invalid cron expression",
				zap.String("schedule_id", id.String()),
				zap.String("expression", expr),
				zap.Error(err))
			continue
		}
		added++
	}

	s.metrics.ArmedSchedules.Set(float64(len(s.armed)))
	if removed > 0 || added > 0 {
		s.logger.Info("Resynced schedules",
			zap.Int("added", added),
			zap.Int("removed", removed),
			zap.Int("armed", len(s.armed)))
	}
	return nil
}

// armLocked validates expr and adds a timer for the schedule. Caller holds mu.
func (s *Scheduler) armLocked(id uuid.UUID, expr string) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return err
	}
	entryID := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(id) }))
	s.armed[id] = armedEntry{entryID: entryID, expr: expr}
	return nil
}

// RunNow fires a schedule immediately, outside its timer. It takes the same
// firing lock and writes the same execution row as a timed firing, and works
// whether or not the scheduler is running.
func (s *Scheduler) RunNow(ctx context.Context, scheduleID uuid.UUID) (*models.RefreshExecution, error) {
	if _, err := s.scheduleRepo.GetByID(ctx, scheduleID); err != nil {
		return nil, fmt.Errorf("load schedule %s: %w", scheduleID, err)
	}
	exec := s.runOnce(ctx, scheduleID)
	if exec == nil {
		return nil, ErrAlreadyFiring
	}
	return exec, nil
}

// fire runs one firing: claim the minute, open an execution row, execute and
// close the row with the outcome.
func (s *Scheduler) fire(scheduleID uuid.UUID) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	s.runOnce(ctx, scheduleID)
}

func (s *Scheduler) runOnce(ctx context.Context, scheduleID uuid.UUID) *models.RefreshExecution {
	start := s.now()
	logger := s.logger.With(zap.String("schedule_id", scheduleID.String()))

	acquired, err := s.locker.TryLock(ctx, firingKey(scheduleID, start), s.cfg.LockTTL)
	if err != nil {
		logger.Warn("Firing lock unavailable; running without it", zap.Error(err))
		acquired = true
	}
	if !acquired {
		logger.Debug("Schedule already fired by another instance")
		s.metrics.ScheduleFirings.WithLabelValues("skipped").Inc()
		return nil
	}

	exec := &models.RefreshExecution{
		ID:         uuid.New(),
		ScheduleID: scheduleID,
		Status:     models.ExecutionStatusRunning,
		StartedAt:  start,
	}
	recorded := true
	if err := s.executionRepo.Create(ctx, exec); err != nil {
		logger.Error("Failed to record execution start", zap.Error(err))
		recorded = false
	}

	result := s.executor.ExecuteSchedule(ctx, scheduleID)

	completed := s.now()
	duration := completed.Sub(start).Milliseconds()
	exec.CompletedAt = &completed
	exec.DurationMs = &duration
	exec.RecordsAffected = result.RecordsAffected
	exec.Metadata = result.Metadata
	exec.Status = models.ExecutionStatusCompleted
	if !result.Success {
		exec.Status = models.ExecutionStatusFailed
		msg := result.Error
		exec.ErrorMessage = &msg
	}
	if errors.Is(ctx.Err(), context.Canceled) && !result.Success {
		exec.Status = models.ExecutionStatusCancelled
	}

	if recorded {
		if err := s.executionRepo.Finish(context.WithoutCancel(ctx), exec); err != nil {
			logger.Error("Failed to record execution outcome", zap.Error(err))
		}
	}

	s.metrics.ScheduleFirings.WithLabelValues(string(exec.Status)).Inc()
	logger.Info("Schedule fired",
		zap.String("status", string(exec.Status)),
		zap.Int64("duration_ms", duration),
		zap.Int("records_affected", exec.RecordsAffected))

	return exec
}
