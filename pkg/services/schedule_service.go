package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/repositories"
)

// DefaultHistoryLimit is used when History is called with a non-positive limit.
const DefaultHistoryLimit = 20

// CreateScheduleRequest describes a new refresh schedule.
type CreateScheduleRequest struct {
	TargetType      models.RefreshTargetType
	TargetID        uuid.UUID
	OwnerID         string
	Kind            models.ScheduleKind
	IntervalMinutes *int
	CronExpression  *string
}

// ScheduleService manages refresh schedules. The scheduler picks up changes on
// its next resync; nothing here notifies it.
type ScheduleService interface {
	Create(ctx context.Context, req CreateScheduleRequest) (*models.RefreshSchedule, error)
	Activate(ctx context.Context, id uuid.UUID) (*models.RefreshSchedule, error)
	// Pause deactivates a schedule without deleting it.
	Pause(ctx context.Context, id uuid.UUID) (*models.RefreshSchedule, error)
	Delete(ctx context.Context, id uuid.UUID) error
	History(ctx context.Context, id uuid.UUID, limit int) ([]*models.RefreshExecution, error)
	// GetNextRun returns the first time after from matching a cron expression.
	GetNextRun(expr string, from time.Time) (time.Time, error)
}

type scheduleService struct {
	scheduleRepo  repositories.ScheduleRepository
	executionRepo repositories.ExecutionRepository
	logger        *zap.Logger
	now           func() time.Time
}

// NewScheduleService creates a schedule service.
func NewScheduleService(
	scheduleRepo repositories.ScheduleRepository,
	executionRepo repositories.ExecutionRepository,
	logger *zap.Logger,
) ScheduleService {
	return &scheduleService{
		scheduleRepo:  scheduleRepo,
		executionRepo: executionRepo,
		logger:        logger.Named("schedule-service"),
		now:           time.Now,
	}
}

var _ ScheduleService = (*scheduleService)(nil)

func (s *scheduleService) Create(ctx context.Context, req CreateScheduleRequest) (*models.RefreshSchedule, error) {
	if err := validateScheduleRequest(req); err != nil {
		return nil, err
	}

	schedule := &models.RefreshSchedule{
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		OwnerID:    req.OwnerID,
		Kind:       req.Kind,
		IsActive:   true,
	}
	switch req.Kind {
	case models.ScheduleKindInterval:
		schedule.IntervalMinutes = req.IntervalMinutes
	case models.ScheduleKindCron:
		schedule.CronExpression = req.CronExpression
	}

	next, err := NextRunTime(schedule, s.now())
	if err != nil {
		return nil, err
	}
	schedule.NextRunAt = next

	if err := s.scheduleRepo.Create(ctx, schedule); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}

	s.logger.Info("Created refresh schedule",
		zap.String("schedule_id", schedule.ID.String()),
		zap.String("target_type", string(schedule.TargetType)),
		zap.String("kind", string(schedule.Kind)))

	return schedule, nil
}

func validateScheduleRequest(req CreateScheduleRequest) error {
	if req.TargetType != models.RefreshTargetDashboard && req.TargetType != models.RefreshTargetQuery {
		return fmt.Errorf("%w: unknown target type %q", apperrors.ErrInvalidSchedule, req.TargetType)
	}
	if req.TargetID == uuid.Nil {
		return fmt.Errorf("%w: target id is required", apperrors.ErrInvalidSchedule)
	}
	if req.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", apperrors.ErrInvalidSchedule)
	}
	if !req.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", apperrors.ErrInvalidSchedule, req.Kind)
	}
	return nil
}

func (s *scheduleService) Activate(ctx context.Context, id uuid.UUID) (*models.RefreshSchedule, error) {
	return s.setActive(ctx, id, true)
}

func (s *scheduleService) Pause(ctx context.Context, id uuid.UUID) (*models.RefreshSchedule, error) {
	return s.setActive(ctx, id, false)
}

func (s *scheduleService) setActive(ctx context.Context, id uuid.UUID, active bool) (*models.RefreshSchedule, error) {
	schedule, err := s.scheduleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var next *time.Time
	if active {
		next, err = NextRunTime(schedule, s.now())
		if err != nil {
			return nil, err
		}
	}

	if err := s.scheduleRepo.SetActive(ctx, id, active, next); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	schedule.IsActive = active
	schedule.NextRunAt = next

	s.logger.Info("Changed refresh schedule state",
		zap.String("schedule_id", id.String()),
		zap.Bool("active", active))

	return schedule, nil
}

func (s *scheduleService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.scheduleRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Deleted refresh schedule", zap.String("schedule_id", id.String()))
	return nil
}

func (s *scheduleService) History(ctx context.Context, id uuid.UUID, limit int) ([]*models.RefreshExecution, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.executionRepo.ListBySchedule(ctx, id, limit)
}

func (s *scheduleService) GetNextRun(expr string, from time.Time) (time.Time, error) {
	return NextCronRun(expr, from)
}
