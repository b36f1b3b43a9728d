package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/database"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
)

// ScheduleRepository provides data access for refresh schedules.
type ScheduleRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.RefreshSchedule, error)
	Create(ctx context.Context, s *models.RefreshSchedule) error
	// SetActive toggles a schedule and stores its recomputed next run.
	SetActive(ctx context.Context, id uuid.UUID, active bool, nextRunAt *time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListActiveCron returns every active cron-kind schedule.
	ListActiveCron(ctx context.Context) ([]*models.RefreshSchedule, error)
	// RecordRun writes the outcome of one execution attempt in a single update.
	RecordRun(ctx context.Context, id uuid.UUID, run models.ScheduleRun) error
}

type scheduleRepository struct {
	db *database.DB
}

// NewScheduleRepository creates a schedule repository.
func NewScheduleRepository(db *database.DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

var _ ScheduleRepository = (*scheduleRepository)(nil)

const scheduleColumns = `id, target_type, target_id, owner_id, kind, interval_minutes, cron_expression,
	is_active, last_run_at, next_run_at, run_count, error_count, last_error, created_at, updated_at`

func (r *scheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RefreshSchedule, error) {
	row := r.db.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM engine_refresh_schedules WHERE id = $1`, id)
	s, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return s, nil
}

func (r *scheduleRepository) Create(ctx context.Context, s *models.RefreshSchedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO engine_refresh_schedules (
			id, target_type, target_id, owner_id, kind, interval_minutes, cron_expression,
			is_active, next_run_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.TargetType, s.TargetID, s.OwnerID, s.Kind, s.IntervalMinutes, s.CronExpression,
		s.IsActive, s.NextRunAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepository) SetActive(ctx context.Context, id uuid.UUID, active bool, nextRunAt *time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE engine_refresh_schedules
		SET is_active = $2, next_run_at = $3, updated_at = now()
		WHERE id = $1`, id, active, nextRunAt)
	if err != nil {
		return fmt.Errorf("failed to update schedule state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *scheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM engine_refresh_schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *scheduleRepository) ListActiveCron(ctx context.Context) ([]*models.RefreshSchedule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM engine_refresh_schedules
		WHERE is_active AND kind = $1
		ORDER BY created_at`, models.ScheduleKindCron)
	if err != nil {
		return nil, fmt.Errorf("failed to list active cron schedules: %w", err)
	}
	defer rows.Close()

	schedules := make([]*models.RefreshSchedule, 0)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *scheduleRepository) RecordRun(ctx context.Context, id uuid.UUID, run models.ScheduleRun) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE engine_refresh_schedules
		SET last_run_at = $2,
		    next_run_at = $3,
		    run_count = run_count + 1,
		    error_count = error_count + CASE WHEN $4 THEN 0 ELSE 1 END,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1`,
		id, run.LastRunAt, run.NextRunAt, run.Succeeded, run.Error)
	if err != nil {
		return fmt.Errorf("failed to record schedule run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanSchedule(row rowScanner) (*models.RefreshSchedule, error) {
	var s models.RefreshSchedule
	err := row.Scan(
		&s.ID, &s.TargetType, &s.TargetID, &s.OwnerID, &s.Kind, &s.IntervalMinutes, &s.CronExpression,
		&s.IsActive, &s.LastRunAt, &s.NextRunAt, &s.RunCount, &s.ErrorCount, &s.LastError,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
