package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/database"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
)

// ExecutionRepository records refresh execution history.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *models.RefreshExecution) error
	// Finish writes the terminal status, timing and outcome of an execution.
	Finish(ctx context.Context, exec *models.RefreshExecution) error
	// ListBySchedule returns the most recent executions first.
	ListBySchedule(ctx context.Context, scheduleID uuid.UUID, limit int) ([]*models.RefreshExecution, error)
}

type executionRepository struct {
	db *database.DB
}

// NewExecutionRepository creates an execution repository.
func NewExecutionRepository(db *database.DB) ExecutionRepository {
	return &executionRepository{db: db}
}

var _ ExecutionRepository = (*executionRepository)(nil)

func (r *executionRepository) Create(ctx context.Context, exec *models.RefreshExecution) error {
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	metadataJSON, err := marshalJSONB(exec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO engine_refresh_executions (id, schedule_id, status, started_at, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		exec.ID, exec.ScheduleID, exec.Status, exec.StartedAt, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

func (r *executionRepository) Finish(ctx context.Context, exec *models.RefreshExecution) error {
	metadataJSON, err := marshalJSONB(exec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE engine_refresh_executions
		SET status = $2, completed_at = $3, duration_ms = $4, records_affected = $5,
		    error_message = $6, metadata = $7
		WHERE id = $1`,
		exec.ID, exec.Status, exec.CompletedAt, exec.DurationMs, exec.RecordsAffected,
		exec.ErrorMessage, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *executionRepository) ListBySchedule(ctx context.Context, scheduleID uuid.UUID, limit int) ([]*models.RefreshExecution, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, schedule_id, status, started_at, completed_at, duration_ms,
		       records_affected, error_message, metadata
		FROM engine_refresh_executions
		WHERE schedule_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	executions := make([]*models.RefreshExecution, 0)
	for rows.Next() {
		var e models.RefreshExecution
		var metadataJSON []byte
		if err := rows.Scan(&e.ID, &e.ScheduleID, &e.Status, &e.StartedAt, &e.CompletedAt, &e.DurationMs,
			&e.RecordsAffected, &e.ErrorMessage, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		unmarshalJSONB(metadataJSON, &e.Metadata)
		executions = append(executions, &e)
	}
	return executions, rows.Err()
}
