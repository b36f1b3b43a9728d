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

// QueryRepository provides data access for saved queries.
type QueryRepository interface {
	// GetByOwner returns apperrors.ErrNotFound unless the query exists and belongs to ownerID.
	GetByOwner(ctx context.Context, id uuid.UUID, ownerID string) (*models.Query, error)
	Create(ctx context.Context, q *models.Query) error
	// UpdateResult persists SQL, status, result, timing and error of the latest run.
	UpdateResult(ctx context.Context, q *models.Query) error
	// MarkRefreshed resets status to completed and touches updated_at.
	MarkRefreshed(ctx context.Context, id uuid.UUID) error
}

type queryRepository struct {
	db *database.DB
}

// NewQueryRepository creates a query repository.
func NewQueryRepository(db *database.DB) QueryRepository {
	return &queryRepository{db: db}
}

var _ QueryRepository = (*queryRepository)(nil)

const queryColumns = `id, owner_id, datasource_id, natural_language_query, sql_query, status,
	result, execution_time_ms, error_message, created_at, updated_at`

func (r *queryRepository) GetByOwner(ctx context.Context, id uuid.UUID, ownerID string) (*models.Query, error) {
	row := r.db.QueryRow(ctx, `SELECT `+queryColumns+` FROM engine_queries WHERE id = $1 AND owner_id = $2`, id, ownerID)
	q, err := scanQuery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get query: %w", err)
	}
	return q, nil
}

func (r *queryRepository) Create(ctx context.Context, q *models.Query) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.Status == "" {
		q.Status = models.QueryStatusPending
	}
	now := time.Now()
	q.CreatedAt = now
	q.UpdatedAt = now

	resultJSON, err := marshalRows(q.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO engine_queries (
			id, owner_id, datasource_id, natural_language_query, sql_query, status,
			result, execution_time_ms, error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		q.ID, q.OwnerID, q.DatasourceID, q.NaturalLanguageQuery, q.SQLQuery, q.Status,
		resultJSON, q.ExecutionTimeMs, q.ErrorMessage, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create query: %w", err)
	}
	return nil
}

func (r *queryRepository) UpdateResult(ctx context.Context, q *models.Query) error {
	resultJSON, err := marshalRows(q.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	q.UpdatedAt = time.Now()

	tag, err := r.db.Exec(ctx, `
		UPDATE engine_queries
		SET sql_query = $2, status = $3, result = $4, execution_time_ms = $5,
		    error_message = $6, updated_at = $7
		WHERE id = $1`,
		q.ID, q.SQLQuery, q.Status, resultJSON, q.ExecutionTimeMs, q.ErrorMessage, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update query result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *queryRepository) MarkRefreshed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE engine_queries SET status = $2, updated_at = now() WHERE id = $1`,
		id, models.QueryStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to mark query refreshed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanQuery(row rowScanner) (*models.Query, error) {
	var q models.Query
	var resultJSON []byte
	err := row.Scan(
		&q.ID, &q.OwnerID, &q.DatasourceID, &q.NaturalLanguageQuery, &q.SQLQuery, &q.Status,
		&resultJSON, &q.ExecutionTimeMs, &q.ErrorMessage, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	q.Result, err = unmarshalRows(resultJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &q, nil
}
