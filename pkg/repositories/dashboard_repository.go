package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/database"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
)

// DashboardRepository reads dashboards and the queries behind their widgets.
type DashboardRepository interface {
	// GetByOwner returns apperrors.ErrNotFound unless the dashboard exists and belongs to ownerID.
	GetByOwner(ctx context.Context, id uuid.UUID, ownerID string) (*models.Dashboard, error)
	// ListWidgetQueries returns the distinct queries rendered by the dashboard, in widget order.
	ListWidgetQueries(ctx context.Context, dashboardID uuid.UUID) ([]*models.Query, error)
	Touch(ctx context.Context, id uuid.UUID) error
}

type dashboardRepository struct {
	db *database.DB
}

// NewDashboardRepository creates a dashboard repository.
func NewDashboardRepository(db *database.DB) DashboardRepository {
	return &dashboardRepository{db: db}
}

var _ DashboardRepository = (*dashboardRepository)(nil)

func (r *dashboardRepository) GetByOwner(ctx context.Context, id uuid.UUID, ownerID string) (*models.Dashboard, error) {
	var d models.Dashboard
	err := r.db.QueryRow(ctx, `
		SELECT id, owner_id, name, created_at, updated_at
		FROM engine_dashboards
		WHERE id = $1 AND owner_id = $2`, id, ownerID).
		Scan(&d.ID, &d.OwnerID, &d.Name, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dashboard: %w", err)
	}
	return &d, nil
}

func (r *dashboardRepository) ListWidgetQueries(ctx context.Context, dashboardID uuid.UUID) ([]*models.Query, error) {
	rows, err := r.db.Query(ctx, `
		SELECT q.id, q.owner_id, q.datasource_id, q.natural_language_query, q.sql_query, q.status,
		       q.result, q.execution_time_ms, q.error_message, q.created_at, q.updated_at
		FROM engine_queries q
		JOIN (
			SELECT query_id, MIN(position) AS position
			FROM engine_dashboard_widgets
			WHERE dashboard_id = $1 AND query_id IS NOT NULL
			GROUP BY query_id
		) w ON w.query_id = q.id
		ORDER BY w.position`, dashboardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list widget queries: %w", err)
	}
	defer rows.Close()

	queries := make([]*models.Query, 0)
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan widget query: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func (r *dashboardRepository) Touch(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE engine_dashboards SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch dashboard: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
