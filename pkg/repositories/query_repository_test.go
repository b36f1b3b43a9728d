//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/testhelpers"
)

func TestQueryRepository_OwnerScoping(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	ctx := context.Background()
	repo := NewQueryRepository(engineDB.DB)

	q := &models.Query{
		OwnerID:              "owner-a",
		NaturalLanguageQuery: "how many customers",
		SQLQuery:             "SELECT COUNT(*) FROM customers",
	}
	require.NoError(t, repo.Create(ctx, q))
	t.Cleanup(func() {
		_, _ = engineDB.DB.Exec(context.Background(), "DELETE FROM engine_queries WHERE id = $1", q.ID)
	})

	got, err := repo.GetByOwner(ctx, q.ID, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, models.QueryStatusPending, got.Status)
	assert.Empty(t, got.Result)

	_, err = repo.GetByOwner(ctx, q.ID, "owner-b")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestQueryRepository_UpdateResultAndMarkRefreshed(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	ctx := context.Background()
	repo := NewQueryRepository(engineDB.DB)

	q := &models.Query{OwnerID: "owner-a", NaturalLanguageQuery: "total sales"}
	require.NoError(t, repo.Create(ctx, q))
	t.Cleanup(func() {
		_, _ = engineDB.DB.Exec(context.Background(), "DELETE FROM engine_queries WHERE id = $1", q.ID)
	})

	failure := "boom"
	q.SQLQuery = "SELECT SUM(amount) FROM orders"
	q.Status = models.QueryStatusFailed
	q.ErrorMessage = &failure
	require.NoError(t, repo.UpdateResult(ctx, q))

	require.NoError(t, repo.MarkRefreshed(ctx, q.ID))

	got, err := repo.GetByOwner(ctx, q.ID, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, models.QueryStatusCompleted, got.Status)
	assert.Equal(t, "SELECT SUM(amount) FROM orders", got.SQLQuery)

	assert.True(t, errors.Is(repo.MarkRefreshed(ctx, uuid.New()), apperrors.ErrNotFound))
}

func TestDashboardRepository_ListWidgetQueries(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	ctx := context.Background()
	queries := NewQueryRepository(engineDB.DB)
	dashboards := NewDashboardRepository(engineDB.DB)

	dashboardID := uuid.New()
	_, err := engineDB.DB.Exec(ctx, `INSERT INTO engine_dashboards (id, owner_id, name) VALUES ($1, 'owner-a', 'Sales')`, dashboardID)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = engineDB.DB.Exec(context.Background(), "DELETE FROM engine_dashboards WHERE id = $1", dashboardID)
	})

	first := &models.Query{OwnerID: "owner-a", NaturalLanguageQuery: "first"}
	second := &models.Query{OwnerID: "owner-a", NaturalLanguageQuery: "second"}
	require.NoError(t, queries.Create(ctx, first))
	require.NoError(t, queries.Create(ctx, second))
	t.Cleanup(func() {
		_, _ = engineDB.DB.Exec(context.Background(), "DELETE FROM engine_queries WHERE id = ANY($1)", []uuid.UUID{first.ID, second.ID})
	})

	// second appears twice; it is returned once at its first position
	for pos, qid := range []uuid.UUID{second.ID, first.ID, second.ID} {
		_, err := engineDB.DB.Exec(ctx, `INSERT INTO engine_dashboard_widgets (dashboard_id, query_id, position) VALUES ($1, $2, $3)`,
			dashboardID, qid, pos)
		require.NoError(t, err)
	}

	got, err := dashboards.ListWidgetQueries(ctx, dashboardID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)

	_, err = dashboards.GetByOwner(ctx, dashboardID, "owner-b")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	require.NoError(t, dashboards.Touch(ctx, dashboardID))
}
