//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/testhelpers"
)

// scheduleTestContext holds all dependencies for schedule and execution repository tests.
type scheduleTestContext struct {
	t          *testing.T
	engineDB   *testhelpers.EngineDB
	repo       ScheduleRepository
	executions ExecutionRepository
}

func setupScheduleTest(t *testing.T) *scheduleTestContext {
	t.Helper()

	engineDB := testhelpers.GetEngineDB(t)
	tc := &scheduleTestContext{
		t:          t,
		engineDB:   engineDB,
		repo:       NewScheduleRepository(engineDB.DB),
		executions: NewExecutionRepository(engineDB.DB),
	}
	tc.cleanup()
	t.Cleanup(tc.cleanup)
	return tc
}

func (tc *scheduleTestContext) cleanup() {
	tc.t.Helper()
	if _, err := tc.engineDB.DB.Exec(context.Background(), "DELETE FROM engine_refresh_schedules"); err != nil {
		tc.t.Fatalf("Failed to cleanup schedules: %v", err)
	}
}

func (tc *scheduleTestContext) createCron(expr string, active bool) *models.RefreshSchedule {
	tc.t.Helper()
	s := &models.RefreshSchedule{
		TargetType:     models.RefreshTargetQuery,
		TargetID:       uuid.New(),
		OwnerID:        "owner-1",
		Kind:           models.ScheduleKindCron,
		CronExpression: &expr,
		IsActive:       active,
	}
	require.NoError(tc.t, tc.repo.Create(context.Background(), s))
	return s
}

func TestScheduleRepository_ListActiveCron(t *testing.T) {
	tc := setupScheduleTest(t)
	ctx := context.Background()

	active := tc.createCron("*/5 * * * *", true)
	tc.createCron("0 9 * * *", false)

	interval := 15
	require.NoError(t, tc.repo.Create(ctx, &models.RefreshSchedule{
		TargetType:      models.RefreshTargetDashboard,
		TargetID:        uuid.New(),
		OwnerID:         "owner-1",
		Kind:            models.ScheduleKindInterval,
		IntervalMinutes: &interval,
		IsActive:        true,
	}))

	schedules, err := tc.repo.ListActiveCron(ctx)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, active.ID, schedules[0].ID)
	assert.Equal(t, "*/5 * * * *", *schedules[0].CronExpression)
}

func TestScheduleRepository_RecordRun(t *testing.T) {
	tc := setupScheduleTest(t)
	ctx := context.Background()

	s := tc.createCron("0 * * * *", true)
	lastRun := time.Now().Truncate(time.Second)
	next := lastRun.Add(time.Hour)
	failure := "connection refused"

	require.NoError(t, tc.repo.RecordRun(ctx, s.ID, models.ScheduleRun{
		LastRunAt: lastRun,
		NextRunAt: &next,
		Succeeded: false,
		Error:     &failure,
	}))
	require.NoError(t, tc.repo.RecordRun(ctx, s.ID, models.ScheduleRun{
		LastRunAt: lastRun,
		NextRunAt: &next,
		Succeeded: true,
	}))

	got, err := tc.repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RunCount)
	assert.Equal(t, 1, got.ErrorCount)
	assert.Nil(t, got.LastError)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(next))
}

func TestScheduleRepository_SetActiveAndDelete(t *testing.T) {
	tc := setupScheduleTest(t)
	ctx := context.Background()

	s := tc.createCron("0 * * * *", true)
	require.NoError(t, tc.repo.SetActive(ctx, s.ID, false, nil))

	got, err := tc.repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.NextRunAt)

	require.NoError(t, tc.repo.Delete(ctx, s.ID))
	_, err = tc.repo.GetByID(ctx, s.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	tc := setupScheduleTest(t)
	ctx := context.Background()

	s := tc.createCron("0 * * * *", true)
	exec := &models.RefreshExecution{
		ScheduleID: s.ID,
		Status:     models.ExecutionStatusRunning,
		StartedAt:  time.Now(),
	}
	require.NoError(t, tc.executions.Create(ctx, exec))

	done := time.Now()
	duration := int64(42)
	exec.Status = models.ExecutionStatusCompleted
	exec.CompletedAt = &done
	exec.DurationMs = &duration
	exec.RecordsAffected = 7
	exec.Metadata = map[string]any{"target_type": "query"}
	require.NoError(t, tc.executions.Finish(ctx, exec))

	history, err := tc.executions.ListBySchedule(ctx, s.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, history[0].Status)
	assert.Equal(t, 7, history[0].RecordsAffected)
	assert.Equal(t, int64(42), *history[0].DurationMs)
	assert.Equal(t, "query", history[0].Metadata["target_type"])
}
