package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/services"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/services/scheduler"
)

// ScheduleRunner fires a schedule on demand and returns its execution record.
// *scheduler.Scheduler satisfies it.
type ScheduleRunner interface {
	RunNow(ctx context.Context, scheduleID uuid.UUID) (*models.RefreshExecution, error)
}

var _ ScheduleRunner = (*scheduler.Scheduler)(nil)

// RefreshHandler triggers on-demand refreshes. Refresh outcomes, including
// failures, are returned as 200 with a RefreshResult or execution body.
type RefreshHandler struct {
	refresh services.RefreshService
	runner  ScheduleRunner
	logger  *zap.Logger
}

// NewRefreshHandler creates a RefreshHandler.
func NewRefreshHandler(refresh services.RefreshService, runner ScheduleRunner, logger *zap.Logger) *RefreshHandler {
	return &RefreshHandler{refresh: refresh, runner: runner, logger: logger.Named("refresh-handler")}
}

// RegisterRoutes registers the refresh routes on the given mux.
func (h *RefreshHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/queries/{id}/refresh", h.RefreshQuery)
	mux.HandleFunc("POST /api/dashboards/{id}/refresh", h.RefreshDashboard)
	mux.HandleFunc("POST /api/schedules/{id}/run", h.RunSchedule)
}

func (h *RefreshHandler) RefreshQuery(w http.ResponseWriter, r *http.Request) {
	caller, ok := ParseCallerID(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}
	h.write(w, h.refresh.RefreshQuery(r.Context(), id, caller))
}

func (h *RefreshHandler) RefreshDashboard(w http.ResponseWriter, r *http.Request) {
	caller, ok := ParseCallerID(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}
	h.write(w, h.refresh.RefreshDashboard(r.Context(), id, caller))
}

// RunSchedule fires a schedule immediately, outside its timer, and returns
// the execution row it recorded.
func (h *RefreshHandler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	exec, err := h.runner.RunNow(r.Context(), id)
	if err != nil {
		status, code := http.StatusInternalServerError, "internal_error"
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			status, code = http.StatusNotFound, "schedule_not_found"
		case errors.Is(err, scheduler.ErrAlreadyFiring):
			status, code = http.StatusConflict, "schedule_already_firing"
		default:
			h.logger.Error("Failed to run schedule", zap.String("schedule_id", id.String()), zap.Error(err))
		}
		if err := ErrorResponse(w, status, code, err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.write(w, exec)
}

func (h *RefreshHandler) write(w http.ResponseWriter, body any) {
	if err := WriteJSON(w, http.StatusOK, body); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
