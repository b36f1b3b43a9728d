package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/services"
)

// CreateScheduleBody is the body of POST /api/schedules.
type CreateScheduleBody struct {
	TargetType      models.RefreshTargetType `json:"target_type"`
	TargetID        uuid.UUID                `json:"target_id"`
	Kind            models.ScheduleKind      `json:"kind"`
	IntervalMinutes *int                     `json:"interval_minutes,omitempty"`
	CronExpression  *string                  `json:"cron_expression,omitempty"`
}

// HistoryResponse lists the most recent executions of a schedule.
type HistoryResponse struct {
	Executions []*models.RefreshExecution `json:"executions"`
	Total      int                        `json:"total"`
}

// ScheduleHandler manages refresh schedules.
type ScheduleHandler struct {
	schedules services.ScheduleService
	logger    *zap.Logger
}

// NewScheduleHandler creates a ScheduleHandler.
func NewScheduleHandler(schedules services.ScheduleService, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules, logger: logger.Named("schedule-handler")}
}

// RegisterRoutes registers the schedule routes on the given mux.
func (h *ScheduleHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/schedules", h.Create)
	mux.HandleFunc("POST /api/schedules/{id}/activate", h.Activate)
	mux.HandleFunc("POST /api/schedules/{id}/pause", h.Pause)
	mux.HandleFunc("DELETE /api/schedules/{id}", h.Delete)
	mux.HandleFunc("GET /api/schedules/{id}/executions", h.History)
}

// Create handles POST /api/schedules. The caller becomes the schedule owner.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := ParseCallerID(w, r, h.logger)
	if !ok {
		return
	}

	var body CreateScheduleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	schedule, err := h.schedules.Create(r.Context(), services.CreateScheduleRequest{
		TargetType:      body.TargetType,
		TargetID:        body.TargetID,
		OwnerID:         caller,
		Kind:            body.Kind,
		IntervalMinutes: body.IntervalMinutes,
		CronExpression:  body.CronExpression,
	})
	if err != nil {
		h.writeError(w, "Failed to create schedule", err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, schedule); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *ScheduleHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}
	schedule, err := h.schedules.Activate(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to activate schedule", err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, schedule); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *ScheduleHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}
	schedule, err := h.schedules.Pause(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to pause schedule", err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, schedule); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.schedules.Delete(r.Context(), id); err != nil {
		h.writeError(w, "Failed to delete schedule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/schedules/{id}/executions?limit=N.
func (h *ScheduleHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	limit := services.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		limit = n
	}

	executions, err := h.schedules.History(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, "Failed to load schedule history", err)
		return
	}
	if executions == nil {
		executions = []*models.RefreshExecution{}
	}
	if err := WriteJSON(w, http.StatusOK, HistoryResponse{Executions: executions, Total: len(executions)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *ScheduleHandler) writeError(w http.ResponseWriter, msg string, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, apperrors.ErrInvalidSchedule):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperrors.ErrNotFound):
		status, code = http.StatusNotFound, "schedule_not_found"
	default:
		h.logger.Error(msg, zap.Error(err))
	}
	if err := ErrorResponse(w, status, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
