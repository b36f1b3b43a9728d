package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/services"
)

// AskQueryRequest is the body of POST /api/queries/ask.
// Omitting datasource_id asks the demo data source.
type AskQueryRequest struct {
	DatasourceID *uuid.UUID `json:"datasource_id,omitempty"`
	Question     string     `json:"question"`
}

// QueryHandler answers ad-hoc natural-language questions.
type QueryHandler struct {
	queries services.QueryService
	logger  *zap.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(queries services.QueryService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{queries: queries, logger: logger.Named("query-handler")}
}

// RegisterRoutes registers the query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/queries/ask", h.Ask)
}

// Ask handles POST /api/queries/ask. Execution failures are answered with 200
// and a failed result; only setup problems map to error statuses.
func (h *QueryHandler) Ask(w http.ResponseWriter, r *http.Request) {
	caller, ok := ParseCallerID(w, r, h.logger)
	if !ok {
		return
	}

	var req AskQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "validation_error", "question is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.queries.Ask(r.Context(), services.AskRequest{
		DatasourceID:         req.DatasourceID,
		NaturalLanguageQuery: req.Question,
		CallerID:             caller,
	})
	if err != nil {
		status, code := askErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to answer question", zap.String("caller_id", caller), zap.Error(err))
		}
		if err := ErrorResponse(w, status, code, err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func askErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "datasource_not_found"
	case errors.Is(err, apperrors.ErrDatasourceInactive):
		return http.StatusConflict, "datasource_inactive"
	case errors.Is(err, apperrors.ErrUnsupportedDatasourceType):
		return http.StatusUnprocessableEntity, "unsupported_datasource_type"
	case errors.Is(err, apperrors.ErrMissingLLMCredential):
		return http.StatusServiceUnavailable, "llm_not_configured"
	case errors.Is(err, services.ErrDemoDisabled):
		return http.StatusBadRequest, "demo_disabled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
