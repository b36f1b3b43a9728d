package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CallerHeader carries the caller identity established by the fronting
// gateway. The engine trusts it as given.
const CallerHeader = "X-Caller-ID"

// ParseCallerID returns the caller identity, writing 401 when it is missing.
func ParseCallerID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	caller := strings.TrimSpace(r.Header.Get(CallerHeader))
	if caller == "" {
		if err := ErrorResponse(w, http.StatusUnauthorized, "missing_caller", "Missing "+CallerHeader+" header"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	return caller, true
}

// ParseID extracts and validates the {id} path parameter.
func ParseID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_id", "Invalid ID format", logger)
}

func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(pathParam))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
