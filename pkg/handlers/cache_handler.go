package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/services"
)

// CacheHandler exposes cache maintenance to operators.
type CacheHandler struct {
	cache  services.CacheService
	logger *zap.Logger
}

// NewCacheHandler creates a CacheHandler.
func NewCacheHandler(cache services.CacheService, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{cache: cache, logger: logger.Named("cache-handler")}
}

// RegisterRoutes registers the cache routes on the given mux.
func (h *CacheHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cache/stats", h.Stats)
	mux.HandleFunc("POST /api/cache/cleanup", h.Cleanup)
	mux.HandleFunc("DELETE /api/cache", h.Clear)
	mux.HandleFunc("DELETE /api/cache/datasources/{id}", h.InvalidateDatasource)
}

// RemovedResponse reports how many cache entries an operation deleted.
type RemovedResponse struct {
	Removed int64 `json:"removed"`
}

func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.logger.Error("Failed to read cache stats", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to read cache stats")
		return
	}
	if err := WriteJSON(w, http.StatusOK, stats); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *CacheHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	h.writeRemoved(w, h.cache.Cleanup(r.Context()))
}

func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.writeRemoved(w, h.cache.Clear(r.Context()))
}

func (h *CacheHandler) InvalidateDatasource(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id", "invalid_datasource_id", "Invalid datasource ID format", h.logger)
	if !ok {
		return
	}
	h.writeRemoved(w, h.cache.InvalidateForDatasource(r.Context(), id))
}

func (h *CacheHandler) writeRemoved(w http.ResponseWriter, n int64) {
	if err := WriteJSON(w, http.StatusOK, RemovedResponse{Removed: n}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
