package handlers

import (
	"net/http"
	"os"
	"runtime"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/config"
)

// ConnectionStatsProvider reports live datasource connections.
type ConnectionStatsProvider interface {
	GetStats() datasource.ConnectionStats
}

// SchedulerStatusProvider reports the cron scheduler state.
type SchedulerStatusProvider interface {
	IsRunning() bool
	Armed() []uuid.UUID
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string                      `json:"status"`
	Connections *datasource.ConnectionStats `json:"connections,omitempty"`
	Scheduler   *SchedulerStatus            `json:"scheduler,omitempty"`
}

// SchedulerStatus summarizes the scheduler in a health response.
type SchedulerStatus struct {
	Running bool `json:"running"`
	Armed   int  `json:"armed"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string   `json:"status"`
	Version     string   `json:"version"`
	Service     string   `json:"service"`
	GoVersion   string   `json:"go_version"`
	Hostname    string   `json:"hostname"`
	Environment string   `json:"environment"`
	Drivers     []string `json:"drivers"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg         *config.Config
	connections ConnectionStatsProvider
	scheduler   SchedulerStatusProvider
	logger      *zap.Logger
}

// NewHealthHandler creates a HealthHandler. connections and scheduler may be nil.
func NewHealthHandler(cfg *config.Config, connections ConnectionStatsProvider, scheduler SchedulerStatusProvider, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, connections: connections, scheduler: scheduler, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "ok"}
	if h.connections != nil {
		stats := h.connections.GetStats()
		response.Connections = &stats
	}
	if h.scheduler != nil {
		response.Scheduler = &SchedulerStatus{
			Running: h.scheduler.IsRunning(),
			Armed:   len(h.scheduler.Armed()),
		}
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping and reports version, environment and registered drivers.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to get hostname")
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-query-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
		Drivers:     datasource.RegisteredTypes(),
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
