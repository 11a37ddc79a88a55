package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/anstrom/inventorama/internal/logging"
)

const healthCheckTimeout = 5 * time.Second

// Pinger checks a dependency.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// HealthHandler reports service health.
type HealthHandler struct {
	database  Pinger
	version   string
	startTime time.Time
	logger    *logging.Logger
}

// NewHealthHandler creates a health handler. database may be nil when
// history is disabled.
func NewHealthHandler(database Pinger, version string, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{
		database:  database,
		version:   version,
		startTime: time.Now(),
		logger:    logger.WithComponent("health-handler"),
	}
}

// Health handles GET /api/v1/health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    map[string]string{},
	}

	if h.database == nil {
		resp.Checks["database"] = "not configured"
	} else if err := h.database.PingContext(ctx); err != nil {
		h.logger.Warn("database health check failed", "error", err)
		resp.Status = "unhealthy"
		resp.Checks["database"] = "unreachable"
	} else {
		resp.Checks["database"] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, h.logger, status, resp)
}

// Liveness handles GET /api/v1/liveness without checking dependencies.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, h.logger, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
	})
}
