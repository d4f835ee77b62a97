package handlers

import (
	"context"
	"net/http"
	"time"

	"threatmesh/internal/domain/services"
	"threatmesh/internal/infrastructure/cache"
	"threatmesh/pkg/logger"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	cache     *cache.RedisCache
	stores    *services.Stores
	logger    *logger.Logger
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(c *cache.RedisCache, stores *services.Stores, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		cache:     c,
		stores:    stores,
		logger:    log.WithComponent("health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Uptime    string            `json:"uptime"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready and verifies all dependencies
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := http.StatusOK
	overall := "ready"

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.cache != nil {
		if err := h.cache.Client().Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
			overall = "not ready"
		} else {
			checks["redis"] = "healthy"
		}
	}

	if _, err := h.stores.IoCs.CountByStatus(ctx); err != nil {
		checks["postgres"] = "unhealthy: " + err.Error()
		status = http.StatusServiceUnavailable
		overall = "not ready"
	} else {
		checks["postgres"] = "healthy"
	}

	respondJSON(w, status, HealthResponse{
		Status:    overall,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}
