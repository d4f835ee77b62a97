package handlers

import (
	"net/http"

	"threatmesh/internal/domain/services"
	"threatmesh/pkg/logger"
)

// StatsHandler serves aggregate statistics
type StatsHandler struct {
	stats  *services.StatsService
	logger *logger.Logger
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(stats *services.StatsService, log *logger.Logger) *StatsHandler {
	return &StatsHandler{
		stats:  stats,
		logger: log.WithComponent("stats-handler"),
	}
}

// Get handles GET /api/stats
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Collect(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
