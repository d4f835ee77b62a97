package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"threatmesh/internal/domain/services"
	"threatmesh/internal/infrastructure/cache"
	"threatmesh/pkg/logger"
)

// Handlers holds all API handlers
type Handlers struct {
	Health    *HealthHandler
	Threats   *ThreatsHandler
	IoCs      *IoCsHandler
	Sightings *SightingsHandler
	Campaigns *CampaignsHandler
	Feeds     *FeedsHandler
	Stats     *StatsHandler
	Admin     *AdminHandler
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Stores    *services.Stores
	Ingest    *services.IngestService
	IoCs      *services.IoCService
	Sightings *services.SightingService
	Feeds     *services.FeedService
	Stats     *services.StatsService
	Scheduler *services.Scheduler
	Backup    *services.BackupService
	Cache     *cache.RedisCache
	Logger    *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Cache, deps.Stores, deps.Logger),
		Threats:   NewThreatsHandler(deps.Ingest, deps.Stores, deps.Logger),
		IoCs:      NewIoCsHandler(deps.IoCs, deps.Logger),
		Sightings: NewSightingsHandler(deps.Sightings, deps.Stores, deps.Logger),
		Campaigns: NewCampaignsHandler(deps.Stores, deps.Logger),
		Feeds:     NewFeedsHandler(deps.Feeds, deps.Logger),
		Stats:     NewStatsHandler(deps.Stats, deps.Logger),
		Admin:     NewAdminHandler(deps.Scheduler, deps.Backup, deps.Logger),
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// respondError maps service errors onto HTTP statuses. Storage
// failures surface as a generic message only.
func respondError(w http.ResponseWriter, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrIoCNotFound), errors.Is(err, services.ErrCampaignNotFound):
		respondJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("request failed")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
