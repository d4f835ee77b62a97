package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"threatmesh/internal/api/middleware"
	"threatmesh/internal/domain/models"
	"threatmesh/internal/domain/services"
	"threatmesh/pkg/logger"
)

// SightingsHandler serves the sighting log
type SightingsHandler struct {
	sightings *services.SightingService
	stores    *services.Stores
	logger    *logger.Logger
}

// NewSightingsHandler creates a new SightingsHandler
func NewSightingsHandler(sightings *services.SightingService, stores *services.Stores, log *logger.Logger) *SightingsHandler {
	return &SightingsHandler{
		sightings: sightings,
		stores:    stores,
		logger:    log.WithComponent("sightings-handler"),
	}
}

type sightingRequest struct {
	IoCID      string  `json:"iocId"`
	Type       string  `json:"type"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Details    string  `json:"details"`
}

// Create handles POST /api/sightings
func (h *SightingsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req sightingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	iocID, err := uuid.Parse(req.IoCID)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid iocId"})
		return
	}

	sighting, err := h.sightings.Record(r.Context(), iocID, services.SightingInput{
		Type:       models.SightingType(req.Type),
		Source:     req.Source,
		Confidence: req.Confidence,
		Details:    req.Details,
		ActorHash:  middleware.GetActorHash(r.Context()),
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	entry := &models.AuditEntry{
		ActorHash: middleware.GetActorHash(r.Context()),
		Action:    "create_sighting",
		Entity:    "sighting",
		Detail:    req.Type + " from " + req.Source,
	}
	if err := h.stores.Audit.Insert(r.Context(), entry); err != nil {
		h.logger.Warn().Err(err).Msg("failed to write audit entry")
	}

	respondJSON(w, http.StatusCreated, sighting)
}

// List handles GET /api/sightings?iocId=
func (h *SightingsHandler) List(w http.ResponseWriter, r *http.Request) {
	iocID, err := uuid.Parse(r.URL.Query().Get("iocId"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "iocId query parameter required"})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	sightings, err := h.sightings.List(r.Context(), iocID, limit)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, sightings)
}
