package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"threatmesh/internal/domain/models"
	"threatmesh/internal/domain/services"
	"threatmesh/pkg/logger"
)

// CampaignsHandler serves detected campaigns
type CampaignsHandler struct {
	stores *services.Stores
	logger *logger.Logger
}

// NewCampaignsHandler creates a new CampaignsHandler
func NewCampaignsHandler(stores *services.Stores, log *logger.Logger) *CampaignsHandler {
	return &CampaignsHandler{
		stores: stores,
		logger: log.WithComponent("campaigns-handler"),
	}
}

type campaignListResponse struct {
	Items []*models.Campaign `json:"items"`
	Total int64              `json:"total"`
}

// List handles GET /api/campaigns
func (h *CampaignsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.CampaignStatus(q.Get("status"))

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	page := 1
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}

	items, total, err := h.stores.Campaigns.List(r.Context(), status, limit, (page-1)*limit)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, campaignListResponse{Items: items, Total: total})
}

// Get handles GET /api/campaigns/{id}
func (h *CampaignsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid campaign id"})
		return
	}

	campaign, err := h.stores.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if campaign == nil {
		respondError(w, h.logger, services.ErrCampaignNotFound)
		return
	}
	respondJSON(w, http.StatusOK, campaign)
}

// Events handles GET /api/campaigns/{id}/events
func (h *CampaignsHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid campaign id"})
		return
	}

	campaign, err := h.stores.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if campaign == nil {
		respondError(w, h.logger, services.ErrCampaignNotFound)
		return
	}

	events, err := h.stores.Events.ListByCampaign(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// Stats handles GET /api/campaigns/stats
func (h *CampaignsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stores.Campaigns.Stats(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
