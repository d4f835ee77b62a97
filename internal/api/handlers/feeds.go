package handlers

import (
	"net/http"
	"strconv"
	"time"

	"threatmesh/internal/domain/models"
	"threatmesh/internal/domain/services"
	"threatmesh/pkg/logger"
)

// FeedsHandler serves machine-readable exports
type FeedsHandler struct {
	feeds  *services.FeedService
	logger *logger.Logger
}

// NewFeedsHandler creates a new FeedsHandler
func NewFeedsHandler(feeds *services.FeedService, log *logger.Logger) *FeedsHandler {
	return &FeedsHandler{
		feeds:  feeds,
		logger: log.WithComponent("feeds-handler"),
	}
}

func minReputationParam(r *http.Request) float64 {
	if v := r.URL.Query().Get("minReputation"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

// IPBlocklist handles GET /api/feeds/ip-blocklist
func (h *FeedsHandler) IPBlocklist(w http.ResponseWriter, r *http.Request) {
	feed, err := h.feeds.IPBlocklist(r.Context(), minReputationParam(r))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(feed))
}

// DomainBlocklist handles GET /api/feeds/domain-blocklist
func (h *FeedsHandler) DomainBlocklist(w http.ResponseWriter, r *http.Request) {
	feed, err := h.feeds.DomainBlocklist(r.Context(), minReputationParam(r))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(feed))
}

// IoCFeed handles GET /api/feeds/iocs
func (h *FeedsHandler) IoCFeed(w http.ResponseWriter, r *http.Request) {
	t := models.IoCType(r.URL.Query().Get("type"))
	entries, err := h.feeds.IoCFeed(r.Context(), t, minReputationParam(r))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// AgentUpdate handles GET /api/feeds/agent-update
func (h *FeedsHandler) AgentUpdate(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		since = t
	}

	bundle, err := h.feeds.AgentUpdateBundle(r.Context(), since)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, bundle)
}
