package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"threatmesh/internal/domain/models"
	"threatmesh/internal/domain/services"
	"threatmesh/pkg/logger"
)

// IoCsHandler serves the indicator store
type IoCsHandler struct {
	iocs   *services.IoCService
	logger *logger.Logger
}

// NewIoCsHandler creates a new IoCsHandler
func NewIoCsHandler(iocs *services.IoCService, log *logger.Logger) *IoCsHandler {
	return &IoCsHandler{
		iocs:   iocs,
		logger: log.WithComponent("iocs-handler"),
	}
}

// Search handles GET /api/iocs
func (h *IoCsHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := models.IoCFilter{
		Type:   models.IoCType(q.Get("type")),
		Source: q.Get("source"),
		Status: models.IoCStatus(q.Get("status")),
		Search: q.Get("search"),
	}
	if v := q.Get("minReputation"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MinReputation = f
		}
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Since = &t
		}
	}

	limit := 100
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
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	result, err := h.iocs.Search(r.Context(), filter)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Lookup handles GET /api/iocs/{value}. The value is URL-escaped so
// indicators containing slashes survive routing.
func (h *IoCsHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	value := chi.URLParam(r, "value")
	if unescaped, err := url.PathUnescape(value); err == nil {
		value = unescaped
	}

	t := models.IoCType(r.URL.Query().Get("type"))
	ioc, err := h.iocs.Lookup(r.Context(), t, value)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, ioc)
}
