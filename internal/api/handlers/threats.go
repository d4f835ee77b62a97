package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"threatmesh/internal/api/middleware"
	"threatmesh/internal/domain/models"
	"threatmesh/internal/domain/services"
	"threatmesh/pkg/logger"
)

// ThreatsHandler handles agent event ingestion
type ThreatsHandler struct {
	ingest *services.IngestService
	stores *services.Stores
	logger *logger.Logger
}

// NewThreatsHandler creates a new ThreatsHandler
func NewThreatsHandler(ingest *services.IngestService, stores *services.Stores, log *logger.Logger) *ThreatsHandler {
	return &ThreatsHandler{
		ingest: ingest,
		stores: stores,
		logger: log.WithComponent("threats-handler"),
	}
}

type guardEventRequest struct {
	AttackSourceIP string    `json:"attackSourceIP"`
	AttackType     string    `json:"attackType"`
	MitreTechnique string    `json:"mitreTechnique"`
	SigmaRule      string    `json:"sigmaRuleMatched"`
	Timestamp      time.Time `json:"timestamp"`
	Region         string    `json:"region"`
	Industry       string    `json:"industry"`
}

type trapEventRequest struct {
	SourceIP    string    `json:"sourceIP"`
	AttackType  string    `json:"attackType"`
	Timestamp   time.Time `json:"timestamp"`
	Techniques  []string  `json:"mitreTechniques"`
	ServiceType string    `json:"serviceType"`
	SkillLevel  string    `json:"skillLevel"`
	Intent      string    `json:"intent"`
	Tools       []string  `json:"tools"`
	Credentials []string  `json:"topCredentials"`
	Region      string    `json:"region"`
}

// ReportGuard handles POST /api/threats
func (h *ThreatsHandler) ReportGuard(w http.ResponseWriter, r *http.Request) {
	var req guardEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	result, err := h.ingest.IngestGuardEvent(r.Context(), services.GuardEvent{
		AttackSourceIP: req.AttackSourceIP,
		AttackType:     req.AttackType,
		MitreTechnique: req.MitreTechnique,
		SigmaRule:      req.SigmaRule,
		Timestamp:      req.Timestamp,
		Region:         req.Region,
		Industry:       req.Industry,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	h.audit(r, "ingest_guard_event", req.AttackType)

	enrichedID := result.EnrichedID
	if result.Duplicate {
		enrichedID = "duplicate"
	}
	respondJSON(w, http.StatusCreated, map[string]string{"enrichedId": enrichedID})
}

// ReportTrap handles POST /api/trap-intel, accepting a single object
// or an array.
func (h *ThreatsHandler) ReportTrap(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	var reqs []trapEventRequest
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &reqs); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
	} else {
		var single trapEventRequest
		if err := json.Unmarshal(body, &single); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		reqs = []trapEventRequest{single}
	}

	events := make([]services.TrapEvent, len(reqs))
	for i, req := range reqs {
		events[i] = services.TrapEvent{
			SourceIP:    req.SourceIP,
			AttackType:  req.AttackType,
			Techniques:  req.Techniques,
			Timestamp:   req.Timestamp,
			Region:      req.Region,
			ServiceType: req.ServiceType,
			SkillLevel:  req.SkillLevel,
			Intent:      req.Intent,
			Tools:       req.Tools,
			Credentials: req.Credentials,
		}
	}

	result, err := h.ingest.IngestTrapEvents(r.Context(), events)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	h.audit(r, "ingest_trap_events", fmt.Sprintf("batch of %d", len(events)))
	respondJSON(w, http.StatusCreated, result)
}

func (h *ThreatsHandler) audit(r *http.Request, action, detail string) {
	entry := &models.AuditEntry{
		ActorHash: middleware.GetActorHash(r.Context()),
		Action:    action,
		Entity:    "threat_event",
		Detail:    detail,
	}
	if err := h.stores.Audit.Insert(r.Context(), entry); err != nil {
		h.logger.Warn().Err(err).Msg("failed to write audit entry")
	}
}
