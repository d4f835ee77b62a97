package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"threatmesh/internal/domain/models"
	"threatmesh/internal/metrics"
	"threatmesh/pkg/logger"
)

// GuardEvent is one attack observation reported by a guard agent
type GuardEvent struct {
	AttackSourceIP string
	AttackType     string
	MitreTechnique string
	SigmaRule      string
	Timestamp      time.Time
	Region         string
	Industry       string
}

// TrapEvent is one interaction report from a trap (honeypot) agent
type TrapEvent struct {
	SourceIP    string
	AttackType  string
	Techniques  []string
	Timestamp   time.Time
	Region      string
	ServiceType string
	SkillLevel  string
	Intent      string
	Tools       []string
	Credentials []string
}

// GuardIngestResult reports what one guard submission did
type GuardIngestResult struct {
	EnrichedID string
	Duplicate  bool
}

// TrapIngestResult summarizes one trap batch submission
type TrapIngestResult struct {
	Accepted   int      `json:"accepted"`
	Duplicates int      `json:"duplicates"`
	Rejected   int      `json:"rejected"`
	Errors     []string `json:"errors,omitempty"`
}

// severity assigned to guard events by attack type
var attackTypeSeverity = map[string]int{
	"sql_injection":       8,
	"command_injection":   9,
	"xss":                 6,
	"path_traversal":      7,
	"brute_force":         5,
	"credential_stuffing": 6,
	"scanner":             3,
	"dos":                 7,
}

// severity assigned to trap events by attacker skill level
var skillLevelSeverity = map[string]int{
	"script_kiddie": 3,
	"intermediate":  5,
	"advanced":      7,
	"apt":           9,
}

const defaultSeverity = 4

// IngestService normalizes and deduplicates agent submissions, feeding
// the event log and the indicator store.
type IngestService struct {
	stores    *Stores
	iocs      *IoCService
	sightings *SightingService
	metrics   *metrics.Metrics
	logger    *logger.Logger
	maxBatch  int
	nowFn     func() time.Time
}

// NewIngestService creates a new ingestion service
func NewIngestService(stores *Stores, iocs *IoCService, sightings *SightingService, m *metrics.Metrics, maxBatch int, log *logger.Logger) *IngestService {
	if maxBatch <= 0 {
		maxBatch = 500
	}
	return &IngestService{
		stores:    stores,
		iocs:      iocs,
		sightings: sightings,
		metrics:   m,
		logger:    log.WithComponent("ingest-service"),
		maxBatch:  maxBatch,
		nowFn:     time.Now,
	}
}

// MaxBatch returns the configured batch size limit
func (s *IngestService) MaxBatch() int {
	return s.maxBatch
}

// IngestGuardEvent processes one guard agent report. The source IP is
// anonymized before anything is persisted.
func (s *IngestService) IngestGuardEvent(ctx context.Context, ev GuardEvent) (*GuardIngestResult, error) {
	switch {
	case strings.TrimSpace(ev.AttackSourceIP) == "":
		return nil, fmt.Errorf("%w: attackSourceIP required", ErrInvalidInput)
	case ev.AttackType == "":
		return nil, fmt.Errorf("%w: attackType required", ErrInvalidInput)
	case ev.MitreTechnique == "":
		return nil, fmt.Errorf("%w: mitreTechnique required", ErrInvalidInput)
	case ev.SigmaRule == "":
		return nil, fmt.Errorf("%w: sigmaRuleMatched required", ErrInvalidInput)
	case ev.Timestamp.IsZero():
		return nil, fmt.Errorf("%w: timestamp required", ErrInvalidInput)
	}

	severity := attackTypeSeverity[ev.AttackType]
	if severity == 0 {
		severity = defaultSeverity
	}

	enriched := &models.EnrichedThreatEvent{
		SourceType:      models.SourceTypeGuard,
		AttackSourceIP:  models.AnonymizeIP(ev.AttackSourceIP),
		AttackType:      ev.AttackType,
		MitreTechniques: []string{ev.MitreTechnique},
		SigmaRule:       ev.SigmaRule,
		Timestamp:       s.eventTime(ev.Timestamp),
		Region:          ev.Region,
		Industry:        ev.Industry,
		Confidence:      60,
		Severity:        severity,
	}

	obs := IoCObservation{
		Type:       models.IoCTypeIP,
		Value:      enriched.AttackSourceIP,
		ThreatType: ev.AttackType,
		Source:     models.SightingSourceGuard,
		Confidence: enriched.Confidence,
		SeenAt:     enriched.Timestamp,
	}

	duplicate, err := s.ingest(ctx, enriched, obs)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return &GuardIngestResult{Duplicate: true}, nil
	}
	return &GuardIngestResult{EnrichedID: enriched.ID.String()}, nil
}

// IngestTrapEvents processes a batch of trap agent reports
func (s *IngestService) IngestTrapEvents(ctx context.Context, events []TrapEvent) (*TrapIngestResult, error) {
	if len(events) > s.maxBatch {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit %d", ErrInvalidInput, len(events), s.maxBatch)
	}

	result := &TrapIngestResult{}
	for i, ev := range events {
		duplicate, err := s.ingestTrapEvent(ctx, ev)
		if err != nil {
			result.Rejected++
			result.Errors = append(result.Errors, fmt.Sprintf("event %d: %v", i, err))
			continue
		}
		if duplicate {
			result.Duplicates++
		} else {
			result.Accepted++
		}
	}
	return result, nil
}

func (s *IngestService) ingestTrapEvent(ctx context.Context, ev TrapEvent) (bool, error) {
	if strings.TrimSpace(ev.SourceIP) == "" {
		return false, fmt.Errorf("%w: sourceIP required", ErrInvalidInput)
	}
	if ev.AttackType == "" {
		return false, fmt.Errorf("%w: attackType required", ErrInvalidInput)
	}
	if ev.Timestamp.IsZero() {
		return false, fmt.Errorf("%w: timestamp required", ErrInvalidInput)
	}

	severity := skillLevelSeverity[ev.SkillLevel]
	if severity == 0 {
		severity = defaultSeverity
	}

	enriched := &models.EnrichedThreatEvent{
		SourceType:      models.SourceTypeTrap,
		AttackSourceIP:  models.AnonymizeIP(ev.SourceIP),
		AttackType:      ev.AttackType,
		MitreTechniques: models.UnionStrings(nil, ev.Techniques),
		Timestamp:       s.eventTime(ev.Timestamp),
		Region:          ev.Region,
		Confidence:      80,
		Severity:        severity,
	}

	obs := IoCObservation{
		Type:       models.IoCTypeIP,
		Value:      enriched.AttackSourceIP,
		ThreatType: ev.AttackType,
		Source:     models.SightingSourceTrap,
		Confidence: enriched.Confidence,
		SeenAt:     enriched.Timestamp,
		Metadata: models.Metadata{
			ServiceType:    ev.ServiceType,
			SkillLevel:     ev.SkillLevel,
			Intent:         ev.Intent,
			Tools:          models.UnionStrings(nil, ev.Tools),
			TopCredentials: models.UnionStrings(nil, ev.Credentials),
		},
	}
	return s.ingest(ctx, enriched, obs)
}

// ingest runs the shared pipeline: hash, dedup, persist, upsert IoC,
// then run sighting feedback for repeat observations. Returns true
// when the submission was a duplicate.
func (s *IngestService) ingest(ctx context.Context, enriched *models.EnrichedThreatEvent, obs IoCObservation) (bool, error) {
	enriched.EventHash = models.ComputeEventHash(enriched)

	existing, err := s.stores.Events.GetByHash(ctx, enriched.EventHash)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if s.metrics != nil {
			s.metrics.DuplicateEvents.Inc()
		}
		return true, nil
	}

	enriched.ReceivedAt = s.nowFn()
	if err := s.stores.Events.Insert(ctx, enriched); err != nil {
		return false, err
	}

	upsert, err := s.iocs.Observe(ctx, obs)
	if err != nil {
		return false, err
	}

	if !upsert.Created {
		detail := fmt.Sprintf("repeat %s activity", enriched.AttackType)
		if err := s.sightings.RecordAgentMatch(ctx, upsert.IoC, enriched.SourceType, detail); err != nil {
			s.logger.Warn().Err(err).Msg("failed to record agent match")
		}
		if err := s.sightings.RecordCrossSourceMatch(ctx, upsert.IoC); err != nil {
			s.logger.Warn().Err(err).Msg("failed to record cross-source match")
		}
	}

	if s.metrics != nil {
		s.metrics.EventsIngested.WithLabelValues(string(enriched.SourceType)).Inc()
	}
	return false, nil
}

// eventTime clamps client timestamps into the past
func (s *IngestService) eventTime(t time.Time) time.Time {
	now := s.nowFn()
	if t.IsZero() || t.After(now) {
		return now
	}
	return t
}
