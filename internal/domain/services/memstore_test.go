package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"threatmesh/internal/domain/models"
)

// memStores is an in-memory implementation of every store interface,
// mirroring the repository semantics (not-found returns nil, clamped
// confidence updates, write-once campaign assignment).
type memStores struct {
	mu        sync.Mutex
	iocs      map[uuid.UUID]*models.IoC
	sightings []*models.Sighting
	events    map[uuid.UUID]*models.EnrichedThreatEvent
	campaigns map[uuid.UUID]*models.Campaign
	rules     map[string]*models.GeneratedRule
	audits    []*models.AuditEntry

	checkpointErr error
	exportErr     error
	checkpoints   int
}

func newMemStores() (*memStores, *Stores) {
	m := &memStores{
		iocs:      make(map[uuid.UUID]*models.IoC),
		events:    make(map[uuid.UUID]*models.EnrichedThreatEvent),
		campaigns: make(map[uuid.UUID]*models.Campaign),
		rules:     make(map[string]*models.GeneratedRule),
	}
	return m, &Stores{
		IoCs:        &memIoCStore{m},
		Sightings:   &memSightingStore{m},
		Events:      &memEventStore{m},
		Campaigns:   &memCampaignStore{m},
		Rules:       &memRuleStore{m},
		Audit:       &memAuditStore{m},
		Maintenance: &memMaintenanceStore{m},
	}
}

func copyIoC(ioc *models.IoC) *models.IoC {
	out := *ioc
	return &out
}

func copyEvent(e *models.EnrichedThreatEvent) *models.EnrichedThreatEvent {
	out := *e
	if e.CampaignID != nil {
		id := *e.CampaignID
		out.CampaignID = &id
	}
	return &out
}

func copyCampaign(c *models.Campaign) *models.Campaign {
	out := *c
	return &out
}

type memIoCStore struct{ m *memStores }

func (s *memIoCStore) Insert(_ context.Context, ioc *models.IoC) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if ioc.ID == uuid.Nil {
		ioc.ID = uuid.New()
	}
	ioc.CreatedAt = time.Now()
	ioc.UpdatedAt = ioc.CreatedAt
	s.m.iocs[ioc.ID] = copyIoC(ioc)
	return nil
}

func (s *memIoCStore) Update(_ context.Context, ioc *models.IoC) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	ioc.UpdatedAt = time.Now()
	s.m.iocs[ioc.ID] = copyIoC(ioc)
	return nil
}

func (s *memIoCStore) GetByID(_ context.Context, id uuid.UUID) (*models.IoC, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	ioc, ok := s.m.iocs[id]
	if !ok {
		return nil, nil
	}
	return copyIoC(ioc), nil
}

func (s *memIoCStore) GetByKey(_ context.Context, t models.IoCType, normalized string) (*models.IoC, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, ioc := range s.m.iocs {
		if ioc.Type == t && ioc.NormalizedValue == normalized {
			return copyIoC(ioc), nil
		}
	}
	return nil, nil
}

func (s *memIoCStore) ApplyConfidenceDelta(_ context.Context, id uuid.UUID, delta float64) (float64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	ioc, ok := s.m.iocs[id]
	if !ok {
		return 0, nil
	}
	ioc.Confidence = models.ClampScore(ioc.Confidence + delta)
	ioc.UpdatedAt = time.Now()
	return ioc.Confidence, nil
}

func (s *memIoCStore) SetStatus(_ context.Context, id uuid.UUID, status models.IoCStatus) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if ioc, ok := s.m.iocs[id]; ok {
		ioc.Status = status
	}
	return nil
}

func (s *memIoCStore) SetReputation(_ context.Context, id uuid.UUID, score float64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if ioc, ok := s.m.iocs[id]; ok {
		ioc.ReputationScore = score
	}
	return nil
}

func (s *memIoCStore) Search(_ context.Context, filter models.IoCFilter) (*models.IoCPage, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var matched []*models.IoC
	for _, ioc := range s.m.iocs {
		if filter.Type != "" && ioc.Type != filter.Type {
			continue
		}
		if filter.Source != "" && ioc.Source != filter.Source {
			continue
		}
		if filter.Status != "" && ioc.Status != filter.Status {
			continue
		}
		if ioc.ReputationScore < filter.MinReputation {
			continue
		}
		if filter.Since != nil && ioc.LastSeen.Before(*filter.Since) {
			continue
		}
		if filter.Search != "" && !strings.Contains(ioc.NormalizedValue, strings.ToLower(filter.Search)) {
			continue
		}
		matched = append(matched, copyIoC(ioc))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].LastSeen.After(matched[j].LastSeen) })

	total := int64(len(matched))
	if filter.Offset < len(matched) {
		matched = matched[filter.Offset:]
	} else {
		matched = nil
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return &models.IoCPage{
		Items:   matched,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
		HasMore: int64(filter.Offset+len(matched)) < total,
	}, nil
}

func (s *memIoCStore) ListActive(_ context.Context, t models.IoCType, minReputation float64, limit int) ([]*models.IoC, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var out []*models.IoC
	for _, ioc := range s.m.iocs {
		if ioc.Status != models.IoCStatusActive {
			continue
		}
		if ioc.ReputationScore < minReputation {
			continue
		}
		if t != "" && ioc.Type != t {
			continue
		}
		out = append(out, copyIoC(ioc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReputationScore > out[j].ReputationScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memIoCStore) ListForReputation(_ context.Context) ([]*models.IoC, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*models.IoC
	for _, ioc := range s.m.iocs {
		if ioc.Status != models.IoCStatusRevoked {
			out = append(out, copyIoC(ioc))
		}
	}
	return out, nil
}

func (s *memIoCStore) ExpireUnseenBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, ioc := range s.m.iocs {
		if ioc.Status == models.IoCStatusActive && ioc.LastSeen.Before(cutoff) {
			ioc.Status = models.IoCStatusExpired
			n++
		}
	}
	return n, nil
}

func (s *memIoCStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for id, ioc := range s.m.iocs {
		if ioc.Status == models.IoCStatusExpired && ioc.LastSeen.Before(cutoff) {
			delete(s.m.iocs, id)
			n++
		}
	}
	return n, nil
}

func (s *memIoCStore) CountByStatus(_ context.Context) (map[string]int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make(map[string]int64)
	for _, ioc := range s.m.iocs {
		out[string(ioc.Status)]++
	}
	return out, nil
}

type memSightingStore struct{ m *memStores }

func (s *memSightingStore) Insert(_ context.Context, sighting *models.Sighting) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if sighting.ID == uuid.Nil {
		sighting.ID = uuid.New()
	}
	if sighting.CreatedAt.IsZero() {
		sighting.CreatedAt = time.Now()
	}
	cp := *sighting
	s.m.sightings = append(s.m.sightings, &cp)
	return nil
}

func (s *memSightingStore) ListByIoC(_ context.Context, iocID uuid.UUID, limit int) ([]*models.Sighting, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*models.Sighting
	for _, sg := range s.m.sightings {
		if sg.IoCID == iocID {
			cp := *sg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memSightingStore) Summary(_ context.Context, iocID uuid.UUID) (*models.SightingSummary, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	summary := &models.SightingSummary{}
	sources := make(map[string]bool)
	for _, sg := range s.m.sightings {
		if sg.IoCID != iocID {
			continue
		}
		summary.Total++
		sources[sg.Source] = true
		switch sg.Type {
		case models.SightingPositive:
			summary.Positive++
		case models.SightingNegative:
			summary.Negative++
		case models.SightingFalsePositive:
			summary.FalsePositive++
		}
		if sg.CreatedAt.After(summary.LastSeen) {
			summary.LastSeen = sg.CreatedAt
		}
	}
	summary.UniqueSources = len(sources)
	return summary, nil
}

func (s *memSightingStore) HasSourceSince(_ context.Context, iocID uuid.UUID, source string, cutoff time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, sg := range s.m.sightings {
		if sg.IoCID == iocID && sg.Source == source && !sg.CreatedAt.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memSightingStore) Count(_ context.Context) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return int64(len(s.m.sightings)), nil
}

type memEventStore struct{ m *memStores }

func (s *memEventStore) Insert(_ context.Context, e *models.EnrichedThreatEvent) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	s.m.events[e.ID] = copyEvent(e)
	return nil
}

func (s *memEventStore) GetByHash(_ context.Context, hash string) (*models.EnrichedThreatEvent, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, e := range s.m.events {
		if e.EventHash == hash {
			return copyEvent(e), nil
		}
	}
	return nil, nil
}

func (s *memEventStore) GetByID(_ context.Context, id uuid.UUID) (*models.EnrichedThreatEvent, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	e, ok := s.m.events[id]
	if !ok {
		return nil, nil
	}
	return copyEvent(e), nil
}

func (s *memEventStore) ListUnassigned(_ context.Context, since time.Time) ([]*models.EnrichedThreatEvent, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*models.EnrichedThreatEvent
	for _, e := range s.m.events {
		if e.CampaignID == nil && !e.ReceivedAt.Before(since) {
			out = append(out, copyEvent(e))
		}
	}
	return out, nil
}

func (s *memEventStore) ListByCampaign(_ context.Context, campaignID uuid.UUID) ([]*models.EnrichedThreatEvent, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*models.EnrichedThreatEvent
	for _, e := range s.m.events {
		if e.CampaignID != nil && *e.CampaignID == campaignID {
			out = append(out, copyEvent(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *memEventStore) ListSince(_ context.Context, since time.Time) ([]*models.EnrichedThreatEvent, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*models.EnrichedThreatEvent
	for _, e := range s.m.events {
		if !e.ReceivedAt.Before(since) {
			out = append(out, copyEvent(e))
		}
	}
	return out, nil
}

func (s *memEventStore) AssignCampaign(_ context.Context, eventIDs []uuid.UUID, campaignID uuid.UUID) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, id := range eventIDs {
		e, ok := s.m.events[id]
		if !ok || e.CampaignID != nil {
			continue
		}
		cp := campaignID
		e.CampaignID = &cp
		n++
	}
	return n, nil
}

func (s *memEventStore) MaxSeverityForValue(_ context.Context, value string) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	max := 0
	for _, e := range s.m.events {
		if e.AttackSourceIP == value && e.Severity > max {
			max = e.Severity
		}
	}
	return max, nil
}

func (s *memEventStore) DeleteUnassignedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for id, e := range s.m.events {
		if e.CampaignID == nil && e.ReceivedAt.Before(cutoff) {
			delete(s.m.events, id)
			n++
		}
	}
	return n, nil
}

func (s *memEventStore) Count(_ context.Context) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return int64(len(s.m.events)), nil
}

type memCampaignStore struct{ m *memStores }

func (s *memCampaignStore) Insert(_ context.Context, c *models.Campaign) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	s.m.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (s *memCampaignStore) Update(_ context.Context, c *models.Campaign) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c.UpdatedAt = time.Now()
	s.m.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (s *memCampaignStore) GetByID(_ context.Context, id uuid.UUID) (*models.Campaign, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.campaigns[id]
	if !ok {
		return nil, nil
	}
	return copyCampaign(c), nil
}

func (s *memCampaignStore) FindActiveByKey(_ context.Context, t models.CampaignType, clusterKey string) (*models.Campaign, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var latest *models.Campaign
	for _, c := range s.m.campaigns {
		if c.Type != t || c.ClusterKey != clusterKey || c.Status != models.CampaignStatusActive {
			continue
		}
		if latest == nil || c.LastSeen.After(latest.LastSeen) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyCampaign(latest), nil
}

func (s *memCampaignStore) List(_ context.Context, status models.CampaignStatus, limit, offset int) ([]*models.Campaign, int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*models.Campaign
	for _, c := range s.m.campaigns {
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, copyCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	total := int64(len(out))
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *memCampaignStore) Stats(_ context.Context) (*models.CampaignStats, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	stats := &models.CampaignStats{ByType: make(map[string]int64)}
	for _, c := range s.m.campaigns {
		stats.TotalCount++
		stats.ByType[string(c.Type)]++
		if c.Status == models.CampaignStatusActive {
			stats.ActiveCount++
		}
		if c.CreatedAt.After(stats.LastDetection) {
			stats.LastDetection = c.CreatedAt
		}
	}
	for _, e := range s.m.events {
		if e.CampaignID != nil {
			stats.EventsLinked++
		}
	}
	return stats, nil
}

type memRuleStore struct{ m *memStores }

func (s *memRuleStore) Upsert(_ context.Context, rule *models.GeneratedRule) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	now := time.Now()
	existing, ok := s.m.rules[rule.PatternHash]
	if ok {
		rule.PublishedAt = existing.PublishedAt
		rule.UpdatedAt = now
		cp := *rule
		s.m.rules[rule.PatternHash] = &cp
		return false, nil
	}
	rule.PublishedAt = now
	rule.UpdatedAt = now
	cp := *rule
	s.m.rules[rule.PatternHash] = &cp
	return true, nil
}

func (s *memRuleStore) GetByPatternHash(_ context.Context, hash string) (*models.GeneratedRule, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	r, ok := s.m.rules[hash]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *memRuleStore) ListSince(_ context.Context, since time.Time, limit int) ([]*models.GeneratedRule, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*models.GeneratedRule
	for _, r := range s.m.rules {
		if !r.UpdatedAt.Before(since) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memRuleStore) Count(_ context.Context) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return int64(len(s.m.rules)), nil
}

type memAuditStore struct{ m *memStores }

func (s *memAuditStore) Insert(_ context.Context, e *models.AuditEntry) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := *e
	s.m.audits = append(s.m.audits, &cp)
	return nil
}

func (s *memAuditStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var kept []*models.AuditEntry
	var n int64
	for _, e := range s.m.audits {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.m.audits = kept
	return n, nil
}

type memMaintenanceStore struct{ m *memStores }

func (s *memMaintenanceStore) Checkpoint(context.Context) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.checkpointErr != nil {
		return s.m.checkpointErr
	}
	s.m.checkpoints++
	return nil
}

func (s *memMaintenanceStore) Export(context.Context) ([]byte, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.exportErr != nil {
		return nil, s.m.exportErr
	}
	snapshot := map[string]any{
		"iocs":      len(s.m.iocs),
		"sightings": len(s.m.sightings),
		"events":    len(s.m.events),
		"campaigns": len(s.m.campaigns),
		"rules":     len(s.m.rules),
	}
	return json.Marshal(snapshot)
}
