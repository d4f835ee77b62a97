package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"threatmesh/internal/config"
	"threatmesh/internal/domain/models"
	"threatmesh/internal/metrics"
	"threatmesh/pkg/logger"
)

// ScanResult summarizes one correlation sweep
type ScanResult struct {
	NewCampaigns     int           `json:"new_campaigns"`
	UpdatedCampaigns int           `json:"updated_campaigns"`
	EventsCorrelated int           `json:"events_correlated"`
	Duration         time.Duration `json:"duration"`
}

// CorrelationEngine clusters unassigned threat events into campaigns.
// Two passes per sweep: first events sharing an attack source address
// within the time window, then cross-address clusters sharing an
// attack pattern.
type CorrelationEngine struct {
	stores    *Stores
	publisher EventPublisher
	metrics   *metrics.Metrics
	config    config.CorrelationConfig
	logger    *logger.Logger
	nowFn     func() time.Time

	statsMu       sync.RWMutex
	totalScans    int64
	lastScan      time.Time
	lastScanStats ScanResult
}

// NewCorrelationEngine creates a new correlation engine
func NewCorrelationEngine(stores *Stores, publisher EventPublisher, m *metrics.Metrics, cfg config.CorrelationConfig, log *logger.Logger) *CorrelationEngine {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = time.Hour
	}
	if cfg.ScanWindow <= 0 {
		cfg.ScanWindow = 24 * time.Hour
	}
	if cfg.MinEventsForCampaign <= 0 {
		cfg.MinEventsForCampaign = 5
	}
	if cfg.MinIPsForPatternCampaign <= 0 {
		cfg.MinIPsForPatternCampaign = 3
	}
	if cfg.AssignBatchSize <= 0 {
		cfg.AssignBatchSize = 200
	}
	return &CorrelationEngine{
		stores:    stores,
		publisher: publisher,
		metrics:   m,
		config:    cfg,
		logger:    log.WithComponent("correlation-engine"),
		nowFn:     time.Now,
	}
}

// ScanForCampaigns runs one correlation sweep over recent unassigned
// events. IP clustering runs first so the pattern pass only sees
// events the stronger signal could not claim.
func (e *CorrelationEngine) ScanForCampaigns(ctx context.Context) (*ScanResult, error) {
	start := e.nowFn()
	result := &ScanResult{}

	events, err := e.stores.Events.ListUnassigned(ctx, start.Add(-e.config.ScanWindow))
	if err != nil {
		return nil, err
	}

	claimed := make(map[uuid.UUID]bool)

	if err := e.ipClusterPass(ctx, events, claimed, result); err != nil {
		return nil, err
	}

	var remaining []*models.EnrichedThreatEvent
	for _, ev := range events {
		if !claimed[ev.ID] {
			remaining = append(remaining, ev)
		}
	}
	if err := e.patternClusterPass(ctx, remaining, result); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)

	e.statsMu.Lock()
	e.totalScans++
	e.lastScan = start
	e.lastScanStats = *result
	e.statsMu.Unlock()

	e.logger.Info().
		Int("events", len(events)).
		Int("new_campaigns", result.NewCampaigns).
		Int("updated_campaigns", result.UpdatedCampaigns).
		Int("correlated", result.EventsCorrelated).
		Dur("duration", result.Duration).
		Msg("correlation sweep complete")
	return result, nil
}

// ipClusterPass groups events by attack source address, splits each
// group where consecutive events are further apart than the time
// window, and promotes clusters meeting the size threshold.
func (e *CorrelationEngine) ipClusterPass(ctx context.Context, events []*models.EnrichedThreatEvent, claimed map[uuid.UUID]bool, result *ScanResult) error {
	byIP := make(map[string][]*models.EnrichedThreatEvent)
	for _, ev := range events {
		byIP[ev.AttackSourceIP] = append(byIP[ev.AttackSourceIP], ev)
	}

	ips := make([]string, 0, len(byIP))
	for ip := range byIP {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	for _, ip := range ips {
		group := byIP[ip]
		sort.Slice(group, func(i, j int) bool { return group[i].Timestamp.Before(group[j].Timestamp) })

		for _, cluster := range splitByGap(group, e.config.TimeWindow) {
			if len(cluster) < e.config.MinEventsForCampaign {
				continue
			}
			name := fmt.Sprintf("Recurring activity from %s", ip)
			if err := e.commitCluster(ctx, models.CampaignTypeIPCluster, ip, name, cluster, result); err != nil {
				return err
			}
			for _, ev := range cluster {
				claimed[ev.ID] = true
			}
		}
	}
	return nil
}

// patternClusterPass groups leftover events by structural attack
// pattern and promotes patterns spread across enough distinct sources.
// The spread requirement is the only threshold here: a pattern seen
// from three addresses matters even when each address stays quiet.
func (e *CorrelationEngine) patternClusterPass(ctx context.Context, events []*models.EnrichedThreatEvent, result *ScanResult) error {
	byPattern := make(map[string][]*models.EnrichedThreatEvent)
	for _, ev := range events {
		hash := models.ComputePatternHash(ev.AttackType, ev.MitreTechniques)
		byPattern[hash] = append(byPattern[hash], ev)
	}

	hashes := make([]string, 0, len(byPattern))
	for h := range byPattern {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	for _, hash := range hashes {
		cluster := byPattern[hash]
		distinct := make(map[string]bool)
		for _, ev := range cluster {
			distinct[ev.AttackSourceIP] = true
		}
		if len(distinct) < e.config.MinIPsForPatternCampaign {
			continue
		}

		sort.Slice(cluster, func(i, j int) bool { return cluster[i].Timestamp.Before(cluster[j].Timestamp) })
		name := fmt.Sprintf("Distributed %s campaign", cluster[0].AttackType)
		if err := e.commitCluster(ctx, models.CampaignTypePatternCluster, hash, name, cluster, result); err != nil {
			return err
		}
	}
	return nil
}

// commitCluster extends the active campaign for the cluster key, or
// creates one, then assigns the events and refreshes aggregates.
// An IP campaign only stretches while activity stays within the time
// window of its last event; an address going quiet for longer than
// the window starts a fresh campaign.
func (e *CorrelationEngine) commitCluster(ctx context.Context, t models.CampaignType, clusterKey, name string, cluster []*models.EnrichedThreatEvent, result *ScanResult) error {
	campaign, err := e.stores.Campaigns.FindActiveByKey(ctx, t, clusterKey)
	if err != nil {
		return err
	}

	if campaign != nil && t == models.CampaignTypeIPCluster {
		if cluster[0].Timestamp.Sub(campaign.LastSeen) > e.config.TimeWindow ||
			campaign.FirstSeen.Sub(cluster[len(cluster)-1].Timestamp) > e.config.TimeWindow {
			campaign = nil
		}
	}

	created := campaign == nil
	if created {
		campaign = &models.Campaign{
			Name:       name,
			Type:       t,
			ClusterKey: clusterKey,
			Status:     models.CampaignStatusActive,
			FirstSeen:  cluster[0].Timestamp,
			LastSeen:   cluster[len(cluster)-1].Timestamp,
		}
		if err := e.stores.Campaigns.Insert(ctx, campaign); err != nil {
			return err
		}
		result.NewCampaigns++
		if e.metrics != nil {
			e.metrics.CampaignsCreated.Inc()
		}
	} else {
		result.UpdatedCampaigns++
	}

	ids := make([]uuid.UUID, len(cluster))
	for i, ev := range cluster {
		ids[i] = ev.ID
	}
	for start := 0; start < len(ids); start += e.config.AssignBatchSize {
		end := start + e.config.AssignBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		assigned, err := e.stores.Events.AssignCampaign(ctx, ids[start:end], campaign.ID)
		if err != nil {
			return err
		}
		result.EventsCorrelated += int(assigned)
	}

	members, err := e.stores.Events.ListByCampaign(ctx, campaign.ID)
	if err != nil {
		return err
	}
	campaign.Recompute(members)
	if err := e.stores.Campaigns.Update(ctx, campaign); err != nil {
		return err
	}

	if err := e.publisher.PublishCampaignDetected(ctx, campaign); err != nil {
		e.logger.Warn().Err(err).Msg("failed to publish campaign event")
	}
	return nil
}

// splitByGap cuts a time-sorted event slice wherever the gap between
// consecutive events exceeds the window.
func splitByGap(events []*models.EnrichedThreatEvent, window time.Duration) [][]*models.EnrichedThreatEvent {
	if len(events) == 0 {
		return nil
	}
	var clusters [][]*models.EnrichedThreatEvent
	current := []*models.EnrichedThreatEvent{events[0]}
	for _, ev := range events[1:] {
		if ev.Timestamp.Sub(current[len(current)-1].Timestamp) > window {
			clusters = append(clusters, current)
			current = nil
		}
		current = append(current, ev)
	}
	return append(clusters, current)
}

// ScanStats reports sweep counters for the admin surface
func (e *CorrelationEngine) ScanStats() (int64, time.Time, ScanResult) {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.totalScans, e.lastScan, e.lastScanStats
}
