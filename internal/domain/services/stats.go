package services

import (
	"context"
	"time"

	"threatmesh/internal/domain/models"
	"threatmesh/internal/infrastructure/cache"
	"threatmesh/pkg/logger"
)

// SystemStats is the aggregate view served by the stats endpoint
type SystemStats struct {
	IoCsByStatus   map[string]int64      `json:"iocs_by_status"`
	TotalIoCs      int64                 `json:"total_iocs"`
	TotalSightings int64                 `json:"total_sightings"`
	TotalEvents    int64                 `json:"total_events"`
	TotalRules     int64                 `json:"total_rules"`
	Campaigns      *models.CampaignStats `json:"campaigns"`
	GeneratedAt    time.Time             `json:"generated_at"`
}

// statsCacheTTL bounds how stale the aggregate view may get while
// shielding the stores from dashboard polling.
const statsCacheTTL = 30 * time.Second

// StatsService assembles aggregate statistics across all stores
type StatsService struct {
	stores *Stores
	cache  *cache.RedisCache
	logger *logger.Logger
	nowFn  func() time.Time
}

// NewStatsService creates a new stats service
func NewStatsService(stores *Stores, c *cache.RedisCache, log *logger.Logger) *StatsService {
	return &StatsService{
		stores: stores,
		cache:  c,
		logger: log.WithComponent("stats-service"),
		nowFn:  time.Now,
	}
}

// Collect gathers current statistics
func (s *StatsService) Collect(ctx context.Context) (*SystemStats, error) {
	if s.cache != nil {
		var cached SystemStats
		if err := s.cache.GetJSON(ctx, cache.KeyStats, &cached); err == nil {
			return &cached, nil
		}
	}

	byStatus, err := s.stores.IoCs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, n := range byStatus {
		total += n
	}

	sightings, err := s.stores.Sightings.Count(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.stores.Events.Count(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := s.stores.Rules.Count(ctx)
	if err != nil {
		return nil, err
	}
	campaigns, err := s.stores.Campaigns.Stats(ctx)
	if err != nil {
		return nil, err
	}

	stats := &SystemStats{
		IoCsByStatus:   byStatus,
		TotalIoCs:      total,
		TotalSightings: sightings,
		TotalEvents:    events,
		TotalRules:     rules,
		Campaigns:      campaigns,
		GeneratedAt:    s.nowFn(),
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cache.KeyStats, stats, statsCacheTTL); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache stats")
		}
	}
	return stats, nil
}
