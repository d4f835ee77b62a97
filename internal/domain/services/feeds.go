package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"threatmesh/internal/config"
	"threatmesh/internal/domain/models"
	"threatmesh/internal/infrastructure/cache"
	"threatmesh/pkg/logger"
)

// IoCFeedEntry is one row of the structured indicator feed
type IoCFeedEntry struct {
	Type       models.IoCType `json:"type"`
	Value      string         `json:"value"`
	ThreatType string         `json:"threat_type,omitempty"`
	Reputation float64        `json:"reputation"`
	Confidence float64        `json:"confidence"`
	LastSeen   time.Time      `json:"last_seen"`
}

// AgentUpdate bundles everything a deployed agent needs to refresh
// its local detection state in one fetch.
type AgentUpdate struct {
	GeneratedAt time.Time               `json:"generated_at"`
	RuleVersion int64                   `json:"rule_version"`
	Rules       []*models.GeneratedRule `json:"rules"`
	IoCs        []IoCFeedEntry          `json:"iocs"`
	Stats       AgentUpdateStats        `json:"stats"`
}

// AgentUpdateStats is the summary block of an agent update
type AgentUpdateStats struct {
	IoCCount  int `json:"ioc_count"`
	RuleCount int `json:"rule_count"`
}

// FeedService renders exports for firewalls and agents. Responses are
// cached briefly since feeds are polled far more often than they change.
type FeedService struct {
	stores *Stores
	cache  *cache.RedisCache
	config config.FeedsConfig
	logger *logger.Logger
	nowFn  func() time.Time
}

// NewFeedService creates a new feed service
func NewFeedService(stores *Stores, c *cache.RedisCache, cfg config.FeedsConfig, log *logger.Logger) *FeedService {
	if cfg.DefaultMinReputation <= 0 {
		cfg.DefaultMinReputation = 70
	}
	if cfg.MaxFeedSize <= 0 {
		cfg.MaxFeedSize = 10000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	return &FeedService{
		stores: stores,
		cache:  c,
		config: cfg,
		logger: log.WithComponent("feed-service"),
		nowFn:  time.Now,
	}
}

// IPBlocklist renders a plain-text blocklist of active addresses at or
// above the reputation threshold, one per line.
func (s *FeedService) IPBlocklist(ctx context.Context, minReputation float64) (string, error) {
	return s.textFeed(ctx, models.IoCTypeIP, cache.KeyFeedIPBlocklist, minReputation)
}

// DomainBlocklist renders the equivalent feed for domains
func (s *FeedService) DomainBlocklist(ctx context.Context, minReputation float64) (string, error) {
	return s.textFeed(ctx, models.IoCTypeDomain, cache.KeyFeedDomainBlocklist, minReputation)
}

func (s *FeedService) textFeed(ctx context.Context, t models.IoCType, keyPrefix string, minReputation float64) (string, error) {
	if minReputation <= 0 {
		minReputation = s.config.DefaultMinReputation
	}
	cacheKey := fmt.Sprintf("%s%.0f", keyPrefix, minReputation)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
			return cached, nil
		}
	}

	iocs, err := s.stores.IoCs.ListActive(ctx, t, minReputation, s.config.MaxFeedSize)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, ioc := range iocs {
		b.WriteString(ioc.NormalizedValue)
		b.WriteByte('\n')
	}
	feed := b.String()

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, feed, s.config.CacheTTL); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache feed")
		}
	}
	return feed, nil
}

// IoCFeed renders the structured indicator feed, optionally filtered
// by type.
func (s *FeedService) IoCFeed(ctx context.Context, t models.IoCType, minReputation float64) ([]IoCFeedEntry, error) {
	if minReputation <= 0 {
		minReputation = s.config.DefaultMinReputation
	}
	cacheKey := fmt.Sprintf("%s%s:%.0f", cache.KeyFeedIoC, t, minReputation)

	if s.cache != nil {
		var cached []IoCFeedEntry
		if err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	iocs, err := s.stores.IoCs.ListActive(ctx, t, minReputation, s.config.MaxFeedSize)
	if err != nil {
		return nil, err
	}

	entries := make([]IoCFeedEntry, len(iocs))
	for i, ioc := range iocs {
		entries[i] = IoCFeedEntry{
			Type:       ioc.Type,
			Value:      ioc.NormalizedValue,
			ThreatType: ioc.ThreatType,
			Reputation: ioc.ReputationScore,
			Confidence: ioc.Confidence,
			LastSeen:   ioc.LastSeen,
		}
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey, entries, s.config.CacheTTL); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache indicator feed")
		}
	}
	return entries, nil
}

// AgentUpdateBundle assembles the indicator feed and the rules
// changed since the agent's last sync.
func (s *FeedService) AgentUpdateBundle(ctx context.Context, since time.Time) (*AgentUpdate, error) {
	if since.IsZero() {
		since = s.nowFn().Add(-30 * 24 * time.Hour)
	}
	cacheKey := fmt.Sprintf("%s%d", cache.KeyFeedAgentUpdate, since.Unix())

	if s.cache != nil {
		var cached AgentUpdate
		if err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	iocs, err := s.IoCFeed(ctx, "", s.config.DefaultMinReputation)
	if err != nil {
		return nil, err
	}

	rules, err := s.stores.Rules.ListSince(ctx, since, s.config.MaxFeedSize)
	if err != nil {
		return nil, err
	}

	var version int64
	if s.cache != nil {
		if v, err := s.cache.GetRuleVersion(ctx); err == nil {
			version = v
		}
	}

	update := &AgentUpdate{
		GeneratedAt: s.nowFn(),
		RuleVersion: version,
		Rules:       rules,
		IoCs:        iocs,
		Stats: AgentUpdateStats{
			IoCCount:  len(iocs),
			RuleCount: len(rules),
		},
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey, update, s.config.CacheTTL); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache agent update")
		}
	}
	return update, nil
}
