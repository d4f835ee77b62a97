package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"threatmesh/internal/config"
	"threatmesh/internal/domain/models"
	"threatmesh/internal/infrastructure/cache"
	"threatmesh/internal/metrics"
	"threatmesh/pkg/logger"
)

// RuleGenResult summarizes one rule generation run
type RuleGenResult struct {
	PatternsAnalyzed int           `json:"patterns_analyzed"`
	RulesGenerated   int           `json:"rules_generated"`
	RulesUpdated     int           `json:"rules_updated"`
	Duration         time.Duration `json:"duration"`
}

// RuleGenerator turns recurring attack patterns into detection rules.
// A pattern qualifies when it recurs often enough AND from enough
// distinct sources inside the analysis window.
type RuleGenerator struct {
	stores    *Stores
	publisher EventPublisher
	cache     *cache.RedisCache
	metrics   *metrics.Metrics
	config    config.RulesConfig
	logger    *logger.Logger
	nowFn     func() time.Time
}

// NewRuleGenerator creates a new rule generator
func NewRuleGenerator(stores *Stores, publisher EventPublisher, c *cache.RedisCache, m *metrics.Metrics, cfg config.RulesConfig, log *logger.Logger) *RuleGenerator {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if cfg.AnalysisWindow <= 0 {
		cfg.AnalysisWindow = 24 * time.Hour
	}
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = 10
	}
	if cfg.MinDistinctIPs <= 0 {
		cfg.MinDistinctIPs = 3
	}
	return &RuleGenerator{
		stores:    stores,
		publisher: publisher,
		cache:     c,
		metrics:   m,
		config:    cfg,
		logger:    log.WithComponent("rule-generator"),
		nowFn:     time.Now,
	}
}

type patternGroup struct {
	attackType string
	techniques []string
	count      int
	sources    map[string]bool
}

// GenerateRules analyzes the event window and upserts one rule per
// qualifying pattern. Re-detection refreshes the existing rule
// instead of minting a new identifier.
func (g *RuleGenerator) GenerateRules(ctx context.Context) (*RuleGenResult, error) {
	start := g.nowFn()
	result := &RuleGenResult{}

	events, err := g.stores.Events.ListSince(ctx, start.Add(-g.config.AnalysisWindow))
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*patternGroup)
	for _, ev := range events {
		hash := models.ComputePatternHash(ev.AttackType, ev.MitreTechniques)
		grp, ok := groups[hash]
		if !ok {
			grp = &patternGroup{
				attackType: ev.AttackType,
				techniques: models.UnionStrings(nil, ev.MitreTechniques),
				sources:    make(map[string]bool),
			}
			groups[hash] = grp
		}
		grp.count++
		grp.sources[ev.AttackSourceIP] = true
	}
	result.PatternsAnalyzed = len(groups)

	hashes := make([]string, 0, len(groups))
	for h := range groups {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	changed := false
	for _, hash := range hashes {
		grp := groups[hash]
		if grp.count < g.config.MinOccurrences || len(grp.sources) < g.config.MinDistinctIPs {
			continue
		}

		rule := &models.GeneratedRule{
			ID:          models.RuleIDForPattern(hash),
			PatternHash: hash,
			Content:     renderRule(grp),
			Source:      "pattern-analysis",
			Occurrences: grp.count,
		}
		created, err := g.stores.Rules.Upsert(ctx, rule)
		if err != nil {
			return nil, err
		}
		if created {
			result.RulesGenerated++
		} else {
			result.RulesUpdated++
		}
		changed = true
		if g.metrics != nil {
			g.metrics.RulesGenerated.Inc()
		}
		if err := g.publisher.PublishRulePublished(ctx, rule); err != nil {
			g.logger.Warn().Err(err).Msg("failed to publish rule event")
		}
	}

	if changed && g.cache != nil {
		if _, err := g.cache.IncrementRuleVersion(ctx); err != nil {
			g.logger.Warn().Err(err).Msg("failed to bump rule version")
		}
	}

	result.Duration = time.Since(start)
	g.logger.Info().
		Int("patterns", result.PatternsAnalyzed).
		Int("generated", result.RulesGenerated).
		Int("updated", result.RulesUpdated).
		Dur("duration", result.Duration).
		Msg("rule generation complete")
	return result, nil
}

// renderRule emits the rule body in a simple signature DSL agents
// already understand.
func renderRule(grp *patternGroup) string {
	techniques := append([]string(nil), grp.techniques...)
	sort.Strings(techniques)

	var b strings.Builder
	fmt.Fprintf(&b, "rule {\n")
	fmt.Fprintf(&b, "  attack_type = %q\n", grp.attackType)
	if len(techniques) > 0 {
		fmt.Fprintf(&b, "  mitre_techniques = [%s]\n", quoteJoin(techniques))
	}
	fmt.Fprintf(&b, "  occurrences = %d\n", grp.count)
	fmt.Fprintf(&b, "  action = \"block\"\n")
	fmt.Fprintf(&b, "}\n")
	return b.String()
}

func quoteJoin(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}
