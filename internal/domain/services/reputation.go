package services

import (
	"context"
	"math"
	"time"

	"threatmesh/internal/config"
	"threatmesh/internal/domain/models"
	"threatmesh/pkg/logger"
)

// ReputationResult summarizes one scoring sweep
type ReputationResult struct {
	Scored   int           `json:"scored"`
	Duration time.Duration `json:"duration"`
}

// ReputationEngine derives a composite reputation score for every
// indicator from its observation history. Five weighted components,
// each normalized to [0,1] before weighting, scaled to [0,100].
type ReputationEngine struct {
	stores *Stores
	config config.ReputationConfig
	logger *logger.Logger
	nowFn  func() time.Time
}

// NewReputationEngine creates a new reputation engine
func NewReputationEngine(stores *Stores, cfg config.ReputationConfig, log *logger.Logger) *ReputationEngine {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = 7 * 24 * time.Hour
	}
	return &ReputationEngine{
		stores: stores,
		config: cfg,
		logger: log.WithComponent("reputation-engine"),
		nowFn:  time.Now,
	}
}

// Score computes the reputation for one indicator without persisting it
func (e *ReputationEngine) Score(ctx context.Context, ioc *models.IoC) (float64, error) {
	summary, err := e.stores.Sightings.Summary(ctx, ioc.ID)
	if err != nil {
		return 0, err
	}

	maxSeverity := 0
	if ioc.Type == models.IoCTypeIP {
		maxSeverity, err = e.stores.Events.MaxSeverityForValue(ctx, ioc.NormalizedValue)
		if err != nil {
			return 0, err
		}
	}

	w := e.config.Weights
	score := w.Volume*e.volumeScore(ioc.Sightings) +
		w.Severity*math.Min(float64(maxSeverity)/10, 1) +
		w.Recency*e.recencyScore(ioc.LastSeen) +
		w.Diversity*e.diversityScore(summary.UniqueSources) +
		w.Confidence*ioc.Confidence/100

	return models.ClampScore(score * 100), nil
}

// RunOnce rescores every non-revoked indicator
func (e *ReputationEngine) RunOnce(ctx context.Context) (*ReputationResult, error) {
	start := e.nowFn()

	iocs, err := e.stores.IoCs.ListForReputation(ctx)
	if err != nil {
		return nil, err
	}

	scored := 0
	for _, ioc := range iocs {
		score, err := e.Score(ctx, ioc)
		if err != nil {
			e.logger.Warn().Err(err).Str("ioc_id", ioc.ID.String()).Msg("failed to score indicator")
			continue
		}
		if err := e.stores.IoCs.SetReputation(ctx, ioc.ID, score); err != nil {
			e.logger.Warn().Err(err).Str("ioc_id", ioc.ID.String()).Msg("failed to persist score")
			continue
		}
		scored++
	}

	result := &ReputationResult{Scored: scored, Duration: time.Since(start)}
	e.logger.Info().Int("scored", scored).Dur("duration", result.Duration).Msg("reputation sweep complete")
	return result, nil
}

// volumeScore grows logarithmically: the tenth sighting matters far
// less than the second. Saturates at 100 sightings.
func (e *ReputationEngine) volumeScore(sightings int) float64 {
	if sightings <= 0 {
		return 0
	}
	v := math.Log10(float64(sightings)+1) / 2
	return math.Min(v, 1)
}

// recencyScore decays exponentially with the configured half-life.
// An indicator seen now scores 1; one half-life old scores 0.5.
func (e *ReputationEngine) recencyScore(lastSeen time.Time) float64 {
	if lastSeen.IsZero() {
		return 0
	}
	age := e.nowFn().Sub(lastSeen)
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * age.Hours() / e.config.HalfLife.Hours())
}

// diversityScore saturates at five independent sources
func (e *ReputationEngine) diversityScore(uniqueSources int) float64 {
	return math.Min(float64(uniqueSources)/5, 1)
}
