package services

import (
	"context"
	"time"

	"threatmesh/internal/sources"
	"threatmesh/pkg/logger"
)

// FeedSyncResult reports one synchronization pass over the external feeds
type FeedSyncResult struct {
	Sources    int           `json:"sources"`
	Failures   int           `json:"failures"`
	Indicators int           `json:"indicators"`
	NewIoCs    int           `json:"new_iocs"`
	Duration   time.Duration `json:"duration"`
}

// FeedSyncService pulls external threat feeds into the indicator store.
// External indicators enter through the same find-or-create path as
// agent-reported ones, so repeats from a feed bump sightings and merge
// tags instead of duplicating rows.
type FeedSyncService struct {
	registry *sources.Registry
	iocs     *IoCService
	logger   *logger.Logger
	nowFn    func() time.Time
}

// NewFeedSyncService creates a new feed synchronization service
func NewFeedSyncService(registry *sources.Registry, iocs *IoCService, log *logger.Logger) *FeedSyncService {
	return &FeedSyncService{
		registry: registry,
		iocs:     iocs,
		logger:   log.WithComponent("feed-sync"),
		nowFn:    time.Now,
	}
}

// RunOnce fetches every enabled connector and upserts its indicators.
// A failing connector is logged and skipped; the pass continues.
func (s *FeedSyncService) RunOnce(ctx context.Context) (*FeedSyncResult, error) {
	start := s.nowFn()
	result := &FeedSyncResult{}

	for _, conn := range s.registry.ListEnabled() {
		result.Sources++

		fetched, err := conn.Fetch(ctx)
		if err != nil {
			result.Failures++
			s.logger.Warn().Err(err).Str("source", conn.Slug()).Msg("feed fetch failed")
			continue
		}

		for _, ind := range fetched.Indicators {
			seenAt := ind.LastSeen
			if seenAt.IsZero() {
				seenAt = fetched.FetchedAt
			}

			upsert, err := s.iocs.Observe(ctx, IoCObservation{
				Type:       ind.Type,
				Value:      ind.Value,
				ThreatType: ind.ThreatType,
				Source:     "external:" + conn.Slug(),
				Confidence: ind.Confidence,
				SeenAt:     seenAt,
				Tags:       ind.Tags,
				Metadata:   ind.Metadata,
			})
			if err != nil {
				s.logger.Warn().Err(err).
					Str("source", conn.Slug()).
					Str("value", ind.Value).
					Msg("failed to upsert external indicator")
				continue
			}

			result.Indicators++
			if upsert.Created {
				result.NewIoCs++
			}
		}
	}

	result.Duration = s.nowFn().Sub(start)
	s.logger.Info().
		Int("sources", result.Sources).
		Int("failures", result.Failures).
		Int("indicators", result.Indicators).
		Int("new_iocs", result.NewIoCs).
		Dur("duration", result.Duration).
		Msg("feed sync complete")

	return result, nil
}
