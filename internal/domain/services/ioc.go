package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"threatmesh/internal/domain/models"
	"threatmesh/pkg/logger"
)

// IoCObservation is one observation submitted to the indicator store
type IoCObservation struct {
	Type       models.IoCType  `json:"type"`
	Value      string          `json:"value"`
	ThreatType string          `json:"threat_type"`
	Source     string          `json:"source"`
	Confidence float64         `json:"confidence"`
	SeenAt     time.Time       `json:"seen_at"`
	Tags       []string        `json:"tags"`
	Metadata   models.Metadata `json:"metadata"`
}

// UpsertResult reports what an observation did to the store
type UpsertResult struct {
	IoC     *models.IoC
	Created bool
}

// IoCService owns the deduplicated indicator store
type IoCService struct {
	stores    *Stores
	publisher EventPublisher
	logger    *logger.Logger
	nowFn     func() time.Time
}

// NewIoCService creates a new indicator service
func NewIoCService(stores *Stores, publisher EventPublisher, log *logger.Logger) *IoCService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &IoCService{
		stores:    stores,
		publisher: publisher,
		logger:    log.WithComponent("ioc-service"),
		nowFn:     time.Now,
	}
}

// Observe records one observation of an indicator. A first observation
// creates the row; repeats bump last seen, increment the sighting
// counter, keep the higher confidence and merge tags and metadata.
func (s *IoCService) Observe(ctx context.Context, obs IoCObservation) (*UpsertResult, error) {
	value := strings.TrimSpace(obs.Value)
	if value == "" {
		return nil, fmt.Errorf("%w: empty indicator value", ErrInvalidInput)
	}

	t := obs.Type
	if t == "" {
		t = models.DetectIoCType(value)
		if t == "" {
			return nil, fmt.Errorf("%w: cannot detect indicator type for %q", ErrInvalidInput, value)
		}
	}

	normalized := models.NormalizeIoCValue(t, value)
	seenAt := obs.SeenAt
	if seenAt.IsZero() {
		seenAt = s.nowFn()
	}

	existing, err := s.stores.IoCs.GetByKey(ctx, t, normalized)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		ioc := &models.IoC{
			Type:            t,
			Value:           value,
			NormalizedValue: normalized,
			ThreatType:      obs.ThreatType,
			Source:          obs.Source,
			Confidence:      models.ClampScore(obs.Confidence),
			FirstSeen:       seenAt,
			LastSeen:        seenAt,
			Sightings:       1,
			Status:          models.IoCStatusActive,
			Tags:            models.UnionStrings(nil, obs.Tags),
			Metadata:        obs.Metadata,
		}
		if ioc.Confidence == 0 {
			ioc.Confidence = 50
		}
		if err := s.stores.IoCs.Insert(ctx, ioc); err != nil {
			return nil, err
		}

		s.logger.Debug().
			Str("type", string(t)).
			Str("value", normalized).
			Str("source", obs.Source).
			Msg("new indicator")

		if err := s.publisher.PublishIoCObserved(ctx, ioc, true); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish indicator event")
		}
		return &UpsertResult{IoC: ioc, Created: true}, nil
	}

	existing.Sightings++
	if seenAt.After(existing.LastSeen) {
		existing.LastSeen = seenAt
	}
	if seenAt.Before(existing.FirstSeen) {
		existing.FirstSeen = seenAt
	}
	if obs.Confidence > existing.Confidence {
		existing.Confidence = models.ClampScore(obs.Confidence)
	}
	if obs.ThreatType != "" && existing.ThreatType == "" {
		existing.ThreatType = obs.ThreatType
	}
	existing.Tags = models.UnionStrings(existing.Tags, obs.Tags)
	existing.Metadata = existing.Metadata.Merge(obs.Metadata)

	// A revived expired indicator goes back to active
	if existing.Status == models.IoCStatusExpired {
		existing.Status = models.IoCStatusActive
	}

	if err := s.stores.IoCs.Update(ctx, existing); err != nil {
		return nil, err
	}

	if err := s.publisher.PublishIoCObserved(ctx, existing, false); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish indicator event")
	}
	return &UpsertResult{IoC: existing, Created: false}, nil
}

// Lookup finds an indicator by raw value, normalizing first. Type is
// detected when not supplied.
func (s *IoCService) Lookup(ctx context.Context, t models.IoCType, value string) (*models.IoC, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: empty indicator value", ErrInvalidInput)
	}
	if t == "" {
		t = models.DetectIoCType(value)
		if t == "" {
			return nil, fmt.Errorf("%w: cannot detect indicator type for %q", ErrInvalidInput, value)
		}
	}

	ioc, err := s.stores.IoCs.GetByKey(ctx, t, models.NormalizeIoCValue(t, value))
	if err != nil {
		return nil, err
	}
	if ioc == nil {
		return nil, ErrIoCNotFound
	}
	return ioc, nil
}

// Get retrieves an indicator by ID
func (s *IoCService) Get(ctx context.Context, id uuid.UUID) (*models.IoC, error) {
	ioc, err := s.stores.IoCs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ioc == nil {
		return nil, ErrIoCNotFound
	}
	return ioc, nil
}

// Search returns a filtered page of indicators
func (s *IoCService) Search(ctx context.Context, filter models.IoCFilter) (*models.IoCPage, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	return s.stores.IoCs.Search(ctx, filter)
}

// SetStatus transitions an indicator's lifecycle status
func (s *IoCService) SetStatus(ctx context.Context, id uuid.UUID, status models.IoCStatus) error {
	ioc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.stores.IoCs.SetStatus(ctx, ioc.ID, status)
}
