package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"threatmesh/internal/domain/models"
	"threatmesh/pkg/logger"
)

// crossSourceWindow bounds how often one indicator can earn the
// cross-source corroboration bonus.
const crossSourceWindow = 24 * time.Hour

// SightingInput is a caller-supplied sighting
type SightingInput struct {
	Type       models.SightingType `json:"type"`
	Source     string              `json:"source"`
	Confidence float64             `json:"confidence"`
	Details    string              `json:"details"`
	ActorHash  string              `json:"-"`
}

// SightingService maintains the sighting log and the confidence
// feedback loop it drives.
type SightingService struct {
	stores *Stores
	logger *logger.Logger
	nowFn  func() time.Time
}

// NewSightingService creates a new sighting service
func NewSightingService(stores *Stores, log *logger.Logger) *SightingService {
	return &SightingService{
		stores: stores,
		logger: log.WithComponent("sighting-service"),
		nowFn:  time.Now,
	}
}

// Record appends a sighting for an indicator and applies its
// confidence delta. A false positive sends the indicator to
// under_review unless it is already revoked.
func (s *SightingService) Record(ctx context.Context, iocID uuid.UUID, in SightingInput) (*models.Sighting, error) {
	if !models.ValidSightingType(in.Type) {
		return nil, fmt.Errorf("%w: unknown sighting type %q", ErrInvalidInput, in.Type)
	}
	if in.Source == "" {
		return nil, fmt.Errorf("%w: sighting source required", ErrInvalidInput)
	}

	ioc, err := s.stores.IoCs.GetByID(ctx, iocID)
	if err != nil {
		return nil, err
	}
	if ioc == nil {
		return nil, ErrIoCNotFound
	}

	sighting := &models.Sighting{
		IoCID:      ioc.ID,
		Type:       in.Type,
		Source:     in.Source,
		Confidence: models.ClampScore(in.Confidence),
		Details:    in.Details,
		ActorHash:  in.ActorHash,
		CreatedAt:  s.nowFn(),
	}
	if err := s.stores.Sightings.Insert(ctx, sighting); err != nil {
		return nil, err
	}

	delta := models.ConfidenceDelta(in.Type, in.Source)
	newConfidence, err := s.stores.IoCs.ApplyConfidenceDelta(ctx, ioc.ID, delta)
	if err != nil {
		return nil, err
	}

	if in.Type == models.SightingFalsePositive && ioc.Status != models.IoCStatusRevoked {
		if err := s.stores.IoCs.SetStatus(ctx, ioc.ID, models.IoCStatusUnderReview); err != nil {
			return nil, err
		}
	}

	s.logger.Debug().
		Str("ioc_id", ioc.ID.String()).
		Str("type", string(in.Type)).
		Str("source", in.Source).
		Float64("confidence", newConfidence).
		Msg("sighting recorded")

	return sighting, nil
}

// List returns recent sightings for an indicator
func (s *SightingService) List(ctx context.Context, iocID uuid.UUID, limit int) ([]*models.Sighting, error) {
	ioc, err := s.stores.IoCs.GetByID(ctx, iocID)
	if err != nil {
		return nil, err
	}
	if ioc == nil {
		return nil, ErrIoCNotFound
	}
	return s.stores.Sightings.ListByIoC(ctx, iocID, limit)
}

// Summary aggregates one indicator's sighting history
func (s *SightingService) Summary(ctx context.Context, iocID uuid.UUID) (*models.SightingSummary, error) {
	ioc, err := s.stores.IoCs.GetByID(ctx, iocID)
	if err != nil {
		return nil, err
	}
	if ioc == nil {
		return nil, ErrIoCNotFound
	}
	return s.stores.Sightings.Summary(ctx, iocID)
}

// RecordAgentMatch registers that a deployed agent re-observed a known
// indicator. Only called for indicators that existed before the
// triggering event: a first observation never matches itself.
func (s *SightingService) RecordAgentMatch(ctx context.Context, ioc *models.IoC, sourceType models.SourceType, detail string) error {
	source := models.SightingSourceGuard
	confidence := 60.0
	if sourceType == models.SourceTypeTrap {
		source = models.SightingSourceTrap
		confidence = 80.0
	}

	sighting := &models.Sighting{
		IoCID:      ioc.ID,
		Type:       models.SightingPositive,
		Source:     source,
		Confidence: confidence,
		Details:    detail,
		CreatedAt:  s.nowFn(),
	}
	if err := s.stores.Sightings.Insert(ctx, sighting); err != nil {
		return err
	}

	if _, err := s.stores.IoCs.ApplyConfidenceDelta(ctx, ioc.ID, models.ConfidenceDelta(models.SightingPositive, source)); err != nil {
		return err
	}
	return nil
}

// RecordCrossSourceMatch applies the corroboration bonus when both
// agent families have observed the same indicator. The bonus is
// applied at most once per indicator per window.
func (s *SightingService) RecordCrossSourceMatch(ctx context.Context, ioc *models.IoC) error {
	now := s.nowFn()
	alreadyApplied, err := s.stores.Sightings.HasSourceSince(
		ctx, ioc.ID, models.SightingSourceCrossSource, now.Add(-crossSourceWindow))
	if err != nil {
		return err
	}
	if alreadyApplied {
		return nil
	}

	epoch := time.Time{}
	guardSeen, err := s.stores.Sightings.HasSourceSince(ctx, ioc.ID, models.SightingSourceGuard, epoch)
	if err != nil {
		return err
	}
	trapSeen, err := s.stores.Sightings.HasSourceSince(ctx, ioc.ID, models.SightingSourceTrap, epoch)
	if err != nil {
		return err
	}
	if !guardSeen || !trapSeen {
		return nil
	}

	sighting := &models.Sighting{
		IoCID:      ioc.ID,
		Type:       models.SightingPositive,
		Source:     models.SightingSourceCrossSource,
		Confidence: 90,
		Details:    "observed by both guard and trap agents",
		CreatedAt:  now,
	}
	if err := s.stores.Sightings.Insert(ctx, sighting); err != nil {
		return err
	}

	delta := models.ConfidenceDelta(models.SightingPositive, models.SightingSourceCrossSource)
	if _, err := s.stores.IoCs.ApplyConfidenceDelta(ctx, ioc.ID, delta); err != nil {
		return err
	}

	s.logger.Info().
		Str("ioc_id", ioc.ID.String()).
		Str("value", ioc.NormalizedValue).
		Msg("cross-source corroboration")
	return nil
}
