package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"threatmesh/internal/domain/models"
)

// Sentinel errors returned by the service layer
var (
	ErrIoCNotFound      = errors.New("indicator not found")
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrInvalidInput     = errors.New("invalid input")
)

// IoCStore is the persistence surface the indicator services need.
// Implemented by repository.IoCRepository and by the in-memory store
// used in tests. Lookups return (nil, nil) when nothing matches.
type IoCStore interface {
	Insert(ctx context.Context, ioc *models.IoC) error
	Update(ctx context.Context, ioc *models.IoC) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.IoC, error)
	GetByKey(ctx context.Context, t models.IoCType, normalizedValue string) (*models.IoC, error)
	ApplyConfidenceDelta(ctx context.Context, id uuid.UUID, delta float64) (float64, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.IoCStatus) error
	SetReputation(ctx context.Context, id uuid.UUID, score float64) error
	Search(ctx context.Context, filter models.IoCFilter) (*models.IoCPage, error)
	ListActive(ctx context.Context, t models.IoCType, minReputation float64, limit int) ([]*models.IoC, error)
	ListForReputation(ctx context.Context) ([]*models.IoC, error)
	ExpireUnseenBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// SightingStore persists the append-only sighting log
type SightingStore interface {
	Insert(ctx context.Context, s *models.Sighting) error
	ListByIoC(ctx context.Context, iocID uuid.UUID, limit int) ([]*models.Sighting, error)
	Summary(ctx context.Context, iocID uuid.UUID) (*models.SightingSummary, error)
	HasSourceSince(ctx context.Context, iocID uuid.UUID, source string, cutoff time.Time) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// EventStore persists enriched threat events
type EventStore interface {
	Insert(ctx context.Context, e *models.EnrichedThreatEvent) error
	GetByHash(ctx context.Context, hash string) (*models.EnrichedThreatEvent, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.EnrichedThreatEvent, error)
	ListUnassigned(ctx context.Context, since time.Time) ([]*models.EnrichedThreatEvent, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*models.EnrichedThreatEvent, error)
	ListSince(ctx context.Context, since time.Time) ([]*models.EnrichedThreatEvent, error)
	AssignCampaign(ctx context.Context, eventIDs []uuid.UUID, campaignID uuid.UUID) (int64, error)
	MaxSeverityForValue(ctx context.Context, value string) (int, error)
	DeleteUnassignedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// CampaignStore persists campaigns
type CampaignStore interface {
	Insert(ctx context.Context, c *models.Campaign) error
	Update(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	FindActiveByKey(ctx context.Context, t models.CampaignType, clusterKey string) (*models.Campaign, error)
	List(ctx context.Context, status models.CampaignStatus, limit, offset int) ([]*models.Campaign, int64, error)
	Stats(ctx context.Context) (*models.CampaignStats, error)
}

// RuleStore persists generated detection rules
type RuleStore interface {
	Upsert(ctx context.Context, rule *models.GeneratedRule) (bool, error)
	GetByPatternHash(ctx context.Context, hash string) (*models.GeneratedRule, error)
	ListSince(ctx context.Context, since time.Time, limit int) ([]*models.GeneratedRule, error)
	Count(ctx context.Context) (int64, error)
}

// AuditStore persists the audit trail
type AuditStore interface {
	Insert(ctx context.Context, e *models.AuditEntry) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MaintenanceStore exposes storage upkeep operations
type MaintenanceStore interface {
	Checkpoint(ctx context.Context) error
	Export(ctx context.Context) ([]byte, error)
}

// Stores bundles every store the service layer depends on
type Stores struct {
	IoCs        IoCStore
	Sightings   SightingStore
	Events      EventStore
	Campaigns   CampaignStore
	Rules       RuleStore
	Audit       AuditStore
	Maintenance MaintenanceStore
}

// EventPublisher pushes intelligence events to downstream consumers.
// Implementations must be safe for concurrent use; publish failures
// are logged by callers, never propagated to API clients.
type EventPublisher interface {
	PublishIoCObserved(ctx context.Context, ioc *models.IoC, created bool) error
	PublishCampaignDetected(ctx context.Context, c *models.Campaign) error
	PublishRulePublished(ctx context.Context, r *models.GeneratedRule) error
}

// NopPublisher discards all events. Used when NATS is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishIoCObserved(context.Context, *models.IoC, bool) error    { return nil }
func (NopPublisher) PublishCampaignDetected(context.Context, *models.Campaign) error { return nil }
func (NopPublisher) PublishRulePublished(context.Context, *models.GeneratedRule) error {
	return nil
}
