package streaming

import (
	"time"

	"github.com/google/uuid"

	"threatmesh/internal/domain/models"
)

// EventType labels one intelligence stream message
type EventType string

const (
	EventTypeIoCObserved      EventType = "ioc.observed"
	EventTypeCampaignDetected EventType = "campaign.detected"
	EventTypeRulePublished    EventType = "rule.published"
)

// IntelEvent is the envelope published to the intelligence stream.
// Only the fields relevant to the event type are populated.
type IntelEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Indicator details
	IoCID      string  `json:"ioc_id,omitempty"`
	IoCType    string  `json:"ioc_type,omitempty"`
	IoCValue   string  `json:"ioc_value,omitempty"`
	ThreatType string  `json:"threat_type,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	NewIoC     bool    `json:"new_ioc,omitempty"`

	// Campaign details
	CampaignID   string `json:"campaign_id,omitempty"`
	CampaignName string `json:"campaign_name,omitempty"`
	CampaignType string `json:"campaign_type,omitempty"`
	EventCount   int    `json:"event_count,omitempty"`
	Severity     int    `json:"severity,omitempty"`

	// Rule details
	RuleID      string `json:"rule_id,omitempty"`
	PatternHash string `json:"pattern_hash,omitempty"`
	Occurrences int    `json:"occurrences,omitempty"`
}

// NewIoCObservedEvent builds the stream message for an indicator upsert
func NewIoCObservedEvent(ioc *models.IoC, created bool) *IntelEvent {
	return &IntelEvent{
		ID:         uuid.New().String(),
		Type:       EventTypeIoCObserved,
		Timestamp:  time.Now(),
		IoCID:      ioc.ID.String(),
		IoCType:    string(ioc.Type),
		IoCValue:   ioc.NormalizedValue,
		ThreatType: ioc.ThreatType,
		Confidence: ioc.Confidence,
		NewIoC:     created,
	}
}

// NewCampaignDetectedEvent builds the stream message for a campaign
func NewCampaignDetectedEvent(c *models.Campaign) *IntelEvent {
	return &IntelEvent{
		ID:           uuid.New().String(),
		Type:         EventTypeCampaignDetected,
		Timestamp:    time.Now(),
		CampaignID:   c.ID.String(),
		CampaignName: c.Name,
		CampaignType: string(c.Type),
		EventCount:   c.EventCount,
		Severity:     c.Severity,
	}
}

// NewRulePublishedEvent builds the stream message for a generated rule
func NewRulePublishedEvent(r *models.GeneratedRule) *IntelEvent {
	return &IntelEvent{
		ID:          uuid.New().String(),
		Type:        EventTypeRulePublished,
		Timestamp:   time.Now(),
		RuleID:      r.ID,
		PatternHash: r.PatternHash,
		Occurrences: r.Occurrences,
	}
}
