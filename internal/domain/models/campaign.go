package models

import (
	"time"

	"github.com/google/uuid"
)

// CampaignType records which correlation pass created a campaign
type CampaignType string

const (
	CampaignTypeIPCluster      CampaignType = "ip_cluster"
	CampaignTypePatternCluster CampaignType = "pattern_cluster"
	CampaignTypeManual         CampaignType = "manual"
)

// CampaignStatus represents the review status of a campaign
type CampaignStatus string

const (
	CampaignStatusActive        CampaignStatus = "active"
	CampaignStatusResolved      CampaignStatus = "resolved"
	CampaignStatusFalsePositive CampaignStatus = "false_positive"
)

// Campaign is a cluster of correlated threat events. Aggregate fields
// are derived from member events: set fields are unions, Severity is
// the member maximum.
type Campaign struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	Type            CampaignType   `json:"type" db:"type"`
	ClusterKey      string         `json:"-" db:"cluster_key"`
	FirstSeen       time.Time      `json:"first_seen" db:"first_seen"`
	LastSeen        time.Time      `json:"last_seen" db:"last_seen"`
	EventCount      int            `json:"event_count" db:"event_count"`
	UniqueIPs       int            `json:"unique_ips" db:"unique_ips"`
	AttackTypes     []string       `json:"attack_types,omitempty" db:"attack_types"`
	MitreTechniques []string       `json:"mitre_techniques,omitempty" db:"mitre_techniques"`
	Regions         []string       `json:"regions,omitempty" db:"regions"`
	Severity        int            `json:"severity" db:"severity"`
	Status          CampaignStatus `json:"status" db:"status"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// CampaignStats holds aggregate campaign statistics
type CampaignStats struct {
	TotalCount    int64            `json:"total_count"`
	ActiveCount   int64            `json:"active_count"`
	ByType        map[string]int64 `json:"by_type"`
	EventsLinked  int64            `json:"events_linked"`
	LastDetection time.Time        `json:"last_detection,omitzero"`
}

// Recompute refreshes the campaign's aggregate fields from its member
// events. Membership itself is never changed here.
func (c *Campaign) Recompute(events []*EnrichedThreatEvent) {
	if len(events) == 0 {
		return
	}
	ips := make(map[string]bool)
	first, last := events[0].Timestamp, events[0].Timestamp
	c.AttackTypes = nil
	c.MitreTechniques = nil
	c.Regions = nil
	c.Severity = 0
	for _, e := range events {
		ips[e.AttackSourceIP] = true
		if e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
		c.AttackTypes = UnionStrings(c.AttackTypes, []string{e.AttackType})
		c.MitreTechniques = UnionStrings(c.MitreTechniques, e.MitreTechniques)
		if e.Region != "" {
			c.Regions = UnionStrings(c.Regions, []string{e.Region})
		}
		if e.Severity > c.Severity {
			c.Severity = e.Severity
		}
	}
	c.EventCount = len(events)
	c.UniqueIPs = len(ips)
	c.FirstSeen = first
	c.LastSeen = last
}
