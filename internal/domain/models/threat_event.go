package models

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceType identifies the kind of agent that produced an observation
type SourceType string

const (
	SourceTypeGuard        SourceType = "guard"
	SourceTypeTrap         SourceType = "trap"
	SourceTypeExternalFeed SourceType = "external_feed"
)

// EnrichedThreatEvent is the normalized, deduplicated record of one
// ingested attack observation. EventHash is unique across the table;
// CampaignID is write-once.
type EnrichedThreatEvent struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	SourceType      SourceType `json:"source_type" db:"source_type"`
	AttackSourceIP  string     `json:"attack_source_ip" db:"attack_source_ip"`
	AttackType      string     `json:"attack_type" db:"attack_type"`
	MitreTechniques []string   `json:"mitre_techniques,omitempty" db:"mitre_techniques"`
	SigmaRule       string     `json:"sigma_rule,omitempty" db:"sigma_rule"`
	Timestamp       time.Time  `json:"timestamp" db:"timestamp"`
	Region          string     `json:"region,omitempty" db:"region"`
	Industry        string     `json:"industry,omitempty" db:"industry"`
	Confidence      float64    `json:"confidence" db:"confidence"`
	Severity        int        `json:"severity" db:"severity"`
	EventHash       string     `json:"event_hash" db:"event_hash"`
	CampaignID      *uuid.UUID `json:"campaign_id,omitempty" db:"campaign_id"`
	ReceivedAt      time.Time  `json:"received_at" db:"received_at"`
}

// AnonymizeIP zeroes the host portion of an attacker address before it
// is persisted: the last octet for IPv4, the last segment for IPv6.
// Unparseable input is returned unchanged.
func AnonymizeIP(value string) string {
	ip := net.ParseIP(strings.TrimSpace(value))
	if ip == nil {
		return value
	}
	if v4 := ip.To4(); v4 != nil {
		v4[3] = 0
		return v4.String()
	}
	v6 := ip.To16()
	v6[14] = 0
	v6[15] = 0
	return v6.String()
}

// ComputeEventHash builds the content hash used for idempotent
// ingestion. The canonical form is the anonymized source IP, attack
// type, sorted unique techniques, second-truncated UTC timestamp,
// region and source type joined by "|".
func ComputeEventHash(e *EnrichedThreatEvent) string {
	techniques := append([]string(nil), e.MitreTechniques...)
	sort.Strings(techniques)
	parts := []string{
		e.AttackSourceIP,
		e.AttackType,
		strings.Join(techniques, ","),
		e.Timestamp.UTC().Truncate(time.Second).Format(time.RFC3339),
		e.Region,
		string(e.SourceType),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
