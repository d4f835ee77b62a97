package models

import (
	"time"

	"github.com/google/uuid"
)

// SightingType classifies one observation of an indicator
type SightingType string

const (
	SightingPositive      SightingType = "positive"
	SightingNegative      SightingType = "negative"
	SightingFalsePositive SightingType = "false_positive"
)

// Well-known sighting sources written by the ingestion pipeline
const (
	SightingSourceGuard       = "agent:guard"
	SightingSourceTrap        = "agent:trap"
	SightingSourceCrossSource = "cross-source-correlation"
)

// ValidSightingType reports whether s is one of the three kinds
func ValidSightingType(s SightingType) bool {
	switch s {
	case SightingPositive, SightingNegative, SightingFalsePositive:
		return true
	}
	return false
}

// Sighting is a single append-only observation referencing an IoC
type Sighting struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	IoCID      uuid.UUID    `json:"ioc_id" db:"ioc_id"`
	Type       SightingType `json:"type" db:"type"`
	Source     string       `json:"source" db:"source"`
	Confidence float64      `json:"confidence" db:"confidence"`
	Details    string       `json:"details,omitempty" db:"details"`
	ActorHash  string       `json:"actor_hash,omitempty" db:"actor_hash"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// SightingSummary aggregates the sighting history of one IoC
type SightingSummary struct {
	Total         int       `json:"total"`
	Positive      int       `json:"positive"`
	Negative      int       `json:"negative"`
	FalsePositive int       `json:"false_positive"`
	UniqueSources int       `json:"unique_sources"`
	LastSeen      time.Time `json:"last_seen"`
}

// ConfidenceDelta returns the confidence adjustment a sighting of the
// given type applies to its IoC. Cross-source corroboration carries a
// larger bonus than an ordinary positive.
func ConfidenceDelta(t SightingType, source string) float64 {
	switch t {
	case SightingPositive:
		if source == SightingSourceCrossSource {
			return 15
		}
		return 5
	case SightingNegative:
		return -10
	case SightingFalsePositive:
		return -25
	default:
		return 0
	}
}
