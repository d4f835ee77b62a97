package models

import (
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IoCType represents the type of an indicator of compromise
type IoCType string

const (
	IoCTypeIP         IoCType = "ip"
	IoCTypeDomain     IoCType = "domain"
	IoCTypeURL        IoCType = "url"
	IoCTypeHashMD5    IoCType = "hash_md5"
	IoCTypeHashSHA1   IoCType = "hash_sha1"
	IoCTypeHashSHA256 IoCType = "hash_sha256"
)

// IoCStatus represents the lifecycle status of an indicator
type IoCStatus string

const (
	IoCStatusActive      IoCStatus = "active"
	IoCStatusExpired     IoCStatus = "expired"
	IoCStatusRevoked     IoCStatus = "revoked"
	IoCStatusUnderReview IoCStatus = "under_review"
)

// Metadata carries the known enrichment fields plus an opaque
// key/value bag for anything a source sends that we do not model.
type Metadata struct {
	ServiceType    string            `json:"service_type,omitempty"`
	SkillLevel     string            `json:"skill_level,omitempty"`
	Intent         string            `json:"intent,omitempty"`
	Tools          []string          `json:"tools,omitempty"`
	TopCredentials []string          `json:"top_credentials,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// IsZero reports whether no metadata field is set
func (m Metadata) IsZero() bool {
	return m.ServiceType == "" && m.SkillLevel == "" && m.Intent == "" &&
		len(m.Tools) == 0 && len(m.TopCredentials) == 0 && len(m.Extra) == 0
}

// Merge folds another metadata blob into this one. Scalar fields are
// overwritten only when the incoming value is non-empty; list and map
// fields are unioned.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m
	if other.ServiceType != "" {
		out.ServiceType = other.ServiceType
	}
	if other.SkillLevel != "" {
		out.SkillLevel = other.SkillLevel
	}
	if other.Intent != "" {
		out.Intent = other.Intent
	}
	out.Tools = UnionStrings(m.Tools, other.Tools)
	out.TopCredentials = UnionStrings(m.TopCredentials, other.TopCredentials)
	if len(other.Extra) > 0 {
		merged := make(map[string]string, len(m.Extra)+len(other.Extra))
		for k, v := range m.Extra {
			merged[k] = v
		}
		for k, v := range other.Extra {
			merged[k] = v
		}
		out.Extra = merged
	}
	return out
}

// IoC represents a single deduplicated indicator of compromise.
// The dedup key is (Type, NormalizedValue).
type IoC struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Type            IoCType   `json:"type" db:"type"`
	Value           string    `json:"value" db:"value"`
	NormalizedValue string    `json:"normalized_value" db:"normalized_value"`
	ThreatType      string    `json:"threat_type,omitempty" db:"threat_type"`
	Source          string    `json:"source" db:"source"`
	Confidence      float64   `json:"confidence" db:"confidence"`
	ReputationScore float64   `json:"reputation_score" db:"reputation_score"`
	FirstSeen       time.Time `json:"first_seen" db:"first_seen"`
	LastSeen        time.Time `json:"last_seen" db:"last_seen"`
	Sightings       int       `json:"sightings" db:"sightings"`
	Status          IoCStatus `json:"status" db:"status"`
	Tags            []string  `json:"tags,omitempty" db:"tags"`
	Metadata        Metadata  `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// IoCFilter represents filter options for searching indicators
type IoCFilter struct {
	Type          IoCType
	Source        string
	Status        IoCStatus
	MinReputation float64
	Since         *time.Time
	Search        string
	Limit         int
	Offset        int
}

// IoCPage is one page of a search result
type IoCPage struct {
	Items   []*IoC `json:"items"`
	Total   int64  `json:"total"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasMore bool   `json:"has_more"`
}

var (
	ipv4Re   = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
	domainRe = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)
	hexRe    = regexp.MustCompile(`^[0-9a-f]+$`)
)

// DetectIoCType infers the indicator type from the value's syntax.
// Returns an empty type when nothing matches. Detection tolerates the
// same syntactic noise NormalizeIoCValue strips, so a variant that
// would dedup to a known form is never rejected as undetectable.
func DetectIoCType(value string) IoCType {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case ipv4Re.MatchString(v) && net.ParseIP(v) != nil:
		return IoCTypeIP
	case strings.Contains(v, "://") || strings.HasPrefix(v, "www."):
		return IoCTypeURL
	case hexRe.MatchString(v) && len(v) == 32:
		return IoCTypeHashMD5
	case hexRe.MatchString(v) && len(v) == 40:
		return IoCTypeHashSHA1
	case hexRe.MatchString(v) && len(v) == 64:
		return IoCTypeHashSHA256
	case domainRe.MatchString(strings.TrimSuffix(v, ".")):
		return IoCTypeDomain
	default:
		return ""
	}
}

// NormalizeIoCValue canonicalizes a value for the given type so that
// syntactic variants of the same indicator dedup to one row.
func NormalizeIoCValue(t IoCType, value string) string {
	v := strings.TrimSpace(value)
	switch t {
	case IoCTypeIP:
		if ip := net.ParseIP(v); ip != nil {
			return ip.String()
		}
		return v
	case IoCTypeDomain:
		return strings.TrimSuffix(strings.ToLower(v), ".")
	case IoCTypeURL:
		return strings.TrimSuffix(strings.ToLower(v), "/")
	case IoCTypeHashMD5, IoCTypeHashSHA1, IoCTypeHashSHA256:
		return strings.ToLower(v)
	default:
		return strings.ToLower(v)
	}
}

// ClampScore clamps a confidence or reputation value into [0,100]
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// UnionStrings merges two string slices preserving first-seen order
// and dropping duplicates.
func UnionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
