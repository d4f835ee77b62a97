package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// RuleIDPrefix prefixes every generated rule identifier
const RuleIDPrefix = "rule-"

// GeneratedRule is a detection rule synthesized from a recurring
// attack pattern. PatternHash is the dedup key: re-detecting the same
// pattern updates the existing rule.
type GeneratedRule struct {
	ID          string    `json:"rule_id" db:"id"`
	PatternHash string    `json:"pattern_hash" db:"pattern_hash"`
	Content     string    `json:"rule_content" db:"content"`
	Source      string    `json:"source" db:"source"`
	Occurrences int       `json:"occurrences" db:"occurrences"`
	PublishedAt time.Time `json:"published_at" db:"published_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ComputePatternHash builds the structural hash of an attack pattern.
// Techniques are deduplicated and sorted so ordering differences in
// the input can never fork the pattern identity.
func ComputePatternHash(attackType string, techniques []string) string {
	uniq := UnionStrings(nil, techniques)
	sort.Strings(uniq)
	canonical := attackType + "\n" + strings.Join(uniq, "\n")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// RuleIDForPattern derives the stable rule identifier for a pattern hash
func RuleIDForPattern(patternHash string) string {
	return RuleIDPrefix + patternHash[:12]
}
