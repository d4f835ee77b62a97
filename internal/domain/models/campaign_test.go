package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCampaignRecompute(t *testing.T) {
	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	events := []*EnrichedThreatEvent{
		{AttackSourceIP: "203.0.113.0", AttackType: "brute_force", MitreTechniques: []string{"T1110"}, Region: "eu-west", Severity: 5, Timestamp: t0.Add(time.Hour)},
		{AttackSourceIP: "198.51.100.0", AttackType: "scanner", MitreTechniques: []string{"T1595", "T1110"}, Region: "us-east", Severity: 3, Timestamp: t0},
		{AttackSourceIP: "203.0.113.0", AttackType: "brute_force", MitreTechniques: []string{"T1110"}, Severity: 8, Timestamp: t0.Add(2 * time.Hour)},
	}

	c := &Campaign{Severity: 1}
	c.Recompute(events)

	assert.Equal(t, 3, c.EventCount)
	assert.Equal(t, 2, c.UniqueIPs)
	assert.Equal(t, t0, c.FirstSeen)
	assert.Equal(t, t0.Add(2*time.Hour), c.LastSeen)
	assert.ElementsMatch(t, []string{"brute_force", "scanner"}, c.AttackTypes)
	assert.ElementsMatch(t, []string{"T1110", "T1595"}, c.MitreTechniques)
	assert.ElementsMatch(t, []string{"eu-west", "us-east"}, c.Regions)
	assert.Equal(t, 8, c.Severity, "severity is the member maximum")
}

func TestCampaignRecomputeIgnoresEmpty(t *testing.T) {
	c := &Campaign{EventCount: 4, Severity: 7}
	c.Recompute(nil)
	assert.Equal(t, 4, c.EventCount, "no members means no change")
	assert.Equal(t, 7, c.Severity)
}
