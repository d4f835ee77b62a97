package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatmesh/internal/config"
	"threatmesh/internal/domain/models"
	"threatmesh/pkg/logger"
)

// TestIntelligencePipeline drives the full chain: a burst of guard
// reports from one address becomes a deduplicated indicator with a
// sighting history, a campaign, a reputation score and finally a
// blocklist entry.
func TestIntelligencePipeline(t *testing.T) {
	_, stores := newMemStores()
	log := logger.Nop()
	ctx := context.Background()

	iocs := NewIoCService(stores, nil, log)
	sightings := NewSightingService(stores, log)
	ingest := NewIngestService(stores, iocs, sightings, nil, 0, log)
	correlation := NewCorrelationEngine(stores, nil, nil, config.CorrelationConfig{
		ScanWindow:           24 * time.Hour,
		TimeWindow:           time.Hour,
		MinEventsForCampaign: 5,
	}, log)
	reputation := NewReputationEngine(stores, testReputationConfig(), log)
	feeds := NewFeedService(stores, nil, config.FeedsConfig{DefaultMinReputation: 70}, log)
	stats := NewStatsService(stores, nil, log)

	base := time.Now().Add(-30 * time.Minute)
	for i := 0; i < 5; i++ {
		res, err := ingest.IngestGuardEvent(ctx, GuardEvent{
			AttackSourceIP: "203.0.113.77",
			AttackType:     "brute_force",
			MitreTechnique: "T1110",
			SigmaRule:      "ssh_brute_force",
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
			Region:         "eu-west",
		})
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
	}

	// one deduplicated indicator with the full observation history
	ioc, err := iocs.Lookup(ctx, models.IoCTypeIP, "203.0.113.0")
	require.NoError(t, err)
	assert.Equal(t, 5, ioc.Sightings)
	assert.Greater(t, ioc.Confidence, 60.0, "repeat matches raise confidence")

	// correlation promotes the burst to a campaign
	scan, err := correlation.ScanForCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, scan.NewCampaigns)
	assert.Equal(t, 5, scan.EventsCorrelated)

	campaign, err := stores.Campaigns.FindActiveByKey(ctx, models.CampaignTypeIPCluster, "203.0.113.0")
	require.NoError(t, err)
	require.NotNil(t, campaign)
	assert.Equal(t, 5, campaign.EventCount)
	assert.Equal(t, []string{"brute_force"}, campaign.AttackTypes)
	assert.Equal(t, 5, campaign.Severity, "campaign severity is the member maximum")

	// scoring lifts the indicator over the default feed threshold
	rep, err := reputation.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scored)

	scored, err := iocs.Get(ctx, ioc.ID)
	require.NoError(t, err)
	assert.Greater(t, scored.ReputationScore, 0.0)

	blocklist, err := feeds.IPBlocklist(ctx, scored.ReputationScore-1)
	require.NoError(t, err)
	assert.True(t, strings.Contains(blocklist, "203.0.113.0\n"))

	strict, err := feeds.IPBlocklist(ctx, scored.ReputationScore+1)
	require.NoError(t, err)
	assert.NotContains(t, strict, "203.0.113.0")

	// and the aggregate view sees all of it
	sys, err := stats.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sys.TotalIoCs)
	assert.Equal(t, int64(5), sys.TotalEvents)
	assert.Equal(t, int64(1), sys.Campaigns.TotalCount)
	assert.Equal(t, int64(5), sys.Campaigns.EventsLinked)
	assert.Greater(t, sys.TotalSightings, int64(0))
}
