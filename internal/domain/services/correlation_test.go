package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatmesh/internal/config"
	"threatmesh/internal/domain/models"
	"threatmesh/pkg/logger"
)

func newCorrelationFixture(cfg config.CorrelationConfig) (*Stores, *CorrelationEngine) {
	_, stores := newMemStores()
	engine := NewCorrelationEngine(stores, nil, nil, cfg, logger.Nop())
	return stores, engine
}

func seedEvent(t *testing.T, stores *Stores, ip, attackType string, techniques []string, ts time.Time) *models.EnrichedThreatEvent {
	t.Helper()
	ev := &models.EnrichedThreatEvent{
		SourceType:      models.SourceTypeGuard,
		AttackSourceIP:  ip,
		AttackType:      attackType,
		MitreTechniques: techniques,
		Timestamp:       ts,
		ReceivedAt:      ts,
		Severity:        5,
	}
	ev.EventHash = models.ComputeEventHash(ev)
	require.NoError(t, stores.Events.Insert(context.Background(), ev))
	return ev
}

func TestIPClusterBelowThreshold(t *testing.T) {
	stores, engine := newCorrelationFixture(config.CorrelationConfig{
		ScanWindow:           24 * time.Hour,
		TimeWindow:           time.Hour,
		MinEventsForCampaign: 5,
	})
	base := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 4; i++ {
		seedEvent(t, stores, "203.0.113.0", "brute_force", []string{"T1110"}, base.Add(time.Duration(i)*time.Minute))
	}

	result, err := engine.ScanForCampaigns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.NewCampaigns)
	assert.Equal(t, 0, result.EventsCorrelated)
}

func TestIPClusterAtThreshold(t *testing.T) {
	stores, engine := newCorrelationFixture(config.CorrelationConfig{
		ScanWindow:           24 * time.Hour,
		TimeWindow:           time.Hour,
		MinEventsForCampaign: 5,
	})
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 5; i++ {
		seedEvent(t, stores, "203.0.113.0", "brute_force", []string{"T1110"}, base.Add(time.Duration(i)*time.Minute))
	}

	result, err := engine.ScanForCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewCampaigns)
	assert.Equal(t, 5, result.EventsCorrelated)

	campaign, err := stores.Campaigns.FindActiveByKey(ctx, models.CampaignTypeIPCluster, "203.0.113.0")
	require.NoError(t, err)
	require.NotNil(t, campaign)
	assert.Equal(t, 5, campaign.EventCount)
	assert.Equal(t, 1, campaign.UniqueIPs)
	assert.Equal(t, []string{"brute_force"}, campaign.AttackTypes)
	assert.Equal(t, models.CampaignStatusActive, campaign.Status)
}

func TestTimeWindowSplitsClusters(t *testing.T) {
	stores, engine := newCorrelationFixture(config.CorrelationConfig{
		ScanWindow:           48 * time.Hour,
		TimeWindow:           time.Hour,
		MinEventsForCampaign: 3,
	})
	base := time.Now().Add(-24 * time.Hour)
	// three tight events, a five hour gap, then two stragglers
	for i := 0; i < 3; i++ {
		seedEvent(t, stores, "203.0.113.0", "brute_force", []string{"T1110"}, base.Add(time.Duration(i)*time.Minute))
	}
	seedEvent(t, stores, "203.0.113.0", "brute_force", []string{"T1110"}, base.Add(5*time.Hour))
	seedEvent(t, stores, "203.0.113.0", "brute_force", []string{"T1110"}, base.Add(5*time.Hour+time.Minute))

	result, err := engine.ScanForCampaigns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewCampaigns, "the straggler cluster is below threshold on its own")
	assert.Equal(t, 3, result.EventsCorrelated)
}

func TestPatternClusterNeedsDistinctSources(t *testing.T) {
	cfg := config.CorrelationConfig{
		ScanWindow:               24 * time.Hour,
		TimeWindow:               time.Hour,
		MinEventsForCampaign:     3,
		MinIPsForPatternCampaign: 3,
	}

	t.Run("two sources is not enough", func(t *testing.T) {
		stores, engine := newCorrelationFixture(cfg)
		base := time.Now().Add(-2 * time.Hour)
		seedEvent(t, stores, "203.0.113.0", "sql_injection", []string{"T1190"}, base)
		seedEvent(t, stores, "198.51.100.0", "sql_injection", []string{"T1190"}, base.Add(time.Minute))
		seedEvent(t, stores, "203.0.113.0", "sql_injection", []string{"T1190"}, base.Add(2*time.Minute))

		result, err := engine.ScanForCampaigns(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, result.NewCampaigns)
	})

	t.Run("three sources qualifies", func(t *testing.T) {
		stores, engine := newCorrelationFixture(cfg)
		ctx := context.Background()
		base := time.Now().Add(-2 * time.Hour)
		seedEvent(t, stores, "203.0.113.0", "sql_injection", []string{"T1190"}, base)
		seedEvent(t, stores, "198.51.100.0", "sql_injection", []string{"T1190"}, base.Add(time.Minute))
		seedEvent(t, stores, "192.0.2.0", "sql_injection", []string{"T1190"}, base.Add(2*time.Minute))

		result, err := engine.ScanForCampaigns(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.NewCampaigns)

		hash := models.ComputePatternHash("sql_injection", []string{"T1190"})
		campaign, err := stores.Campaigns.FindActiveByKey(ctx, models.CampaignTypePatternCluster, hash)
		require.NoError(t, err)
		require.NotNil(t, campaign)
		assert.Equal(t, 3, campaign.UniqueIPs)
	})
}

func TestCampaignAssignmentIsWriteOnce(t *testing.T) {
	stores, engine := newCorrelationFixture(config.CorrelationConfig{
		ScanWindow:           24 * time.Hour,
		TimeWindow:           time.Hour,
		MinEventsForCampaign: 3,
	})
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)
	events := make([]*models.EnrichedThreatEvent, 3)
	for i := range events {
		events[i] = seedEvent(t, stores, "203.0.113.0", "brute_force", []string{"T1110"}, base.Add(time.Duration(i)*time.Minute))
	}

	_, err := engine.ScanForCampaigns(ctx)
	require.NoError(t, err)

	first, err := stores.Events.GetByID(ctx, events[0].ID)
	require.NoError(t, err)
	require.NotNil(t, first.CampaignID)
	original := *first.CampaignID

	// a second sweep claims nothing and moves no one
	result, err := engine.ScanForCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.NewCampaigns)
	assert.Equal(t, 0, result.EventsCorrelated)

	first, err = stores.Events.GetByID(ctx, events[0].ID)
	require.NoError(t, err)
	assert.Equal(t, original, *first.CampaignID)
}

func TestActiveCampaignExtends(t *testing.T) {
	stores, engine := newCorrelationFixture(config.CorrelationConfig{
		ScanWindow:           24 * time.Hour,
		TimeWindow:           time.Hour,
		MinEventsForCampaign: 3,
	})
	ctx := context.Background()
	base := time.Now().Add(-3 * time.Hour)
	for i := 0; i < 3; i++ {
		seedEvent(t, stores, "203.0.113.0", "brute_force", []string{"T1110"}, base.Add(time.Duration(i)*time.Minute))
	}
	result, err := engine.ScanForCampaigns(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.NewCampaigns)

	// the same address resumes within the time window of its last event
	for i := 0; i < 3; i++ {
		seedEvent(t, stores, "203.0.113.0", "scanner", []string{"T1595"}, base.Add(30*time.Minute+time.Duration(i)*time.Minute))
	}
	result, err = engine.ScanForCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.NewCampaigns)
	assert.Equal(t, 1, result.UpdatedCampaigns)
	assert.Equal(t, 3, result.EventsCorrelated)

	campaign, err := stores.Campaigns.FindActiveByKey(ctx, models.CampaignTypeIPCluster, "203.0.113.0")
	require.NoError(t, err)
	require.NotNil(t, campaign)
	assert.Equal(t, 6, campaign.EventCount)
	assert.ElementsMatch(t, []string{"brute_force", "scanner"}, campaign.AttackTypes)
}

func TestQuietGapStartsNewCampaign(t *testing.T) {
	stores, engine := newCorrelationFixture(config.CorrelationConfig{
		ScanWindow:           24 * time.Hour,
		TimeWindow:           time.Hour,
		MinEventsForCampaign: 3,
	})
	ctx := context.Background()
	base := time.Now().Add(-8 * time.Hour)
	// two bursts from the same address, five quiet hours apart
	for i := 0; i < 3; i++ {
		seedEvent(t, stores, "203.0.113.0", "brute_force", []string{"T1110"}, base.Add(time.Duration(i)*time.Minute))
	}
	for i := 0; i < 3; i++ {
		seedEvent(t, stores, "203.0.113.0", "brute_force", []string{"T1110"}, base.Add(5*time.Hour+time.Duration(i)*time.Minute))
	}

	result, err := engine.ScanForCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewCampaigns, "bursts separated by more than the window never merge")
	assert.Equal(t, 6, result.EventsCorrelated)

	campaigns, total, err := stores.Campaigns.List(ctx, models.CampaignStatusActive, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, campaigns, 2)

	// the freshest campaign is the extension candidate for new activity
	latest, err := stores.Campaigns.FindActiveByKey(ctx, models.CampaignTypeIPCluster, "203.0.113.0")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.WithinDuration(t, base.Add(5*time.Hour+2*time.Minute), latest.LastSeen, time.Second)
}

func TestPatternClusterIgnoresEventVolume(t *testing.T) {
	stores, engine := newCorrelationFixture(config.CorrelationConfig{
		ScanWindow:               24 * time.Hour,
		TimeWindow:               time.Hour,
		MinEventsForCampaign:     5,
		MinIPsForPatternCampaign: 3,
	})
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)
	// three events from three addresses: far below the per-address
	// floor, but spread wide enough to matter as a pattern
	seedEvent(t, stores, "203.0.113.0", "sql_injection", []string{"T1190"}, base)
	seedEvent(t, stores, "198.51.100.0", "sql_injection", []string{"T1190"}, base.Add(time.Minute))
	seedEvent(t, stores, "192.0.2.0", "sql_injection", []string{"T1190"}, base.Add(2*time.Minute))

	result, err := engine.ScanForCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewCampaigns)

	hash := models.ComputePatternHash("sql_injection", []string{"T1190"})
	campaign, err := stores.Campaigns.FindActiveByKey(ctx, models.CampaignTypePatternCluster, hash)
	require.NoError(t, err)
	require.NotNil(t, campaign)
	assert.Equal(t, models.CampaignTypePatternCluster, campaign.Type)
	assert.Equal(t, 3, campaign.UniqueIPs)
}

func TestIPPassRunsBeforePatternPass(t *testing.T) {
	stores, engine := newCorrelationFixture(config.CorrelationConfig{
		ScanWindow:               24 * time.Hour,
		TimeWindow:               time.Hour,
		MinEventsForCampaign:     3,
		MinIPsForPatternCampaign: 3,
	})
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)
	// one address dense enough for the IP pass, sharing a pattern with
	// two other addresses
	for i := 0; i < 3; i++ {
		seedEvent(t, stores, "203.0.113.0", "xss", []string{"T1059"}, base.Add(time.Duration(i)*time.Minute))
	}
	seedEvent(t, stores, "198.51.100.0", "xss", []string{"T1059"}, base)
	seedEvent(t, stores, "192.0.2.0", "xss", []string{"T1059"}, base.Add(time.Minute))

	result, err := engine.ScanForCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewCampaigns, "claimed events never reach the pattern pass")

	campaign, err := stores.Campaigns.FindActiveByKey(ctx, models.CampaignTypeIPCluster, "203.0.113.0")
	require.NoError(t, err)
	assert.NotNil(t, campaign)
}

func TestAssignmentRunsInBatches(t *testing.T) {
	stores, engine := newCorrelationFixture(config.CorrelationConfig{
		ScanWindow:           24 * time.Hour,
		TimeWindow:           time.Hour,
		MinEventsForCampaign: 3,
		AssignBatchSize:      2,
	})
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 5; i++ {
		seedEvent(t, stores, "203.0.113.0", "brute_force", []string{"T1110"}, base.Add(time.Duration(i)*time.Minute))
	}

	result, err := engine.ScanForCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewCampaigns)
	assert.Equal(t, 5, result.EventsCorrelated, "every event lands even when assignment is chunked")

	campaign, err := stores.Campaigns.FindActiveByKey(ctx, models.CampaignTypeIPCluster, "203.0.113.0")
	require.NoError(t, err)
	require.NotNil(t, campaign)
	assert.Equal(t, 5, campaign.EventCount)
}

func TestCampaignNameMentionsSource(t *testing.T) {
	stores, engine := newCorrelationFixture(config.CorrelationConfig{
		ScanWindow:           24 * time.Hour,
		TimeWindow:           time.Hour,
		MinEventsForCampaign: 3,
	})
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 3; i++ {
		seedEvent(t, stores, "203.0.113.0", "dos", []string{"T1498"}, base.Add(time.Duration(i)*time.Minute))
	}
	_, err := engine.ScanForCampaigns(ctx)
	require.NoError(t, err)

	campaign, err := stores.Campaigns.FindActiveByKey(ctx, models.CampaignTypeIPCluster, "203.0.113.0")
	require.NoError(t, err)
	require.NotNil(t, campaign)
	assert.Equal(t, fmt.Sprintf("Recurring activity from %s", "203.0.113.0"), campaign.Name)
}
