package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatmesh/internal/config"
	"threatmesh/internal/domain/models"
	"threatmesh/pkg/logger"
)

func testReputationConfig() config.ReputationConfig {
	return config.ReputationConfig{
		HalfLife: 7 * 24 * time.Hour,
		Weights: config.ReputationWeights{
			Volume:     0.20,
			Severity:   0.25,
			Recency:    0.25,
			Diversity:  0.15,
			Confidence: 0.15,
		},
	}
}

func TestScoreStaysInBounds(t *testing.T) {
	_, stores := newMemStores()
	engine := NewReputationEngine(stores, testReputationConfig(), logger.Nop())
	ctx := context.Background()

	ioc := &models.IoC{
		Type:            models.IoCTypeIP,
		Value:           "203.0.113.0",
		NormalizedValue: "203.0.113.0",
		Confidence:      100,
		Sightings:       1000,
		LastSeen:        time.Now(),
		Status:          models.IoCStatusActive,
	}
	require.NoError(t, stores.IoCs.Insert(ctx, ioc))

	score, err := engine.Score(ctx, ioc)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 100.0)
}

func TestScoreFreshVersusStale(t *testing.T) {
	_, stores := newMemStores()
	engine := NewReputationEngine(stores, testReputationConfig(), logger.Nop())
	ctx := context.Background()

	fresh := &models.IoC{
		Type: models.IoCTypeDomain, NormalizedValue: "fresh.example.com",
		Confidence: 50, Sightings: 3, LastSeen: time.Now(),
		Status: models.IoCStatusActive,
	}
	stale := &models.IoC{
		Type: models.IoCTypeDomain, NormalizedValue: "stale.example.com",
		Confidence: 50, Sightings: 3, LastSeen: time.Now().Add(-60 * 24 * time.Hour),
		Status: models.IoCStatusActive,
	}
	require.NoError(t, stores.IoCs.Insert(ctx, fresh))
	require.NoError(t, stores.IoCs.Insert(ctx, stale))

	freshScore, err := engine.Score(ctx, fresh)
	require.NoError(t, err)
	staleScore, err := engine.Score(ctx, stale)
	require.NoError(t, err)
	assert.Greater(t, freshScore, staleScore)
}

func TestRecencyHalfLife(t *testing.T) {
	_, stores := newMemStores()
	engine := NewReputationEngine(stores, testReputationConfig(), logger.Nop())

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine.nowFn = func() time.Time { return now }

	assert.InDelta(t, 1.0, engine.recencyScore(now), 1e-9)
	assert.InDelta(t, 0.5, engine.recencyScore(now.Add(-7*24*time.Hour)), 1e-9)
	assert.InDelta(t, 0.25, engine.recencyScore(now.Add(-14*24*time.Hour)), 1e-9)
	assert.Zero(t, engine.recencyScore(time.Time{}))
}

func TestVolumeScoreSaturates(t *testing.T) {
	_, stores := newMemStores()
	engine := NewReputationEngine(stores, testReputationConfig(), logger.Nop())

	assert.Zero(t, engine.volumeScore(0))
	assert.Greater(t, engine.volumeScore(10), engine.volumeScore(2))
	assert.Equal(t, 1.0, engine.volumeScore(100))
	assert.Equal(t, 1.0, engine.volumeScore(100000))
}

func TestSeverityOnlyConsultedForIPs(t *testing.T) {
	_, stores := newMemStores()
	engine := NewReputationEngine(stores, testReputationConfig(), logger.Nop())
	ctx := context.Background()

	ev := &models.EnrichedThreatEvent{
		SourceType:     models.SourceTypeGuard,
		AttackSourceIP: "shared-key",
		AttackType:     "command_injection",
		Timestamp:      time.Now(),
		Severity:       9,
	}
	ev.EventHash = models.ComputeEventHash(ev)
	require.NoError(t, stores.Events.Insert(ctx, ev))

	ip := &models.IoC{
		Type: models.IoCTypeIP, NormalizedValue: "shared-key",
		Confidence: 50, Sightings: 1, LastSeen: time.Now(),
		Status: models.IoCStatusActive,
	}
	domain := &models.IoC{
		Type: models.IoCTypeDomain, NormalizedValue: "shared-key",
		Confidence: 50, Sightings: 1, LastSeen: time.Now(),
		Status: models.IoCStatusActive,
	}
	require.NoError(t, stores.IoCs.Insert(ctx, ip))
	require.NoError(t, stores.IoCs.Insert(ctx, domain))

	ipScore, err := engine.Score(ctx, ip)
	require.NoError(t, err)
	domainScore, err := engine.Score(ctx, domain)
	require.NoError(t, err)
	assert.Greater(t, ipScore, domainScore, "event severity feeds only address scoring")
}

func TestRunOnceSkipsRevoked(t *testing.T) {
	_, stores := newMemStores()
	engine := NewReputationEngine(stores, testReputationConfig(), logger.Nop())
	ctx := context.Background()

	active := &models.IoC{
		Type: models.IoCTypeIP, NormalizedValue: "203.0.113.0",
		Confidence: 50, Sightings: 2, LastSeen: time.Now(),
		Status: models.IoCStatusActive,
	}
	revoked := &models.IoC{
		Type: models.IoCTypeIP, NormalizedValue: "198.51.100.0",
		Confidence: 50, Sightings: 2, LastSeen: time.Now(),
		Status: models.IoCStatusRevoked,
	}
	require.NoError(t, stores.IoCs.Insert(ctx, active))
	require.NoError(t, stores.IoCs.Insert(ctx, revoked))

	result, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scored)

	scored, err := stores.IoCs.GetByID(ctx, active.ID)
	require.NoError(t, err)
	assert.Greater(t, scored.ReputationScore, 0.0)

	untouched, err := stores.IoCs.GetByID(ctx, revoked.ID)
	require.NoError(t, err)
	assert.Zero(t, untouched.ReputationScore)
}
