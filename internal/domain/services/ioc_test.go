package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatmesh/internal/domain/models"
	"threatmesh/pkg/logger"
)

func TestObserveCreatesIndicator(t *testing.T) {
	_, stores := newMemStores()
	svc := NewIoCService(stores, nil, logger.Nop())

	res, err := svc.Observe(context.Background(), IoCObservation{
		Value:      "203.0.113.0",
		ThreatType: "brute_force",
		Source:     "agent:guard",
		Confidence: 60,
		Tags:       []string{"ssh"},
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, models.IoCTypeIP, res.IoC.Type)
	assert.Equal(t, "203.0.113.0", res.IoC.NormalizedValue)
	assert.Equal(t, 1, res.IoC.Sightings)
	assert.Equal(t, models.IoCStatusActive, res.IoC.Status)
	assert.Equal(t, 60.0, res.IoC.Confidence)
}

func TestObserveDefaultsConfidence(t *testing.T) {
	_, stores := newMemStores()
	svc := NewIoCService(stores, nil, logger.Nop())

	res, err := svc.Observe(context.Background(), IoCObservation{
		Value:  "evil.example.com",
		Source: "external:feed",
	})
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.IoC.Confidence)
}

func TestObserveDeduplicates(t *testing.T) {
	_, stores := newMemStores()
	svc := NewIoCService(stores, nil, logger.Nop())
	ctx := context.Background()

	first, err := svc.Observe(ctx, IoCObservation{
		Value:      "Evil.Example.COM.",
		Source:     "agent:guard",
		Confidence: 40,
		Tags:       []string{"phishing"},
	})
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := svc.Observe(ctx, IoCObservation{
		Value:      "evil.example.com",
		Source:     "agent:trap",
		Confidence: 70,
		Tags:       []string{"malware", "phishing"},
	})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.IoC.ID, second.IoC.ID)
	assert.Equal(t, 2, second.IoC.Sightings)
	assert.Equal(t, 70.0, second.IoC.Confidence, "higher confidence wins")
	assert.ElementsMatch(t, []string{"phishing", "malware"}, second.IoC.Tags)
}

func TestObserveLowerConfidenceDoesNotDowngrade(t *testing.T) {
	_, stores := newMemStores()
	svc := NewIoCService(stores, nil, logger.Nop())
	ctx := context.Background()

	_, err := svc.Observe(ctx, IoCObservation{Value: "198.51.100.0", Source: "a", Confidence: 80})
	require.NoError(t, err)

	res, err := svc.Observe(ctx, IoCObservation{Value: "198.51.100.0", Source: "b", Confidence: 30})
	require.NoError(t, err)
	assert.Equal(t, 80.0, res.IoC.Confidence)
}

func TestObserveRevivesExpiredIndicator(t *testing.T) {
	_, stores := newMemStores()
	svc := NewIoCService(stores, nil, logger.Nop())
	ctx := context.Background()

	res, err := svc.Observe(ctx, IoCObservation{Value: "198.51.100.0", Source: "agent:guard"})
	require.NoError(t, err)
	require.NoError(t, stores.IoCs.SetStatus(ctx, res.IoC.ID, models.IoCStatusExpired))

	revived, err := svc.Observe(ctx, IoCObservation{Value: "198.51.100.0", Source: "agent:guard"})
	require.NoError(t, err)
	assert.Equal(t, models.IoCStatusActive, revived.IoC.Status)
}

func TestObserveTracksSeenWindow(t *testing.T) {
	_, stores := newMemStores()
	svc := NewIoCService(stores, nil, logger.Nop())
	ctx := context.Background()

	t1 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	t0 := t1.Add(-48 * time.Hour)
	t2 := t1.Add(24 * time.Hour)

	_, err := svc.Observe(ctx, IoCObservation{Value: "198.51.100.0", Source: "a", SeenAt: t1})
	require.NoError(t, err)
	_, err = svc.Observe(ctx, IoCObservation{Value: "198.51.100.0", Source: "a", SeenAt: t2})
	require.NoError(t, err)
	res, err := svc.Observe(ctx, IoCObservation{Value: "198.51.100.0", Source: "a", SeenAt: t0})
	require.NoError(t, err)

	assert.Equal(t, t0, res.IoC.FirstSeen)
	assert.Equal(t, t2, res.IoC.LastSeen)
}

func TestObserveRejectsInvalidInput(t *testing.T) {
	_, stores := newMemStores()
	svc := NewIoCService(stores, nil, logger.Nop())
	ctx := context.Background()

	_, err := svc.Observe(ctx, IoCObservation{Value: "   ", Source: "a"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Observe(ctx, IoCObservation{Value: "not an indicator at all!!", Source: "a"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLookupNormalizesBeforeMatching(t *testing.T) {
	_, stores := newMemStores()
	svc := NewIoCService(stores, nil, logger.Nop())
	ctx := context.Background()

	_, err := svc.Observe(ctx, IoCObservation{Value: "evil.example.com", Source: "a"})
	require.NoError(t, err)

	ioc, err := svc.Lookup(ctx, "", "EVIL.example.com.")
	require.NoError(t, err)
	assert.Equal(t, "evil.example.com", ioc.NormalizedValue)
}

func TestLookupUnknownValue(t *testing.T) {
	_, stores := newMemStores()
	svc := NewIoCService(stores, nil, logger.Nop())

	_, err := svc.Lookup(context.Background(), "", "203.0.113.0")
	assert.ErrorIs(t, err, ErrIoCNotFound)
}

func TestSearchCapsLimit(t *testing.T) {
	_, stores := newMemStores()
	svc := NewIoCService(stores, nil, logger.Nop())

	page, err := svc.Search(context.Background(), models.IoCFilter{Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, 100, page.Limit)
}
