package metergate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribehub/metergate/pkg/metergate"
	"github.com/scribehub/metergate/storage/memory"
)

func newTestGate(t *testing.T, clock *testClock) (*metergate.Gate, *memory.Store) {
	t.Helper()
	store := memory.New()
	catalog := metergate.NewCatalog(metergate.DefaultPlans())

	limiter, err := metergate.NewLimiter(store, metergate.LimiterConfig{Now: clock.Now})
	require.NoError(t, err)
	tracker, err := metergate.NewTracker(store, catalog, metergate.TrackerConfig{Now: clock.Now})
	require.NoError(t, err)
	t.Cleanup(tracker.Close)

	gate, err := metergate.NewGate(catalog, limiter, tracker)
	require.NoError(t, err)
	return gate, store
}

func contentRequest(userID, planID string) metergate.AuthorizeRequest {
	return metergate.AuthorizeRequest{
		Subject: metergate.UserSubject(userID),
		UserID:  userID,
		PlanID:  planID,
		Feature: metergate.FeatureContent,
	}
}

func TestGate_Authorize_Allowed(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	gate, _ := newTestGate(t, clock)

	decision := gate.Authorize(context.Background(), contentRequest("u1", "professional"))

	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
	require.NotNil(t, decision.RateLimit)
	assert.Equal(t, 99, decision.RateLimit.Remaining)
	require.NotNil(t, decision.Quota)
	assert.Equal(t, 250, decision.Quota.Limit)
}

func TestGate_Authorize_FeatureNotAvailable(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	gate, store := newTestGate(t, clock)
	ctx := context.Background()

	// Sentiment is not part of the free plan. The denial is a distinct
	// reason and consumes nothing.
	decision := gate.Authorize(ctx, metergate.AuthorizeRequest{
		Subject: metergate.UserSubject("u1"),
		UserID:  "u1",
		PlanID:  "free",
		Feature: metergate.FeatureSentiment,
	})

	assert.False(t, decision.Allowed)
	assert.Equal(t, metergate.ReasonFeatureNotAvailable, decision.Reason)
	assert.Nil(t, decision.RateLimit)
	assert.Nil(t, decision.Quota)

	// Rate-limit budget is untouched by the feature-gate denial.
	start := metergate.WindowStart(clock.Now(), time.Minute)
	key := metergate.CounterKey(metergate.UserSubject("u1"), metergate.ClassMinute, start, time.Minute)
	count, _, err := store.GetCount(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGate_Authorize_RateLimited(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	gate, _ := newTestGate(t, clock)
	ctx := context.Background()

	// Free plan: 10 requests per minute. Quota is 5, so record nothing
	// and let the limiter trip first on request 11.
	for i := 0; i < 10; i++ {
		require.True(t, gate.Authorize(ctx, contentRequest("u1", "free")).Allowed)
	}

	decision := gate.Authorize(ctx, contentRequest("u1", "free"))
	assert.False(t, decision.Allowed)
	assert.Equal(t, metergate.ReasonRateLimited, decision.Reason)
	require.NotNil(t, decision.RateLimit)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 31, 0, 0, time.UTC), decision.RateLimit.ResetAt)
}

func TestGate_Authorize_QuotaExceeded(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	gate, _ := newTestGate(t, clock)
	ctx := context.Background()
	tracker := gate.Tracker()

	for i := 0; i < 5; i++ {
		decision := gate.Authorize(ctx, contentRequest("u1", "free"))
		require.True(t, decision.Allowed, "use %d", i)
		require.NoError(t, tracker.RecordUsage(ctx, "u1", metergate.FeatureContent, 1))
		clock.Advance(10 * time.Second) // stay under the minute budget
	}

	decision := gate.Authorize(ctx, contentRequest("u1", "free"))
	assert.False(t, decision.Allowed)
	assert.Equal(t, metergate.ReasonQuotaExceeded, decision.Reason)
	require.NotNil(t, decision.Quota)
	assert.Equal(t, 5, decision.Quota.Used)
	assert.Equal(t, 5, decision.Quota.Limit)
}

func TestGate_Authorize_RateLimitDenialDoesNotTouchQuota(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	gate, _ := newTestGate(t, clock)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.True(t, gate.Authorize(ctx, contentRequest("u1", "free")).Allowed)
	}
	require.False(t, gate.Authorize(ctx, contentRequest("u1", "free")).Allowed)

	// Denied requests recorded nothing, so quota standing is untouched.
	usage, err := gate.Tracker().Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, usage.CountFor(metergate.FeatureContent))
}

func TestGate_Authorize_UnknownPlanGetsFreeLimits(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	gate, _ := newTestGate(t, clock)

	decision := gate.Authorize(context.Background(), contentRequest("u1", "retired-plan"))
	assert.True(t, decision.Allowed)
	require.NotNil(t, decision.RateLimit)
	assert.Equal(t, 10, decision.RateLimit.Limit)
	require.NotNil(t, decision.Quota)
	assert.Equal(t, 5, decision.Quota.Limit)
}

func TestGate_Authorize_UnlimitedQuotaStillRateLimited(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	gate, _ := newTestGate(t, clock)
	ctx := context.Background()

	// Enterprise content quota is unlimited, but its minute window is
	// still finite.
	for i := 0; i < 300; i++ {
		require.True(t, gate.Authorize(ctx, contentRequest("u1", "enterprise")).Allowed, "request %d", i)
	}
	decision := gate.Authorize(ctx, contentRequest("u1", "enterprise"))
	assert.False(t, decision.Allowed)
	assert.Equal(t, metergate.ReasonRateLimited, decision.Reason)
}

func TestNewGate_NilComponents(t *testing.T) {
	_, err := metergate.NewGate(nil, nil, nil)
	assert.Error(t, err)
}
