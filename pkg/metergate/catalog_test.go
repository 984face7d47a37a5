package metergate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribehub/metergate/pkg/metergate"
)

type staticPlanSource struct {
	plans []metergate.Plan
	err   error
	calls int
}

func (s *staticPlanSource) ListPlans(ctx context.Context) ([]metergate.Plan, error) {
	s.calls++
	return s.plans, s.err
}

func TestCatalog_Plan_KnownID(t *testing.T) {
	catalog := metergate.NewCatalog(metergate.DefaultPlans())

	plan := catalog.Plan("professional")
	assert.Equal(t, "professional", plan.ID)
	assert.InDelta(t, 29.99, plan.MonthlyPrice, 0.001)
	assert.Equal(t, 250, plan.QuotaFor(metergate.FeatureContent))
}

func TestCatalog_Plan_UnknownIDFallsBackToFree(t *testing.T) {
	catalog := metergate.NewCatalog(metergate.DefaultPlans())

	plan := catalog.Plan("gold-legacy-2019")
	assert.Equal(t, metergate.FreePlanID, plan.ID)
	assert.Equal(t, 5, plan.QuotaFor(metergate.FeatureContent))
}

func TestCatalog_Plan_EmptyIDFallsBackToFree(t *testing.T) {
	catalog := metergate.NewCatalog(metergate.DefaultPlans())
	assert.Equal(t, metergate.FreePlanID, catalog.Plan("").ID)
}

func TestNewCatalog_InjectsFreePlanWhenMissing(t *testing.T) {
	catalog := metergate.NewCatalog([]metergate.Plan{
		{ID: "custom", Name: "Custom", MonthlyPrice: 42},
	})

	plan := catalog.Plan("nope")
	assert.Equal(t, metergate.FreePlanID, plan.ID)
	assert.Len(t, catalog.Plans(), 2)
}

func TestPlan_QuotaFor_MissingEntryIsUnlimited(t *testing.T) {
	plan := metergate.Plan{
		ID:     "p",
		Quotas: map[metergate.Feature]int{metergate.FeatureContent: 10},
	}

	assert.Equal(t, 10, plan.QuotaFor(metergate.FeatureContent))
	assert.Equal(t, metergate.Unlimited, plan.QuotaFor(metergate.FeatureSentiment))
}

func TestPlan_Allows(t *testing.T) {
	catalog := metergate.NewCatalog(metergate.DefaultPlans())

	free := catalog.Plan("free")
	assert.True(t, free.Allows(metergate.FeatureContent))
	assert.False(t, free.Allows(metergate.FeatureSentiment))
	assert.False(t, free.Allows(metergate.FeatureAPIAccess))

	enterprise := catalog.Plan("enterprise")
	for _, feature := range metergate.Features {
		assert.True(t, enterprise.Allows(feature), "feature %s", feature)
	}
}

func TestNewCatalogFromSource(t *testing.T) {
	source := &staticPlanSource{plans: metergate.DefaultPlans()}

	catalog, err := metergate.NewCatalogFromSource(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, "basic", catalog.Plan("basic").ID)
}

func TestNewCatalogFromSource_EmptySource(t *testing.T) {
	source := &staticPlanSource{}

	_, err := metergate.NewCatalogFromSource(context.Background(), source)
	assert.ErrorIs(t, err, metergate.ErrNoPlans)
}

func TestNewCatalogFromSource_SourceError(t *testing.T) {
	source := &staticPlanSource{err: errors.New("db offline")}

	_, err := metergate.NewCatalogFromSource(context.Background(), source)
	assert.Error(t, err)
}

func TestCatalog_Refresh_SwapsPlans(t *testing.T) {
	source := &staticPlanSource{plans: metergate.DefaultPlans()}
	catalog, err := metergate.NewCatalogFromSource(context.Background(), source)
	require.NoError(t, err)

	updated := metergate.DefaultPlans()
	for i := range updated {
		if updated[i].ID == "basic" {
			updated[i].Quotas[metergate.FeatureContent] = 75
		}
	}
	source.plans = updated

	require.NoError(t, catalog.Refresh(context.Background()))
	assert.Equal(t, 75, catalog.Plan("basic").QuotaFor(metergate.FeatureContent))
}

func TestCatalog_Refresh_KeepsOldPlansOnError(t *testing.T) {
	source := &staticPlanSource{plans: metergate.DefaultPlans()}
	catalog, err := metergate.NewCatalogFromSource(context.Background(), source)
	require.NoError(t, err)

	source.plans = nil
	source.err = errors.New("db offline")

	assert.Error(t, catalog.Refresh(context.Background()))
	assert.Equal(t, "basic", catalog.Plan("basic").ID)
}

func TestCatalog_Refresh_WithoutSourceIsNoop(t *testing.T) {
	catalog := metergate.NewCatalog(metergate.DefaultPlans())
	assert.NoError(t, catalog.Refresh(context.Background()))
}
