package metergate

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// FreePlanID is the catalog's fallback plan. Every lookup resolves to a
// concrete plan; an unknown identifier gets the free plan's limits
// rather than an error that would block the request.
const FreePlanID = "free"

// Catalog is an immutable plan lookup. Plans are loaded once (or
// swapped wholesale on Refresh) and reads are safe for unsynchronized
// concurrent access.
type Catalog struct {
	plans  atomic.Pointer[map[string]Plan]
	source PlanSource
	group  singleflight.Group
}

// NewCatalog builds a catalog from a fixed plan list. The list must
// contain a plan with ID FreePlanID; if it does not, the built-in free
// plan is added so lookups always have a fallback.
func NewCatalog(plans []Plan) *Catalog {
	c := &Catalog{}
	c.plans.Store(indexPlans(plans))
	return c
}

// NewCatalogFromSource loads the catalog from a PlanSource. The source
// is retained so Refresh can re-read it.
func NewCatalogFromSource(ctx context.Context, source PlanSource) (*Catalog, error) {
	plans, err := source.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, ErrNoPlans
	}
	c := NewCatalog(plans)
	c.source = source
	return c, nil
}

// Plan resolves a plan identifier. Never fails: unknown identifiers
// return the free plan.
func (c *Catalog) Plan(planID string) Plan {
	idx := *c.plans.Load()
	if plan, ok := idx[planID]; ok {
		return plan
	}
	return idx[FreePlanID]
}

// Plans returns the catalog's plans in unspecified order.
func (c *Catalog) Plans() []Plan {
	idx := *c.plans.Load()
	out := make([]Plan, 0, len(idx))
	for _, p := range idx {
		out = append(out, p)
	}
	return out
}

// Refresh re-reads the PlanSource and atomically swaps the catalog.
// Concurrent callers share one in-flight load. A catalog built without
// a source is a no-op.
func (c *Catalog) Refresh(ctx context.Context) error {
	if c.source == nil {
		return nil
	}
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		plans, err := c.source.ListPlans(ctx)
		if err != nil {
			return nil, err
		}
		if len(plans) == 0 {
			return nil, ErrNoPlans
		}
		c.plans.Store(indexPlans(plans))
		return nil, nil
	})
	return err
}

func indexPlans(plans []Plan) *map[string]Plan {
	idx := make(map[string]Plan, len(plans)+1)
	for _, p := range plans {
		idx[p.ID] = p
	}
	if _, ok := idx[FreePlanID]; !ok {
		idx[FreePlanID] = freePlan()
	}
	return &idx
}

// DefaultPlans returns the built-in plan catalog for the platform's
// four tiers.
func DefaultPlans() []Plan {
	return []Plan{
		freePlan(),
		{
			ID:               "basic",
			Name:             "Basic",
			MonthlyPrice:     9.99,
			MaxContentLength: 5000,
			Quotas: map[Feature]int{
				FeatureContent: 50,
			},
			Flags: map[Feature]bool{
				FeatureContent:   true,
				FeatureSentiment: true,
				FeatureKeywords:  true,
			},
		},
		{
			ID:               "professional",
			Name:             "Professional",
			MonthlyPrice:     29.99,
			MaxContentLength: 20000,
			Quotas: map[Feature]int{
				FeatureContent: 250,
			},
			Flags: map[Feature]bool{
				FeatureContent:   true,
				FeatureSentiment: true,
				FeatureKeywords:  true,
				FeatureSummaries: true,
				FeatureAPIAccess: true,
			},
		},
		{
			ID:               "enterprise",
			Name:             "Enterprise",
			MonthlyPrice:     99.99,
			MaxContentLength: 100000,
			Quotas: map[Feature]int{
				FeatureContent: Unlimited,
			},
			Flags: map[Feature]bool{
				FeatureContent:   true,
				FeatureSentiment: true,
				FeatureKeywords:  true,
				FeatureSummaries: true,
				FeatureAPIAccess: true,
			},
		},
	}
}

func freePlan() Plan {
	return Plan{
		ID:               FreePlanID,
		Name:             "Free",
		MonthlyPrice:     0,
		MaxContentLength: 1000,
		Quotas: map[Feature]int{
			FeatureContent: 5,
		},
		Flags: map[Feature]bool{
			FeatureContent: true,
		},
	}
}
