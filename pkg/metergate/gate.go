// Package metergate is the quota and rate-limit enforcement core for a
// metered, plan-tiered SaaS. It gates every metered operation behind a
// monthly usage quota tied to the subject's subscription plan and
// short-horizon fixed-window rate limits, and carries the proration
// calculator that must agree with quota enforcement when plans change
// mid-cycle.
//
// The core is stateless logic over externally persisted counters: all
// mutation goes through a backing store's atomic increment primitive
// (see CounterStore and UsageStore), so many processes can enforce the
// same limits concurrently.
package metergate

import (
	"context"
)

// Gate is the single entry point request handlers call to authorize a
// metered operation. It orchestrates the feature gate, the rate limiter
// and the quota tracker, cheapest check first, and returns a structured
// Decision rather than an error for expected denials.
//
// The gate never records usage itself: the caller performs the metered
// operation after an allow and calls Tracker.RecordUsage only on its
// success, so failed downstream work never consumes quota.
type Gate struct {
	catalog *Catalog
	limiter *Limiter
	tracker *Tracker
}

// AuthorizeRequest identifies one attempted metered operation.
type AuthorizeRequest struct {
	// Subject is the rate-limit principal (user or API key).
	Subject Subject
	// UserID owns the monthly quota; for API-key subjects this is the
	// key's owning account.
	UserID string
	// PlanID is the subject's active plan.
	PlanID string
	// Feature is the metered capability being invoked.
	Feature Feature
}

// NewGate assembles the enforcement facade.
func NewGate(catalog *Catalog, limiter *Limiter, tracker *Tracker) (*Gate, error) {
	if catalog == nil || limiter == nil || tracker == nil {
		return nil, ErrStoreUnavailable
	}
	return &Gate{catalog: catalog, limiter: limiter, tracker: tracker}, nil
}

// Authorize answers "may this subject perform this metered operation
// right now?". Checks short-circuit on the first failure:
//
//  1. plan feature flag
//  2. rate limits (minute window, then hour window)
//  3. monthly quota
//
// A denied rate limit carries the violated window's ResetAt for client
// backoff.
func (g *Gate) Authorize(ctx context.Context, req AuthorizeRequest) Decision {
	plan := g.catalog.Plan(req.PlanID)
	if !plan.Allows(req.Feature) {
		return Decision{Allowed: false, Reason: ReasonFeatureNotAvailable}
	}

	rl := g.limiter.Allow(ctx, req.Subject, plan.ID)
	if !rl.Allowed {
		return Decision{Allowed: false, Reason: ReasonRateLimited, RateLimit: &rl}
	}

	quota := g.tracker.CheckQuota(ctx, req.UserID, plan.ID, req.Feature)
	if !quota.Allowed {
		return Decision{Allowed: false, Reason: ReasonQuotaExceeded, RateLimit: &rl, Quota: &quota}
	}

	return Decision{Allowed: true, RateLimit: &rl, Quota: &quota}
}

// Catalog exposes the gate's plan catalog.
func (g *Gate) Catalog() *Catalog { return g.catalog }

// Tracker exposes the gate's usage tracker, for post-success recording.
func (g *Gate) Tracker() *Tracker { return g.tracker }
