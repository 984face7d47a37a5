package metergate

// LimitRule is the request budget for one window class.
type LimitRule struct {
	MaxRequests int
}

// PlanRateLimits holds the per-class budgets for one plan. Throttling
// is configured separately from the Catalog's monthly quotas: a
// short-horizon burst budget is independent from the billing-cycle cap.
type PlanRateLimits map[LimitClass]LimitRule

// RateLimitTable maps plan identifiers to their window budgets.
// Tables are built once and injected; the limiter never mutates them.
type RateLimitTable map[string]PlanRateLimits

// Rule resolves the budget for a plan and class, falling back to the
// free plan's budget for unknown plan identifiers.
func (t RateLimitTable) Rule(planID string, class LimitClass) (LimitRule, bool) {
	limits, ok := t[planID]
	if !ok {
		limits, ok = t[FreePlanID]
		if !ok {
			return LimitRule{}, false
		}
	}
	rule, ok := limits[class]
	return rule, ok
}

// DefaultRateLimits returns the built-in per-plan window budgets.
func DefaultRateLimits() RateLimitTable {
	return RateLimitTable{
		FreePlanID: {
			ClassMinute: {MaxRequests: 10},
			ClassHour:   {MaxRequests: 100},
		},
		"basic": {
			ClassMinute: {MaxRequests: 30},
			ClassHour:   {MaxRequests: 500},
		},
		"professional": {
			ClassMinute: {MaxRequests: 100},
			ClassHour:   {MaxRequests: 2000},
		},
		"enterprise": {
			ClassMinute: {MaxRequests: 300},
			ClassHour:   {MaxRequests: 10000},
		},
	}
}
