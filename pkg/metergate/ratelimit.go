package metergate

import (
	"context"
	"sync/atomic"
	"time"
)

// Limiter enforces fixed-window rate limits against a CounterStore.
//
// A denied attempt never increments its counter, so a client hammering
// past the limit cannot pin the counter above it and Remaining stays
// accurate for well-behaved retries. On store errors the limiter fails
// open: a throttling outage must never block the product.
type Limiter struct {
	counters CounterStore
	limits   RateLimitTable
	logger   Logger
	metrics  Metrics

	now func() time.Time

	// inOutage tracks whether the store is currently failing, so the
	// outage is logged once per episode instead of once per request.
	inOutage atomic.Bool
}

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	// Limits is the per-plan window budget table (default: DefaultRateLimits).
	Limits RateLimitTable

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics tracks check outcomes (default: NoopMetrics).
	Metrics Metrics

	// Now overrides the clock, for tests (default: time.Now).
	Now func() time.Time
}

// NewLimiter creates a rate limiter backed by the given counter store.
func NewLimiter(counters CounterStore, config LimiterConfig) (*Limiter, error) {
	if counters == nil {
		return nil, ErrStoreUnavailable
	}
	if config.Limits == nil {
		config.Limits = DefaultRateLimits()
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Limiter{
		counters: counters,
		limits:   config.Limits,
		logger:   config.Logger,
		metrics:  config.Metrics,
		now:      config.Now,
	}, nil
}

// CheckAndConsume evaluates one window class for a subject and, when the
// budget allows, consumes one request from it.
func (l *Limiter) CheckAndConsume(ctx context.Context, subject Subject, planID string, class LimitClass) RateLimitDecision {
	rule, ok := l.limits.Rule(planID, class)
	if !ok {
		// No budget configured for this class: nothing to enforce.
		return RateLimitDecision{Allowed: true, Class: class, Limit: 0, Remaining: 0, ResetAt: WindowEnd(l.now(), class.WindowSize())}
	}

	decision, proceed := l.checkWindow(ctx, subject, class, rule)
	if !proceed || !decision.Allowed {
		l.metrics.RecordRateLimitCheck(class, decision.Allowed)
		return decision
	}

	decision = l.consumeWindow(ctx, subject, class, rule, decision)
	l.metrics.RecordRateLimitCheck(class, decision.Allowed)
	return decision
}

// Allow evaluates every configured window class for a plan, cheapest
// horizon first, and consumes from all of them only when every check
// passes. A violation of either window increments neither counter, so a
// denied request costs the client nothing.
func (l *Limiter) Allow(ctx context.Context, subject Subject, planID string) RateLimitDecision {
	classes := []LimitClass{ClassMinute, ClassHour}

	type pending struct {
		class    LimitClass
		rule     LimitRule
		decision RateLimitDecision
	}
	checks := make([]pending, 0, len(classes))
	tightest := RateLimitDecision{Allowed: true, ResetAt: WindowEnd(l.now(), ClassMinute.WindowSize())}
	first := true

	for _, class := range classes {
		rule, ok := l.limits.Rule(planID, class)
		if !ok {
			continue
		}
		decision, proceed := l.checkWindow(ctx, subject, class, rule)
		if !decision.Allowed {
			l.metrics.RecordRateLimitCheck(class, false)
			return decision
		}
		if proceed {
			checks = append(checks, pending{class: class, rule: rule, decision: decision})
		} else if first || decision.Remaining < tightest.Remaining {
			// Store failure: the fail-open decision stands without a
			// consume.
			tightest = decision
			first = false
		}
	}

	// Every window passed; consume from each.
	for _, p := range checks {
		decision := l.consumeWindow(ctx, subject, p.class, p.rule, p.decision)
		l.metrics.RecordRateLimitCheck(p.class, decision.Allowed)
		if first || decision.Remaining < tightest.Remaining {
			tightest = decision
			first = false
		}
	}
	return tightest
}

// checkWindow reads the current window count without consuming.
// proceed is false when the store failed and the fail-open decision is
// already final.
func (l *Limiter) checkWindow(ctx context.Context, subject Subject, class LimitClass, rule LimitRule) (RateLimitDecision, bool) {
	size := class.WindowSize()
	now := l.now()
	start := WindowStart(now, size)
	resetAt := start.Add(size)
	key := CounterKey(subject, class, start, size)

	began := time.Now()
	count, _, err := l.counters.GetCount(ctx, key)
	l.metrics.RecordStoreOperation("counter_get", time.Since(began), err)
	if err != nil {
		l.failOpen(err)
		return RateLimitDecision{
			Allowed:   true,
			Class:     class,
			Limit:     rule.MaxRequests,
			Remaining: rule.MaxRequests,
			ResetAt:   resetAt,
		}, false
	}
	l.storeRecovered()

	if count >= int64(rule.MaxRequests) {
		return RateLimitDecision{
			Allowed:   false,
			Class:     class,
			Limit:     rule.MaxRequests,
			Remaining: 0,
			ResetAt:   resetAt,
		}, true
	}

	return RateLimitDecision{
		Allowed:   true,
		Class:     class,
		Limit:     rule.MaxRequests,
		Remaining: rule.MaxRequests - int(count) - 1,
		ResetAt:   resetAt,
	}, true
}

// consumeWindow increments the window counter after a passing check.
func (l *Limiter) consumeWindow(ctx context.Context, subject Subject, class LimitClass, rule LimitRule, checked RateLimitDecision) RateLimitDecision {
	size := class.WindowSize()
	start := WindowStart(l.now(), size)
	key := CounterKey(subject, class, start, size)

	began := time.Now()
	newCount, err := l.counters.Increment(ctx, key, start.Add(size))
	l.metrics.RecordStoreOperation("counter_increment", time.Since(began), err)
	if err != nil {
		// The check already passed; losing the increment only makes the
		// limiter slightly more permissive, which matches fail-open.
		l.failOpen(err)
		return checked
	}
	l.storeRecovered()

	remaining := rule.MaxRequests - int(newCount)
	if remaining < 0 {
		remaining = 0
	}
	checked.Remaining = remaining
	return checked
}

// SweepExpired garbage-collects counters from windows that ended before
// now. Safe to run from a cron or maintenance goroutine; new windows use
// fresh keys, so this never affects correctness.
func (l *Limiter) SweepExpired(ctx context.Context) (int64, error) {
	return l.counters.DeleteExpired(ctx, l.now())
}

func (l *Limiter) failOpen(err error) {
	l.metrics.RecordFailOpen("rate_limiter")
	if l.inOutage.CompareAndSwap(false, true) {
		l.logger.Warn("counter store unavailable, rate limiting failing open",
			Field{Key: "error", Value: err.Error()})
	}
}

func (l *Limiter) storeRecovered() {
	if l.inOutage.CompareAndSwap(true, false) {
		l.logger.Info("counter store recovered, rate limiting re-enabled")
	}
}
