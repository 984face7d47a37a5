package metergate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Tracker maintains monthly, per-user usage counters and compares them
// against the plan catalog's caps.
//
// Reads fail open (a quota outage must not block the product), but
// writes do not: a dropped usage increment is under-billing, so failed
// RecordUsage calls are queued and retried instead of discarded. The
// asymmetry is deliberate.
type Tracker struct {
	usage   UsageStore
	catalog *Catalog
	logger  Logger
	metrics Metrics
	retry   *retryQueue
	now     func() time.Time

	inOutage atomic.Bool
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics tracks check and write outcomes (default: NoopMetrics).
	Metrics Metrics

	// RetryBuffer is the capacity of the failed-write queue (default: 256).
	RetryBuffer int

	// RetryAttempts is how many times a queued write is retried before
	// being dropped with an error log (default: 5).
	RetryAttempts int

	// RetryBackoff is the delay between retry attempts (default: 2s).
	RetryBackoff time.Duration

	// Now overrides the clock, for tests (default: time.Now).
	Now func() time.Time
}

// NewTracker creates a usage tracker over the given store and catalog.
// Call Close to drain the retry worker on shutdown.
func NewTracker(usage UsageStore, catalog *Catalog, config TrackerConfig) (*Tracker, error) {
	if usage == nil {
		return nil, ErrStoreUnavailable
	}
	if catalog == nil {
		catalog = NewCatalog(DefaultPlans())
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.RetryBuffer <= 0 {
		config.RetryBuffer = 256
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 5
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 2 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	t := &Tracker{
		usage:   usage,
		catalog: catalog,
		logger:  config.Logger,
		metrics: config.Metrics,
		now:     config.Now,
	}
	t.retry = newRetryQueue(t, config)
	return t, nil
}

// CheckQuota reports whether userID may perform one more use of feature
// under planID this month. An absent month row counts as zero usage; an
// Unlimited cap always allows. Store errors fail open and are logged.
func (t *Tracker) CheckQuota(ctx context.Context, userID, planID string, feature Feature) QuotaStatus {
	plan := t.catalog.Plan(planID)
	limit := plan.QuotaFor(feature)
	if limit == Unlimited {
		status := QuotaStatus{Allowed: true, Feature: feature, Used: 0, Limit: Unlimited}
		t.metrics.RecordQuotaCheck(feature, true)
		return status
	}

	month := MonthOf(t.now())
	began := time.Now()
	row, err := t.usage.GetMonthlyUsage(ctx, userID, month)
	t.metrics.RecordStoreOperation("usage_get", time.Since(began), err)
	if err != nil {
		t.failOpen(err)
		t.metrics.RecordQuotaCheck(feature, true)
		return QuotaStatus{Allowed: true, Feature: feature, Used: 0, Limit: limit}
	}
	t.storeRecovered()

	used := row.CountFor(feature)
	status := QuotaStatus{
		Allowed: used < limit,
		Feature: feature,
		Used:    used,
		Limit:   limit,
	}
	t.metrics.RecordQuotaCheck(feature, status.Allowed)
	return status
}

// RecordUsage increments a feature counter for the current month. Call
// it only after the metered operation has succeeded, so a failed
// downstream call never consumes quota. A store failure enqueues the
// increment for retry rather than dropping it.
func (t *Tracker) RecordUsage(ctx context.Context, userID string, feature Feature, delta int) error {
	if delta < 0 {
		return ErrInvalidAmount
	}
	if delta == 0 {
		return nil
	}
	if !knownFeature(feature) {
		return fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
	}

	month := MonthOf(t.now())
	began := time.Now()
	_, err := t.usage.IncrementUsage(ctx, userID, month, feature, delta)
	t.metrics.RecordStoreOperation("usage_increment", time.Since(began), err)
	t.metrics.RecordUsageWrite(feature, err == nil)
	if err != nil {
		t.logger.Warn("usage write failed, queueing for retry",
			Field{Key: "user_id", Value: userID},
			Field{Key: "feature", Value: string(feature)},
			Field{Key: "error", Value: err.Error()})
		t.retry.enqueue(pendingWrite{userID: userID, month: month, feature: feature, delta: delta})
		return fmt.Errorf("record usage: %w", ErrStoreUnavailable)
	}
	return nil
}

// Usage returns the full month row for a user, zeroed when absent.
func (t *Tracker) Usage(ctx context.Context, userID string) (*MonthlyUsage, error) {
	month := MonthOf(t.now())
	row, err := t.usage.GetMonthlyUsage(ctx, userID, month)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return &MonthlyUsage{UserID: userID, Month: month}, nil
	}
	return row, nil
}

// Close stops the retry worker, flushing queued writes first.
func (t *Tracker) Close() {
	t.retry.close()
}

func (t *Tracker) failOpen(err error) {
	t.metrics.RecordFailOpen("quota_tracker")
	if t.inOutage.CompareAndSwap(false, true) {
		t.logger.Warn("usage store unavailable, quota checks failing open",
			Field{Key: "error", Value: err.Error()})
	}
}

func (t *Tracker) storeRecovered() {
	if t.inOutage.CompareAndSwap(true, false) {
		t.logger.Info("usage store recovered, quota checks re-enabled")
	}
}

func knownFeature(f Feature) bool {
	for _, known := range Features {
		if f == known {
			return true
		}
	}
	return false
}
