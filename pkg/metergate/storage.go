package metergate

import (
	"context"
	"fmt"
	"time"
)

// CounterStore is the durable window-counter collaborator. Keys are
// opaque strings combining subject, limit class, window start and window
// size (see CounterKey). Implementations must provide a true atomic
// increment; the core never does read-modify-write on a counter.
type CounterStore interface {
	// GetCount returns the current count for a key. A key that was never
	// incremented returns (0, false, nil).
	GetCount(ctx context.Context, key string) (int64, bool, error)

	// Increment atomically increments a counter, creating it at 1 if
	// absent, and returns the new count. expiresAt is the end of the
	// counter's window; stores may use it for TTLs or sweep queries.
	Increment(ctx context.Context, key string, expiresAt time.Time) (int64, error)

	// DeleteExpired removes counters whose window ended before the given
	// time and returns how many were removed. Maintenance only; new
	// windows use fresh keys, so correctness never depends on it.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// UsageStore is the monthly usage collaborator. One row per user per
// calendar month, created on first metered use.
type UsageStore interface {
	// GetMonthlyUsage returns the row for a user and month, or (nil, nil)
	// when the user has no metered use that month.
	GetMonthlyUsage(ctx context.Context, userID string, month time.Time) (*MonthlyUsage, error)

	// IncrementUsage atomically applies delta to one feature counter,
	// creating the row with zeroed counters first if absent, and returns
	// the updated row. Implementations must use the store's native
	// increment-or-create primitive, not read-then-overwrite.
	IncrementUsage(ctx context.Context, userID string, month time.Time, feature Feature, delta int) (*MonthlyUsage, error)
}

// PlanSource supplies the plan catalog at startup or refresh.
type PlanSource interface {
	ListPlans(ctx context.Context) ([]Plan, error)
}

// CounterKey builds the opaque key for a window counter.
func CounterKey(subject Subject, class LimitClass, windowStart time.Time, windowSize time.Duration) string {
	return fmt.Sprintf("%s:%s:%d:%d", subject.Key(), class, windowStart.Unix(), int64(windowSize.Seconds()))
}
