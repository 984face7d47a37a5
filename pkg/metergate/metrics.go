package metergate

import "time"

// Metrics defines the interface for tracking enforcement operations.
type Metrics interface {
	// RecordRateLimitCheck records a window check and its outcome.
	RecordRateLimitCheck(class LimitClass, allowed bool)

	// RecordQuotaCheck records a monthly quota check and its outcome.
	RecordQuotaCheck(feature Feature, allowed bool)

	// RecordUsageWrite records a usage increment attempt.
	RecordUsageWrite(feature Feature, success bool)

	// RecordStoreOperation records the duration and status of a backing
	// store call (e.g. "counter_get", "usage_increment").
	RecordStoreOperation(operation string, duration time.Duration, err error)

	// RecordFailOpen records a fail-open allowance during a store outage.
	RecordFailOpen(component string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordRateLimitCheck(class LimitClass, allowed bool)                     {}
func (n *NoopMetrics) RecordQuotaCheck(feature Feature, allowed bool)                          {}
func (n *NoopMetrics) RecordUsageWrite(feature Feature, success bool)                          {}
func (n *NoopMetrics) RecordStoreOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordFailOpen(component string)                                         {}
