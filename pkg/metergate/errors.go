package metergate

import "errors"

var (
	// ErrStoreUnavailable is returned when a backing store cannot be
	// reached. Expected denials never use it; see the fail-open notes on
	// Limiter and Tracker.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrInvalidAmount is returned for negative usage deltas.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnknownFeature is returned for a feature the core does not meter.
	ErrUnknownFeature = errors.New("unknown feature")

	// ErrNoPlans is returned when a PlanSource yields an empty catalog.
	ErrNoPlans = errors.New("plan source returned no plans")
)
