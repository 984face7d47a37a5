package metergate

import (
	"math"
	"time"
)

// DefaultCycleDays is the billing cycle length used when none is given.
const DefaultCycleDays = 30

// CalculateProration computes the billing adjustment for a mid-cycle
// plan change over the default 30-day cycle.
//
// The function is pure: it performs no I/O and has no side effects, so
// the billing path and any "preview this change" path call the same
// code and agree bit-for-bit. Whether and how the net amount is charged
// is the caller's concern.
func CalculateProration(oldPlan, newPlan Plan, daysRemaining int) ProrationResult {
	return CalculateProrationWithCycle(oldPlan, newPlan, daysRemaining, DefaultCycleDays)
}

// CalculateProrationWithCycle is CalculateProration with an explicit
// cycle length. daysRemaining is clamped to [0, cycleDays].
//
// credit is the value of unused time on the old plan, charge is the
// cost of the same remaining time at the new rate, and net is
// charge - credit: positive for an upgrade, negative for a downgrade,
// zero when the prices match. All three are rounded to 2 decimal places
// using round-half-away-from-zero.
func CalculateProrationWithCycle(oldPlan, newPlan Plan, daysRemaining, cycleDays int) ProrationResult {
	if cycleDays <= 0 {
		cycleDays = DefaultCycleDays
	}
	if daysRemaining < 0 {
		daysRemaining = 0
	}
	if daysRemaining > cycleDays {
		daysRemaining = cycleDays
	}

	days := float64(daysRemaining)
	cycle := float64(cycleDays)
	credit := oldPlan.MonthlyPrice / cycle * days
	charge := newPlan.MonthlyPrice / cycle * days

	return ProrationResult{
		Credit: round2(credit),
		Charge: round2(charge),
		Net:    round2(charge - credit),
	}
}

// DaysRemaining converts a subscription's cycle-end timestamp into the
// whole days left in the cycle, clamped to [0, cycleDays]. A zero
// cycleEnd (no stored cycle end) counts as a full cycle remaining.
func DaysRemaining(cycleEnd, now time.Time, cycleDays int) int {
	if cycleDays <= 0 {
		cycleDays = DefaultCycleDays
	}
	if cycleEnd.IsZero() {
		return cycleDays
	}
	remaining := cycleEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(math.Ceil(remaining.Hours() / 24))
	if days > cycleDays {
		days = cycleDays
	}
	return days
}

// round2 rounds to 2 decimal places, half away from zero.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
