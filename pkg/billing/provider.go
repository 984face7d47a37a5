// Package billing applies mid-cycle plan changes. The proration math
// itself lives in metergate and is pure; this package owns the side
// effects: posting the net adjustment to a payment provider and moving
// the subscription to the new plan's price.
package billing

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrProviderNotConfigured is returned when required provider
	// configuration is missing.
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrUnknownPrice is returned when a plan has no mapped provider price.
	ErrUnknownPrice = errors.New("no provider price mapped for plan")
)

// Adjustment is the billable outcome of a plan change.
type Adjustment struct {
	// CustomerID is the provider-side customer identifier.
	CustomerID string

	// SubscriptionID is the provider-side subscription identifier.
	SubscriptionID string

	// AmountCents is the net amount: positive charges the customer,
	// negative credits them. Zero adjustments are not sent.
	AmountCents int64

	// Currency is the ISO currency code (e.g. "usd").
	Currency string

	// Description appears on the customer's invoice.
	Description string
}

// Provider is the payment-processor contract. Implementations post
// adjustments and move subscriptions between plan prices; they never
// compute proration themselves.
type Provider interface {
	// Name returns the provider name (e.g. "stripe").
	Name() string

	// ApplyAdjustment posts a one-off charge or credit to the customer's
	// next invoice.
	ApplyAdjustment(ctx context.Context, adj Adjustment) error

	// UpdateSubscriptionPlan moves the subscription to the price mapped
	// for newPlanID.
	UpdateSubscriptionPlan(ctx context.Context, subscriptionID, newPlanID string) error
}

// PlanChangeRequest describes a requested mid-cycle plan change.
type PlanChangeRequest struct {
	UserID         string
	CustomerID     string
	SubscriptionID string
	OldPlanID      string
	NewPlanID      string

	// CycleEnd is when the current billing cycle ends. Zero means the
	// cycle end is unknown and a full cycle is assumed remaining.
	CycleEnd time.Time
}
