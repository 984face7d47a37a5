package billing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/scribehub/metergate/pkg/metergate"
)

// ChangeQuote is what a plan change will cost. Preview and Apply build
// it from the same pure calculation, so what the user saw is exactly
// what gets billed.
type ChangeQuote struct {
	OldPlanID     string
	NewPlanID     string
	DaysRemaining int
	Proration     metergate.ProrationResult

	// NetCents is Proration.Net in integer cents, as sent to the provider.
	NetCents int64
}

// Service orchestrates plan changes against a payment provider.
type Service struct {
	catalog   *metergate.Catalog
	provider  Provider
	logger    metergate.Logger
	cycleDays int
	currency  string
	now       func() time.Time
}

// ServiceConfig configures a billing Service.
type ServiceConfig struct {
	// CycleDays is the billing cycle length (default: metergate.DefaultCycleDays).
	CycleDays int

	// Currency is the ISO currency code for adjustments (default: "usd").
	Currency string

	// Logger is used for structured logging (default: NoopLogger).
	Logger metergate.Logger

	// Now overrides the clock, for tests (default: time.Now).
	Now func() time.Time
}

// NewService creates a plan-change service. provider may be nil for a
// preview-only service; Apply then fails with ErrProviderNotConfigured.
func NewService(catalog *metergate.Catalog, provider Provider, config ServiceConfig) (*Service, error) {
	if catalog == nil {
		return nil, fmt.Errorf("plan catalog is required")
	}
	if config.CycleDays <= 0 {
		config.CycleDays = metergate.DefaultCycleDays
	}
	if config.Currency == "" {
		config.Currency = "usd"
	}
	if config.Logger == nil {
		config.Logger = &metergate.NoopLogger{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Service{
		catalog:   catalog,
		provider:  provider,
		logger:    config.Logger,
		cycleDays: config.CycleDays,
		currency:  config.Currency,
		now:       config.Now,
	}, nil
}

// Preview quotes a plan change without side effects.
func (s *Service) Preview(req PlanChangeRequest) ChangeQuote {
	oldPlan := s.catalog.Plan(req.OldPlanID)
	newPlan := s.catalog.Plan(req.NewPlanID)
	days := metergate.DaysRemaining(req.CycleEnd, s.now().UTC(), s.cycleDays)
	result := metergate.CalculateProrationWithCycle(oldPlan, newPlan, days, s.cycleDays)

	return ChangeQuote{
		OldPlanID:     oldPlan.ID,
		NewPlanID:     newPlan.ID,
		DaysRemaining: days,
		Proration:     result,
		NetCents:      toCents(result.Net),
	}
}

// Apply quotes the change, posts the net adjustment to the provider and
// moves the subscription to the new plan's price. A zero net amount
// skips the adjustment but still moves the subscription.
func (s *Service) Apply(ctx context.Context, req PlanChangeRequest) (ChangeQuote, error) {
	quote := s.Preview(req)
	if s.provider == nil {
		return quote, ErrProviderNotConfigured
	}
	if quote.OldPlanID == quote.NewPlanID {
		return quote, nil
	}

	if quote.NetCents != 0 {
		adj := Adjustment{
			CustomerID:     req.CustomerID,
			SubscriptionID: req.SubscriptionID,
			AmountCents:    quote.NetCents,
			Currency:       s.currency,
			Description: fmt.Sprintf("Plan change %s -> %s, %d days remaining",
				quote.OldPlanID, quote.NewPlanID, quote.DaysRemaining),
		}
		if err := s.provider.ApplyAdjustment(ctx, adj); err != nil {
			return quote, fmt.Errorf("apply proration adjustment: %w", err)
		}
	}

	if err := s.provider.UpdateSubscriptionPlan(ctx, req.SubscriptionID, quote.NewPlanID); err != nil {
		return quote, fmt.Errorf("update subscription plan: %w", err)
	}

	s.logger.Info("plan change applied",
		metergate.Field{Key: "user_id", Value: req.UserID},
		metergate.Field{Key: "old_plan", Value: quote.OldPlanID},
		metergate.Field{Key: "new_plan", Value: quote.NewPlanID},
		metergate.Field{Key: "net_cents", Value: quote.NetCents})
	return quote, nil
}

// toCents converts a 2-decimal dollar amount to integer cents, half
// away from zero, matching the proration rounding.
func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
