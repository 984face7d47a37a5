// Package stripe implements the billing.Provider interface for Stripe.
package stripe

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/scribehub/metergate/pkg/billing"
)

const providerName = "stripe"

// Config holds Stripe provider configuration.
type Config struct {
	// APIKey is the Stripe secret key (required).
	APIKey string

	// PriceMapping maps plan identifiers to Stripe price IDs (required
	// for UpdateSubscriptionPlan).
	PriceMapping map[string]string
}

// Provider implements billing.Provider using the Stripe API.
type Provider struct {
	client       *stripe.Client
	priceMapping map[string]string
}

// NewProvider creates a new Stripe billing provider.
func NewProvider(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}
	return &Provider{
		client:       stripe.NewClient(config.APIKey),
		priceMapping: config.PriceMapping,
	}, nil
}

// Name implements billing.Provider.
func (p *Provider) Name() string {
	return providerName
}

// ApplyAdjustment implements billing.Provider by creating a one-off
// invoice item; Stripe folds it into the customer's next invoice.
// Negative amounts become credits.
func (p *Provider) ApplyAdjustment(ctx context.Context, adj billing.Adjustment) error {
	if adj.CustomerID == "" {
		return fmt.Errorf("customer ID is required")
	}
	if adj.AmountCents == 0 {
		return nil
	}

	params := &stripe.InvoiceItemCreateParams{
		Customer:    stripe.String(adj.CustomerID),
		Amount:      stripe.Int64(adj.AmountCents),
		Currency:    stripe.String(adj.Currency),
		Description: stripe.String(adj.Description),
	}
	if _, err := p.client.V1InvoiceItems.Create(ctx, params); err != nil {
		return fmt.Errorf("failed to create invoice item: %w", err)
	}
	return nil
}

// UpdateSubscriptionPlan implements billing.Provider by swapping the
// subscription's single item to the new plan's price. Proration is
// disabled on the Stripe side: the adjustment was already posted by
// ApplyAdjustment, and double-prorating would overcharge.
func (p *Provider) UpdateSubscriptionPlan(ctx context.Context, subscriptionID, newPlanID string) error {
	priceID, ok := p.priceMapping[newPlanID]
	if !ok {
		return fmt.Errorf("%w: %s", billing.ErrUnknownPrice, newPlanID)
	}

	sub, err := p.client.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}
	if len(sub.Items.Data) == 0 {
		return fmt.Errorf("subscription %s has no items", subscriptionID)
	}

	params := &stripe.SubscriptionUpdateParams{
		Items: []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(sub.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("none"),
	}
	if _, err := p.client.V1Subscriptions.Update(ctx, subscriptionID, params); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}
