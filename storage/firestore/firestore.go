// Package firestore provides a Firestore implementation of the metergate
// storage contracts. Counters and usage fields are mutated with
// firestore.Increment field transforms, which are atomic server-side.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/scribehub/metergate/pkg/metergate"
)

// Store implements metergate.CounterStore, metergate.UsageStore and
// metergate.PlanSource using Google Cloud Firestore.
type Store struct {
	client             *firestore.Client
	countersCollection string
	usageCollection    string
	plansCollection    string
}

// Config holds Firestore store configuration.
type Config struct {
	// CountersCollection holds window counters (default: "window_counters").
	CountersCollection string

	// UsageCollection holds monthly usage docs (default: "monthly_usage").
	UsageCollection string

	// PlansCollection holds the plan catalog (default: "plans").
	PlansCollection string
}

// New creates a new Firestore store adapter.
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.CountersCollection == "" {
		config.CountersCollection = "window_counters"
	}
	if config.UsageCollection == "" {
		config.UsageCollection = "monthly_usage"
	}
	if config.PlansCollection == "" {
		config.PlansCollection = "plans"
	}
	return &Store{
		client:             client,
		countersCollection: config.CountersCollection,
		usageCollection:    config.UsageCollection,
		plansCollection:    config.PlansCollection,
	}, nil
}

type counterDoc struct {
	Count     int64     `firestore:"count"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

// GetCount implements metergate.CounterStore.
func (s *Store) GetCount(ctx context.Context, key string) (int64, bool, error) {
	snap, err := s.counterRef(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get counter: %w", err)
	}

	var doc counterDoc
	if err := snap.DataTo(&doc); err != nil {
		return 0, false, fmt.Errorf("failed to decode counter: %w", err)
	}
	return doc.Count, true, nil
}

// Increment implements metergate.CounterStore using a server-side
// Increment transform; Set with MergeAll creates the doc when absent.
func (s *Store) Increment(ctx context.Context, key string, expiresAt time.Time) (int64, error) {
	ref := s.counterRef(key)
	_, err := ref.Set(ctx, map[string]interface{}{
		"count":      firestore.Increment(1),
		"expires_at": expiresAt.UTC(),
	}, firestore.MergeAll)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read counter after increment: %w", err)
	}
	var doc counterDoc
	if err := snap.DataTo(&doc); err != nil {
		return 0, fmt.Errorf("failed to decode counter: %w", err)
	}
	return doc.Count, nil
}

// DeleteExpired implements metergate.CounterStore.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := s.client.Collection(s.countersCollection).
		Where("expires_at", "<=", before.UTC()).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("failed to query expired counters: %w", err)
	}

	var removed int64
	writer := s.client.BulkWriter(ctx)
	for _, snap := range snaps {
		if _, err := writer.Delete(snap.Ref); err != nil {
			return removed, fmt.Errorf("failed to delete counter: %w", err)
		}
		removed++
	}
	writer.End()
	return removed, nil
}

type usageDoc struct {
	UserID           string    `firestore:"user_id"`
	Month            time.Time `firestore:"month"`
	ContentGenerated int       `firestore:"content_generated"`
	SentimentUsed    int       `firestore:"sentiment_used"`
	KeywordsUsed     int       `firestore:"keywords_used"`
	SummariesUsed    int       `firestore:"summaries_used"`
	APICalls         int       `firestore:"api_calls"`
	UpdatedAt        time.Time `firestore:"updated_at"`
}

var usageFields = map[metergate.Feature]string{
	metergate.FeatureContent:   "content_generated",
	metergate.FeatureSentiment: "sentiment_used",
	metergate.FeatureKeywords:  "keywords_used",
	metergate.FeatureSummaries: "summaries_used",
	metergate.FeatureAPIAccess: "api_calls",
}

// GetMonthlyUsage implements metergate.UsageStore.
func (s *Store) GetMonthlyUsage(ctx context.Context, userID string, month time.Time) (*metergate.MonthlyUsage, error) {
	snap, err := s.usageRef(userID, month).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil // No usage yet is not an error
		}
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}

	var doc usageDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode usage: %w", err)
	}
	return &metergate.MonthlyUsage{
		UserID:           doc.UserID,
		Month:            doc.Month.UTC(),
		ContentGenerated: doc.ContentGenerated,
		SentimentUsed:    doc.SentimentUsed,
		KeywordsUsed:     doc.KeywordsUsed,
		SummariesUsed:    doc.SummariesUsed,
		APICalls:         doc.APICalls,
		UpdatedAt:        doc.UpdatedAt.UTC(),
	}, nil
}

// IncrementUsage implements metergate.UsageStore.
func (s *Store) IncrementUsage(
	ctx context.Context, userID string, month time.Time, feature metergate.Feature, delta int,
) (*metergate.MonthlyUsage, error) {
	if delta < 0 {
		return nil, metergate.ErrInvalidAmount
	}
	field, ok := usageFields[feature]
	if !ok {
		return nil, fmt.Errorf("%w: %s", metergate.ErrUnknownFeature, feature)
	}

	normalized := metergate.MonthOf(month)
	_, err := s.usageRef(userID, normalized).Set(ctx, map[string]interface{}{
		"user_id":    userID,
		"month":      normalized,
		field:        firestore.Increment(delta),
		"updated_at": time.Now().UTC(),
	}, firestore.MergeAll)
	if err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}

	return s.GetMonthlyUsage(ctx, userID, normalized)
}

type planDoc struct {
	Name             string          `firestore:"name"`
	MonthlyPrice     float64         `firestore:"monthly_price"`
	MaxContentLength int             `firestore:"max_content_length"`
	Quotas           map[string]int  `firestore:"quotas"`
	Flags            map[string]bool `firestore:"flags"`
}

// ListPlans implements metergate.PlanSource.
func (s *Store) ListPlans(ctx context.Context) ([]metergate.Plan, error) {
	snaps, err := s.client.Collection(s.plansCollection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	var plans []metergate.Plan
	for _, snap := range snaps {
		var doc planDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode plan: %w", err)
		}

		plan := metergate.Plan{
			ID:               snap.Ref.ID,
			Name:             doc.Name,
			MonthlyPrice:     doc.MonthlyPrice,
			MaxContentLength: doc.MaxContentLength,
			Quotas:           make(map[metergate.Feature]int, len(doc.Quotas)),
			Flags:            make(map[metergate.Feature]bool, len(doc.Flags)),
		}
		for k, v := range doc.Quotas {
			plan.Quotas[metergate.Feature(k)] = v
		}
		for k, v := range doc.Flags {
			plan.Flags[metergate.Feature(k)] = v
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// Close closes the Firestore client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) counterRef(key string) *firestore.DocumentRef {
	return s.client.Collection(s.countersCollection).Doc(key)
}

func (s *Store) usageRef(userID string, month time.Time) *firestore.DocumentRef {
	docID := fmt.Sprintf("%s_%s", userID, metergate.MonthOf(month).Format("2006-01"))
	return s.client.Collection(s.usageCollection).Doc(docID)
}
