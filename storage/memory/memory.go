// Package memory provides in-memory implementations of the metergate
// storage contracts. Primarily intended for testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/scribehub/metergate/pkg/metergate"
)

type counter struct {
	count     int64
	expiresAt time.Time
}

// Store implements metergate.CounterStore, metergate.UsageStore and
// metergate.PlanSource using in-memory maps.
type Store struct {
	mu       sync.Mutex
	counters map[string]*counter
	usage    map[string]*metergate.MonthlyUsage
	plans    []metergate.Plan
}

// New creates a new in-memory store seeded with the default plan catalog.
func New() *Store {
	return &Store{
		counters: make(map[string]*counter),
		usage:    make(map[string]*metergate.MonthlyUsage),
		plans:    metergate.DefaultPlans(),
	}
}

// SetPlans replaces the plan list returned by ListPlans.
func (s *Store) SetPlans(plans []metergate.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = append([]metergate.Plan(nil), plans...)
}

// ListPlans implements metergate.PlanSource.
func (s *Store) ListPlans(ctx context.Context) ([]metergate.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]metergate.Plan(nil), s.plans...), nil
}

// GetCount implements metergate.CounterStore.
func (s *Store) GetCount(ctx context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		return 0, false, nil
	}
	return c.count, true, nil
}

// Increment implements metergate.CounterStore.
func (s *Store) Increment(ctx context.Context, key string, expiresAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		c = &counter{expiresAt: expiresAt}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// DeleteExpired implements metergate.CounterStore.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, c := range s.counters {
		if !c.expiresAt.After(before) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed, nil
}

// GetMonthlyUsage implements metergate.UsageStore.
func (s *Store) GetMonthlyUsage(ctx context.Context, userID string, month time.Time) (*metergate.MonthlyUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.usage[usageKey(userID, month)]
	if !ok {
		return nil, nil // No usage yet is not an error
	}
	rowCopy := *row
	return &rowCopy, nil
}

// IncrementUsage implements metergate.UsageStore. The increment happens
// under the store lock, so concurrent writers cannot lose updates.
func (s *Store) IncrementUsage(
	ctx context.Context, userID string, month time.Time, feature metergate.Feature, delta int,
) (*metergate.MonthlyUsage, error) {
	if delta < 0 {
		return nil, metergate.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(userID, month)
	row, ok := s.usage[key]
	if !ok {
		row = &metergate.MonthlyUsage{UserID: userID, Month: month}
		s.usage[key] = row
	}
	row.Add(feature, delta)
	row.UpdatedAt = time.Now().UTC()

	rowCopy := *row
	return &rowCopy, nil
}

// Clear removes all data (useful for testing).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters = make(map[string]*counter)
	s.usage = make(map[string]*metergate.MonthlyUsage)
}

func usageKey(userID string, month time.Time) string {
	return userID + ":" + month.UTC().Format("2006-01")
}
