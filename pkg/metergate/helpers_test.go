package metergate_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/scribehub/metergate/pkg/metergate"
)

var errStoreDown = errors.New("store down")

// testClock is a manually advanced clock for deterministic windows.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// capturingLogger records log calls per level.
type capturingLogger struct {
	mu       sync.Mutex
	messages map[string][]string
}

func newCapturingLogger() *capturingLogger {
	return &capturingLogger{messages: make(map[string][]string)}
}

func (l *capturingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages[level] = append(l.messages[level], msg)
}

func (l *capturingLogger) Debug(msg string, _ ...metergate.Field) { l.record("debug", msg) }
func (l *capturingLogger) Info(msg string, _ ...metergate.Field)  { l.record("info", msg) }
func (l *capturingLogger) Warn(msg string, _ ...metergate.Field)  { l.record("warn", msg) }
func (l *capturingLogger) Error(msg string, _ ...metergate.Field) { l.record("error", msg) }

func (l *capturingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages[level])
}

// flakyCounterStore wraps a CounterStore with switchable failure.
type flakyCounterStore struct {
	inner metergate.CounterStore

	mu      sync.Mutex
	failing bool
}

func (s *flakyCounterStore) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *flakyCounterStore) down() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failing
}

func (s *flakyCounterStore) GetCount(ctx context.Context, key string) (int64, bool, error) {
	if s.down() {
		return 0, false, errStoreDown
	}
	return s.inner.GetCount(ctx, key)
}

func (s *flakyCounterStore) Increment(ctx context.Context, key string, expiresAt time.Time) (int64, error) {
	if s.down() {
		return 0, errStoreDown
	}
	return s.inner.Increment(ctx, key, expiresAt)
}

func (s *flakyCounterStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if s.down() {
		return 0, errStoreDown
	}
	return s.inner.DeleteExpired(ctx, before)
}

// flakyUsageStore wraps a UsageStore with switchable failure.
type flakyUsageStore struct {
	inner metergate.UsageStore

	mu      sync.Mutex
	failing bool
}

func (s *flakyUsageStore) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *flakyUsageStore) down() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failing
}

func (s *flakyUsageStore) GetMonthlyUsage(ctx context.Context, userID string, month time.Time) (*metergate.MonthlyUsage, error) {
	if s.down() {
		return nil, errStoreDown
	}
	return s.inner.GetMonthlyUsage(ctx, userID, month)
}

func (s *flakyUsageStore) IncrementUsage(ctx context.Context, userID string, month time.Time, feature metergate.Feature, delta int) (*metergate.MonthlyUsage, error) {
	if s.down() {
		return nil, errStoreDown
	}
	return s.inner.IncrementUsage(ctx, userID, month, feature, delta)
}
