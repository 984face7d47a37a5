// Package redis provides Redis implementations of the metergate storage
// contracts. Window counters use INCR with a window-length TTL; monthly
// usage rows are hashes updated with HINCRBY, so both stores rely on
// Redis-native atomic increments.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scribehub/metergate/pkg/metergate"
)

// Store implements metergate.CounterStore, metergate.UsageStore and
// metergate.PlanSource using Redis.
type Store struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "metergate:").
	KeyPrefix string

	// UsageTTL is the TTL for monthly usage hashes. Zero keeps them
	// forever; retention is otherwise a collaborator concern (default: 0).
	UsageTTL time.Duration

	// CounterSlack pads the TTL on window counters past the window end so
	// in-flight reads at the boundary never miss (default: window length).
	CounterSlack time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "metergate:",
	}
}

// New creates a new Redis store adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "metergate:"
	}
	return &Store{client: client, config: config}, nil
}

// GetCount implements metergate.CounterStore.
func (s *Store) GetCount(ctx context.Context, key string) (int64, bool, error) {
	val, err := s.client.Get(ctx, s.counterKey(key)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get counter: %w", err)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse counter: %w", err)
	}
	return count, true, nil
}

// Increment implements metergate.CounterStore. The INCR and the TTL are
// pipelined; INCR creates the key at 1 when absent.
func (s *Store) Increment(ctx context.Context, key string, expiresAt time.Time) (int64, error) {
	rkey := s.counterKey(key)

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	slack := s.config.CounterSlack
	if slack <= 0 {
		slack = ttl
	}

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, rkey)
	pipe.Expire(ctx, rkey, ttl+slack)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return incr.Val(), nil
}

// DeleteExpired implements metergate.CounterStore. Redis expires window
// counters via TTL, so the sweep has nothing to do.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// GetMonthlyUsage implements metergate.UsageStore.
func (s *Store) GetMonthlyUsage(ctx context.Context, userID string, month time.Time) (*metergate.MonthlyUsage, error) {
	fields, err := s.client.HGetAll(ctx, s.usageKey(userID, month)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil // No usage yet is not an error
	}

	row := &metergate.MonthlyUsage{UserID: userID, Month: metergate.MonthOf(month)}
	for _, feature := range metergate.Features {
		if val, ok := fields[string(feature)]; ok {
			count, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("failed to parse usage field %s: %w", feature, err)
			}
			row.Add(feature, count)
		}
	}
	if ts, ok := fields["updated_at"]; ok {
		if unix, err := strconv.ParseInt(ts, 10, 64); err == nil {
			row.UpdatedAt = time.Unix(unix, 0).UTC()
		}
	}
	return row, nil
}

// IncrementUsage implements metergate.UsageStore using HINCRBY, which
// creates the hash and the field atomically on first use.
func (s *Store) IncrementUsage(
	ctx context.Context, userID string, month time.Time, feature metergate.Feature, delta int,
) (*metergate.MonthlyUsage, error) {
	if delta < 0 {
		return nil, metergate.ErrInvalidAmount
	}

	key := s.usageKey(userID, month)

	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, string(feature), int64(delta))
	pipe.HSet(ctx, key, "updated_at", time.Now().UTC().Unix())
	if s.config.UsageTTL > 0 {
		pipe.Expire(ctx, key, s.config.UsageTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}

	return s.GetMonthlyUsage(ctx, userID, month)
}

// SetPlans stores a plan list for ListPlans.
func (s *Store) SetPlans(ctx context.Context, plans []metergate.Plan) error {
	data, err := json.Marshal(plans)
	if err != nil {
		return fmt.Errorf("failed to marshal plans: %w", err)
	}
	if err := s.client.Set(ctx, s.plansKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set plans: %w", err)
	}
	return nil
}

// ListPlans implements metergate.PlanSource. Falls back to the built-in
// defaults when no plan list has been stored.
func (s *Store) ListPlans(ctx context.Context) ([]metergate.Plan, error) {
	data, err := s.client.Get(ctx, s.plansKey()).Bytes()
	if err == redis.Nil {
		return metergate.DefaultPlans(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plans: %w", err)
	}

	var plans []metergate.Plan
	if err := json.Unmarshal(data, &plans); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plans: %w", err)
	}
	return plans, nil
}

// Close closes the Redis client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) counterKey(key string) string {
	return s.config.KeyPrefix + "window:" + key
}

func (s *Store) usageKey(userID string, month time.Time) string {
	return fmt.Sprintf("%susage:%s:%s", s.config.KeyPrefix, userID, month.UTC().Format("2006-01"))
}

func (s *Store) plansKey() string {
	return s.config.KeyPrefix + "plans"
}
