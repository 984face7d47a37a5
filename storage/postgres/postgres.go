// Package postgres provides a PostgreSQL implementation of the metergate
// storage contracts. All increments use single-statement upserts
// (INSERT ... ON CONFLICT DO UPDATE SET x = x + excluded.x) so two
// concurrent writers can never lose an update, and a background sweep
// removes window counters whose windows have ended.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scribehub/metergate/pkg/metergate"
)

// Store implements metergate.CounterStore, metergate.UsageStore and
// metergate.PlanSource using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config

	stopSweep func()
}

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// SweepEnabled starts a background goroutine that deletes expired
	// window counters on SweepInterval.
	SweepEnabled  bool
	SweepInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		SweepEnabled:    true,
		SweepInterval:   time.Hour,
	}
}

// Schema is the DDL the store expects. Apply it with your migration
// tool of choice, or call EnsureSchema for development setups.
const Schema = `
CREATE TABLE IF NOT EXISTS window_counters (
	counter_key  TEXT PRIMARY KEY,
	request_count BIGINT NOT NULL DEFAULT 0,
	expires_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS window_counters_expires_at_idx ON window_counters (expires_at);

CREATE TABLE IF NOT EXISTS monthly_usage (
	user_id           TEXT NOT NULL,
	month             DATE NOT NULL,
	content_generated INTEGER NOT NULL DEFAULT 0,
	sentiment_used    INTEGER NOT NULL DEFAULT 0,
	keywords_used     INTEGER NOT NULL DEFAULT 0,
	summaries_used    INTEGER NOT NULL DEFAULT 0,
	api_calls         INTEGER NOT NULL DEFAULT 0,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, month)
);

CREATE TABLE IF NOT EXISTS plans (
	plan_id            TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	monthly_price      NUMERIC(10,2) NOT NULL DEFAULT 0,
	max_content_length INTEGER NOT NULL DEFAULT 0,
	quotas             JSONB NOT NULL DEFAULT '{}',
	flags              JSONB NOT NULL DEFAULT '{}'
);
`

// featureColumns whitelists the usage column per feature; identifiers
// can't be bound as parameters.
var featureColumns = map[metergate.Feature]string{
	metergate.FeatureContent:   "content_generated",
	metergate.FeatureSentiment: "sentiment_used",
	metergate.FeatureKeywords:  "keywords_used",
	metergate.FeatureSummaries: "summaries_used",
	metergate.FeatureAPIAccess: "api_calls",
}

// New creates a new PostgreSQL store adapter.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		pool:      pool,
		config:    config,
		stopSweep: cancel,
	}

	if config.SweepEnabled {
		go s.startSweep(sweepCtx)
	}

	return s, nil
}

// EnsureSchema creates the store's tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Close stops the background sweep and closes the connection pool.
func (s *Store) Close() {
	if s.stopSweep != nil {
		s.stopSweep()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetCount implements metergate.CounterStore.
func (s *Store) GetCount(ctx context.Context, key string) (int64, bool, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT request_count FROM window_counters WHERE counter_key = $1`,
		key).Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get counter: %w", err)
	}
	return count, true, nil
}

// Increment implements metergate.CounterStore via an atomic upsert.
func (s *Store) Increment(ctx context.Context, key string, expiresAt time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO window_counters (counter_key, request_count, expires_at)
			VALUES ($1, 1, $2)
			ON CONFLICT (counter_key) DO UPDATE SET
				request_count = window_counters.request_count + 1
			RETURNING request_count`,
		key, expiresAt.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, nil
}

// DeleteExpired implements metergate.CounterStore.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM window_counters WHERE expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetMonthlyUsage implements metergate.UsageStore.
func (s *Store) GetMonthlyUsage(ctx context.Context, userID string, month time.Time) (*metergate.MonthlyUsage, error) {
	var row metergate.MonthlyUsage
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, month, content_generated, sentiment_used, keywords_used,
				summaries_used, api_calls, updated_at
			FROM monthly_usage
			WHERE user_id = $1 AND month = $2`,
		userID, metergate.MonthOf(month)).Scan(
		&row.UserID,
		&row.Month,
		&row.ContentGenerated,
		&row.SentimentUsed,
		&row.KeywordsUsed,
		&row.SummariesUsed,
		&row.APICalls,
		&row.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil // No usage yet is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	row.Month = row.Month.UTC()
	return &row, nil
}

// IncrementUsage implements metergate.UsageStore. The upsert increments
// in place inside one statement, so concurrent writers for the same
// user and month cannot lose updates.
func (s *Store) IncrementUsage(
	ctx context.Context, userID string, month time.Time, feature metergate.Feature, delta int,
) (*metergate.MonthlyUsage, error) {
	if delta < 0 {
		return nil, metergate.ErrInvalidAmount
	}
	column, ok := featureColumns[feature]
	if !ok {
		return nil, fmt.Errorf("%w: %s", metergate.ErrUnknownFeature, feature)
	}

	var row metergate.MonthlyUsage
	query := fmt.Sprintf(
		`INSERT INTO monthly_usage (user_id, month, %[1]s, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (user_id, month) DO UPDATE SET
				%[1]s = monthly_usage.%[1]s + EXCLUDED.%[1]s,
				updated_at = now()
			RETURNING user_id, month, content_generated, sentiment_used, keywords_used,
				summaries_used, api_calls, updated_at`, column)
	err := s.pool.QueryRow(ctx, query, userID, metergate.MonthOf(month), delta).Scan(
		&row.UserID,
		&row.Month,
		&row.ContentGenerated,
		&row.SentimentUsed,
		&row.KeywordsUsed,
		&row.SummariesUsed,
		&row.APICalls,
		&row.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}
	row.Month = row.Month.UTC()
	return &row, nil
}

// ListPlans implements metergate.PlanSource.
func (s *Store) ListPlans(ctx context.Context) ([]metergate.Plan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT plan_id, name, monthly_price, max_content_length, quotas, flags
			FROM plans ORDER BY monthly_price`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []metergate.Plan
	for rows.Next() {
		var p metergate.Plan
		var quotas, flags []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.MonthlyPrice, &p.MaxContentLength, &quotas, &flags); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		if err := json.Unmarshal(quotas, &p.Quotas); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan quotas: %w", err)
		}
		if err := json.Unmarshal(flags, &p.Flags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan flags: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return plans, nil
}

// UpsertPlan writes a plan row, for seeding and admin tooling.
func (s *Store) UpsertPlan(ctx context.Context, plan metergate.Plan) error {
	quotas, err := json.Marshal(plan.Quotas)
	if err != nil {
		return fmt.Errorf("failed to marshal plan quotas: %w", err)
	}
	flags, err := json.Marshal(plan.Flags)
	if err != nil {
		return fmt.Errorf("failed to marshal plan flags: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO plans (plan_id, name, monthly_price, max_content_length, quotas, flags)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (plan_id) DO UPDATE SET
				name = EXCLUDED.name,
				monthly_price = EXCLUDED.monthly_price,
				max_content_length = EXCLUDED.max_content_length,
				quotas = EXCLUDED.quotas,
				flags = EXCLUDED.flags`,
		plan.ID, plan.Name, plan.MonthlyPrice, plan.MaxContentLength, quotas, flags)
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}
	return nil
}

// startSweep deletes expired window counters on an interval until the
// store is closed.
func (s *Store) startSweep(ctx context.Context) {
	interval := s.config.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
			_, _ = s.DeleteExpired(sweepCtx, time.Now().UTC())
			cancel()
		}
	}
}
