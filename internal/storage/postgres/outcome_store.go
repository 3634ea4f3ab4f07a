// Package postgres records crawl runs and per-identifier outcomes in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
)

const defaultTable = "crawl_outcomes"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// OutcomeStoreConfig controls the Postgres connection pool used for ledger rows.
type OutcomeStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// OutcomeStore writes one row per processed identifier and one row per run.
// Run rows live in "<table>_runs".
type OutcomeStore struct {
	pool  execCloser
	table string
}

var _ crawler.Ledger = (*OutcomeStore)(nil)

// NewOutcomeStore creates a Postgres-backed OutcomeStore using the provided config.
func NewOutcomeStore(ctx context.Context, cfg OutcomeStoreConfig) (*OutcomeStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: db.dsn is required", crawler.ErrInvalidConfig)
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &OutcomeStore{pool: pool, table: table}, nil
}

// NewOutcomeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewOutcomeStoreWithPool(pool execCloser, table string) (*OutcomeStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &OutcomeStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("%w: invalid table name %q", crawler.ErrInvalidConfig, table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *OutcomeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *OutcomeStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureTables creates the ledger tables when they are missing.
func (s *OutcomeStore) EnsureTables(ctx context.Context) error {
	outcomes := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT        NOT NULL,
	rc          BIGINT      NOT NULL,
	outcome     TEXT        NOT NULL,
	status_code INTEGER     NOT NULL,
	duration_ms BIGINT      NOT NULL,
	error_text  TEXT        NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, rc)
)`, s.table)
	if _, err := s.pool.Exec(ctx, outcomes); err != nil {
		return fmt.Errorf("create outcome table: %w", err)
	}
	runs := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s_runs (
	run_id      TEXT        PRIMARY KEY,
	range_start BIGINT      NOT NULL,
	range_stop  BIGINT      NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	dispatched  INTEGER     NOT NULL DEFAULT 0,
	stored      INTEGER     NOT NULL DEFAULT 0,
	missing     INTEGER     NOT NULL DEFAULT 0,
	failed      INTEGER     NOT NULL DEFAULT 0,
	error_text  TEXT        NOT NULL DEFAULT ''
)`, s.table)
	if _, err := s.pool.Exec(ctx, runs); err != nil {
		return fmt.Errorf("create run table: %w", err)
	}
	return nil
}

// RecordOutcome inserts one ledger row. A repeated (run_id, rc) pair
// overwrites the earlier row.
func (s *OutcomeStore) RecordOutcome(ctx context.Context, record crawler.OutcomeRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("outcome store is not configured")
	}
	if record.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	rc,
	outcome,
	status_code,
	duration_ms,
	error_text,
	recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (run_id, rc) DO UPDATE
SET outcome = EXCLUDED.outcome,
	status_code = EXCLUDED.status_code,
	duration_ms = EXCLUDED.duration_ms,
	error_text = EXCLUDED.error_text,
	recorded_at = EXCLUDED.recorded_at`, s.table)

	args := []any{
		record.RunID,
		int64(record.RC),
		string(record.Outcome),
		record.StatusCode,
		record.Duration.Milliseconds(),
		record.ErrorText,
		record.RecordedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// StartRun inserts the run row.
func (s *OutcomeStore) StartRun(ctx context.Context, runID string, r crawler.Range, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s_runs (run_id, range_start, range_stop, started_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_id) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, int64(r.Start), int64(r.Stop), startedAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the run totals. errText is empty for a complete run.
func (s *OutcomeStore) FinishRun(ctx context.Context, summary crawler.RunSummary, errText string) error {
	failed := summary.Outcomes[crawler.OutcomeFetchFailed] + summary.Outcomes[crawler.OutcomeStoreFailed]
	query := fmt.Sprintf(`
UPDATE %s_runs
SET finished_at = $1, dispatched = $2, stored = $3, missing = $4, failed = $5, error_text = $6
WHERE run_id = $7`, s.table)
	_, err := s.pool.Exec(ctx, query,
		summary.FinishedAt,
		summary.Dispatched,
		summary.Outcomes[crawler.OutcomeStored],
		summary.Outcomes[crawler.OutcomeMissing],
		failed,
		errText,
		summary.RunID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}
