// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultDeadLetterTable = "callback_dead_letters"

// DeadLetterStoreConfig controls the Postgres connection pool used for dead letters.
type DeadLetterStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// DeadLetterStore writes abandoned callback batches into Postgres.
type DeadLetterStore struct {
	pool  execCloser
	table string
}

// NewDeadLetterStore creates a Postgres-backed DeadLetterStore using the provided config.
func NewDeadLetterStore(ctx context.Context, cfg DeadLetterStoreConfig) (*DeadLetterStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	return &DeadLetterStore{pool: pool, table: table}, nil
}

// NewDeadLetterStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDeadLetterStoreWithPool(pool execCloser, table string) (*DeadLetterStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &DeadLetterStore{pool: pool, table: name}, nil
}

// Close releases the underlying pool resources.
func (s *DeadLetterStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveDeadLetter inserts one abandoned batch. Replays of the same batch id
// are ignored.
func (s *DeadLetterStore) SaveDeadLetter(ctx context.Context, letter scraper.DeadLetter) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("dead letter store is not configured")
	}
	if letter.Batch.BatchID == "" {
		return fmt.Errorf("batch id is required")
	}
	payload, err := json.Marshal(letter.Batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	batch_id,
	job_id,
	callback_url,
	record_count,
	attempts,
	last_error,
	failed_at,
	payload
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) ON CONFLICT (batch_id) DO NOTHING`, s.table)

	args := []any{
		letter.Batch.BatchID,
		letter.JobID,
		letter.CallbackURL,
		len(letter.Batch.Records),
		letter.Attempts,
		letter.LastError,
		letter.FailedAt,
		payload,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultDeadLetterTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}
