// File: internal/storage/postgres.go
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
)

// DBPool abstracts the pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const createSettingsTable = `
CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertSetting = `
INSERT INTO settings (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

const selectSetting = `SELECT value FROM settings WHERE key = $1`

// PostgresStore keeps settings in a single key/value table.
type PostgresStore struct {
	logger *zap.Logger
	pool   DBPool
}

var _ schemas.Storage = (*PostgresStore)(nil)

// NewPostgresStore verifies the connection and ensures the schema.
func NewPostgresStore(ctx context.Context, logger *zap.Logger, pool DBPool) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createSettingsTable); err != nil {
		return nil, fmt.Errorf("failed to ensure settings table: %w", err)
	}
	return &PostgresStore{
		logger: logger.Named("storage"),
		pool:   pool,
	}, nil
}

// Open connects a pool from a DSN and builds the store around it.
func Open(ctx context.Context, logger *zap.Logger, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}
	store, err := NewPostgresStore(ctx, logger, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Get returns the stored value, or empty when the key was never written.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, selectSetting, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return value, nil
}

// Set upserts one key.
func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.pool.Exec(ctx, upsertSetting, key, value); err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	s.logger.Debug("Setting persisted", zap.String("key", key))
	return nil
}

// Close releases the pool when the store owns one.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
