package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-registry/configs"
)

// PostgresStore keeps state in a single key/value table.
type PostgresStore struct {
	Pool  *pgxpool.Pool
	table string
}

// NewPostgresStore creates a connection pool and makes sure the state table exists
func NewPostgresStore(ctx context.Context, cfg configs.DatabaseConfig) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = int32(cfg.MaxOpenConns)
	config.MinConns = int32(cfg.MaxIdleConns)
	config.MaxConnLifetime = cfg.ConnMaxLifetime
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewPostgresStoreFromPool(pool, cfg.StateTable)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Str("table", cfg.StateTable).Msg("Database connection established")
	return store, nil
}

// NewPostgresStoreFromPool uses an existing pool; the caller creates the table.
func NewPostgresStoreFromPool(pool *pgxpool.Pool, table string) *PostgresStore {
	return &PostgresStore{Pool: pool, table: pq.QuoteIdentifier(table)}
}

// EnsureSchema creates the state table if it is missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.table)
	if _, err := s.Pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create state table: %w", err)
	}
	return nil
}

func (s *PostgresStore) View(ctx context.Context, fn func(r Reader) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	return fn(&pgTx{ctx: ctx, tx: tx, table: s.table})
}

// Update executes fn within a database transaction
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	// Writers take a table-wide lock so read-modify-write sequences never interleave.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.table); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to lock state: %w", err)
	}

	if err := fn(&pgTx{ctx: ctx, tx: tx, table: s.table}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	if s.Pool != nil {
		s.Pool.Close()
		log.Info().Msg("Database connection closed")
	}
	return nil
}

type pgTx struct {
	ctx   context.Context
	tx    pgx.Tx
	table string
}

func (t *pgTx) Get(key string) ([]byte, bool, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, t.table)

	var value []byte
	err := t.tx.QueryRow(t.ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

func (t *pgTx) Put(key string, value []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, t.table)
	if _, err := t.tx.Exec(t.ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (t *pgTx) Delete(key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, t.table)
	if _, err := t.tx.Exec(t.ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
