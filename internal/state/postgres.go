package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PGPoolConfig tunes the pgx pool.
type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// Postgres stores ledger state in a single key/value table.
type Postgres struct {
	PG     *pgxpool.Pool
	logger *zap.Logger
}

const schemaSQL = `
	CREATE SCHEMA IF NOT EXISTS marketplace;
	CREATE TABLE IF NOT EXISTS marketplace.state (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

// NewPostgres connects the pool and makes sure the state table exists.
func NewPostgres(ctx context.Context, pgURL string, poolCfg PGPoolConfig, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	}
	if poolCfg.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = poolCfg.HealthCheckPeriod
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(connectCtx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure state schema: %w", err)
	}
	return &Postgres{PG: pool, logger: logger}, nil
}

func (s *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.PG.QueryRow(ctx, `SELECT value FROM marketplace.state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state get [%s]: %w", key, err)
	}
	return value, nil
}

// Commit applies writes inside one transaction.
func (s *Postgres) Commit(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	tx, err := s.PG.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("state begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, w := range writes {
		if w.Deleted() {
			batch.Queue(`DELETE FROM marketplace.state WHERE key = $1`, w.Key)
			continue
		}
		batch.Queue(`
			INSERT INTO marketplace.state (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET
				value = EXCLUDED.value,
				updated_at = EXCLUDED.updated_at
		`, w.Key, w.Value)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		s.logger.Error("state.pg.commit_failed", zap.Int("writes", len(writes)), zap.Error(err))
		return fmt.Errorf("state batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("state.pg.commit_failed", zap.Int("writes", len(writes)), zap.Error(err))
		return fmt.Errorf("state commit: %w", err)
	}
	return nil
}

func (s *Postgres) HealthCheck(ctx context.Context) error {
	if s.PG == nil {
		return fmt.Errorf("postgres not initialized")
	}
	if err := s.PG.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	return nil
}
