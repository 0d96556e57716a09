package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Schema creates the auction catalog table. Amounts are stored as numeric and
// read back as text so no precision is lost. catalog_position is the index of
// the auction in the last listing written, so reads keep the source order.
const Schema = `
CREATE TABLE IF NOT EXISTS auctions (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	tokens_for_sale  NUMERIC NOT NULL,
	start_time       BIGINT NOT NULL,
	end_time         BIGINT NOT NULL,
	status           TEXT NOT NULL DEFAULT '',
	token_in_symbol  TEXT NOT NULL DEFAULT '',
	token_out_symbol TEXT NOT NULL DEFAULT '',
	token_price      NUMERIC,
	min_price        NUMERIC,
	catalog_position BIGINT NOT NULL DEFAULT 0
)`

// migrations bring tables created by earlier versions of Schema up to date.
var migrations = []string{
	`ALTER TABLE auctions ADD COLUMN IF NOT EXISTS catalog_position BIGINT NOT NULL DEFAULT 0`,
}

// EnsureSchema applies Schema and its migrations.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	if _, err := p.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	for _, stmt := range migrations {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
