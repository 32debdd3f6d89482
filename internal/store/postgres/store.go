// Package postgres implements the data stores on PostgreSQL using pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Store bundles the PostgreSQL-backed stores sharing one pool.
type Store struct {
	pool *pgxpool.Pool

	Users   *UserStore
	SignIns *SignInStore
}

// Open creates the pool, applies migrations when enabled and returns the stores.
func Open(ctx context.Context, cfg *PoolConfig) (*Store, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	log.Info().Int32("max_conns", cfg.MaxConns).Msg("Connected to PostgreSQL")

	return &Store{
		pool:    pool,
		Users:   NewUserStore(pool),
		SignIns: NewSignInStore(pool),
	}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
