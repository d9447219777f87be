// internal/database/db.go

// Package database is the persistence adapter over postgres. All mutations
// are plain inserts or conditional updates (compare-and-swap on a status
// column); the conditional updates are what keeps multiple server
// instances safe without a lock manager.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx pool. It implements the narrow store interfaces
// declared by the jobs, lobby, match, and escrow packages.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against the given postgres URL and pings it.
func Connect(ctx context.Context, url string) (*Store, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
