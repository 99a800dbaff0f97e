// Package postgres backs the arena store with a pgx v5 connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dinoarena/server/internal/config"
)

// Pool owns the pgx connection pool shared by the store and the health
// endpoint.
type Pool struct {
	db *pgxpool.Pool
}

// NewPool opens a pool against cfg and verifies connectivity before
// returning it.
//
// Postcondition: the returned Pool has answered one round trip.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database dsn: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime

	db, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("opening pool: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return &Pool{db: db}, nil
}

// Health pings the database, bounded by timeout.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// Close shuts the pool down; queries in flight are allowed to finish.
func (p *Pool) Close() {
	p.db.Close()
}

// DB exposes the raw pool for the store's queries.
func (p *Pool) DB() *pgxpool.Pool {
	return p.db
}
