package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"chanalystd/internal/config"
)

// New resolves a Store from configuration. Supported backends: "memory"
// (default when DSN is empty), "auto" (Postgres if reachable, else
// memory), "postgres"/"pg" (fail if unreachable), "none"/"disabled" (the
// same in-memory store as "memory").
func New(ctx context.Context, cfg config.DBConfig) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "none", "disabled":
		return NewMemoryStore(), nil
	case "auto":
		if cfg.DSN == "" {
			return NewMemoryStore(), nil
		}
		pool, err := newPgPool(ctx, cfg.DSN)
		if err != nil {
			return NewMemoryStore(), nil
		}
		pg := NewPostgresStore(pool)
		if err := pg.Init(ctx); err != nil {
			pool.Close()
			return NewMemoryStore(), nil
		}
		return pg, nil
	case "postgres", "pg":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store: postgres backend requires DATABASE_URL")
		}
		pool, err := newPgPool(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("store: connect postgres: %w", err)
		}
		pg := NewPostgresStore(pool)
		if err := pg.Init(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("store: init postgres schema: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("store: unsupported backend %q", backend)
	}
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pcfg.MaxConns = 8
	pcfg.MinConns = 0
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
