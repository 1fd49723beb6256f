package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Config selects and configures a store backend.
type Config struct {
	Driver string // "sqlite", "postgres", "memory"
	DSN    string // file path for sqlite, connection string for postgres
	Logger *slog.Logger
}

// Open returns the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.DSN, cfg.Logger)
	case "postgres":
		return OpenPostgres(ctx, PostgresConfig{DSN: cfg.DSN, Logger: cfg.Logger})
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}
