package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/TomBuge/openclaw-mission-control/internal/db"
	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

type backend interface {
	store.Store
	Ping(ctx context.Context) error
	Close() error
}

// openStore migrates and opens the configured database.
func openStore(ctx context.Context, cfg db.Config) (backend, error) {
	switch cfg.Driver {
	case db.DriverPostgres:
		if cfg.Url == "" {
			return nil, fmt.Errorf("db.url is required for the %s driver", db.DriverPostgres)
		}
		if err := db.RunMigrations(cfg.Url, cfg.Schema); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		pool, err := db.InitDB(ctx, cfg.Url, cfg.Schema)
		if err != nil {
			return nil, err
		}
		slog.Info("Using PostgreSQL store", "schema", cfg.Schema)
		return store.NewPostgresStore(pool), nil
	case db.DriverSQLite, "":
		st, err := store.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		slog.Info("Using SQLite store", "path", cfg.Path)
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
}
