package storage

import (
	"context"
	"fmt"
	"log/slog"

	"spendwise-hq/meter/pkg/config"
)

// New creates the store selected by the ledger configuration.
func New(ctx context.Context, cfg config.LedgerConfig, logger *slog.Logger) (Store, error) {
	limits := Limits{Default: cfg.QueryLimit, Max: cfg.MaxQueryLimit}

	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(limits), nil
	case "", "sqlite":
		return NewSQLiteStore(ctx, SQLiteConfig{
			Path:               cfg.SQLite.Path,
			Driver:             cfg.SQLite.Driver,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
			Limits:             limits,
			Logger:             logger,
		})
	case "postgres":
		pg := cfg.Postgres
		return NewPostgresStore(ctx, PostgresConfig{
			Host:            pg.Host,
			Port:            pg.Port,
			Database:        pg.Database,
			User:            pg.User,
			Password:        pg.Password,
			SSLMode:         pg.SSLMode,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: pg.ConnMaxLifetime,
			Limits:          limits,
			Logger:          logger,
		})
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
