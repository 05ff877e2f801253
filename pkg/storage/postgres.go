package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers "postgres"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens BIGINT NOT NULL,
	completion_tokens BIGINT NOT NULL,
	total_tokens BIGINT NOT NULL,
	cost NUMERIC(18,6) NOT NULL,
	ts BIGINT NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	success BOOLEAN NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_events_dedup
	ON usage_events(provider, request_id) WHERE request_id <> '';
CREATE INDEX IF NOT EXISTS idx_usage_events_org_ts ON usage_events(organization_id, ts);
CREATE INDEX IF NOT EXISTS idx_usage_events_user_ts ON usage_events(organization_id, user_id, ts);

CREATE TABLE IF NOT EXISTS budgets (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	scope TEXT NOT NULL,
	amount NUMERIC(18,6) NOT NULL,
	period TEXT NOT NULL,
	period_start BIGINT NOT NULL,
	period_end BIGINT NOT NULL,
	spent NUMERIC(18,6) NOT NULL DEFAULT 0,
	alert_thresholds TEXT NOT NULL DEFAULT '',
	last_alerted_threshold INTEGER NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_budgets_org ON budgets(organization_id, is_active);

CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	spend_limit NUMERIC(18,6),
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
)`

var postgresDialect = dialect{
	name:   "postgres",
	schema: postgresSchema,
	dayKey: `to_char(to_timestamp(ts / 1000000000) AT TIME ZONE 'UTC', 'YYYY-MM-DD')`,
}

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	Limits Limits
	Logger *slog.Logger
}

// DSN returns the lib/pq connection URL.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NewPostgresStore connects to PostgreSQL and applies the schema.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := newSQLStore(db, postgresDialect, cfg.Limits, cfg.Logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("PostgreSQL ledger connected",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
	)
	return s, nil
}

// NewPostgresStoreWithDB wraps an existing connection pool. The schema is
// not applied; call Migrate when needed.
func NewPostgresStoreWithDB(db *sql.DB, limits Limits, logger *slog.Logger) *SQLStore {
	return newSQLStore(sqlx.NewDb(db, "postgres"), postgresDialect, limits, logger)
}
