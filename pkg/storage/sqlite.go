package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // cgo driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure Go driver, registered as "sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	cost REAL NOT NULL,
	ts INTEGER NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	success INTEGER NOT NULL,
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
	amount REAL NOT NULL,
	period TEXT NOT NULL,
	period_start INTEGER NOT NULL,
	period_end INTEGER NOT NULL,
	spent REAL NOT NULL DEFAULT 0,
	alert_thresholds TEXT NOT NULL DEFAULT '',
	last_alerted_threshold INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_budgets_org ON budgets(organization_id, is_active);

CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	spend_limit REAL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

var sqliteDialect = dialect{
	name:   "sqlite",
	schema: sqliteSchema,
	dayKey: `strftime('%Y-%m-%d', ts / 1000000000, 'unixepoch')`,
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the database file path. Parent directories are created.
	Path string

	// Driver is "sqlite" (modernc.org/sqlite) or "sqlite3"
	// (github.com/mattn/go-sqlite3).
	// Default: "sqlite"
	Driver string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often to checkpoint the WAL. Zero disables
	// the background checkpoint.
	CheckpointInterval time.Duration

	Limits Limits
	Logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) a SQLite ledger.
//
// The database runs in WAL mode with a single connection, since SQLite
// allows one writer at a time.
func NewSQLiteStore(ctx context.Context, cfg SQLiteConfig) (*SQLStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn, err := sqliteDSN(cfg.Driver, cfg.Path, cfg.BusyTimeout)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := newSQLStore(db, sqliteDialect, cfg.Limits, cfg.Logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.CheckpointInterval > 0 {
		s.wg.Add(1)
		go s.checkpointLoop(cfg.CheckpointInterval)
	}

	s.logger.Info("SQLite ledger opened",
		"path", cfg.Path,
		"driver", cfg.Driver,
		"busy_timeout", cfg.BusyTimeout,
	)
	return s, nil
}

// sqliteDSN builds a DSN enabling WAL, the busy timeout and NORMAL sync.
// The two drivers spell connection pragmas differently.
func sqliteDSN(driver, path string, busy time.Duration) (string, error) {
	ms := busy.Milliseconds()
	switch driver {
	case "sqlite":
		return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path, ms), nil
	case "sqlite3":
		return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL", path, ms), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

// checkpointLoop periodically folds the WAL back into the database file.
func (s *SQLStore) checkpointLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
				s.logger.Warn("WAL checkpoint failed", "error", err)
			}
		case <-s.done:
			return
		}
	}
}
