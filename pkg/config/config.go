package config

import "time"

// Config is the root configuration structure for the spendwise meter.
// It contains all configuration sections for the API server, the usage
// ledger, pricing, budgets, alerting, the spend-limit gate, scheduled jobs
// and telemetry.
type Config struct {
	// Server contains HTTP API server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Pricing contains the per-provider, per-model price table.
	Pricing PricingConfig `yaml:"pricing"`

	// Ledger contains storage backend configuration for usage events,
	// budgets and organizations.
	Ledger LedgerConfig `yaml:"ledger"`

	// Budgets contains calendar settings used to compute budget periods.
	Budgets BudgetsConfig `yaml:"budgets"`

	// Alerts contains threshold ladder and threshold state store settings.
	Alerts AlertsConfig `yaml:"alerts"`

	// Gate contains spend-limit gate settings.
	Gate GateConfig `yaml:"gate"`

	// Schedule contains cron schedules for periodic jobs.
	Schedule ScheduleConfig `yaml:"schedule"`

	// Watch contains configuration file hot-reload settings.
	Watch WatchConfig `yaml:"watch"`
}

// ServerConfig contains configuration for the HTTP API server.
type ServerConfig struct {
	// ListenAddress is the address and port for the server to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8090", "0.0.0.0:8090").
	// Default: "127.0.0.1:8090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 15s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 15s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 60s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for in-flight requests
	// during graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes limits the size of request bodies accepted by the API.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// LoggingConfig contains configuration for structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log output format: "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains configuration for the Prometheus endpoint.
type MetricsConfig struct {
	// Path is the HTTP path the metrics handler is mounted on.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	// Default: "spendwise"
	Namespace string `yaml:"namespace"`
}

// TracingConfig contains configuration for OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns on span export. When false a noop tracer is used.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is reported as the service.name resource attribute.
	// Default: "spendwise-meter"
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of traces sampled, between 0 and 1.
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Insecure disables TLS for the collector connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout bounds exporter calls.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// PricingConfig contains the price table and the fallback rate for unknown
// models. All prices are USD per million tokens.
type PricingConfig struct {
	// Models maps provider name to model name to pricing. Entries here are
	// merged over the built-in table; a model key also matches model names
	// it is a prefix of.
	Models map[string]map[string]ModelPriceConfig `yaml:"models"`

	// Fallback is charged for any (provider, model) pair with no entry.
	// Default: 1.00 input, 1.00 output
	Fallback ModelPriceConfig `yaml:"fallback"`

	// DisableBuiltin skips the built-in table so only Models is used.
	// Default: false
	DisableBuiltin bool `yaml:"disable_builtin"`
}

// ModelPriceConfig contains per-million-token prices for a model.
type ModelPriceConfig struct {
	// Input is the price per million prompt tokens.
	Input float64 `yaml:"input"`

	// Output is the price per million completion tokens.
	Output float64 `yaml:"output"`
}

// LedgerConfig contains storage backend configuration.
type LedgerConfig struct {
	// Backend selects the store: "memory", "sqlite" or "postgres".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Postgres contains PostgreSQL-specific configuration.
	Postgres PostgresConfig `yaml:"postgres"`

	// QueryLimit is the default page size for usage queries.
	// Default: 100
	QueryLimit int `yaml:"query_limit"`

	// MaxQueryLimit caps the page size a caller may request.
	// Default: 1000
	MaxQueryLimit int `yaml:"max_query_limit"`
}

// SQLiteConfig contains configuration for the SQLite store.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/spendwise.db"
	Path string `yaml:"path"`

	// Driver selects the database/sql driver: "sqlite" (pure Go) or
	// "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// PostgresConfig contains configuration for the PostgreSQL store.
type PostgresConfig struct {
	// Host is the PostgreSQL server hostname.
	// Default: "localhost"
	Host string `yaml:"host"`

	// Port is the PostgreSQL server port.
	// Default: 5432
	Port int `yaml:"port"`

	// Database is the database name.
	// Default: "spendwise"
	Database string `yaml:"database"`

	// User is the database user.
	User string `yaml:"user"`

	// Password is the database password.
	Password string `yaml:"password"`

	// SSLMode is the libpq sslmode parameter.
	// Default: "disable"
	SSLMode string `yaml:"ssl_mode"`

	// MaxOpenConns is the connection pool size.
	// Default: 25
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the number of idle connections kept.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// ConnMaxLifetime recycles connections older than this.
	// Default: 5m
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// BudgetsConfig contains calendar settings for budget periods.
type BudgetsConfig struct {
	// Timezone is the IANA zone used for calendar boundaries.
	// Default: "UTC"
	Timezone string `yaml:"timezone"`

	// WeekStart is the first day of a WEEKLY period ("sunday" or "monday").
	// Default: "sunday"
	WeekStart string `yaml:"week_start"`
}

// AlertsConfig contains threshold ladder and state store configuration.
type AlertsConfig struct {
	// Thresholds is the percentage ladder used when a budget defines none.
	// Default: [50, 75, 90, 100]
	Thresholds []int `yaml:"thresholds"`

	// Store selects threshold state storage: "memory" or "redis".
	// Default: "memory"
	Store string `yaml:"store"`

	// Redis contains Redis connection settings for the "redis" store.
	Redis RedisConfig `yaml:"redis"`

	// QueueSize is the buffer size of the async notifier.
	// Default: 1000
	QueueSize int `yaml:"queue_size"`

	// Webhook posts every intent to an HTTP endpoint in addition to the log.
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig contains alert webhook settings.
type WebhookConfig struct {
	// URL receives intents as JSON POST requests. Empty disables the webhook.
	URL string `yaml:"url"`

	// Timeout bounds one delivery.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	// Addr is the Redis server address.
	// Default: "localhost:6379"
	Addr string `yaml:"addr"`

	// Password is the Redis AUTH password.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	// Default: 0
	DB int `yaml:"db"`

	// KeyPrefix namespaces every key written.
	// Default: "spendwise"
	KeyPrefix string `yaml:"key_prefix"`
}

// GateConfig contains spend-limit gate configuration.
type GateConfig struct {
	// Timeout bounds a single spend-limit check.
	// Default: 250ms
	Timeout time.Duration `yaml:"timeout"`

	// FailOpen allows requests when the check cannot be evaluated.
	// Default: false (fail closed)
	FailOpen bool `yaml:"fail_open"`

	// UnlimitedPolicy decides requests for organizations that are unknown or
	// have no spend limit: "allow" or "deny".
	// Default: "allow"
	UnlimitedPolicy string `yaml:"unlimited_policy"`
}

// ScheduleConfig contains cron schedules for periodic jobs. Specs use the
// standard five-field cron format; the value "-" disables the job.
type ScheduleConfig struct {
	// Reset rolls budgets over into their next period.
	// Default: "5 0 * * *"
	Reset string `yaml:"reset"`

	// Reconcile rewrites cached budget spend from the ledger.
	// Default: "*/15 * * * *"
	Reconcile string `yaml:"reconcile"`

	// JobTimeout bounds a single job run.
	// Default: 5m
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// WatchConfig contains configuration file hot-reload settings.
type WatchConfig struct {
	// Enabled turns on reloading when the config file changes.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Debounce is the quiet period before a reload is triggered.
	// Default: 250ms
	Debounce time.Duration `yaml:"debounce"`
}
