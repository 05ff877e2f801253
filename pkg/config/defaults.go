package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8090"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxBodyBytes    = int64(1048576) // 1MB

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	// Metrics defaults
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "spendwise"

	// Tracing defaults
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingServiceName = "spendwise-meter"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingTimeout     = 10 * time.Second

	// Pricing defaults (USD per million tokens)
	DefaultFallbackInputPrice  = 1.00
	DefaultFallbackOutputPrice = 1.00

	// Ledger defaults
	DefaultLedgerBackend            = "sqlite"
	DefaultSQLitePath               = "data/spendwise.db"
	DefaultSQLiteDriver             = "sqlite"
	DefaultSQLiteBusyTimeout        = 5 * time.Second
	DefaultSQLiteCheckpointInterval = 5 * time.Minute
	DefaultPostgresHost             = "localhost"
	DefaultPostgresPort             = 5432
	DefaultPostgresDatabase         = "spendwise"
	DefaultPostgresSSLMode          = "disable"
	DefaultPostgresMaxOpenConns     = 25
	DefaultPostgresMaxIdleConns     = 5
	DefaultPostgresConnMaxLifetime  = 5 * time.Minute
	DefaultQueryLimit               = 100
	DefaultMaxQueryLimit            = 1000

	// Budget defaults
	DefaultBudgetTimezone  = "UTC"
	DefaultBudgetWeekStart = "sunday"

	// Alert defaults
	DefaultAlertStore     = "memory"
	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "spendwise"
	DefaultAlertQueueSize = 1000
	DefaultWebhookTimeout = 5 * time.Second

	// Gate defaults
	DefaultGateTimeout         = 250 * time.Millisecond
	DefaultGateUnlimitedPolicy = "allow"

	// Schedule defaults
	DefaultResetSchedule     = "5 0 * * *"
	DefaultReconcileSchedule = "*/15 * * * *"
	DefaultJobTimeout        = 5 * time.Minute

	// Watch defaults
	DefaultWatchDebounce = 250 * time.Millisecond
)

// DefaultAlertThresholds is the threshold ladder used when neither the
// configuration nor a budget defines one.
var DefaultAlertThresholds = []int{50, 75, 90, 100}

// NewDefaultConfig returns a configuration with every default applied.
// It is used by commands that can run without a configuration file.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields with their documented defaults.
// It never overrides values that were explicitly set.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	// Metrics defaults
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	applyTracingDefaults(cfg)
	applyPricingDefaults(cfg)
	applyLedgerDefaults(cfg)

	// Budget defaults
	if cfg.Budgets.Timezone == "" {
		cfg.Budgets.Timezone = DefaultBudgetTimezone
	}
	if cfg.Budgets.WeekStart == "" {
		cfg.Budgets.WeekStart = DefaultBudgetWeekStart
	}

	// Alert defaults
	if len(cfg.Alerts.Thresholds) == 0 {
		cfg.Alerts.Thresholds = append([]int(nil), DefaultAlertThresholds...)
	}
	if cfg.Alerts.Store == "" {
		cfg.Alerts.Store = DefaultAlertStore
	}
	if cfg.Alerts.Redis.Addr == "" {
		cfg.Alerts.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Alerts.Redis.KeyPrefix == "" {
		cfg.Alerts.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Alerts.QueueSize == 0 {
		cfg.Alerts.QueueSize = DefaultAlertQueueSize
	}
	if cfg.Alerts.Webhook.Timeout == 0 {
		cfg.Alerts.Webhook.Timeout = DefaultWebhookTimeout
	}

	// Gate defaults
	if cfg.Gate.Timeout == 0 {
		cfg.Gate.Timeout = DefaultGateTimeout
	}
	if cfg.Gate.UnlimitedPolicy == "" {
		cfg.Gate.UnlimitedPolicy = DefaultGateUnlimitedPolicy
	}

	// Schedule defaults. An explicit "-" disables a job.
	if cfg.Schedule.Reset == "" {
		cfg.Schedule.Reset = DefaultResetSchedule
	}
	if cfg.Schedule.Reconcile == "" {
		cfg.Schedule.Reconcile = DefaultReconcileSchedule
	}
	if cfg.Schedule.JobTimeout == 0 {
		cfg.Schedule.JobTimeout = DefaultJobTimeout
	}

	// Watch defaults
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = DefaultWatchDebounce
	}
}

// applyTracingDefaults applies default values to tracing configuration.
func applyTracingDefaults(cfg *Config) {
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}
}

// applyPricingDefaults applies default values to pricing configuration.
func applyPricingDefaults(cfg *Config) {
	if cfg.Pricing.Fallback.Input == 0 && cfg.Pricing.Fallback.Output == 0 {
		cfg.Pricing.Fallback = ModelPriceConfig{
			Input:  DefaultFallbackInputPrice,
			Output: DefaultFallbackOutputPrice,
		}
	}
}

// applyLedgerDefaults applies default values to ledger configuration.
func applyLedgerDefaults(cfg *Config) {
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = DefaultLedgerBackend
	}
	if cfg.Ledger.QueryLimit == 0 {
		cfg.Ledger.QueryLimit = DefaultQueryLimit
	}
	if cfg.Ledger.MaxQueryLimit == 0 {
		cfg.Ledger.MaxQueryLimit = DefaultMaxQueryLimit
	}

	sqlite := &cfg.Ledger.SQLite
	if sqlite.Path == "" {
		sqlite.Path = DefaultSQLitePath
	}
	if sqlite.Driver == "" {
		sqlite.Driver = DefaultSQLiteDriver
	}
	if sqlite.BusyTimeout == 0 {
		sqlite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if sqlite.CheckpointInterval == 0 {
		sqlite.CheckpointInterval = DefaultSQLiteCheckpointInterval
	}

	pg := &cfg.Ledger.Postgres
	if pg.Host == "" {
		pg.Host = DefaultPostgresHost
	}
	if pg.Port == 0 {
		pg.Port = DefaultPostgresPort
	}
	if pg.Database == "" {
		pg.Database = DefaultPostgresDatabase
	}
	if pg.SSLMode == "" {
		pg.SSLMode = DefaultPostgresSSLMode
	}
	if pg.MaxOpenConns == 0 {
		pg.MaxOpenConns = DefaultPostgresMaxOpenConns
	}
	if pg.MaxIdleConns == 0 {
		pg.MaxIdleConns = DefaultPostgresMaxIdleConns
	}
	if pg.ConnMaxLifetime == 0 {
		pg.ConnMaxLifetime = DefaultPostgresConnMaxLifetime
	}
}
