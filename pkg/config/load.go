package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention SPENDWISE_SECTION_FIELD (e.g., SPENDWISE_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format SPENDWISE_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SPENDWISE_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SPENDWISE_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SPENDWISE_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SPENDWISE_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Logging overrides
	envString("SPENDWISE_LOGGING_LEVEL", &cfg.Logging.Level)
	envString("SPENDWISE_LOGGING_FORMAT", &cfg.Logging.Format)

	// Tracing overrides
	envBool("SPENDWISE_TRACING_ENABLED", &cfg.Tracing.Enabled)
	envString("SPENDWISE_TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	if val := os.Getenv("SPENDWISE_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Tracing.SampleRatio = f
		}
	}

	// Ledger overrides
	envString("SPENDWISE_LEDGER_BACKEND", &cfg.Ledger.Backend)
	envString("SPENDWISE_LEDGER_SQLITE_PATH", &cfg.Ledger.SQLite.Path)
	envString("SPENDWISE_LEDGER_SQLITE_DRIVER", &cfg.Ledger.SQLite.Driver)
	envString("SPENDWISE_LEDGER_POSTGRES_HOST", &cfg.Ledger.Postgres.Host)
	envInt("SPENDWISE_LEDGER_POSTGRES_PORT", &cfg.Ledger.Postgres.Port)
	envString("SPENDWISE_LEDGER_POSTGRES_DATABASE", &cfg.Ledger.Postgres.Database)
	envString("SPENDWISE_LEDGER_POSTGRES_USER", &cfg.Ledger.Postgres.User)
	envString("SPENDWISE_LEDGER_POSTGRES_PASSWORD", &cfg.Ledger.Postgres.Password)
	envString("SPENDWISE_LEDGER_POSTGRES_SSL_MODE", &cfg.Ledger.Postgres.SSLMode)

	// Budget overrides
	envString("SPENDWISE_BUDGETS_TIMEZONE", &cfg.Budgets.Timezone)
	envString("SPENDWISE_BUDGETS_WEEK_START", &cfg.Budgets.WeekStart)

	// Alert overrides
	envString("SPENDWISE_ALERTS_STORE", &cfg.Alerts.Store)
	envString("SPENDWISE_ALERTS_REDIS_ADDR", &cfg.Alerts.Redis.Addr)
	envString("SPENDWISE_ALERTS_REDIS_PASSWORD", &cfg.Alerts.Redis.Password)
	envInt("SPENDWISE_ALERTS_REDIS_DB", &cfg.Alerts.Redis.DB)
	envString("SPENDWISE_ALERTS_WEBHOOK_URL", &cfg.Alerts.Webhook.URL)

	// Gate overrides
	envDuration("SPENDWISE_GATE_TIMEOUT", &cfg.Gate.Timeout)
	envBool("SPENDWISE_GATE_FAIL_OPEN", &cfg.Gate.FailOpen)
	envString("SPENDWISE_GATE_UNLIMITED_POLICY", &cfg.Gate.UnlimitedPolicy)

	// Schedule overrides
	envString("SPENDWISE_SCHEDULE_RESET", &cfg.Schedule.Reset)
	envString("SPENDWISE_SCHEDULE_RECONCILE", &cfg.Schedule.Reconcile)

	// Watch overrides
	envBool("SPENDWISE_WATCH_ENABLED", &cfg.Watch.Enabled)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
