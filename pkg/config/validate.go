package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateTracing(&cfg.Tracing)...)
	errs = append(errs, validatePricing(&cfg.Pricing)...)
	errs = append(errs, validateLedger(&cfg.Ledger)...)
	errs = append(errs, validateBudgets(&cfg.Budgets)...)
	errs = append(errs, validateAlerts(&cfg.Alerts)...)
	errs = append(errs, validateGate(&cfg.Gate)...)
	errs = append(errs, validateSchedule(&cfg.Schedule)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateServer validates server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid host:port %q", cfg.ListenAddress),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_body_bytes",
			Message: "max body bytes must be non-negative",
		})
	}

	return errs
}

// validateLogging validates logging configuration.
func validateLogging(cfg *LoggingConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown log level %q (valid: debug, info, warn, error)", cfg.Level),
		})
	}

	switch strings.ToLower(cfg.Format) {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown log format %q (valid: json, text)", cfg.Format),
		})
	}

	return errs
}

// validateTracing validates tracing configuration.
func validateTracing(cfg *TracingConfig) []FieldError {
	var errs []FieldError

	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "tracing.sample_ratio",
			Message: "sample ratio must be between 0 and 1",
		})
	}
	if cfg.Enabled && cfg.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "tracing.endpoint",
			Message: "endpoint is required when tracing is enabled",
		})
	}

	return errs
}

// validatePricing validates the price table. Prices must be non-negative.
func validatePricing(cfg *PricingConfig) []FieldError {
	var errs []FieldError

	if cfg.Fallback.Input < 0 || cfg.Fallback.Output < 0 {
		errs = append(errs, FieldError{
			Field:   "pricing.fallback",
			Message: "fallback prices must be non-negative",
		})
	}

	providers := make([]string, 0, len(cfg.Models))
	for provider := range cfg.Models {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	for _, provider := range providers {
		models := cfg.Models[provider]
		names := make([]string, 0, len(models))
		for model := range models {
			names = append(names, model)
		}
		sort.Strings(names)

		for _, model := range names {
			price := models[model]
			if price.Input < 0 || price.Output < 0 {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("pricing.models.%s.%s", provider, model),
					Message: "prices must be non-negative",
				})
			}
		}
	}

	return errs
}

// validateLedger validates ledger configuration.
func validateLedger(cfg *LedgerConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "ledger.sqlite.path",
				Message: "path is required for the sqlite backend",
			})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "ledger.sqlite.driver",
				Message: fmt.Sprintf("unknown driver %q (valid: sqlite, sqlite3)", cfg.SQLite.Driver),
			})
		}
	case "postgres":
		if cfg.Postgres.Host == "" {
			errs = append(errs, FieldError{
				Field:   "ledger.postgres.host",
				Message: "host is required for the postgres backend",
			})
		}
		if cfg.Postgres.Port <= 0 || cfg.Postgres.Port > 65535 {
			errs = append(errs, FieldError{
				Field:   "ledger.postgres.port",
				Message: "port must be between 1 and 65535",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("unknown backend %q (valid: memory, sqlite, postgres)", cfg.Backend),
		})
	}

	if cfg.QueryLimit <= 0 {
		errs = append(errs, FieldError{
			Field:   "ledger.query_limit",
			Message: "query limit must be positive",
		})
	}
	if cfg.MaxQueryLimit < cfg.QueryLimit {
		errs = append(errs, FieldError{
			Field:   "ledger.max_query_limit",
			Message: "max query limit must not be smaller than query limit",
		})
	}

	return errs
}

// validateBudgets validates budget calendar settings.
func validateBudgets(cfg *BudgetsConfig) []FieldError {
	var errs []FieldError

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, FieldError{
			Field:   "budgets.timezone",
			Message: fmt.Sprintf("unknown timezone %q", cfg.Timezone),
		})
	}

	switch strings.ToLower(cfg.WeekStart) {
	case "sunday", "monday":
	default:
		errs = append(errs, FieldError{
			Field:   "budgets.week_start",
			Message: fmt.Sprintf("invalid week start %q (valid: sunday, monday)", cfg.WeekStart),
		})
	}

	return errs
}

// validateAlerts validates the threshold ladder and store settings.
func validateAlerts(cfg *AlertsConfig) []FieldError {
	var errs []FieldError

	for i, t := range cfg.Thresholds {
		if t <= 0 || t > 1000 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("alerts.thresholds[%d]", i),
				Message: "threshold must be between 1 and 1000 percent",
			})
		}
		if i > 0 && t <= cfg.Thresholds[i-1] {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("alerts.thresholds[%d]", i),
				Message: "thresholds must be strictly ascending",
			})
		}
	}

	switch cfg.Store {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			errs = append(errs, FieldError{
				Field:   "alerts.redis.addr",
				Message: "address is required for the redis store",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "alerts.store",
			Message: fmt.Sprintf("unknown store %q (valid: memory, redis)", cfg.Store),
		})
	}

	if cfg.QueueSize < 0 {
		errs = append(errs, FieldError{
			Field:   "alerts.queue_size",
			Message: "queue size must be non-negative",
		})
	}

	if cfg.Webhook.URL != "" {
		u, err := url.Parse(cfg.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   "alerts.webhook.url",
				Message: fmt.Sprintf("invalid webhook URL %q (must be http or https)", cfg.Webhook.URL),
			})
		}
	}
	if cfg.Webhook.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   "alerts.webhook.timeout",
			Message: "timeout must be non-negative",
		})
	}

	return errs
}

// validateGate validates spend-limit gate settings.
func validateGate(cfg *GateConfig) []FieldError {
	var errs []FieldError

	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "gate.timeout",
			Message: "timeout must be positive",
		})
	}

	switch cfg.UnlimitedPolicy {
	case "allow", "deny":
	default:
		errs = append(errs, FieldError{
			Field:   "gate.unlimited_policy",
			Message: fmt.Sprintf("unknown policy %q (valid: allow, deny)", cfg.UnlimitedPolicy),
		})
	}

	return errs
}

// validateSchedule validates cron schedules.
func validateSchedule(cfg *ScheduleConfig) []FieldError {
	var errs []FieldError

	schedules := []struct {
		field string
		spec  string
	}{
		{"schedule.reset", cfg.Reset},
		{"schedule.reconcile", cfg.Reconcile},
	}
	for _, s := range schedules {
		if s.spec == "-" {
			continue
		}
		if _, err := cron.ParseStandard(s.spec); err != nil {
			errs = append(errs, FieldError{
				Field:   s.field,
				Message: fmt.Sprintf("invalid cron expression %q: %v", s.spec, err),
			})
		}
	}

	if cfg.JobTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "schedule.job_timeout",
			Message: "job timeout must be positive",
		})
	}

	return errs
}
