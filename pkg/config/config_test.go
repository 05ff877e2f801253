package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:9000"
  read_timeout: "30s"
ledger:
  backend: "postgres"
  postgres:
    host: "db.internal"
    user: "meter"
pricing:
  models:
    openai:
      gpt-4o: {input: 5.0, output: 15.0}
alerts:
  store: "redis"
  thresholds: [25, 50, 100]
gate:
  timeout: "100ms"
  unlimited_policy: "deny"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:9000", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected read timeout %v, got %v", 30*time.Second, cfg.Server.ReadTimeout)
	}
	if cfg.Ledger.Backend != "postgres" {
		t.Errorf("expected backend postgres, got %q", cfg.Ledger.Backend)
	}
	if cfg.Ledger.Postgres.Port != DefaultPostgresPort {
		t.Errorf("expected default port %d, got %d", DefaultPostgresPort, cfg.Ledger.Postgres.Port)
	}
	if got := cfg.Pricing.Models["openai"]["gpt-4o"]; got.Input != 5.0 || got.Output != 15.0 {
		t.Errorf("unexpected gpt-4o pricing: %+v", got)
	}
	if len(cfg.Alerts.Thresholds) != 3 || cfg.Alerts.Thresholds[0] != 25 {
		t.Errorf("expected configured thresholds, got %v", cfg.Alerts.Thresholds)
	}
	if cfg.Gate.Timeout != 100*time.Millisecond {
		t.Errorf("expected gate timeout 100ms, got %v", cfg.Gate.Timeout)
	}
	if cfg.Gate.UnlimitedPolicy != "deny" {
		t.Errorf("expected unlimited policy deny, got %q", cfg.Gate.UnlimitedPolicy)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := NewDefaultConfig()

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"listen address", cfg.Server.ListenAddress, DefaultListenAddress},
		{"log level", cfg.Logging.Level, DefaultLogLevel},
		{"ledger backend", cfg.Ledger.Backend, DefaultLedgerBackend},
		{"sqlite driver", cfg.Ledger.SQLite.Driver, DefaultSQLiteDriver},
		{"alert store", cfg.Alerts.Store, DefaultAlertStore},
		{"gate timeout", cfg.Gate.Timeout, DefaultGateTimeout},
		{"gate fail open", cfg.Gate.FailOpen, false},
		{"unlimited policy", cfg.Gate.UnlimitedPolicy, DefaultGateUnlimitedPolicy},
		{"reset schedule", cfg.Schedule.Reset, DefaultResetSchedule},
		{"fallback input", cfg.Pricing.Fallback.Input, DefaultFallbackInputPrice},
		{"week start", cfg.Budgets.WeekStart, DefaultBudgetWeekStart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}

	if len(cfg.Alerts.Thresholds) != 4 {
		t.Errorf("expected 4 default thresholds, got %v", cfg.Alerts.Thresholds)
	}

	// The default ladder must not alias the package-level slice.
	cfg.Alerts.Thresholds[0] = 1
	if DefaultAlertThresholds[0] != 50 {
		t.Error("ApplyDefaults aliased DefaultAlertThresholds")
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("default config should be valid, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "bad listen address",
			mutate:    func(c *Config) { c.Server.ListenAddress = "nocolon" },
			wantField: "server.listen_address",
		},
		{
			name:      "unknown backend",
			mutate:    func(c *Config) { c.Ledger.Backend = "mongo" },
			wantField: "ledger.backend",
		},
		{
			name:      "unknown sqlite driver",
			mutate:    func(c *Config) { c.Ledger.SQLite.Driver = "sqlite4" },
			wantField: "ledger.sqlite.driver",
		},
		{
			name:      "webhook without scheme",
			mutate:    func(c *Config) { c.Alerts.Webhook.URL = "hooks.example.com/alerts" },
			wantField: "alerts.webhook.url",
		},
		{
			name:      "descending thresholds",
			mutate:    func(c *Config) { c.Alerts.Thresholds = []int{50, 40} },
			wantField: "alerts.thresholds[1]",
		},
		{
			name: "negative price",
			mutate: func(c *Config) {
				c.Pricing.Models = map[string]map[string]ModelPriceConfig{
					"openai": {"gpt-4o": {Input: -1}},
				}
			},
			wantField: "pricing.models.openai.gpt-4o",
		},
		{
			name:      "bad cron",
			mutate:    func(c *Config) { c.Schedule.Reconcile = "every minute" },
			wantField: "schedule.reconcile",
		},
		{
			name:      "bad unlimited policy",
			mutate:    func(c *Config) { c.Gate.UnlimitedPolicy = "maybe" },
			wantField: "gate.unlimited_policy",
		},
		{
			name:      "bad timezone",
			mutate:    func(c *Config) { c.Budgets.Timezone = "Mars/Olympus" },
			wantField: "budgets.timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}

			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error for field %q, got %v", tt.wantField, verr.Errors)
			}
		})
	}
}

func TestValidate_DisabledSchedule(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Schedule.Reset = "-"
	if err := Validate(cfg); err != nil {
		t.Errorf("expected disabled schedule to validate, got %v", err)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "ledger:\n  backend: memory\n")

	t.Setenv("SPENDWISE_SERVER_LISTEN_ADDRESS", "0.0.0.0:7777")
	t.Setenv("SPENDWISE_GATE_FAIL_OPEN", "true")
	t.Setenv("SPENDWISE_ALERTS_REDIS_DB", "3")
	t.Setenv("SPENDWISE_GATE_TIMEOUT", "not-a-duration")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:7777" {
		t.Errorf("expected env listen address, got %q", cfg.Server.ListenAddress)
	}
	if !cfg.Gate.FailOpen {
		t.Error("expected fail open override")
	}
	if cfg.Alerts.Redis.DB != 3 {
		t.Errorf("expected redis db 3, got %d", cfg.Alerts.Redis.DB)
	}
	if cfg.Gate.Timeout != DefaultGateTimeout {
		t.Errorf("expected unparsable override to be ignored, got %v", cfg.Gate.Timeout)
	}
}

func TestValidationError_Message(t *testing.T) {
	err := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "worse"},
	}}
	msg := err.Error()
	if !strings.Contains(msg, "2 errors") || !strings.Contains(msg, "b: worse") {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		d.Trigger(func() { calls.Add(1) })
	}

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 debounced call, got %d", got)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "ledger:\n  backend: memory\n")

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	reloaded := make(chan *Config, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Watch(ctx, func(cfg *Config) error {
			select {
			case reloaded <- cfg:
			default:
			}
			return nil
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(path, []byte("ledger:\n  backend: memory\ngate:\n  timeout: 1s\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Gate.Timeout != time.Second {
			t.Errorf("expected reloaded timeout 1s, got %v", cfg.Gate.Timeout)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("unexpected stop error: %v", err)
	}
}
