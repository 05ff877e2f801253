package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"spendwise-hq/meter/pkg/alerts"
	"spendwise-hq/meter/pkg/budget"
	"spendwise-hq/meter/pkg/cli"
	"spendwise-hq/meter/pkg/config"
	"spendwise-hq/meter/pkg/gate"
	"spendwise-hq/meter/pkg/metering"
	"spendwise-hq/meter/pkg/pricing"
	"spendwise-hq/meter/pkg/storage"
	"spendwise-hq/meter/pkg/telemetry/health"
	"spendwise-hq/meter/pkg/telemetry/logging"
	"spendwise-hq/meter/pkg/telemetry/metrics"
	"spendwise-hq/meter/pkg/telemetry/tracing"
)

// loadConfig loads the configuration named by --config and applies the
// verbose flag.
func loadConfig() (*config.Config, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section and makes
// it the slog default.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:     cfg.Level,
		Format:    cfg.Format,
		AddSource: cfg.AddSource,
		Writer:    os.Stderr,
	})
	if err != nil {
		return nil, cli.NewConfigError("logging", err.Error())
	}
	slog.SetDefault(logger)
	return logger, nil
}

// app holds the wired metering components of one process.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Collector
	tracer     *tracing.Tracer
	store      storage.Store
	redis      *alerts.RedisStore
	notifier   *alerts.AsyncNotifier
	pricing    *pricing.Table
	calendar   budget.Calendar
	dispatcher *alerts.Dispatcher
	svc        *metering.Service
}

// newApp opens the ledger and alert state stores and wires the metering
// service from cfg. The caller must Close the returned app.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, registry)

	a.tracer, err = tracing.New(ctx, &cfg.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	calendar, err := budget.CalendarFromConfig(cfg.Budgets)
	if err != nil {
		return nil, cli.NewConfigError("budgets", err.Error())
	}
	a.calendar = calendar

	a.store, err = storage.New(ctx, cfg.Ledger, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s ledger: %w", cfg.Ledger.Backend, err)
	}

	var thresholds alerts.ThresholdStore = alerts.NewMemoryStore()
	if cfg.Alerts.Store == "redis" {
		a.redis = alerts.NewRedisStore(alerts.NewRedisClient(cfg.Alerts.Redis), cfg.Alerts.Redis.KeyPrefix)
		if err := a.redis.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Alerts.Redis.Addr, err)
		}
		thresholds = a.redis
	}

	a.notifier = alerts.NewAsyncNotifier(newNotifier(cfg.Alerts, logger), alerts.AsyncConfig{
		QueueSize: cfg.Alerts.QueueSize,
		Logger:    logger,
		Metrics:   a.metrics,
	})

	a.pricing = pricing.NewTableFromConfig(cfg.Pricing, logger, a.metrics)

	tracker := budget.NewTracker(budget.Config{
		Store:    a.store,
		Calendar: calendar,
		Logger:   logger,
		Metrics:  a.metrics,
	})
	a.dispatcher = alerts.NewDispatcher(alerts.Config{
		Store:      thresholds,
		Budgets:    a.store,
		Notifier:   a.notifier,
		Thresholds: cfg.Alerts.Thresholds,
		Calendar:   calendar,
		Logger:     logger,
		Metrics:    a.metrics,
	})

	gateCfg, err := gate.ConfigFromSettings(cfg.Gate)
	if err != nil {
		return nil, cli.NewConfigError("gate.unlimited_policy", err.Error())
	}
	gateCfg.Store = a.store
	gateCfg.Calendar = calendar
	gateCfg.Logger = logger
	gateCfg.Metrics = a.metrics

	a.svc, err = metering.New(metering.Config{
		Store:      a.store,
		Pricing:    a.pricing,
		Tracker:    tracker,
		Dispatcher: a.dispatcher,
		Gate:       gate.New(gateCfg),
		Logger:     logger,
		Metrics:    a.metrics,
		Tracer:     a.tracer,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// healthChecker registers the ledger as a critical dependency and the
// Redis threshold store, when used, as a non-critical one.
func (a *app) healthChecker() *health.Checker {
	checker := health.New(0)
	checker.Register("ledger", health.PingCheck(a.store), true)
	if a.redis != nil {
		checker.Register("alert_store", health.PingCheck(a.redis), false)
	}
	return checker
}

// reload pushes the hot-reloadable parts of a new configuration into the
// running components: the price table and the default threshold ladder.
func (a *app) reload(cfg *config.Config) error {
	rates, fallback := pricing.RatesFromConfig(cfg.Pricing)
	a.pricing.Update(rates, fallback)
	a.dispatcher.SetThresholds(cfg.Alerts.Thresholds)
	a.logger.Info("applied configuration reload",
		"providers", len(rates),
		"thresholds", cfg.Alerts.Thresholds,
	)
	return nil
}

// Close drains pending alerts and releases the stores and the tracer.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.notifier != nil {
		errs = append(errs, a.notifier.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// newNotifier delivers intents to the log and, when configured, a webhook.
func newNotifier(cfg config.AlertsConfig, logger *slog.Logger) alerts.Notifier {
	notifiers := alerts.MultiNotifier{alerts.NewLogNotifier(logger)}
	if cfg.Webhook.URL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(cfg.Webhook))
	}
	return notifiers
}
