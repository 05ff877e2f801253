package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spendwise-hq/meter/pkg/telemetry/metrics"
)

// ErrIntentDropped is returned by a Notifier that discarded an intent
// without attempting delivery. The dispatcher releases the intent's
// threshold so a later evaluation fires it again.
var ErrIntentDropped = errors.New("alert intent dropped")

// Notifier delivers intents.
type Notifier interface {
	Notify(ctx context.Context, intent Intent) error
}

// LogNotifier writes intents to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "alerts")}
}

// Notify implements Notifier. CRITICAL and HIGH intents log at error
// level, WARNING at warn, the rest at info.
func (n *LogNotifier) Notify(ctx context.Context, intent Intent) error {
	level := slog.LevelInfo
	switch intent.Severity {
	case SeverityCritical, SeverityHigh:
		level = slog.LevelError
	case SeverityWarning:
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, intent.Title,
		"alert_id", intent.ID,
		"kind", intent.Kind,
		"severity", intent.Severity,
		"organization_id", intent.Scope.OrganizationID,
		"budget_id", intent.Scope.BudgetID,
		"threshold", intent.Threshold,
		"message", intent.Message,
	)
	return nil
}

// MultiNotifier fans an intent out to every notifier and joins their
// errors.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, intent Intent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, intent); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncNotifier puts a bounded queue in front of a slow notifier so that
// usage recording never waits on delivery. When the queue is full a
// threshold intent is dropped and counted; a CRITICAL intent waits for
// room until ctx is done.
type AsyncNotifier struct {
	next    Notifier
	queue   chan Intent
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Collector

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// AsyncConfig configures an AsyncNotifier.
type AsyncConfig struct {
	// QueueSize is the number of intents buffered.
	// Default: 1000
	QueueSize int

	// Timeout bounds one delivery.
	// Default: 10 seconds
	Timeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// NewAsyncNotifier starts a worker delivering to next.
func NewAsyncNotifier(next Notifier, cfg AsyncConfig) *AsyncNotifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	a := &AsyncNotifier{
		next:    next,
		queue:   make(chan Intent, cfg.QueueSize),
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With("component", "alerts.async"),
		metrics: cfg.Metrics,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Notify enqueues the intent. It returns an error wrapping
// ErrIntentDropped when the intent was not queued.
func (a *AsyncNotifier) Notify(ctx context.Context, intent Intent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return a.drop(intent, "notifier closed")
	}
	select {
	case a.queue <- intent:
		return nil
	default:
	}
	if intent.Severity != SeverityCritical {
		return a.drop(intent, "queue full")
	}

	select {
	case a.queue <- intent:
		return nil
	case <-ctx.Done():
		return a.drop(intent, ctx.Err().Error())
	}
}

func (a *AsyncNotifier) drop(intent Intent, reason string) error {
	a.metrics.RecordAlertDropped()
	a.logger.Warn("alert dropped",
		"alert_id", intent.ID,
		"severity", intent.Severity,
		"reason", reason,
	)
	return fmt.Errorf("%w: %s", ErrIntentDropped, reason)
}

func (a *AsyncNotifier) run() {
	defer a.wg.Done()
	for intent := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Notify(ctx, intent); err != nil {
			a.logger.Error("alert delivery failed",
				"alert_id", intent.ID,
				"severity", intent.Severity,
				"error", err,
			)
		}
		cancel()
	}
}

// Close stops accepting intents and waits for queued ones to be delivered.
func (a *AsyncNotifier) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
		a.wg.Wait()
	})
	return nil
}
