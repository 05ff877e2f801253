package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"spendwise-hq/meter/pkg/budget"
	"spendwise-hq/meter/pkg/config"
	"spendwise-hq/meter/pkg/telemetry/metrics"
)

// BudgetRecorder persists the highest threshold fired in a budget period,
// so that a restarted dispatcher does not fire it again.
type BudgetRecorder interface {
	SetLastAlertedThreshold(ctx context.Context, id string, periodStart time.Time, threshold int) error
}

// Config contains configuration for a Dispatcher.
type Config struct {
	// Store is the threshold state. Defaults to a MemoryStore on the
	// dispatcher's clock.
	Store ThresholdStore

	// Budgets persists the last alerted threshold. Optional.
	Budgets BudgetRecorder

	// Notifier receives emitted intents. Defaults to a LogNotifier.
	Notifier Notifier

	// Thresholds is the ladder for budgets without their own.
	// Default: config.DefaultAlertThresholds
	Thresholds []int

	// Calendar places the monthly window of spend-limit alerts.
	Calendar budget.Calendar

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Dispatcher turns budget status changes into alert intents. Each
// threshold fires at most once per budget per period, even across
// concurrent evaluations and replicas sharing a store.
type Dispatcher struct {
	store      ThresholdStore
	budgets    BudgetRecorder
	notifier   Notifier
	thresholds atomic.Pointer[[]int]
	calendar   budget.Calendar
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Dispatcher{
		store:    cfg.Store,
		budgets:  cfg.Budgets,
		notifier: cfg.Notifier,
		calendar: cfg.Calendar,
		now:      cfg.Now,
		logger:   cfg.Logger.With("component", "alert_dispatcher"),
		metrics:  cfg.Metrics,
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.store == nil {
		d.store = NewMemoryStore(WithClock(d.now))
	}
	if d.notifier == nil {
		d.notifier = NewLogNotifier(cfg.Logger)
	}
	if d.calendar.Location == nil {
		d.calendar.Location = time.UTC
	}
	d.SetThresholds(cfg.Thresholds)
	return d
}

// SetThresholds replaces the default ladder. It is safe to call while the
// dispatcher is in use.
func (d *Dispatcher) SetThresholds(thresholds []int) {
	ladder := append([]int(nil), thresholds...)
	if len(ladder) == 0 {
		ladder = append(ladder, config.DefaultAlertThresholds...)
	}
	sort.Ints(ladder)
	d.thresholds.Store(&ladder)
}

// Thresholds returns the ladder that applies to b.
func (d *Dispatcher) Thresholds(b *budget.Budget) []int {
	if len(b.AlertThresholds) > 0 {
		ladder := append([]int(nil), b.AlertThresholds...)
		sort.Ints(ladder)
		return ladder
	}
	return *d.thresholds.Load()
}

// Evaluate emits an intent for every threshold that status has crossed
// and that has not fired yet in the budget's current period.
func (d *Dispatcher) Evaluate(ctx context.Context, b *budget.Budget, status *budget.Status) ([]Intent, error) {
	if status == nil {
		return nil, nil
	}

	scope := BudgetScope(b.ID)
	expires := status.PeriodEnd.Add(24 * time.Hour)

	var fired []Intent
	highest := 0
	for _, t := range d.Thresholds(b) {
		if status.PercentageUsed < float64(t) {
			break
		}
		won, err := d.store.MarkFired(ctx, scope, status.PeriodStart, t, expires)
		if err != nil {
			return fired, fmt.Errorf("failed to record threshold %d of budget %s: %w", t, b.ID, err)
		}
		if !won {
			continue
		}

		intent := d.thresholdIntent(b, status, t)
		if !d.emit(ctx, scope, status.PeriodStart, intent) {
			continue
		}
		fired = append(fired, intent)
		highest = t
	}

	if highest > 0 && d.budgets != nil {
		if err := d.budgets.SetLastAlertedThreshold(ctx, b.ID, status.PeriodStart, highest); err != nil {
			d.logger.WarnContext(ctx, "failed to persist last alerted threshold",
				"budget_id", b.ID,
				"threshold", highest,
				"error", err,
			)
		}
	}
	return fired, nil
}

func (d *Dispatcher) thresholdIntent(b *budget.Budget, s *budget.Status, threshold int) Intent {
	intent := Intent{
		ID:        uuid.NewString(),
		Severity:  SeverityFor(threshold),
		Threshold: threshold,
		Scope: Scope{
			OrganizationID: b.OrganizationID,
			UserID:         b.UserID,
			BudgetID:       b.ID,
		},
		Channels: DefaultChannels,
		Metadata: map[string]any{
			"budget_name":     b.Name,
			"amount":          b.Amount,
			"spent":           s.Spent,
			"percentage_used": s.PercentageUsed,
			"period_start":    s.PeriodStart,
			"period_end":      s.PeriodEnd,
		},
		CreatedAt: d.now(),
	}

	if threshold >= 100 {
		intent.Kind = KindThresholdExceeded
		intent.Title = fmt.Sprintf("Budget %q exceeded", b.Name)
		intent.Message = fmt.Sprintf("Your %s has exceeded its limit of $%.2f. Current usage: $%.2f",
			b.Name, b.Amount, s.Spent)
	} else {
		intent.Kind = KindThresholdWarning
		intent.Title = fmt.Sprintf("Budget %q alert", b.Name)
		intent.Message = fmt.Sprintf("Your %s has reached %.0f%% of its $%.2f limit.",
			b.Name, s.PercentageUsed, b.Amount)
	}
	return intent
}

// Restore marks every threshold up to the budget's persisted
// LastAlertedThreshold as fired for its current period. It is used when
// the threshold store starts empty.
func (d *Dispatcher) Restore(ctx context.Context, b *budget.Budget) error {
	if b.LastAlertedThreshold <= 0 {
		return nil
	}
	scope := BudgetScope(b.ID)
	expires := b.PeriodEnd.Add(24 * time.Hour)
	for _, t := range d.Thresholds(b) {
		if t > b.LastAlertedThreshold {
			break
		}
		if _, err := d.store.MarkFired(ctx, scope, b.PeriodStart, t, expires); err != nil {
			return fmt.Errorf("failed to restore threshold %d of budget %s: %w", t, b.ID, err)
		}
	}
	return nil
}

// Reset clears the fired thresholds of a budget period.
func (d *Dispatcher) Reset(ctx context.Context, budgetID string, periodStart time.Time) error {
	return d.store.Clear(ctx, BudgetScope(budgetID), periodStart)
}

// OnBudgetReset is a budget.ResetFunc clearing the previous period's
// threshold state.
func (d *Dispatcher) OnBudgetReset(ctx context.Context, b *budget.Budget, previousStart time.Time) {
	if err := d.Reset(ctx, b.ID, previousStart); err != nil {
		d.logger.WarnContext(ctx, "failed to clear thresholds of previous period",
			"budget_id", b.ID,
			"previous_start", previousStart,
			"error", err,
		)
	}
}

// SpendLimitExceeded emits the CRITICAL intent for a gate rejection, at
// most once per organization per calendar month. It returns nil when the
// month's alert has already fired.
func (d *Dispatcher) SpendLimitExceeded(ctx context.Context, breach LimitBreach) (*Intent, error) {
	start, end := breach.PeriodStart, breach.PeriodEnd
	if start.IsZero() || end.IsZero() {
		start, end = d.calendar.Bounds(budget.Monthly, d.now())
	}

	won, err := d.store.MarkFired(ctx, LimitScope(breach.OrganizationID), start, 100, end.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to record spend limit alert for %s: %w", breach.OrganizationID, err)
	}
	if !won {
		return nil, nil
	}

	intent := Intent{
		ID:       uuid.NewString(),
		Kind:     KindSpendLimitExceeded,
		Severity: SeverityCritical,
		Title:    "Budget limit exceeded",
		Message:  "Your organization has exceeded its spending limit. Please increase your budget or contact your administrator.",
		Scope: Scope{
			OrganizationID: breach.OrganizationID,
			UserID:         breach.UserID,
		},
		Threshold: 100,
		Channels:  DefaultChannels,
		Metadata: map[string]any{
			"limit":        breach.Limit,
			"spent":        breach.Spent,
			"period_start": start,
			"period_end":   end,
		},
		CreatedAt: d.now(),
	}
	if !d.emit(ctx, LimitScope(breach.OrganizationID), start, intent) {
		return nil, fmt.Errorf("spend limit alert for %s not delivered: %w", breach.OrganizationID, ErrIntentDropped)
	}
	return &intent, nil
}

// emit hands intent to the notifier and reports whether it was accepted.
// A dropped intent releases its threshold in scope; other delivery errors
// are only logged.
func (d *Dispatcher) emit(ctx context.Context, scope string, periodStart time.Time, intent Intent) bool {
	err := d.notifier.Notify(ctx, intent)
	if errors.Is(err, ErrIntentDropped) {
		if rerr := d.store.Release(ctx, scope, periodStart, intent.Threshold); rerr != nil {
			d.logger.ErrorContext(ctx, "failed to release threshold of dropped alert",
				"alert_id", intent.ID,
				"threshold", intent.Threshold,
				"error", rerr,
			)
		}
		return false
	}

	d.metrics.RecordAlert(string(intent.Severity))
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to deliver alert",
			"alert_id", intent.ID,
			"severity", intent.Severity,
			"organization_id", intent.Scope.OrganizationID,
			"error", err,
		)
	}
	return true
}
