package budget

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"spendwise-hq/meter/pkg/telemetry/metrics"
	"spendwise-hq/meter/pkg/usage"
)

// Store is the persistence the tracker needs. The ledger sum is the
// authoritative spend; the budget row only caches it.
type Store interface {
	// SumCost returns the total cost of matching ledger events.
	SumCost(ctx context.Context, f usage.Filter) (float64, error)

	// UpdateBudgetSpent atomically adds delta to the cached spend.
	UpdateBudgetSpent(ctx context.Context, id string, delta float64) error

	// ResetBudgetPeriod moves the budget to [start, end) and zeroes its
	// cached spend and last alerted threshold, provided its period still
	// starts at prevStart. It reports whether this call performed the reset.
	ResetBudgetPeriod(ctx context.Context, id string, prevStart, start, end time.Time) (bool, error)
}

// ResetFunc is called after a budget rolls over into a new period.
// previousStart identifies the period that ended.
type ResetFunc func(ctx context.Context, b *Budget, previousStart time.Time)

// Config contains configuration for a Tracker.
type Config struct {
	// Store is required.
	Store Store

	// Calendar fixes period boundaries. Defaults to DefaultCalendar.
	Calendar Calendar

	// OnReset is invoked once per rollover, by the caller that won it.
	OnReset ResetFunc

	// Now defaults to time.Now.
	Now func() time.Time

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Tracker evaluates budgets against the ledger and rolls them over when
// their period elapses.
type Tracker struct {
	store    Store
	calendar Calendar
	onReset  ResetFunc
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// NewTracker creates a Tracker.
func NewTracker(cfg Config) *Tracker {
	t := &Tracker{
		store:    cfg.Store,
		calendar: cfg.Calendar,
		onReset:  cfg.OnReset,
		now:      cfg.Now,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if t.calendar.Location == nil {
		t.calendar.Location = time.UTC
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "budget_tracker")
	return t
}

// SetOnReset replaces the rollover hook. It must be called before the
// tracker is used concurrently.
func (t *Tracker) SetOnReset(fn ResetFunc) {
	t.onReset = fn
}

// Calendar returns the tracker's calendar.
func (t *Tracker) Calendar() Calendar {
	return t.calendar
}

// InitialPeriod returns the period containing now for a new budget.
func (t *Tracker) InitialPeriod(p Period) (start, end time.Time) {
	return t.calendar.Bounds(p, t.now())
}

// Filter returns the ledger filter selecting the budget's scope over its
// current period.
func Filter(b *Budget) usage.Filter {
	f := usage.Filter{
		OrganizationID: b.OrganizationID,
		From:           b.PeriodStart,
		To:             b.PeriodEnd,
	}
	if b.Scope == ScopeUser {
		f.UserID = b.UserID
	}
	return f
}

// CurrentSpend returns the ledger sum for the budget's scope over its
// current period. It never trusts the cached Spent field.
func (t *Tracker) CurrentSpend(ctx context.Context, b *Budget) (float64, error) {
	spent, err := t.store.SumCost(ctx, Filter(b))
	if err != nil {
		return 0, fmt.Errorf("failed to sum spend for budget %s: %w", b.ID, err)
	}
	return round6(spent), nil
}

// Recompute rolls the budget over if its period has elapsed, adds newCost
// to the cached spend, and returns the status computed from the ledger.
// b is updated in place.
func (t *Tracker) Recompute(ctx context.Context, b *Budget, newCost float64) (*Status, error) {
	if err := t.Rollover(ctx, b); err != nil {
		return nil, err
	}

	if newCost != 0 {
		if err := t.store.UpdateBudgetSpent(ctx, b.ID, newCost); err != nil {
			return nil, fmt.Errorf("failed to update spend for budget %s: %w", b.ID, err)
		}
		b.Spent = round6(b.Spent + newCost)
	}

	return t.status(ctx, b)
}

// Status evaluates the budget without recording new spend. An elapsed
// period is still rolled over first.
func (t *Tracker) Status(ctx context.Context, b *Budget) (*Status, error) {
	if err := t.Rollover(ctx, b); err != nil {
		return nil, err
	}
	return t.status(ctx, b)
}

// Rollover advances b to the period containing now when its current period
// has elapsed. Concurrent callers race on the store; only the winner runs
// the reset hook. It reports no error when the budget is current.
func (t *Tracker) Rollover(ctx context.Context, b *Budget) error {
	now := t.now()
	if !b.Expired(now) {
		return nil
	}

	prevStart := b.PeriodStart
	start, end := t.calendar.Bounds(b.Period, now)
	won, err := t.store.ResetBudgetPeriod(ctx, b.ID, prevStart, start, end)
	if err != nil {
		return fmt.Errorf("failed to reset budget %s: %w", b.ID, err)
	}

	b.PeriodStart = start
	b.PeriodEnd = end
	b.Spent = 0
	b.LastAlertedThreshold = 0

	if won {
		t.logger.InfoContext(ctx, "budget period rolled over",
			"budget_id", b.ID,
			"organization_id", b.OrganizationID,
			"period", b.Period,
			"previous_start", prevStart,
			"period_start", start,
			"period_end", end,
		)
		t.metrics.RecordBudgetReset()
		if t.onReset != nil {
			t.onReset(ctx, b, prevStart)
		}
	}
	return nil
}

func (t *Tracker) status(ctx context.Context, b *Budget) (*Status, error) {
	spent, err := t.CurrentSpend(ctx, b)
	if err != nil {
		return nil, err
	}
	s := ComputeStatus(b, spent, t.now(), t.calendar.Location)
	return &s, nil
}

// ComputeStatus evaluates b with the given ledger spend at now. Day counts
// are whole days rounded up and measured on the wall clock of loc.
func ComputeStatus(b *Budget, spent float64, now time.Time, loc *time.Location) Status {
	if loc == nil {
		loc = time.UTC
	}

	s := Status{
		BudgetID:    b.ID,
		Name:        b.Name,
		Amount:      b.Amount,
		Spent:       round6(spent),
		PeriodStart: b.PeriodStart,
		PeriodEnd:   b.PeriodEnd,
	}

	s.Remaining = round6(math.Max(0, b.Amount-spent))
	if b.Amount > 0 {
		s.PercentageUsed = round6(spent / b.Amount * 100)
	}
	s.IsOverBudget = spent > b.Amount

	s.TotalDays = ceilDays(b.PeriodStart, b.PeriodEnd, loc)
	s.DaysElapsed = ceilDays(b.PeriodStart, now, loc)
	if s.DaysElapsed > s.TotalDays {
		s.DaysElapsed = s.TotalDays
	}
	s.DaysRemaining = ceilDays(now, b.PeriodEnd, loc)

	if s.DaysElapsed > 0 {
		s.DailyRate = round6(spent / float64(s.DaysElapsed))
	}
	s.ProjectedSpend = round6(s.DailyRate * float64(s.TotalDays))
	s.ProjectedOverBudget = s.ProjectedSpend > b.Amount

	return s
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
