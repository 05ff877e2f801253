package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"spendwise-hq/meter/pkg/budget"
	"spendwise-hq/meter/pkg/config"
	"spendwise-hq/meter/pkg/storage"
	"spendwise-hq/meter/pkg/telemetry/metrics"
	"spendwise-hq/meter/pkg/tenant"
	"spendwise-hq/meter/pkg/usage"
)

// Store is the read access the gate needs.
type Store interface {
	GetOrganization(ctx context.Context, id string) (*tenant.Organization, error)
	SumCost(ctx context.Context, f usage.Filter) (float64, error)
}

// BreachFunc is called after a check rejects a request because the
// spend limit was reached.
type BreachFunc func(ctx context.Context, d *Decision)

// Config contains configuration for a Gate.
type Config struct {
	// Store is required.
	Store Store

	// Calendar places the month the limit applies to.
	Calendar budget.Calendar

	// Timeout bounds a single check.
	// Default: 250ms
	Timeout time.Duration

	// FailOpen allows requests when the check fails or times out.
	// Default: false
	FailOpen bool

	// UnlimitedPolicy decides unknown organizations and organizations
	// without a limit.
	// Default: PolicyAllow
	UnlimitedPolicy Policy

	// OnBreach is invoked for every ReasonLimitExceeded rejection.
	OnBreach BreachFunc

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// ConfigFromSettings copies the gate section of the configuration file.
func ConfigFromSettings(cfg config.GateConfig) (Config, error) {
	policy, err := ParsePolicy(cfg.UnlimitedPolicy)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Timeout:         cfg.Timeout,
		FailOpen:        cfg.FailOpen,
		UnlimitedPolicy: policy,
	}, nil
}

// Gate is the pre-call spend-limit check. A request is allowed while the
// organization's month-to-date spend is strictly below its limit; the
// call that crosses the limit is allowed and every later one is rejected.
type Gate struct {
	store    Store
	calendar budget.Calendar
	timeout  time.Duration
	failOpen bool
	policy   Policy
	onBreach BreachFunc
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// New creates a Gate.
func New(cfg Config) *Gate {
	g := &Gate{
		store:    cfg.Store,
		calendar: cfg.Calendar,
		timeout:  cfg.Timeout,
		failOpen: cfg.FailOpen,
		policy:   cfg.UnlimitedPolicy,
		onBreach: cfg.OnBreach,
		now:      cfg.Now,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if g.timeout <= 0 {
		g.timeout = config.DefaultGateTimeout
	}
	if g.policy == "" {
		g.policy = PolicyAllow
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.calendar.Location == nil {
		g.calendar.Location = time.UTC
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "spend_gate")
	return g
}

// SetOnBreach replaces the breach hook. It must be called before the gate
// is used concurrently.
func (g *Gate) SetOnBreach(fn BreachFunc) {
	g.onBreach = fn
}

type outcome struct {
	decision *Decision
	err      error
}

// CheckSpendLimit decides whether orgID may make another provider call.
//
// A Decision is always returned. err is non-nil only when the check could
// not be evaluated; the decision then follows the fail-open setting.
func (g *Gate) CheckSpendLimit(ctx context.Context, orgID string) (*Decision, error) {
	start := time.Now()
	periodStart, periodEnd := g.calendar.Bounds(budget.Monthly, g.now())

	tctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// The evaluation runs apart so a store that ignores the context still
	// cannot hold the caller past the timeout.
	done := make(chan outcome, 1)
	go func() {
		d, err := g.evaluate(tctx, orgID, periodStart, periodEnd)
		done <- outcome{d, err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-tctx.Done():
		res = outcome{err: tctx.Err()}
	}

	if res.err != nil {
		d := g.unavailable(ctx, orgID, periodStart, periodEnd, res.err)
		g.record(d, start)
		return d, fmt.Errorf("failed to check spend limit for %s: %w", orgID, res.err)
	}

	d := res.decision
	g.record(d, start)
	if d.Reason == ReasonLimitExceeded {
		g.logger.WarnContext(ctx, "spend limit exceeded",
			"organization_id", orgID,
			"limit", d.Limit,
			"spent", d.Spent,
		)
		if g.onBreach != nil {
			g.onBreach(ctx, d)
		}
	}
	return d, nil
}

func (g *Gate) evaluate(ctx context.Context, orgID string, start, end time.Time) (*Decision, error) {
	d := &Decision{
		OrganizationID: orgID,
		PeriodStart:    start,
		PeriodEnd:      end,
	}

	org, err := g.store.GetOrganization(ctx, orgID)
	switch {
	case errors.Is(err, storage.ErrOrganizationNotFound):
		return g.unlimited(d, ReasonUnknownOrganization), nil
	case err != nil:
		return nil, err
	case !org.HasLimit():
		return g.unlimited(d, ReasonNoLimit), nil
	}

	spent, err := g.store.SumCost(ctx, usage.Filter{
		OrganizationID: orgID,
		From:           start,
		To:             end,
	})
	if err != nil {
		return nil, err
	}

	d.Limit = org.Limit()
	d.Spent = spent
	d.Remaining = math.Max(0, math.Round((d.Limit-spent)*1e6)/1e6)
	if spent < d.Limit {
		d.Allowed = true
		d.Reason = ReasonWithinLimit
		return d, nil
	}
	d.Reason = ReasonLimitExceeded
	d.Message = MessageLimitExceeded
	return d, nil
}

func (g *Gate) unlimited(d *Decision, reason Reason) *Decision {
	d.Reason = reason
	if g.policy == PolicyDeny {
		d.Message = MessageDenied
		return d
	}
	d.Allowed = true
	return d
}

func (g *Gate) unavailable(ctx context.Context, orgID string, start, end time.Time, err error) *Decision {
	d := &Decision{
		Reason:         ReasonUnavailable,
		OrganizationID: orgID,
		PeriodStart:    start,
		PeriodEnd:      end,
	}
	if g.failOpen {
		d.Allowed = true
		d.FailedOpen = true
	} else {
		d.Message = MessageUnavailable
	}
	g.logger.ErrorContext(ctx, "spend limit check failed",
		"organization_id", orgID,
		"fail_open", g.failOpen,
		"error", err,
	)
	return d
}

func (g *Gate) record(d *Decision, start time.Time) {
	result := "allowed"
	switch {
	case d.FailedOpen:
		result = "failed_open"
	case d.Reason == ReasonUnavailable:
		result = "unavailable"
	case !d.Allowed:
		result = "rejected"
	}
	g.metrics.RecordGateDecision(result, time.Since(start))
}
