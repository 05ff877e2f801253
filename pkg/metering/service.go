package metering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"spendwise-hq/meter/pkg/alerts"
	"spendwise-hq/meter/pkg/budget"
	"spendwise-hq/meter/pkg/gate"
	"spendwise-hq/meter/pkg/pricing"
	"spendwise-hq/meter/pkg/storage"
	"spendwise-hq/meter/pkg/telemetry/logging"
	"spendwise-hq/meter/pkg/telemetry/metrics"
	"spendwise-hq/meter/pkg/telemetry/tracing"
	"spendwise-hq/meter/pkg/tenant"
	"spendwise-hq/meter/pkg/usage"
	"spendwise-hq/meter/pkg/usage/normalize"
)

// ErrStoreRequired is returned by New when no store is configured.
var ErrStoreRequired = errors.New("metering: store is required")

// ErrFutureTimestamp is returned when a usage timestamp is later than now
// plus MaxClockSkew.
var ErrFutureTimestamp = errors.New("usage timestamp is in the future")

// MaxClockSkew is how far past the service clock a caller-supplied usage
// timestamp may lie.
const MaxClockSkew = 5 * time.Minute

// Config contains the collaborators of a Service. Only Store is required;
// every other component is built from it with defaults when nil.
type Config struct {
	Store      storage.Store
	Pricing    *pricing.Table
	Normalizer *normalize.Normalizer
	Tracker    *budget.Tracker
	Dispatcher *alerts.Dispatcher
	Gate       *gate.Gate

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
}

// Service is the consumer-facing metering API. It records usage into the
// ledger, keeps budgets and alerts current, and answers spend-limit checks.
//
// # Example
//
//	svc, err := metering.New(metering.Config{Store: store})
//	if err != nil {
//	    return err
//	}
//
//	// Before the provider call
//	decision, _ := svc.CheckSpendLimit(ctx, orgID)
//	if !decision.Allowed {
//	    return decision.Err()
//	}
//
//	// After the provider call
//	result, err := svc.RecordUsage(ctx, metering.RecordRequest{
//	    Provider:       "openai",
//	    Raw:            body,
//	    OrganizationID: orgID,
//	    RequestID:      requestID,
//	    Success:        true,
//	})
type Service struct {
	store      storage.Store
	pricing    *pricing.Table
	normalizer *normalize.Normalizer
	tracker    *budget.Tracker
	dispatcher *alerts.Dispatcher
	gate       *gate.Gate

	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
}

// New creates a Service. The tracker's reset hook is wired to clear alert
// state, and the gate's breach hook to the spend-limit alert.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, ErrStoreRequired
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Service{
		store:      cfg.Store,
		pricing:    cfg.Pricing,
		normalizer: cfg.Normalizer,
		tracker:    cfg.Tracker,
		dispatcher: cfg.Dispatcher,
		gate:       cfg.Gate,
		now:        cfg.Now,
		logger:     cfg.Logger.With("component", "metering"),
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
	}

	if s.pricing == nil {
		s.pricing = pricing.NewTable(pricing.Config{
			Rates:   pricing.DefaultRates,
			Logger:  cfg.Logger,
			Metrics: cfg.Metrics,
		})
	}
	if s.normalizer == nil {
		s.normalizer = normalize.New(normalize.Config{
			Pricing: s.pricing,
			Logger:  cfg.Logger,
			Now:     cfg.Now,
		})
	}
	if s.tracker == nil {
		s.tracker = budget.NewTracker(budget.Config{
			Store:   cfg.Store,
			Now:     cfg.Now,
			Logger:  cfg.Logger,
			Metrics: cfg.Metrics,
		})
	}
	if s.dispatcher == nil {
		s.dispatcher = alerts.NewDispatcher(alerts.Config{
			Budgets:  cfg.Store,
			Calendar: s.tracker.Calendar(),
			Now:      cfg.Now,
			Logger:   cfg.Logger,
			Metrics:  cfg.Metrics,
		})
	}
	if s.gate == nil {
		s.gate = gate.New(gate.Config{
			Store:    cfg.Store,
			Calendar: s.tracker.Calendar(),
			Now:      cfg.Now,
			Logger:   cfg.Logger,
			Metrics:  cfg.Metrics,
		})
	}

	s.tracker.SetOnReset(s.dispatcher.OnBudgetReset)
	s.gate.SetOnBreach(s.onBreach)
	return s, nil
}

// Pricing returns the price table used to cost events.
func (s *Service) Pricing() *pricing.Table { return s.pricing }

// Dispatcher returns the alert dispatcher.
func (s *Service) Dispatcher() *alerts.Dispatcher { return s.dispatcher }

// RecordRequest is one provider call outcome to record.
type RecordRequest struct {
	Provider string

	// Model overrides the model named in Raw.
	Model string

	// Raw is the provider response body. It may be empty or malformed.
	Raw []byte

	OrganizationID string
	UserID         string
	RequestID      string
	Success        bool
	Error          string

	// PromptText and CompletionText are used to estimate tokens when Raw
	// reports none.
	PromptText     string
	CompletionText string

	// Timestamp defaults to now. It may not be later than now plus
	// MaxClockSkew.
	Timestamp time.Time
}

// RecordResult is the outcome of RecordUsage.
type RecordResult struct {
	Event *usage.Event `json:"event"`

	// Duplicate is true when the ledger already held the provider request
	// ID; nothing was recomputed.
	Duplicate bool `json:"duplicate"`

	// Budgets holds the status of every budget the event counted against.
	Budgets []budget.Status `json:"budgets,omitempty"`

	// Alerts holds the intents emitted by this event.
	Alerts []alerts.Intent `json:"alerts,omitempty"`
}

// RecordUsage normalizes a provider response, appends it to the ledger and
// re-evaluates every active budget it counts against.
//
// Once the event is appended it is never rolled back: a budget that fails
// to recompute is logged and skipped, and the reconcile job repairs its
// cached spend.
func (s *Service) RecordUsage(ctx context.Context, req RecordRequest) (result *RecordResult, err error) {
	ctx, span := s.tracer.Start(ctx, "metering.RecordUsage",
		trace.WithAttributes(tracing.TenantAttributes(req.OrganizationID, req.UserID)...),
		trace.WithAttributes(attribute.String("spendwise.provider", req.Provider)),
	)
	defer func() {
		tracing.SetStatus(span, err)
		span.End()
	}()

	if limit := s.now().Add(MaxClockSkew); req.Timestamp.After(limit) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrFutureTimestamp,
			req.Timestamp.UTC().Format(time.RFC3339), limit.UTC().Format(time.RFC3339))
	}

	e, err := s.normalizer.Normalize(req.Provider, req.Raw, normalize.RequestContext{
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
		Model:          req.Model,
		RequestID:      req.RequestID,
		Success:        req.Success,
		Error:          req.Error,
		PromptText:     req.PromptText,
		CompletionText: req.CompletionText,
		Timestamp:      req.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to normalize usage: %w", err)
	}

	inserted, err := s.store.InsertUsageEvent(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("failed to record usage event: %w", err)
	}
	if !inserted {
		s.metrics.RecordDuplicate(string(e.Provider))
		s.logger.DebugContext(ctx, "duplicate usage event ignored",
			"provider", e.Provider,
			"request_id", e.RequestID,
		)
		span.SetAttributes(attribute.Bool("spendwise.duplicate", true))
		return &RecordResult{Event: e, Duplicate: true}, nil
	}
	s.metrics.RecordUsageEvent(string(e.Provider), e.Model, e.Success, e.PromptTokens, e.CompletionTokens, e.Cost)
	span.SetAttributes(attribute.Float64("spendwise.cost", e.Cost))

	result = &RecordResult{Event: e}

	budgets, err := s.store.ListActiveBudgets(ctx, e.OrganizationID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list budgets after recording usage",
			"event_id", e.ID,
			"organization_id", e.OrganizationID,
			"error", err,
		)
		return result, nil
	}

	for _, b := range budgets {
		if !b.AppliesTo(e.OrganizationID, e.UserID) {
			continue
		}
		status, intents, err := s.apply(ctx, b, e)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to update budget after recording usage",
				"event_id", e.ID,
				"budget_id", b.ID,
				"error", err,
			)
			continue
		}
		result.Budgets = append(result.Budgets, *status)
		result.Alerts = append(result.Alerts, intents...)
	}
	return result, nil
}

// apply counts e against b and evaluates its alert ladder.
func (s *Service) apply(ctx context.Context, b *budget.Budget, e *usage.Event) (*budget.Status, []alerts.Intent, error) {
	if err := s.tracker.Rollover(ctx, b); err != nil {
		return nil, nil, err
	}

	// Late events from an elapsed period stay in the ledger but do not
	// touch the current period's cached spend.
	cost := 0.0
	if b.Contains(e.Timestamp) {
		cost = e.Cost
	}

	status, err := s.tracker.Recompute(ctx, b, cost)
	if err != nil {
		return nil, nil, err
	}
	intents, err := s.dispatcher.Evaluate(ctx, b, status)
	return status, intents, err
}

// CheckSpendLimit reports whether orgID may make another provider call.
// See gate.Gate.CheckSpendLimit.
func (s *Service) CheckSpendLimit(ctx context.Context, orgID string) (d *gate.Decision, err error) {
	ctx, span := s.tracer.Start(ctx, "metering.CheckSpendLimit",
		trace.WithAttributes(tracing.TenantAttributes(orgID, logging.GetUser(ctx))...),
	)
	defer func() {
		if d != nil {
			span.SetAttributes(
				attribute.Bool("spendwise.allowed", d.Allowed),
				attribute.String("spendwise.reason", string(d.Reason)),
			)
		}
		tracing.SetStatus(span, err)
		span.End()
	}()

	return s.gate.CheckSpendLimit(ctx, orgID)
}

func (s *Service) onBreach(ctx context.Context, d *gate.Decision) {
	_, err := s.dispatcher.SpendLimitExceeded(ctx, alerts.LimitBreach{
		OrganizationID: d.OrganizationID,
		UserID:         logging.GetUser(ctx),
		Limit:          d.Limit,
		Spent:          d.Spent,
		PeriodStart:    d.PeriodStart,
		PeriodEnd:      d.PeriodEnd,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to raise spend limit alert",
			"organization_id", d.OrganizationID,
			"error", err,
		)
	}
}

// GetBudgetStatus evaluates a budget against the ledger. Disabled budgets
// are reported as storage.ErrBudgetNotFound.
func (s *Service) GetBudgetStatus(ctx context.Context, budgetID string) (*budget.Status, error) {
	b, err := s.activeBudget(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	return s.tracker.Status(ctx, b)
}

// GetBudget returns an active budget.
func (s *Service) GetBudget(ctx context.Context, budgetID string) (*budget.Budget, error) {
	return s.activeBudget(ctx, budgetID)
}

func (s *Service) activeBudget(ctx context.Context, id string) (*budget.Budget, error) {
	b, err := s.store.GetBudget(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsActive {
		return nil, fmt.Errorf("budget %s is disabled: %w", id, storage.ErrBudgetNotFound)
	}
	return b, nil
}

// CreateBudget validates b, places it in the period containing now and
// persists it. An empty ID is replaced with a random UUID.
func (s *Service) CreateBudget(ctx context.Context, b budget.Budget) (*budget.Budget, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Scope == "" {
		b.Scope = budget.ScopeOrganization
	}
	if b.Period == "" {
		b.Period = budget.Monthly
	}
	if p, err := budget.ParsePeriod(string(b.Period)); err == nil {
		b.Period = p
	}
	now := s.now()
	b.PeriodStart, b.PeriodEnd = s.tracker.InitialPeriod(b.Period)
	b.Spent = 0
	b.LastAlertedThreshold = 0
	b.IsActive = true
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := b.Validate(); err != nil {
		return nil, err
	}

	// A budget created mid-period starts from what the ledger already holds.
	spent, err := s.tracker.CurrentSpend(ctx, &b)
	if err != nil {
		return nil, err
	}
	b.Spent = spent

	if err := s.store.CreateBudget(ctx, &b); err != nil {
		return nil, fmt.Errorf("failed to create budget: %w", err)
	}
	s.logger.InfoContext(ctx, "budget created",
		"budget_id", b.ID,
		"organization_id", b.OrganizationID,
		"period", b.Period,
		"amount", b.Amount,
	)
	return &b, nil
}

// ListBudgets returns the active budgets of an organization.
func (s *Service) ListBudgets(ctx context.Context, orgID string) ([]*budget.Budget, error) {
	if orgID == "" {
		return nil, usage.ErrOrganizationRequired
	}
	return s.store.ListActiveBudgets(ctx, orgID)
}

// DisableBudget soft-deletes a budget. Its ledger history is kept.
func (s *Service) DisableBudget(ctx context.Context, budgetID string) error {
	if _, err := s.activeBudget(ctx, budgetID); err != nil {
		return err
	}
	return s.store.DisableBudget(ctx, budgetID)
}

// PutOrganization creates or updates an organization and its spend limit.
func (s *Service) PutOrganization(ctx context.Context, o tenant.Organization) (*tenant.Organization, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if err := s.store.PutOrganization(ctx, &o); err != nil {
		return nil, fmt.Errorf("failed to save organization %s: %w", o.ID, err)
	}
	return s.store.GetOrganization(ctx, o.ID)
}

// GetOrganization returns an organization.
func (s *Service) GetOrganization(ctx context.Context, orgID string) (*tenant.Organization, error) {
	return s.store.GetOrganization(ctx, orgID)
}

// QueryUsage returns one page of ledger events.
func (s *Service) QueryUsage(ctx context.Context, f usage.Filter) (*usage.Page, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return s.store.QueryUsageEvents(ctx, f)
}

// UsageBreakdown aggregates ledger events by provider, model or day.
func (s *Service) UsageBreakdown(ctx context.Context, f usage.Filter, by usage.GroupBy) ([]usage.Aggregate, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return s.store.AggregateUsage(ctx, f, by)
}

// RestoreAlertState rebuilds the dispatcher's threshold state from the
// last alerted threshold persisted on each active budget. It is run at
// startup so that a fresh threshold store does not fire them again.
func (s *Service) RestoreAlertState(ctx context.Context) error {
	budgets, err := s.store.ListActiveBudgets(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list budgets: %w", err)
	}
	var errs []error
	for _, b := range budgets {
		if b.Expired(s.now()) {
			continue
		}
		if err := s.dispatcher.Restore(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResetExpiredBudgets rolls every active budget past its period end into
// the period containing now. It returns the number of budgets moved.
func (s *Service) ResetExpiredBudgets(ctx context.Context) (int, error) {
	budgets, err := s.store.ListActiveBudgets(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list budgets: %w", err)
	}

	now := s.now()
	reset := 0
	var errs []error
	for _, b := range budgets {
		if !b.Expired(now) {
			continue
		}
		if err := s.tracker.Rollover(ctx, b); err != nil {
			errs = append(errs, err)
			continue
		}
		reset++
	}

	s.logger.InfoContext(ctx, "expired budgets reset",
		"checked", len(budgets),
		"reset", reset,
		"failed", len(errs),
	)
	return reset, errors.Join(errs...)
}
