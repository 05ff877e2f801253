package storage

import (
	"context"
	"errors"
	"time"

	"spendwise-hq/meter/pkg/budget"
	"spendwise-hq/meter/pkg/tenant"
	"spendwise-hq/meter/pkg/usage"
)

var (
	// ErrBudgetNotFound is returned when a budget ID does not exist.
	ErrBudgetNotFound = errors.New("budget not found")

	// ErrOrganizationNotFound is returned when an organization ID does not exist.
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// Store persists the usage ledger, budgets and organizations.
//
// The ledger is append-only. Budget rows cache their period spend; the
// ledger sum over the period is the authoritative value.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// InsertUsageEvent appends e. An event whose (provider, request ID) pair
	// is already present is not stored again: inserted is false and err is
	// nil. Events without a request ID are never deduplicated.
	InsertUsageEvent(ctx context.Context, e *usage.Event) (inserted bool, err error)

	// QueryUsageEvents returns one page of matching events, newest first.
	QueryUsageEvents(ctx context.Context, f usage.Filter) (*usage.Page, error)

	// AggregateUsage groups matching events by the given dimension.
	AggregateUsage(ctx context.Context, f usage.Filter, by usage.GroupBy) ([]usage.Aggregate, error)

	// SumCost returns the total cost of matching events.
	SumCost(ctx context.Context, f usage.Filter) (float64, error)

	CreateBudget(ctx context.Context, b *budget.Budget) error
	GetBudget(ctx context.Context, id string) (*budget.Budget, error)

	// ListActiveBudgets returns active budgets of an organization, or of
	// every organization when organizationID is empty.
	ListActiveBudgets(ctx context.Context, organizationID string) ([]*budget.Budget, error)

	// UpdateBudgetSpent atomically adds delta to the cached spend.
	UpdateBudgetSpent(ctx context.Context, id string, delta float64) error

	// SetBudgetSpent overwrites the cached spend, but only while the stored
	// period still starts at periodStart. applied reports whether it did.
	SetBudgetSpent(ctx context.Context, id string, periodStart time.Time, spent float64) (applied bool, err error)

	// ResetBudgetPeriod moves the budget to [start, end) with zero cached
	// spend and no alerted threshold, but only while its stored period
	// still starts at prevStart. won reports whether this call applied it.
	ResetBudgetPeriod(ctx context.Context, id string, prevStart, start, end time.Time) (won bool, err error)

	// SetLastAlertedThreshold raises the last alerted threshold of the
	// period starting at periodStart. Lower values and stale periods are
	// ignored.
	SetLastAlertedThreshold(ctx context.Context, id string, periodStart time.Time, threshold int) error

	// DisableBudget marks the budget inactive.
	DisableBudget(ctx context.Context, id string) error

	// PutOrganization creates or replaces an organization.
	PutOrganization(ctx context.Context, o *tenant.Organization) error
	GetOrganization(ctx context.Context, id string) (*tenant.Organization, error)

	Ping(ctx context.Context) error
	Close() error
}

// Limits bounds the page size of usage queries.
type Limits struct {
	// Default is used when a filter has no limit.
	// Default: 100
	Default int

	// Max caps the limit a filter may request.
	// Default: 1000
	Max int
}

func (l Limits) withDefaults() Limits {
	if l.Default <= 0 {
		l.Default = 100
	}
	if l.Max <= 0 {
		l.Max = 1000
	}
	if l.Default > l.Max {
		l.Default = l.Max
	}
	return l
}
