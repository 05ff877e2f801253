package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"spendwise-hq/meter/pkg/budget"
	"spendwise-hq/meter/pkg/tenant"
	"spendwise-hq/meter/pkg/usage"
)

// MemoryStore implements Store in process memory. All data is lost when
// the process exits.
//
// MemoryStore is thread-safe and supports concurrent access using sync.RWMutex.
type MemoryStore struct {
	mu sync.RWMutex

	// events is the append-only ledger in insertion order.
	events []*usage.Event

	// dedup holds the DedupKey of every stored event that has one.
	dedup map[string]struct{}

	budgets map[string]*budget.Budget
	orgs    map[string]*tenant.Organization

	limits Limits
	now    func() time.Time
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(limits Limits) *MemoryStore {
	return &MemoryStore{
		dedup:   make(map[string]struct{}),
		budgets: make(map[string]*budget.Budget),
		orgs:    make(map[string]*tenant.Organization),
		limits:  limits.withDefaults(),
		now:     time.Now,
	}
}

// InsertUsageEvent implements Store.
func (m *MemoryStore) InsertUsageEvent(ctx context.Context, e *usage.Event) (bool, error) {
	if e == nil || e.ID == "" {
		return false, fmt.Errorf("event id cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}

	key := e.DedupKey()
	if key != "" {
		if _, dup := m.dedup[key]; dup {
			return false, nil
		}
		m.dedup[key] = struct{}{}
	}
	m.events = append(m.events, cloneEvent(e))
	return true, nil
}

// QueryUsageEvents implements Store.
func (m *MemoryStore) QueryUsageEvents(ctx context.Context, f usage.Filter) (*usage.Page, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	offset, err := usage.DecodeCursor(f.Cursor)
	if err != nil {
		return nil, err
	}
	limit := f.ClampLimit(m.limits.Default, m.limits.Max)

	matched := m.match(f)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})

	page := &usage.Page{Events: []*usage.Event{}}
	if offset >= len(matched) {
		return page, nil
	}
	end := offset + limit
	if end < len(matched) {
		page.NextCursor = usage.EncodeCursor(end)
	} else {
		end = len(matched)
	}
	for _, e := range matched[offset:end] {
		page.Events = append(page.Events, cloneEvent(e))
	}
	return page, nil
}

// AggregateUsage implements Store.
func (m *MemoryStore) AggregateUsage(ctx context.Context, f usage.Filter, by usage.GroupBy) ([]usage.Aggregate, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	groups := make(map[string]*usage.Aggregate)
	for _, e := range m.match(f) {
		key := by.KeyFor(e)
		agg, ok := groups[key]
		if !ok {
			agg = &usage.Aggregate{Key: key}
			groups[key] = agg
		}
		agg.Requests++
		if !e.Success {
			agg.FailedRequests++
		}
		agg.PromptTokens += e.PromptTokens
		agg.CompletionTokens += e.CompletionTokens
		agg.Cost += e.Cost
	}

	out := make([]usage.Aggregate, 0, len(groups))
	for _, agg := range groups {
		agg.Cost = round6(agg.Cost)
		out = append(out, *agg)
	}
	sortAggregates(out)
	return out, nil
}

// SumCost implements Store.
func (m *MemoryStore) SumCost(ctx context.Context, f usage.Filter) (float64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	total := 0.0
	for _, e := range m.match(f) {
		total += e.Cost
	}
	return round6(total), nil
}

// match returns the stored events matching f, ignoring pagination.
func (m *MemoryStore) match(f usage.Filter) []*usage.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*usage.Event
	for _, e := range m.events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// CreateBudget implements Store.
func (m *MemoryStore) CreateBudget(ctx context.Context, b *budget.Budget) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("budget id cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, exists := m.budgets[b.ID]; exists {
		return fmt.Errorf("budget %s already exists", b.ID)
	}
	m.budgets[b.ID] = cloneBudget(b)
	return nil
}

// GetBudget implements Store.
func (m *MemoryStore) GetBudget(ctx context.Context, id string) (*budget.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.budgets[id]
	if !ok {
		return nil, ErrBudgetNotFound
	}
	return cloneBudget(b), nil
}

// ListActiveBudgets implements Store.
func (m *MemoryStore) ListActiveBudgets(ctx context.Context, organizationID string) ([]*budget.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*budget.Budget{}
	for _, b := range m.budgets {
		if !b.IsActive {
			continue
		}
		if organizationID != "" && b.OrganizationID != organizationID {
			continue
		}
		out = append(out, cloneBudget(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateBudgetSpent implements Store.
func (m *MemoryStore) UpdateBudgetSpent(ctx context.Context, id string, delta float64) error {
	return m.updateBudget(id, func(b *budget.Budget) {
		b.Spent = round6(b.Spent + delta)
	})
}

// SetBudgetSpent implements Store.
func (m *MemoryStore) SetBudgetSpent(ctx context.Context, id string, periodStart time.Time, spent float64) (bool, error) {
	applied := false
	err := m.updateBudget(id, func(b *budget.Budget) {
		if !b.PeriodStart.Equal(periodStart) {
			return
		}
		b.Spent = round6(spent)
		applied = true
	})
	return applied, err
}

// ResetBudgetPeriod implements Store.
func (m *MemoryStore) ResetBudgetPeriod(ctx context.Context, id string, prevStart, start, end time.Time) (bool, error) {
	won := false
	err := m.updateBudget(id, func(b *budget.Budget) {
		if !b.PeriodStart.Equal(prevStart) {
			return
		}
		b.PeriodStart = start
		b.PeriodEnd = end
		b.Spent = 0
		b.LastAlertedThreshold = 0
		won = true
	})
	return won, err
}

// SetLastAlertedThreshold implements Store.
func (m *MemoryStore) SetLastAlertedThreshold(ctx context.Context, id string, periodStart time.Time, threshold int) error {
	return m.updateBudget(id, func(b *budget.Budget) {
		if b.PeriodStart.Equal(periodStart) && threshold > b.LastAlertedThreshold {
			b.LastAlertedThreshold = threshold
		}
	})
}

// DisableBudget implements Store.
func (m *MemoryStore) DisableBudget(ctx context.Context, id string) error {
	return m.updateBudget(id, func(b *budget.Budget) {
		b.IsActive = false
	})
}

func (m *MemoryStore) updateBudget(id string, fn func(b *budget.Budget)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	b, ok := m.budgets[id]
	if !ok {
		return ErrBudgetNotFound
	}
	fn(b)
	b.UpdatedAt = m.now()
	return nil
}

// PutOrganization implements Store.
func (m *MemoryStore) PutOrganization(ctx context.Context, o *tenant.Organization) error {
	if err := o.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	cp := cloneOrganization(o)
	if prev, ok := m.orgs[o.ID]; ok && cp.CreatedAt.IsZero() {
		cp.CreatedAt = prev.CreatedAt
	}
	m.orgs[o.ID] = cp
	return nil
}

// GetOrganization implements Store.
func (m *MemoryStore) GetOrganization(ctx context.Context, id string) (*tenant.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orgs[id]
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	return cloneOrganization(o), nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func cloneEvent(e *usage.Event) *usage.Event {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func cloneBudget(b *budget.Budget) *budget.Budget {
	cp := *b
	if b.AlertThresholds != nil {
		cp.AlertThresholds = append([]int(nil), b.AlertThresholds...)
	}
	return &cp
}

func cloneOrganization(o *tenant.Organization) *tenant.Organization {
	cp := *o
	if o.SpendLimit != nil {
		cp.SpendLimit = tenant.Float(*o.SpendLimit)
	}
	return &cp
}

func sortAggregates(aggs []usage.Aggregate) {
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].Key < aggs[j].Key })
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
