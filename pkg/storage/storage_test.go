package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendwise-hq/meter/pkg/budget"
	"spendwise-hq/meter/pkg/tenant"
	"spendwise-hq/meter/pkg/usage"
)

var base = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func newEvent(id, org, user string, p usage.Provider, model string, ts time.Time, cost float64) *usage.Event {
	return &usage.Event{
		ID:               id,
		OrganizationID:   org,
		UserID:           user,
		Provider:         p,
		Model:            model,
		PromptTokens:     100,
		CompletionTokens: 50,
		TotalTokens:      150,
		Cost:             cost,
		Timestamp:        ts,
		Success:          true,
	}
}

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore(Limits{Default: 2, Max: 3})
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(context.Background(), SQLiteConfig{
				Path:   filepath.Join(t.TempDir(), "ledger.db"),
				Limits: Limits{Default: 2, Max: 3},
			})
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestStore_InsertDeduplicates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		e := newEvent("e-1", "org-1", "u-1", usage.ProviderOpenAI, "gpt-4o", base, 0.0125)
		e.RequestID = "req-1"
		e.Metadata = map[string]string{usage.MetaEstimated: "true"}

		inserted, err := s.InsertUsageEvent(ctx, e)
		require.NoError(t, err)
		assert.True(t, inserted)

		replay := newEvent("e-2", "org-1", "u-1", usage.ProviderOpenAI, "gpt-4o", base, 0.0125)
		replay.RequestID = "req-1"
		inserted, err = s.InsertUsageEvent(ctx, replay)
		require.NoError(t, err)
		assert.False(t, inserted, "same provider and request id must not be stored twice")

		other := newEvent("e-3", "org-1", "u-1", usage.ProviderAnthropic, "claude-3-haiku", base, 0.001)
		other.RequestID = "req-1"
		inserted, err = s.InsertUsageEvent(ctx, other)
		require.NoError(t, err)
		assert.True(t, inserted, "request ids are scoped per provider")

		for _, id := range []string{"e-4", "e-5"} {
			inserted, err = s.InsertUsageEvent(ctx, newEvent(id, "org-1", "u-1", usage.ProviderOpenAI, "gpt-4o", base, 1))
			require.NoError(t, err)
			assert.True(t, inserted, "events without request id are never deduplicated")
		}

		total, err := s.SumCost(ctx, usage.Filter{OrganizationID: "org-1"})
		require.NoError(t, err)
		assert.InDelta(t, 2.0135, total, 1e-9)

		page, err := s.QueryUsageEvents(ctx, usage.Filter{OrganizationID: "org-1", Provider: usage.ProviderOpenAI, Model: "gpt-4o", Limit: 3})
		require.NoError(t, err)
		require.Len(t, page.Events, 3)
		var found *usage.Event
		for _, ev := range page.Events {
			if ev.ID == "e-1" {
				found = ev
			}
		}
		require.NotNil(t, found)
		assert.True(t, found.Estimated())
		assert.True(t, found.Timestamp.Equal(base))
	})
}

func TestStore_ConcurrentDuplicateInsert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		var wg sync.WaitGroup
		var mu sync.Mutex
		inserted := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				e := newEvent(fmt.Sprintf("e-%d", i), "org-1", "", usage.ProviderOpenAI, "gpt-4o", base, 0.5)
				e.RequestID = "req-shared"
				ok, err := s.InsertUsageEvent(ctx, e)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, inserted)
		total, err := s.SumCost(ctx, usage.Filter{OrganizationID: "org-1"})
		require.NoError(t, err)
		assert.InDelta(t, 0.5, total, 1e-9)
	})
}

func TestStore_QueryFiltersAndPagination(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		events := []*usage.Event{
			newEvent("a", "org-1", "u-1", usage.ProviderOpenAI, "gpt-4o", base.Add(-3*time.Hour), 1),
			newEvent("b", "org-1", "u-2", usage.ProviderOpenAI, "gpt-4o", base.Add(-2*time.Hour), 2),
			newEvent("c", "org-1", "u-1", usage.ProviderAnthropic, "claude-3-haiku", base.Add(-1*time.Hour), 4),
			newEvent("d", "org-1", "u-1", usage.ProviderOpenAI, "gpt-4o-mini", base, 8),
			newEvent("x", "org-2", "u-1", usage.ProviderOpenAI, "gpt-4o", base, 100),
		}
		events[1].Success = false
		for _, e := range events {
			_, err := s.InsertUsageEvent(ctx, e)
			require.NoError(t, err)
		}

		// Default limit is 2; newest first.
		page, err := s.QueryUsageEvents(ctx, usage.Filter{OrganizationID: "org-1"})
		require.NoError(t, err)
		require.Len(t, page.Events, 2)
		assert.Equal(t, "d", page.Events[0].ID)
		assert.Equal(t, "c", page.Events[1].ID)
		require.NotEmpty(t, page.NextCursor)

		page, err = s.QueryUsageEvents(ctx, usage.Filter{OrganizationID: "org-1", Cursor: page.NextCursor})
		require.NoError(t, err)
		require.Len(t, page.Events, 2)
		assert.Equal(t, "b", page.Events[0].ID)
		assert.Equal(t, "a", page.Events[1].ID)
		assert.Empty(t, page.NextCursor)

		// Limit above the maximum is clamped.
		page, err = s.QueryUsageEvents(ctx, usage.Filter{OrganizationID: "org-1", Limit: 50})
		require.NoError(t, err)
		assert.Len(t, page.Events, 3)

		// Half-open time range excludes the event exactly at To.
		page, err = s.QueryUsageEvents(ctx, usage.Filter{
			OrganizationID: "org-1",
			From:           base.Add(-2 * time.Hour),
			To:             base,
			Limit:          3,
		})
		require.NoError(t, err)
		ids := []string{}
		for _, e := range page.Events {
			ids = append(ids, e.ID)
		}
		assert.Equal(t, []string{"c", "b"}, ids)

		failed := false
		page, err = s.QueryUsageEvents(ctx, usage.Filter{OrganizationID: "org-1", Success: &failed})
		require.NoError(t, err)
		require.Len(t, page.Events, 1)
		assert.Equal(t, "b", page.Events[0].ID)

		sum, err := s.SumCost(ctx, usage.Filter{OrganizationID: "org-1", UserID: "u-1"})
		require.NoError(t, err)
		assert.InDelta(t, 13.0, sum, 1e-9)

		_, err = s.QueryUsageEvents(ctx, usage.Filter{})
		assert.ErrorIs(t, err, usage.ErrOrganizationRequired)

		_, err = s.QueryUsageEvents(ctx, usage.Filter{OrganizationID: "org-1", Cursor: "eHl6"})
		assert.ErrorIs(t, err, usage.ErrInvalidCursor)
	})
}

func TestStore_AggregateUsage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		events := []*usage.Event{
			newEvent("a", "org-1", "u-1", usage.ProviderOpenAI, "gpt-4o", base, 1.5),
			newEvent("b", "org-1", "u-1", usage.ProviderOpenAI, "gpt-4o-mini", base.Add(24*time.Hour), 0.25),
			newEvent("c", "org-1", "u-1", usage.ProviderAnthropic, "claude-3-haiku", base, 2),
		}
		events[2].Success = false
		for _, e := range events {
			_, err := s.InsertUsageEvent(ctx, e)
			require.NoError(t, err)
		}

		byProvider, err := s.AggregateUsage(ctx, usage.Filter{OrganizationID: "org-1"}, usage.GroupByProvider)
		require.NoError(t, err)
		require.Len(t, byProvider, 2)
		assert.Equal(t, "anthropic", byProvider[0].Key)
		assert.Equal(t, int64(1), byProvider[0].FailedRequests)
		assert.Equal(t, "openai", byProvider[1].Key)
		assert.Equal(t, int64(2), byProvider[1].Requests)
		assert.Equal(t, int64(200), byProvider[1].PromptTokens)
		assert.InDelta(t, 1.75, byProvider[1].Cost, 1e-9)

		byDay, err := s.AggregateUsage(ctx, usage.Filter{OrganizationID: "org-1"}, usage.GroupByDay)
		require.NoError(t, err)
		require.Len(t, byDay, 2)
		assert.Equal(t, "2026-04-10", byDay[0].Key)
		assert.Equal(t, int64(2), byDay[0].Requests)
		assert.Equal(t, "2026-04-11", byDay[1].Key)

		byModel, err := s.AggregateUsage(ctx, usage.Filter{OrganizationID: "org-1"}, usage.GroupByModel)
		require.NoError(t, err)
		assert.Len(t, byModel, 3)
	})
}

func newBudget(id, org string) *budget.Budget {
	return &budget.Budget{
		ID:              id,
		OrganizationID:  org,
		Name:            "monthly " + id,
		Scope:           budget.ScopeOrganization,
		Amount:          100,
		Period:          budget.Monthly,
		PeriodStart:     time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:       time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		AlertThresholds: []int{50, 100},
		IsActive:        true,
		CreatedAt:       base,
		UpdatedAt:       base,
	}
}

func TestStore_BudgetLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.CreateBudget(ctx, newBudget("b-1", "org-1")))
		b2 := newBudget("b-2", "org-2")
		b2.CreatedAt = base.Add(time.Minute)
		require.NoError(t, s.CreateBudget(ctx, b2))

		got, err := s.GetBudget(ctx, "b-1")
		require.NoError(t, err)
		assert.Equal(t, []int{50, 100}, got.AlertThresholds)
		assert.True(t, got.PeriodStart.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
		assert.True(t, got.IsActive)

		_, err = s.GetBudget(ctx, "missing")
		assert.ErrorIs(t, err, ErrBudgetNotFound)

		all, err := s.ListActiveBudgets(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "b-1", all[0].ID)

		mine, err := s.ListActiveBudgets(ctx, "org-2")
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, "b-2", mine[0].ID)

		require.NoError(t, s.UpdateBudgetSpent(ctx, "b-1", 12.5))
		require.NoError(t, s.SetLastAlertedThreshold(ctx, "b-1", got.PeriodStart, 50))
		require.NoError(t, s.SetLastAlertedThreshold(ctx, "b-1", got.PeriodStart, 10))
		require.NoError(t, s.SetLastAlertedThreshold(ctx, "b-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 100))
		got, err = s.GetBudget(ctx, "b-1")
		require.NoError(t, err)
		assert.InDelta(t, 12.5, got.Spent, 1e-9)
		assert.Equal(t, 50, got.LastAlertedThreshold, "threshold is monotonic and bound to the period")

		assert.ErrorIs(t, s.UpdateBudgetSpent(ctx, "missing", 1), ErrBudgetNotFound)

		applied, err := s.SetBudgetSpent(ctx, "b-1", got.PeriodStart, 40)
		require.NoError(t, err)
		assert.True(t, applied)
		applied, err = s.SetBudgetSpent(ctx, "b-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 99)
		require.NoError(t, err)
		assert.False(t, applied, "a stale period must not overwrite the spend")
		_, err = s.SetBudgetSpent(ctx, "missing", got.PeriodStart, 1)
		assert.ErrorIs(t, err, ErrBudgetNotFound)
		got, err = s.GetBudget(ctx, "b-1")
		require.NoError(t, err)
		assert.InDelta(t, 40.0, got.Spent, 1e-9)

		require.NoError(t, s.DisableBudget(ctx, "b-2"))
		all, err = s.ListActiveBudgets(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 1)
		assert.ErrorIs(t, s.DisableBudget(ctx, "missing"), ErrBudgetNotFound)
	})
}

func TestStore_ResetBudgetPeriodOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		b := newBudget("b-1", "org-1")
		b.Spent = 80
		b.LastAlertedThreshold = 75
		require.NoError(t, s.CreateBudget(ctx, b))

		start := b.PeriodEnd
		end := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				won, err := s.ResetBudgetPeriod(ctx, "b-1", b.PeriodStart, start, end)
				assert.NoError(t, err)
				if won {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)

		got, err := s.GetBudget(ctx, "b-1")
		require.NoError(t, err)
		assert.True(t, got.PeriodStart.Equal(start))
		assert.True(t, got.PeriodEnd.Equal(end))
		assert.Zero(t, got.Spent)
		assert.Zero(t, got.LastAlertedThreshold)

		_, err = s.ResetBudgetPeriod(ctx, "missing", start, start, end)
		assert.ErrorIs(t, err, ErrBudgetNotFound)
	})
}

func TestStore_ConcurrentSpendIncrements(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateBudget(ctx, newBudget("b-1", "org-1")))

		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.UpdateBudgetSpent(ctx, "b-1", 0.25))
			}()
		}
		wg.Wait()

		got, err := s.GetBudget(ctx, "b-1")
		require.NoError(t, err)
		assert.InDelta(t, 10.0, got.Spent, 1e-9)
	})
}

func TestStore_Organizations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetOrganization(ctx, "org-1")
		assert.ErrorIs(t, err, ErrOrganizationNotFound)

		require.NoError(t, s.PutOrganization(ctx, &tenant.Organization{ID: "org-1", Name: "Acme", CreatedAt: base, UpdatedAt: base}))
		o, err := s.GetOrganization(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, "Acme", o.Name)
		assert.False(t, o.HasLimit())

		later := base.Add(time.Hour)
		require.NoError(t, s.PutOrganization(ctx, &tenant.Organization{ID: "org-1", Name: "Acme Corp", SpendLimit: tenant.Float(250), UpdatedAt: later}))
		o, err = s.GetOrganization(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, "Acme Corp", o.Name)
		require.True(t, o.HasLimit())
		assert.InDelta(t, 250.0, o.Limit(), 1e-9)
		assert.True(t, o.CreatedAt.Equal(base), "creation time survives updates")

		assert.ErrorIs(t, s.PutOrganization(ctx, &tenant.Organization{}), tenant.ErrInvalidOrganization)
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore(Limits{})
	require.NoError(t, s.Close())

	_, err := s.InsertUsageEvent(context.Background(), newEvent("e", "o", "", usage.ProviderOpenAI, "m", base, 0))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Ping(context.Background()), ErrClosed)
}

func TestSQLiteDSN(t *testing.T) {
	dsn, err := sqliteDSN("sqlite3", "a.db", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a.db?_journal_mode=WAL&_busy_timeout=2000&_synchronous=NORMAL", dsn)

	dsn, err = sqliteDSN("sqlite", "a.db", time.Second)
	require.NoError(t, err)
	assert.Contains(t, dsn, "_pragma=busy_timeout(1000)")

	_, err = sqliteDSN("duckdb", "a.db", time.Second)
	assert.Error(t, err)
}
