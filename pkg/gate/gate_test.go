package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"spendwise-hq/meter/pkg/storage"
	"spendwise-hq/meter/pkg/tenant"
	"spendwise-hq/meter/pkg/usage"
)

var now = time.Date(2026, 4, 20, 9, 30, 0, 0, time.UTC)

func seed(t *testing.T, limit *float64, costs ...float64) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := storage.NewMemoryStore(storage.Limits{})
	if err := s.PutOrganization(ctx, &tenant.Organization{ID: "org-1", SpendLimit: limit}); err != nil {
		t.Fatalf("PutOrganization: %v", err)
	}
	for i, c := range costs {
		addEvent(t, s, i, now.Add(-time.Hour), c)
	}
	return s
}

func addEvent(t *testing.T, s *storage.MemoryStore, i int, ts time.Time, cost float64) {
	t.Helper()
	e := &usage.Event{
		ID:             "e-" + string(rune('a'+i)),
		OrganizationID: "org-1",
		Provider:       usage.ProviderOpenAI,
		Model:          "gpt-4o",
		Cost:           cost,
		Timestamp:      ts,
		Success:        true,
	}
	if _, err := s.InsertUsageEvent(context.Background(), e); err != nil {
		t.Fatalf("InsertUsageEvent: %v", err)
	}
}

func newGate(s Store, mutate func(*Config)) *Gate {
	cfg := Config{Store: s, Now: func() time.Time { return now }}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

// Scenario C: a 500 limit with 499.99 spent allows one more call; once
// that call lands the next check is rejected.
func TestGate_LimitCrossing(t *testing.T) {
	s := seed(t, tenant.Float(500), 499.99)

	var breaches int32
	g := newGate(s, func(c *Config) {
		c.OnBreach = func(ctx context.Context, d *Decision) { atomic.AddInt32(&breaches, 1) }
	})
	ctx := context.Background()

	d, err := g.CheckSpendLimit(ctx, "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed || d.Reason != ReasonWithinLimit {
		t.Fatalf("expected allowed within limit, got %+v", d)
	}
	if d.Remaining != 0.01 {
		t.Errorf("expected remaining 0.01, got %v", d.Remaining)
	}

	addEvent(t, s, 1, now.Add(-time.Minute), 0.02)

	d, err = g.CheckSpendLimit(ctx, "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed || d.Reason != ReasonLimitExceeded {
		t.Fatalf("expected rejection, got %+v", d)
	}
	if d.Message != MessageLimitExceeded {
		t.Errorf("unexpected message %q", d.Message)
	}
	if d.Remaining != 0 {
		t.Errorf("remaining must be floored at zero, got %v", d.Remaining)
	}
	if atomic.LoadInt32(&breaches) != 1 {
		t.Errorf("expected one breach callback, got %d", breaches)
	}

	var limitErr *LimitError
	if err := d.Err(); !errors.As(err, &limitErr) || !errors.Is(err, ErrSpendLimitExceeded) {
		t.Errorf("expected LimitError wrapping ErrSpendLimitExceeded, got %v", err)
	}
	if limitErr != nil && limitErr.Limit != 500 {
		t.Errorf("expected limit 500 in error, got %v", limitErr.Limit)
	}
}

func TestGate_ExactlyAtLimitRejects(t *testing.T) {
	g := newGate(seed(t, tenant.Float(10), 4, 6), nil)

	d, _ := g.CheckSpendLimit(context.Background(), "org-1")
	if d.Allowed {
		t.Errorf("spent == limit must reject, got %+v", d)
	}
}

func TestGate_OnlyCurrentMonthCounts(t *testing.T) {
	s := seed(t, tenant.Float(10))
	addEvent(t, s, 0, time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC), 100)
	addEvent(t, s, 1, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), 3)

	d, err := newGate(s, nil).CheckSpendLimit(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed || d.Spent != 3 {
		t.Errorf("expected month-to-date spend 3 and allowed, got %+v", d)
	}
	if !d.PeriodStart.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected period start %v", d.PeriodStart)
	}
}

func TestGate_UnlimitedPolicy(t *testing.T) {
	tests := []struct {
		name       string
		org        string
		limit      *float64
		policy     Policy
		wantAllow  bool
		wantReason Reason
	}{
		{"no limit allowed by default", "org-1", nil, "", true, ReasonNoLimit},
		{"no limit denied", "org-1", nil, PolicyDeny, false, ReasonNoLimit},
		{"unknown organization allowed", "org-x", nil, PolicyAllow, true, ReasonUnknownOrganization},
		{"unknown organization denied", "org-x", nil, PolicyDeny, false, ReasonUnknownOrganization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGate(seed(t, tt.limit, 1000), func(c *Config) { c.UnlimitedPolicy = tt.policy })

			d, err := g.CheckSpendLimit(context.Background(), tt.org)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Allowed != tt.wantAllow || d.Reason != tt.wantReason {
				t.Errorf("expected allowed=%v reason=%s, got %+v", tt.wantAllow, tt.wantReason, d)
			}
			if !tt.wantAllow && !errors.Is(d.Err(), ErrDenied) {
				t.Errorf("expected ErrDenied, got %v", d.Err())
			}
		})
	}
}

type failingStore struct {
	err   error
	delay time.Duration
}

func (f *failingStore) GetOrganization(ctx context.Context, id string) (*tenant.Organization, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &tenant.Organization{ID: id, SpendLimit: tenant.Float(1)}, nil
}

func (f *failingStore) SumCost(ctx context.Context, filter usage.Filter) (float64, error) {
	return 0, nil
}

func TestGate_FailureModes(t *testing.T) {
	tests := []struct {
		name      string
		store     *failingStore
		failOpen  bool
		wantAllow bool
	}{
		{"store error fails closed", &failingStore{err: errors.New("db down")}, false, false},
		{"store error fails open", &failingStore{err: errors.New("db down")}, true, true},
		{"timeout fails closed", &failingStore{delay: 200 * time.Millisecond}, false, false},
		{"timeout fails open", &failingStore{delay: 200 * time.Millisecond}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGate(tt.store, func(c *Config) {
				c.FailOpen = tt.failOpen
				c.Timeout = 20 * time.Millisecond
			})

			start := time.Now()
			d, err := g.CheckSpendLimit(context.Background(), "org-1")
			if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
				t.Errorf("check exceeded its timeout: %v", elapsed)
			}
			if err == nil {
				t.Fatal("expected evaluation error")
			}
			if d == nil || d.Reason != ReasonUnavailable {
				t.Fatalf("expected unavailable decision, got %+v", d)
			}
			if d.Allowed != tt.wantAllow || d.FailedOpen != tt.failOpen {
				t.Errorf("expected allowed=%v failedOpen=%v, got %+v", tt.wantAllow, tt.failOpen, d)
			}
			if !tt.failOpen && !errors.Is(d.Err(), ErrUnavailable) {
				t.Errorf("expected ErrUnavailable, got %v", d.Err())
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicyAllow {
		t.Errorf("expected allow default, got %q %v", p, err)
	}
	if p, err := ParsePolicy("DENY"); err != nil || p != PolicyDeny {
		t.Errorf("expected deny, got %q %v", p, err)
	}
	if _, err := ParsePolicy("maybe"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
