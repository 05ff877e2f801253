package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordUsageEvent(t *testing.T) {
	c := NewCollector("test", nil)

	c.RecordUsageEvent("openai", "gpt-4o", true, 1000, 500, 0.0125)
	c.RecordUsageEvent("openai", "gpt-4o", false, 0, 0, 0)

	if got := testutil.ToFloat64(c.usageEvents.WithLabelValues("openai", "true")); got != 1 {
		t.Errorf("expected 1 successful event, got %v", got)
	}
	if got := testutil.ToFloat64(c.usageEvents.WithLabelValues("openai", "false")); got != 1 {
		t.Errorf("expected 1 failed event, got %v", got)
	}
	if got := testutil.ToFloat64(c.usageCost.WithLabelValues("openai", "gpt-4o")); got != 0.0125 {
		t.Errorf("expected cost 0.0125, got %v", got)
	}
	if got := testutil.ToFloat64(c.usageTokens.WithLabelValues("openai", "input")); got != 1000 {
		t.Errorf("expected 1000 input tokens, got %v", got)
	}
}

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("test", nil)

	c.RecordDuplicate("anthropic")
	c.RecordPricingFallback("xai")
	c.RecordGateDecision("rejected", 3*time.Millisecond)
	c.RecordAlert("CRITICAL")
	c.RecordAlertDropped()
	c.RecordBudgetReset()
	c.RecordReconcileDrift(-2.5)
	c.RecordJobRun("reconcile", nil, time.Second)
	c.RecordJobRun("reconcile", errors.New("boom"), time.Second)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"duplicates", testutil.ToFloat64(c.usageDuplicates.WithLabelValues("anthropic")), 1},
		{"fallbacks", testutil.ToFloat64(c.pricingFallbacks.WithLabelValues("xai")), 1},
		{"gate rejected", testutil.ToFloat64(c.gateDecisions.WithLabelValues("rejected")), 1},
		{"alerts", testutil.ToFloat64(c.alertsFired.WithLabelValues("CRITICAL")), 1},
		{"dropped", testutil.ToFloat64(c.alertsDropped), 1},
		{"resets", testutil.ToFloat64(c.budgetResets), 1},
		{"job success", testutil.ToFloat64(c.jobRuns.WithLabelValues("reconcile", "success")), 1},
		{"job error", testutil.ToFloat64(c.jobRuns.WithLabelValues("reconcile", "error")), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	// None of these may panic.
	c.RecordUsageEvent("openai", "gpt-4o", true, 1, 1, 1)
	c.RecordDuplicate("openai")
	c.RecordPricingFallback("openai")
	c.RecordGateDecision("allowed", time.Millisecond)
	c.RecordAlert("INFO")
	c.RecordAlertDropped()
	c.RecordBudgetReset()
	c.RecordReconcileDrift(1)
	c.RecordJobRun("reset", nil, time.Millisecond)

	if c.Registry() != nil {
		t.Error("expected nil registry from nil collector")
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("spendwise", nil)
	c.RecordBudgetReset()

	handler := c.Handler()
	// A second call must not re-register runtime collectors.
	_ = c.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "spendwise_budget_resets_total") {
		t.Error("expected budget resets metric in output")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("expected go runtime metrics in output")
	}
}
