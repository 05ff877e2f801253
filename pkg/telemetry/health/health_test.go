package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadiness(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	fail := func(ctx context.Context) error { return errors.New("down") }

	tests := []struct {
		name       string
		register   func(c *Checker)
		wantStatus string
		wantReady  bool
	}{
		{
			name:       "no checks",
			register:   func(c *Checker) {},
			wantStatus: StatusReady,
			wantReady:  true,
		},
		{
			name: "all healthy",
			register: func(c *Checker) {
				c.Register("ledger", ok, true)
				c.Register("alert_store", ok, false)
			},
			wantStatus: StatusReady,
			wantReady:  true,
		},
		{
			name: "non-critical failure degrades",
			register: func(c *Checker) {
				c.Register("ledger", ok, true)
				c.Register("alert_store", fail, false)
			},
			wantStatus: StatusDegraded,
			wantReady:  true,
		},
		{
			name: "critical failure is unavailable",
			register: func(c *Checker) {
				c.Register("ledger", fail, true)
				c.Register("alert_store", fail, false)
			},
			wantStatus: StatusUnavailable,
			wantReady:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			tt.register(c)

			report := c.Readiness(context.Background())
			if report.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, report.Status)
			}
			if report.Ready() != tt.wantReady {
				t.Errorf("expected ready=%v, got %v", tt.wantReady, report.Ready())
			}
		})
	}
}

func TestReadiness_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	}, true)

	report := c.Readiness(context.Background())
	res := report.Checks["slow"]
	if res.Status != StatusUnhealthy || res.Message != "check timed out" {
		t.Errorf("expected timeout result, got %+v", res)
	}
}

func TestPingCheck(t *testing.T) {
	called := false
	check := PingCheck(pingerFunc(func(ctx context.Context) error {
		called = true
		return nil
	}))
	if err := check(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected Ping to be called")
	}
}

func TestNames_Sorted(t *testing.T) {
	c := New(0)
	c.Register("ledger", nil, true)
	c.Register("alert_store", nil, false)

	names := c.Names()
	if len(names) != 2 || names[0] != "alert_store" || names[1] != "ledger" {
		t.Errorf("unexpected names: %v", names)
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		wantCode int
	}{
		{"critical failure", true, http.StatusServiceUnavailable},
		{"optional failure", false, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			c.Register("dep", func(ctx context.Context) error { return errors.New("refused") }, tt.critical)

			w := httptest.NewRecorder()
			c.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, w.Code)
			}
			var report Report
			if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if report.Checks["dep"].Message != "refused" {
				t.Errorf("expected failure message, got %+v", report.Checks["dep"])
			}
		})
	}
}

func TestLivenessHandler(t *testing.T) {
	c := New(0)
	c.Register("ledger", func(ctx context.Context) error { return errors.New("down") }, true)

	w := httptest.NewRecorder()
	c.LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("liveness must not depend on checks, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	c.LivenessHandler()(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", w.Code)
	}
}

func TestVersionHandler(t *testing.T) {
	w := httptest.NewRecorder()
	VersionHandler("1.2.3", "abc123", "2026-01-01")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc123" || info.GoVersion == "" {
		t.Errorf("unexpected version info: %+v", info)
	}
}
