package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"spendwise-hq/meter/pkg/gate"
	"spendwise-hq/meter/pkg/telemetry/logging"
)

func ok(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetRequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if len(seen) != 32 {
			t.Errorf("expected 32 hex characters, got %q", seen)
		}
		if w.Header().Get(RequestIDHeader) != seen {
			t.Errorf("response header %q does not match context %q", w.Header().Get(RequestIDHeader), seen)
		}
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if seen != "abc-123" {
			t.Errorf("expected propagated ID, got %q", seen)
		}
	})
}

func TestIdentity(t *testing.T) {
	var org, user string
	h := Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org, user = OrganizationID(r), UserID(r)
		if logging.GetOrganization(r.Context()) != org {
			t.Error("organization not stored in context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(OrganizationHeader, "org-1")
	req.Header.Set(UserHeader, "user-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if org != "org-1" || user != "user-7" {
		t.Errorf("got org=%q user=%q", org, user)
	}
}

func TestLogging(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusPaymentRequired, "WARN"},
		{http.StatusServiceUnavailable, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/usage", nil))

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("log line is not JSON: %v", err)
			}
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %s", entry["level"], tt.level)
			}
			if entry["status"] != float64(tt.status) || entry["path"] != "/api/v1/usage" {
				t.Errorf("unexpected entry %v", entry)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Error != CodeInternal {
		t.Errorf("unexpected body %s", w.Body.String())
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Error("panic value not logged")
	}
}

type fakeChecker struct {
	decision *gate.Decision
	err      error
	calls    int
}

func (f *fakeChecker) CheckSpendLimit(ctx context.Context, orgID string) (*gate.Decision, error) {
	f.calls++
	d := *f.decision
	d.OrganizationID = orgID
	return &d, f.err
}

func TestSpendLimit(t *testing.T) {
	tests := []struct {
		name       string
		org        string
		decision   *gate.Decision
		err        error
		wantStatus int
		wantNext   bool
	}{
		{
			name:       "within limit",
			org:        "org-1",
			decision:   &gate.Decision{Allowed: true, Reason: gate.ReasonWithinLimit, Limit: 500, Spent: 100, Remaining: 400},
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "no limit",
			org:        "org-1",
			decision:   &gate.Decision{Allowed: true, Reason: gate.ReasonNoLimit},
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "limit exceeded",
			org:        "org-1",
			decision:   &gate.Decision{Reason: gate.ReasonLimitExceeded, Message: gate.MessageLimitExceeded, Limit: 500, Spent: 509},
			wantStatus: http.StatusPaymentRequired,
		},
		{
			name:       "fail closed",
			org:        "org-1",
			decision:   &gate.Decision{Reason: gate.ReasonUnavailable, Message: gate.MessageUnavailable},
			err:        gate.ErrUnavailable,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "fail open",
			org:        "org-1",
			decision:   &gate.Decision{Allowed: true, Reason: gate.ReasonUnavailable, FailedOpen: true},
			err:        errors.New("store down"),
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "denied by policy",
			org:        "org-1",
			decision:   &gate.Decision{Reason: gate.ReasonNoLimit, Message: gate.MessageDenied},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "missing organization",
			decision:   &gate.Decision{Allowed: true},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &fakeChecker{decision: tt.decision, err: tt.err}
			called := false
			h := SpendLimit(checker)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				ok(w, r)
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
			if tt.org != "" {
				req.Header.Set(OrganizationHeader, tt.org)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != tt.wantNext {
				t.Errorf("next called = %v, want %v", called, tt.wantNext)
			}
		})
	}
}

func TestSpendLimit_RejectionBody(t *testing.T) {
	checker := &fakeChecker{decision: &gate.Decision{
		Reason:  gate.ReasonLimitExceeded,
		Message: gate.MessageLimitExceeded,
		Limit:   500,
		Spent:   509,
	}}
	h := SpendLimit(checker)(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(OrganizationHeader, "org-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	want := `{"error":"spend_limit_exceeded","message":"Budget limit exceeded. Please contact your administrator.","budget_exceeded":true,"limit":500,"spent":509}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("body = %s\nwant  %s", got, want)
	}
}

func TestSpendLimit_Headers(t *testing.T) {
	checker := &fakeChecker{decision: &gate.Decision{Allowed: true, Reason: gate.ReasonWithinLimit, Limit: 500, Spent: 499.99, Remaining: 0.01}}
	h := SpendLimit(checker)(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(OrganizationHeader, "org-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get(SpendLimitHeader); got != "500.00" {
		t.Errorf("%s = %q", SpendLimitHeader, got)
	}
	if got := w.Header().Get(SpendRemainingHeader); got != "0.010000" {
		t.Errorf("%s = %q", SpendRemainingHeader, got)
	}
}
