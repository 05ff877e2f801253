package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendwise-hq/meter/pkg/api"
	"spendwise-hq/meter/pkg/config"
	"spendwise-hq/meter/pkg/metering"
	"spendwise-hq/meter/pkg/server/middleware"
	"spendwise-hq/meter/pkg/storage"
	"spendwise-hq/meter/pkg/telemetry/health"
	"spendwise-hq/meter/pkg/telemetry/metrics"
)

func newTestServer(t *testing.T, checker *health.Checker) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	collector := metrics.NewCollector("spendwise", prometheus.NewRegistry())
	svc, err := metering.New(metering.Config{
		Store:   storage.NewMemoryStore(storage.Limits{}),
		Logger:  logger,
		Metrics: collector,
	})
	require.NoError(t, err)

	srv, err := New(Config{
		Server: config.ServerConfig{
			ListenAddress:   "127.0.0.1:0",
			ShutdownTimeout: time.Second,
		},
		API:     api.New(svc, 0, logger),
		Health:  checker,
		Metrics: collector,
		Build:   BuildInfo{Version: "1.2.3", Commit: "abc"},
		Logger:  logger,
	})
	require.NoError(t, err)
	return srv
}

func TestNew_RequiresAPI(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHandler_Routes(t *testing.T) {
	checker := health.New(time.Second)
	checker.Register("ledger", func(ctx context.Context) error { return errors.New("down") }, true)
	h := newTestServer(t, checker).Handler()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"liveness", http.MethodGet, "/health", http.StatusOK, `"status"`},
		{"readiness with failing critical check", http.MethodGet, "/ready", http.StatusServiceUnavailable, "down"},
		{"version", http.MethodGet, "/version", http.StatusOK, `"version":"1.2.3"`},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "spendwise_"},
		{"api", http.MethodGet, "/api/v1/pricing?provider=openai&model=gpt-4o", http.StatusOK, `"provider":"openai"`},
		{"not found", http.MethodGet, "/nope", http.StatusNotFound, `"error":"not_found"`},
		{"method not allowed", http.MethodPatch, "/api/v1/budgets", http.StatusMethodNotAllowed, `"error":"bad_request"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tt.wantBody)
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	srv := newTestServer(t, nil)

	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, srv.Addr(), "server did not start listening")
	assert.True(t, srv.IsRunning())

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already running"))

	srv.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, srv.IsRunning())
}

func TestServer_ContextCancel(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !srv.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
