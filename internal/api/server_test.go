package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/price-monitor-bot/internal/config"
	"github.com/price-monitor-bot/internal/metrics"
	"github.com/price-monitor-bot/internal/monitor"
	"github.com/price-monitor-bot/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	state *types.MonitorState
	err   error
}

func (s *stubStore) Load() (*types.MonitorState, error) {
	return s.state, s.err
}

type stubRunner struct {
	last  *monitor.Result
	ran   chan struct{}
	block chan struct{}
}

func (r *stubRunner) RunOnce(ctx context.Context) monitor.Result {
	if r.block != nil {
		<-r.block
	}
	if r.ran != nil {
		r.ran <- struct{}{}
	}
	return monitor.Result{Outcome: monitor.OutcomeNoPrice}
}

func (r *stubRunner) LastRun() (monitor.Result, bool) {
	if r.last == nil {
		return monitor.Result{}, false
	}
	return *r.last, true
}

type stubProxies struct {
	proxy types.ProxyCandidate
	ok    bool
}

func (p *stubProxies) Current() (types.ProxyCandidate, bool) {
	return p.proxy, p.ok
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Logging.Level = "warn"
	return &cfg
}

func newTestServer(t *testing.T, cfg *config.Config, store StateLoader, runner Runner, proxies ProxyReporter) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	srv := NewServer(context.Background(), cfg, store, runner, proxies, metrics.NewCollector("test", reg), reg)
	return srv, reg
}

func do(srv *Server, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), &stubStore{}, &stubRunner{}, nil)

	w := do(srv, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestServer_State(t *testing.T) {
	store := &stubStore{state: &types.MonitorState{FirstRun: true, DailyMin: 185, LastReportDate: "2024-01-01"}}
	runner := &stubRunner{last: &monitor.Result{Outcome: monitor.OutcomeTracked, Price: 185}}
	srv, _ := newTestServer(t, testConfig(), store, runner, nil)

	w := do(srv, http.MethodGet, "/state", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		State       types.MonitorState `json:"state"`
		Initialized bool               `json:"initialized"`
		LastRun     monitor.Result     `json:"last_run"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, *store.state, body.State)
	assert.True(t, body.Initialized)
	assert.Equal(t, monitor.OutcomeTracked, body.LastRun.Outcome)
	assert.Equal(t, 185.0, body.LastRun.Price)
}

func TestServer_StateLoadError(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), &stubStore{err: errors.New("corrupt")}, &stubRunner{}, nil)

	w := do(srv, http.MethodGet, "/state", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state_error":"corrupt"`)
	assert.NotContains(t, w.Body.String(), "last_run")
}

func TestServer_Proxy(t *testing.T) {
	fetched := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		proxies  ProxyReporter
		expected int
		contains string
	}{
		{name: "proxy mode disabled", proxies: nil, expected: http.StatusNotFound, contains: "disabled"},
		{name: "nothing acquired", proxies: &stubProxies{}, expected: http.StatusServiceUnavailable, contains: "No proxy"},
		{
			name:     "current proxy",
			proxies:  &stubProxies{ok: true, proxy: types.ProxyCandidate{Address: "1.2.3.4:8080", Protocol: "http", FetchedAt: fetched, Validated: true}},
			expected: http.StatusOK,
			contains: `"address":"1.2.3.4:8080"`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			srv, _ := newTestServer(t, testConfig(), &stubStore{}, &stubRunner{}, test.proxies)

			w := do(srv, http.MethodGet, "/proxy", nil)

			assert.Equal(t, test.expected, w.Code)
			assert.Contains(t, w.Body.String(), test.contains)
		})
	}
}

func TestServer_Run(t *testing.T) {
	runner := &stubRunner{ran: make(chan struct{}, 1), block: make(chan struct{})}
	srv, _ := newTestServer(t, testConfig(), &stubStore{}, runner, nil)

	w := do(srv, http.MethodPost, "/run", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(srv, http.MethodPost, "/run", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	close(runner.block)
	select {
	case <-runner.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("triggered run did not execute")
	}
}

func TestServer_APIKeyAuth(t *testing.T) {
	t.Setenv("TEST_MONITOR_API_KEY", "s3cret")

	cfg := testConfig()
	cfg.API.EnableAPIKeyAuth = true
	cfg.API.APIKeyEnv = "TEST_MONITOR_API_KEY"
	srv, _ := newTestServer(t, cfg, &stubStore{state: &types.MonitorState{}}, &stubRunner{}, nil)

	assert.Equal(t, http.StatusUnauthorized, do(srv, http.MethodGet, "/state", nil).Code)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/state", map[string]string{"X-Api-Key": "s3cret"}).Code)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/state?key=s3cret", nil).Code)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/health", nil).Code, "health stays public")
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.API.EnableIPRateLimit = true
	cfg.API.RateLimitPerMinute = 1
	srv, _ := newTestServer(t, cfg, &stubStore{state: &types.MonitorState{}}, &stubRunner{}, nil)

	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/state", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(srv, http.MethodGet, "/state", nil).Code)
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), &stubStore{}, &stubRunner{}, nil)

	do(srv, http.MethodGet, "/health", nil)
	w := do(srv, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `test_api_requests_total{endpoint="/health",method="GET",status="200"} 1`), w.Body.String())
}

func TestRateLimiter_GetLimiterIsPerKey(t *testing.T) {
	rl := NewRateLimiter(60)

	assert.Same(t, rl.GetLimiter("1.1.1.1"), rl.GetLimiter("1.1.1.1"))
	assert.NotSame(t, rl.GetLimiter("1.1.1.1"), rl.GetLimiter("2.2.2.2"))
}
