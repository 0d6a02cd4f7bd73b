package checker

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/price-monitor-bot/internal/config"
	"github.com/price-monitor-bot/internal/metrics"
	"github.com/price-monitor-bot/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEchoProxy starts an HTTP proxy that answers every proxied request with
// the given origin, the way an IP echo service would through a real proxy.
func newEchoProxy(t *testing.T, origin string, status int) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !r.URL.IsAbs() {
			http.Error(w, "not a proxy request", http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
		w.Write([]byte(`{"origin": "` + origin + `"}`))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func candidateFor(srv *httptest.Server) types.ProxyCandidate {
	return types.ProxyCandidate{
		Address:  strings.TrimPrefix(srv.URL, "http://"),
		Protocol: "http",
	}
}

func testConfig() config.ProxyConfig {
	return config.ProxyConfig{
		EchoURL:        "http://echo.invalid/ip",
		ProbeTimeoutMs: 2000,
	}
}

func TestChecker_Validate(t *testing.T) {
	tests := []struct {
		name     string
		origin   string
		status   int
		expected bool
	}{
		{
			name:     "traffic routed through the proxy",
			origin:   "127.0.0.1",
			status:   http.StatusOK,
			expected: true,
		},
		{
			name:     "transparent proxy leaking another address",
			origin:   "203.0.113.7",
			status:   http.StatusOK,
			expected: false,
		},
		{
			name:     "echoed address only shares a prefix with the proxy",
			origin:   "127.0.0.10",
			status:   http.StatusOK,
			expected: false,
		},
		{
			name:     "echoed address contains the proxy address inside it",
			origin:   "127.0.0.1.5",
			status:   http.StatusOK,
			expected: false,
		},
		{
			name:     "proxy answering with an error status",
			origin:   "127.0.0.1",
			status:   http.StatusBadGateway,
			expected: false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			srv := newEchoProxy(t, test.origin, test.status)
			chk := NewChecker(testConfig(), nil)

			assert.Equal(t, test.expected, chk.Validate(context.Background(), candidateFor(srv)))
		})
	}
}

func TestChecker_ValidateUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	listener.Close()

	chk := NewChecker(testConfig(), nil)
	result := chk.Check(context.Background(), types.ProxyCandidate{Address: address, Protocol: "http"})

	assert.False(t, result.Alive)
	assert.Contains(t, result.Error, "request")
}

func TestChecker_RecordsMetrics(t *testing.T) {
	srv := newEchoProxy(t, "127.0.0.1", http.StatusOK)
	reg := prometheus.NewRegistry()
	chk := NewChecker(testConfig(), metrics.NewCollector("test", reg))

	require.True(t, chk.Validate(context.Background(), candidateFor(srv)))

	count, err := testutil.GatherAndCount(reg, "test_proxy_probes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChecker_CanceledContext(t *testing.T) {
	srv := newEchoProxy(t, "127.0.0.1", http.StatusOK)
	chk := NewChecker(testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, chk.Validate(ctx, candidateFor(srv)))
}

func TestFastConnectFilter(t *testing.T) {
	alive := newEchoProxy(t, "127.0.0.1", http.StatusOK)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := listener.Addr().String()
	listener.Close()

	candidates := []types.ProxyCandidate{
		{Address: dead},
		candidateFor(alive),
		{Address: "user:pass@" + strings.TrimPrefix(alive.URL, "http://")},
	}

	filtered := FastConnectFilter(context.Background(), candidates, 1000, 2)

	require.Len(t, filtered, 2)
	assert.Equal(t, candidates[1], filtered[0])
	assert.Equal(t, candidates[2], filtered[1])
}

func TestEchoContainsHost(t *testing.T) {
	tests := []struct {
		body     string
		host     string
		expected bool
	}{
		{body: `{"origin": "1.2.3.4"}`, host: "1.2.3.4", expected: true},
		{body: `{"origin": "10.0.0.1, 1.2.3.4"}`, host: "1.2.3.4", expected: true},
		{body: "1.2.3.4", host: "1.2.3.4", expected: true},
		{body: `{"origin": "11.2.3.45"}`, host: "1.2.3.4", expected: false},
		{body: `{"origin": "1.2.3.40"}`, host: "1.2.3.4", expected: false},
		{body: `{"origin": "21.2.3.4"}`, host: "1.2.3.4", expected: false},
		{body: `{"origin": "1.2.3.4"}`, host: "", expected: false},
	}

	for _, test := range tests {
		t.Run(test.body+"/"+test.host, func(t *testing.T) {
			assert.Equal(t, test.expected, echoContainsHost([]byte(test.body), test.host))
		})
	}
}
