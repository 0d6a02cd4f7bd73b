package checker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/price-monitor-bot/internal/config"
	"github.com/price-monitor-bot/internal/metrics"
	"github.com/price-monitor-bot/internal/types"
	log "github.com/sirupsen/logrus"
)

// Checker probes candidates by fetching an echo endpoint through them
type Checker struct {
	config  config.ProxyConfig
	metrics *metrics.Collector
	timeout time.Duration
}

type CheckResult struct {
	Proxy     string
	Alive     bool
	LatencyMs int64
	Error     string
}

func NewChecker(cfg config.ProxyConfig, metricsCollector *metrics.Collector) *Checker {
	return &Checker{
		config:  cfg,
		metrics: metricsCollector,
		timeout: time.Duration(cfg.ProbeTimeoutMs) * time.Millisecond,
	}
}

// Validate reports whether traffic sent through the candidate really leaves
// from the candidate: the echo response must contain the candidate's host.
func (c *Checker) Validate(ctx context.Context, candidate types.ProxyCandidate) bool {
	return c.Check(ctx, candidate).Alive
}

// Check runs a single probe and returns the detailed result
func (c *Checker) Check(ctx context.Context, candidate types.ProxyCandidate) CheckResult {
	startTime := time.Now()

	var result CheckResult
	if candidate.Protocol == "socks5" {
		result = c.checkSOCKS5(ctx, candidate, startTime)
	} else {
		result = c.checkHTTP(ctx, candidate, startTime)
	}

	if c.metrics != nil {
		c.metrics.RecordProbe(result.Alive, time.Since(startTime).Seconds())
	}

	if result.Alive {
		log.WithFields(log.Fields{
			"proxy":   candidate.Address,
			"latency": result.LatencyMs,
		}).Info("Proxy probe succeeded")
	} else {
		log.WithFields(log.Fields{
			"proxy":  candidate.Address,
			"reason": result.Error,
		}).Debug("Proxy probe failed")
	}

	return result
}

func (c *Checker) checkHTTP(ctx context.Context, candidate types.ProxyCandidate, startTime time.Time) CheckResult {
	client := c.newClient(&http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   c.timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   false,
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: c.timeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // Required for proxy checking
		},
	})
	client.SetProxy(candidate.URL())

	return c.probe(ctx, client, candidate, startTime)
}

func (c *Checker) newClient(transport *http.Transport) *resty.Client {
	return resty.New().
		SetTransport(transport).
		SetTimeout(c.timeout).
		SetRedirectPolicy(resty.NoRedirectPolicy())
}

func (c *Checker) probe(ctx context.Context, client *resty.Client, candidate types.ProxyCandidate, startTime time.Time) CheckResult {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := client.R().
		SetContext(reqCtx).
		SetDoNotParseResponse(true).
		Get(c.config.EchoURL)
	if err != nil {
		return CheckResult{
			Proxy: candidate.Address,
			Alive: false,
			Error: fmt.Sprintf("request: %v", err),
		}
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return CheckResult{
			Proxy: candidate.Address,
			Alive: false,
			Error: fmt.Sprintf("HTTP %d", resp.StatusCode()),
		}
	}

	data, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil {
		return CheckResult{
			Proxy: candidate.Address,
			Alive: false,
			Error: fmt.Sprintf("read body: %v", err),
		}
	}

	if !echoContainsHost(data, candidate.Host()) {
		return CheckResult{
			Proxy: candidate.Address,
			Alive: false,
			Error: "echo response does not contain proxy address",
		}
	}

	return CheckResult{
		Proxy:     candidate.Address,
		Alive:     true,
		LatencyMs: time.Since(startTime).Milliseconds(),
	}
}

// echoContainsHost matches host as a whole token, so 1.2.3.4 does not match
// an echoed 11.2.3.45 or 1.2.3.40
func echoContainsHost(body []byte, host string) bool {
	if host == "" {
		return false
	}
	pattern := regexp.MustCompile(`(^|[^0-9A-Za-z.\-])` + regexp.QuoteMeta(host) + `($|[^0-9A-Za-z.\-])`)
	return pattern.Match(body)
}
