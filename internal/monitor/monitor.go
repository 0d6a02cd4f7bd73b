package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/price-monitor-bot/internal/metrics"
	"github.com/price-monitor-bot/internal/types"
	log "github.com/sirupsen/logrus"
)

// Run outcomes
const (
	OutcomeProxyUnavailable = "proxy_unavailable"
	OutcomeNoPrice          = "no_price"
	OutcomeStarted          = "started"
	OutcomeTracked          = "tracked"
)

type ProxySource interface {
	Acquire(ctx context.Context) (types.ProxyCandidate, error)
}

// Renderer loads the page and extracts the minimum price. Every failure is
// reported as an absent observation, never as an error.
type Renderer interface {
	MinPrice(ctx context.Context, url string, proxy *types.ProxyCandidate) types.Observation
}

type Notifier interface {
	Notify(ctx context.Context, n types.Notification) error
}

type StateStore interface {
	Load() (*types.MonitorState, error)
	Save(state *types.MonitorState) error
}

type Options struct {
	URL      string
	UseProxy bool
	Rules    Rules
	Now      func() time.Time
}

// Result summarises one invocation
type Result struct {
	Outcome       string                   `json:"outcome"`
	Price         float64                  `json:"price,omitempty"`
	Reason        string                   `json:"reason,omitempty"`
	Proxy         string                   `json:"proxy,omitempty"`
	Notifications []types.NotificationKind `json:"notifications,omitempty"`
	State         *types.MonitorState      `json:"state,omitempty"`
	StartedAt     time.Time                `json:"started_at"`
	Duration      time.Duration            `json:"duration"`
}

type Monitor struct {
	proxies  ProxySource
	renderer Renderer
	notifier Notifier
	store    StateStore
	metrics  *metrics.Collector
	opts     Options

	mu      sync.Mutex // one invocation at a time
	lastMu  sync.RWMutex
	lastRun *Result
}

func NewMonitor(proxies ProxySource, renderer Renderer, notifier Notifier, store StateStore, metricsCollector *metrics.Collector, opts Options) *Monitor {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Monitor{
		proxies:  proxies,
		renderer: renderer,
		notifier: notifier,
		store:    store,
		metrics:  metricsCollector,
		opts:     opts,
	}
}

// RunOnce performs one invocation: acquire a proxy, observe the price, then
// evaluate, notify and persist. Failures are logged and end the invocation
// early; none of them is returned.
func (m *Monitor) RunOnce(ctx context.Context) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.opts.Now()
	result := m.runOnce(ctx)
	result.StartedAt = start
	result.Duration = time.Since(start)

	if m.metrics != nil {
		m.metrics.RecordRun(result.Outcome)
	}

	m.lastMu.Lock()
	m.lastRun = &result
	m.lastMu.Unlock()

	return result
}

// LastRun returns the summary of the most recent invocation
func (m *Monitor) LastRun() (Result, bool) {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()

	if m.lastRun == nil {
		return Result{}, false
	}
	return *m.lastRun, true
}

func (m *Monitor) runOnce(ctx context.Context) Result {
	log.Info("Starting price check")

	var proxy *types.ProxyCandidate
	if m.opts.UseProxy {
		candidate, err := m.proxies.Acquire(ctx)
		if err != nil {
			log.Errorf("Proxy acquisition failed, skipping run: %v", err)
			return Result{Outcome: OutcomeProxyUnavailable, Reason: err.Error()}
		}
		proxy = &candidate
	}

	renderStart := time.Now()
	observation := m.renderer.MinPrice(ctx, m.opts.URL, proxy)
	if m.metrics != nil {
		m.metrics.RecordRenderDuration(time.Since(renderStart).Seconds())
	}

	result := Result{}
	if proxy != nil {
		result.Proxy = proxy.Address
	}

	if !observation.Available {
		log.WithField("reason", observation.Reason).Warn("No price observed, nothing to do")
		result.Outcome = OutcomeNoPrice
		result.Reason = observation.Reason
		return result
	}

	price := observation.Price
	result.Price = price
	if m.metrics != nil {
		m.metrics.SetLastPrice(price)
	}

	state, err := m.store.Load()
	if err != nil || state == nil {
		log.Warnf("Failed to load state, starting fresh: %v", err)
		state = &types.MonitorState{}
	}

	decision := Evaluate(state, price, m.opts.Now(), m.opts.Rules)

	log.WithFields(log.Fields{
		"price":       price,
		"daily_min":   decision.State.DailyMin,
		"report_date": decision.State.LastReportDate,
		"first_run":   decision.FirstRun,
		"reported":    decision.Reported,
	}).Info("Price evaluated")

	for _, n := range decision.Notifications {
		err := m.notifier.Notify(ctx, n)
		if err != nil {
			log.WithField("kind", n.Kind).Errorf("Failed to send notification: %v", err)
			m.recordNotification(n.Kind, "failed")
			continue
		}
		log.WithField("kind", n.Kind).Info("Notification sent")
		m.recordNotification(n.Kind, "sent")
		result.Notifications = append(result.Notifications, n.Kind)
	}

	if err := m.store.Save(&decision.State); err != nil {
		log.Errorf("Failed to persist state: %v", err)
	}
	if m.metrics != nil {
		m.metrics.SetDailyMin(decision.State.DailyMin)
	}

	result.State = &decision.State
	if decision.FirstRun {
		result.Outcome = OutcomeStarted
	} else {
		result.Outcome = OutcomeTracked
	}

	return result
}

func (m *Monitor) recordNotification(kind types.NotificationKind, result string) {
	if m.metrics != nil {
		m.metrics.RecordNotification(string(kind), result)
	}
}
