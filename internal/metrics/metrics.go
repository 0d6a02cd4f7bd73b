package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	// Proxy metrics
	probesTotal    *prometheus.CounterVec
	probeDuration  prometheus.Histogram
	acquisitions   *prometheus.CounterVec
	proxiesFetched *prometheus.CounterVec

	// Monitor metrics
	runsTotal     *prometheus.CounterVec
	notifications *prometheus.CounterVec
	lastPrice     prometheus.Gauge
	dailyMin      prometheus.Gauge
	renderSeconds prometheus.Histogram

	// API metrics
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

// NewCollector registers all metrics on reg. A nil reg uses the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		probesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_probes_total",
				Help:      "Total number of proxy liveness probes",
			},
			[]string{"result"},
		),
		probeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "proxy_probe_duration_seconds",
				Help:      "Proxy probe duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
			},
		),
		acquisitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_acquisitions_total",
				Help:      "Total number of proxy acquisition outcomes",
			},
			[]string{"result"},
		),
		proxiesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxies_fetched_total",
				Help:      "Total number of proxies fetched from list sources",
			},
			[]string{"source"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of monitor invocations by outcome",
			},
			[]string{"outcome"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of notifications by kind and result",
			},
			[]string{"kind", "result"},
		),
		lastPrice: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_price",
				Help:      "Last observed minimum price",
			},
		),
		dailyMin: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "daily_min_price",
				Help:      "Tracked daily minimum price",
			},
		),
		renderSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_seconds",
				Help:      "Page render and extraction duration in seconds",
				Buckets:   []float64{1, 5, 10, 15, 20, 30, 60, 120},
			},
		),
		apiRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}

	return c
}

func (c *Collector) RecordProbe(alive bool, seconds float64) {
	if alive {
		c.probesTotal.WithLabelValues("alive").Inc()
	} else {
		c.probesTotal.WithLabelValues("dead").Inc()
	}
	c.probeDuration.Observe(seconds)
}

func (c *Collector) RecordAcquisition(result string) {
	c.acquisitions.WithLabelValues(result).Inc()
}

func (c *Collector) RecordProxiesFetched(source string, count int) {
	c.proxiesFetched.WithLabelValues(source).Add(float64(count))
}

func (c *Collector) RecordRun(outcome string) {
	c.runsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordNotification(kind, result string) {
	c.notifications.WithLabelValues(kind, result).Inc()
}

func (c *Collector) SetLastPrice(price float64) {
	c.lastPrice.Set(price)
}

func (c *Collector) SetDailyMin(price float64) {
	c.dailyMin.Set(price)
}

func (c *Collector) RecordRenderDuration(seconds float64) {
	c.renderSeconds.Observe(seconds)
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string) {
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordAPIDuration(method, endpoint string, seconds float64) {
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
