package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/price-monitor-bot/internal/aggregator"
	"github.com/price-monitor-bot/internal/api"
	"github.com/price-monitor-bot/internal/checker"
	"github.com/price-monitor-bot/internal/config"
	"github.com/price-monitor-bot/internal/metrics"
	"github.com/price-monitor-bot/internal/monitor"
	"github.com/price-monitor-bot/internal/notify"
	"github.com/price-monitor-bot/internal/proxycache"
	"github.com/price-monitor-bot/internal/proxypool"
	"github.com/price-monitor-bot/internal/render"
	"github.com/price-monitor-bot/internal/storage"
	"github.com/price-monitor-bot/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// app holds the components shared by the run and daemon commands
type app struct {
	metrics *metrics.Collector
	store   storage.Store
	pool    *proxypool.Pool
	monitor *monitor.Monitor
}

func newApp(cfg *config.Config, reg prometheus.Registerer) (*app, error) {
	metricsCollector := metrics.NewCollector(cfg.Metrics.Namespace, reg)

	store, err := storage.NewStorage(cfg.Storage.Type, cfg.Storage.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize storage")
	}

	a := &app{
		metrics: metricsCollector,
		store:   store,
	}

	var proxies monitor.ProxySource
	if cfg.Proxy.Enabled {
		a.pool = newProxyPool(cfg.Proxy, metricsCollector)
		proxies = a.pool
		log.Infof("Proxy mode enabled with %d sources", len(cfg.Proxy.Sources))
	}

	start, end := cfg.ReportWindow()
	a.monitor = monitor.NewMonitor(
		proxies,
		render.NewRenderer(cfg.Render, cfg.Monitor.Currency),
		notify.NewTelegram(cfg.Telegram, cfg.Monitor),
		store,
		metricsCollector,
		monitor.Options{
			URL:      cfg.Monitor.URL,
			UseProxy: cfg.Proxy.Enabled,
			Rules: monitor.Rules{
				TargetPrice: cfg.Monitor.TargetPrice,
				Location:    cfg.Location(),
				ReportStart: start,
				ReportEnd:   end,
			},
		},
	)

	return a, nil
}

func newProxyPool(cfg config.ProxyConfig, metricsCollector *metrics.Collector) *proxypool.Pool {
	var filter proxypool.FilterFunc
	if cfg.EnableFastFilter {
		filter = func(ctx context.Context, candidates []types.ProxyCandidate) []types.ProxyCandidate {
			return checker.FastConnectFilter(ctx, candidates, cfg.FastFilterTimeoutMs, cfg.FastFilterConcurrency)
		}
	}

	return proxypool.NewPool(
		proxycache.NewCache(cfg.CacheFile, time.Duration(cfg.CacheTTLSeconds)*time.Second),
		aggregator.NewAggregator(cfg, metricsCollector),
		checker.NewChecker(cfg, metricsCollector),
		metricsCollector,
		proxypool.Options{
			MaxProbes:   cfg.MaxProbes,
			MaxAttempts: cfg.MaxAttempts,
			Cooldown:    time.Duration(cfg.CooldownSeconds) * time.Second,
			Filter:      filter,
		},
	)
}

// proxyReporter keeps a disabled pool a nil interface
func (a *app) proxyReporter() api.ProxyReporter {
	if a.pool == nil {
		return nil
	}
	return a.pool
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warnf("Failed to close storage: %v", err)
	}
}
