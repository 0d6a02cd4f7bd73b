package proxypool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/price-monitor-bot/internal/metrics"
	"github.com/price-monitor-bot/internal/types"
	log "github.com/sirupsen/logrus"
)

// ErrProxyExhausted is returned when MaxAttempts acquisition rounds found no working proxy.
var ErrProxyExhausted = errors.New("no working proxy found")

type Cache interface {
	Load() []types.ProxyCandidate
	Save(candidates []types.ProxyCandidate) error
}

type Fetcher interface {
	Fetch(ctx context.Context) []types.ProxyCandidate
}

type Validator interface {
	Validate(ctx context.Context, candidate types.ProxyCandidate) bool
}

// FilterFunc narrows freshly fetched candidates before they are probed
type FilterFunc func(ctx context.Context, candidates []types.ProxyCandidate) []types.ProxyCandidate

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	MaxProbes   int           // candidates probed per source per round
	MaxAttempts int           // acquisition rounds, 0 means unbounded
	Cooldown    time.Duration // wait between rounds
	Filter      FilterFunc
	Sleep       SleepFunc
}

// Pool hands out validated proxies, preferring the cached ones
type Pool struct {
	cache     Cache
	fetcher   Fetcher
	validator Validator
	metrics   *metrics.Collector
	opts      Options

	mu      sync.RWMutex
	current *types.ProxyCandidate
}

func NewPool(cache Cache, fetcher Fetcher, validator Validator, metricsCollector *metrics.Collector, opts Options) *Pool {
	if opts.MaxProbes <= 0 {
		opts.MaxProbes = 10
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}

	return &Pool{
		cache:     cache,
		fetcher:   fetcher,
		validator: validator,
		metrics:   metricsCollector,
		opts:      opts,
	}
}

// Acquire returns the first candidate that passes validation. Between failed
// rounds it waits for the cooldown. It gives up with ErrProxyExhausted after
// MaxAttempts rounds, or with the context error on cancellation.
func (p *Pool) Acquire(ctx context.Context) (types.ProxyCandidate, error) {
	for attempt := 1; ; attempt++ {
		candidate, ok := p.acquireOnce(ctx)
		if ok {
			candidate.Validated = true
			if err := p.cache.Save([]types.ProxyCandidate{candidate}); err != nil {
				log.Warnf("Failed to persist proxy cache: %v", err)
			}

			p.mu.Lock()
			p.current = &candidate
			p.mu.Unlock()

			p.record("success")
			log.Infof("Using proxy %s", candidate.Address)
			return candidate, nil
		}

		if err := ctx.Err(); err != nil {
			p.record("canceled")
			return types.ProxyCandidate{}, err
		}

		if p.opts.MaxAttempts > 0 && attempt >= p.opts.MaxAttempts {
			p.record("exhausted")
			log.Errorf("No working proxy after %d attempts", attempt)
			return types.ProxyCandidate{}, ErrProxyExhausted
		}

		p.record("retry")
		log.Warnf("No working proxy found (attempt %d), retrying in %v", attempt, p.opts.Cooldown)

		if err := p.opts.Sleep(ctx, p.opts.Cooldown); err != nil {
			p.record("canceled")
			return types.ProxyCandidate{}, err
		}
	}
}

// Current returns the last acquired proxy, if any
func (p *Pool) Current() (types.ProxyCandidate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.current == nil {
		return types.ProxyCandidate{}, false
	}
	return *p.current, true
}

func (p *Pool) acquireOnce(ctx context.Context) (types.ProxyCandidate, bool) {
	cached := p.cache.Load()
	if candidate, ok := p.probe(ctx, cached); ok {
		return candidate, true
	}
	if ctx.Err() != nil {
		return types.ProxyCandidate{}, false
	}

	fresh := p.fetcher.Fetch(ctx)
	if p.opts.Filter != nil && len(fresh) > 0 {
		fresh = p.opts.Filter(ctx, fresh)
	}
	log.Infof("Probing fresh proxies: %d candidates, up to %d probes", len(fresh), p.opts.MaxProbes)

	return p.probe(ctx, fresh)
}

func (p *Pool) probe(ctx context.Context, candidates []types.ProxyCandidate) (types.ProxyCandidate, bool) {
	for i, candidate := range candidates {
		if i >= p.opts.MaxProbes || ctx.Err() != nil {
			break
		}
		if p.validator.Validate(ctx, candidate) {
			return candidate, true
		}
	}
	return types.ProxyCandidate{}, false
}

func (p *Pool) record(result string) {
	if p.metrics != nil {
		p.metrics.RecordAcquisition(result)
	}
}

// Sleep waits for d, returning early with the context error on cancellation
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
