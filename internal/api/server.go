package api

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/price-monitor-bot/internal/config"
	"github.com/price-monitor-bot/internal/metrics"
	"github.com/price-monitor-bot/internal/monitor"
	"github.com/price-monitor-bot/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type StateLoader interface {
	Load() (*types.MonitorState, error)
}

type Runner interface {
	RunOnce(ctx context.Context) monitor.Result
	LastRun() (monitor.Result, bool)
}

type ProxyReporter interface {
	Current() (types.ProxyCandidate, bool)
}

type Server struct {
	config      *config.Config
	store       StateLoader
	runner      Runner
	proxies     ProxyReporter
	metrics     *metrics.Collector
	gatherer    prometheus.Gatherer
	router      *gin.Engine
	httpServer  *http.Server
	rateLimiter *RateLimiter

	runCtx  context.Context
	running sync.Mutex
}

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = limiter

	return limiter
}

// NewServer builds the status server. proxies may be nil when proxy mode is
// off, gatherer may be nil to serve the default registry. ctx bounds runs
// triggered through POST /run.
func NewServer(ctx context.Context, cfg *config.Config, store StateLoader, runner Runner, proxies ProxyReporter,
	metricsCollector *metrics.Collector, gatherer prometheus.Gatherer) *Server {

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:      cfg,
		store:       store,
		runner:      runner,
		proxies:     proxies,
		metrics:     metricsCollector,
		gatherer:    gatherer,
		router:      router,
		rateLimiter: NewRateLimiter(cfg.API.RateLimitPerMinute),
		runCtx:      ctx,
	}

	s.setupRoutes()

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware())
	if s.metrics != nil {
		s.router.Use(s.metricsMiddleware())
	}

	s.router.GET("/health", s.handleHealth)

	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Endpoint, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	protected := s.router.Group("/")
	if s.config.API.EnableAPIKeyAuth {
		protected.Use(s.authMiddleware())
	}
	if s.config.API.EnableIPRateLimit {
		protected.Use(s.rateLimitMiddleware())
	}

	protected.GET("/state", s.handleState)
	protected.GET("/proxy", s.handleProxy)
	protected.POST("/run", s.handleRun)
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.API.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Infof("Starting status API on %s", s.config.API.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	log.Info("Shutting down status API...")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Milliseconds(),
			"ip":       c.ClientIP(),
		}).Debug("API request")
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		c.Next()

		// route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		s.metrics.RecordAPIRequest(method, path, strconv.Itoa(c.Writer.Status()))
		s.metrics.RecordAPIDuration(method, path, time.Since(start).Seconds())
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	expectedKey := os.Getenv(s.config.API.APIKeyEnv)
	if expectedKey == "" {
		log.Warnf("API key not set in %s, authentication disabled", s.config.API.APIKeyEnv)
	}

	return func(c *gin.Context) {
		if expectedKey == "" {
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-Api-Key")
		if apiKey == "" {
			apiKey = c.Query("key")
		}

		if apiKey != expectedKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or missing API key",
			})
			return
		}

		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.GetLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleState(c *gin.Context) {
	response := gin.H{}

	state, err := s.store.Load()
	if err != nil {
		log.Warnf("Failed to load state for API: %v", err)
		response["state_error"] = err.Error()
	} else {
		response["state"] = state
		response["initialized"] = state.Initialized()
	}

	if last, ok := s.runner.LastRun(); ok {
		response["last_run"] = last
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) handleProxy(c *gin.Context) {
	if s.proxies == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Proxy mode is disabled"})
		return
	}

	proxy, ok := s.proxies.Current()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No proxy acquired yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":    proxy.Address,
		"protocol":   proxy.Protocol,
		"fetched_at": proxy.FetchedAt.Format(time.RFC3339),
	})
}

// handleRun starts an invocation in the background; one at a time
func (s *Server) handleRun(c *gin.Context) {
	if !s.running.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "A triggered run is already in progress"})
		return
	}

	log.Info("Run triggered via API")

	go func() {
		defer s.running.Unlock()
		result := s.runner.RunOnce(s.runCtx)
		log.WithField("outcome", result.Outcome).Info("Triggered run complete")
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "Run triggered"})
}
