package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/market-relister/internal/config"
	"github.com/market-relister/internal/metrics"
	"github.com/market-relister/internal/proxyhealth"
	"github.com/market-relister/internal/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Scanner is the read side of the orchestrator
type Scanner interface {
	Stats() types.Stats
	CacheSize() int
}

// ProxyPool is the part of the proxy health manager exposed over HTTP
type ProxyPool interface {
	Live() []types.Proxy
	Blacklist() []string
	LastRefresh() time.Time
	Refresh(ctx context.Context) (int, error)
	AddBlacklist(p types.Proxy)
}

type Server struct {
	config      *config.Config
	scanner     Scanner
	proxies     ProxyPool
	metrics     *metrics.Collector
	router      *gin.Engine
	httpServer  *http.Server
	rateLimiter *RateLimiter

	// refreshCtx bounds background refreshes started over HTTP
	refreshCtx context.Context
}

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
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

	// Double-check after acquiring write lock
	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = limiter

	return limiter
}

// NewServer builds the status API. proxies may be nil when the proxy
// pool is disabled; the proxy endpoints then answer 503.
func NewServer(ctx context.Context, cfg *config.Config, scanner Scanner, proxies ProxyPool, metricsCollector *metrics.Collector) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:      cfg,
		scanner:     scanner,
		proxies:     proxies,
		metrics:     metricsCollector,
		router:      router,
		rateLimiter: NewRateLimiter(cfg.API.RateLimitPerMinute),
		refreshCtx:  ctx,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	// Public endpoints
	s.router.GET("/health", s.handleHealth)

	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Endpoint, gin.WrapH(s.metrics.Handler()))
	}

	// Protected endpoints
	protected := s.router.Group("/")
	if s.config.API.EnableAPIKeyAuth {
		protected.Use(s.authMiddleware())
	}
	if s.config.API.EnableIPRateLimit {
		protected.Use(s.rateLimitMiddleware())
	}

	protected.GET("/stat", s.handleStat)
	protected.GET("/proxies", s.handleProxies)
	protected.POST("/proxies/refresh", s.handleRefresh)
	protected.POST("/proxies/blacklist", s.handleBlacklist)
}

// Handler exposes the router for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.API.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Infof("Starting API server on %s", s.config.API.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	log.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// Middleware

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

		// Route template keeps label cardinality bounded
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		s.metrics.RecordAPIRequest(method, endpoint, status)
		s.metrics.RecordAPIDuration(method, endpoint, time.Since(start).Seconds())
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	expectedKey := os.Getenv(s.config.API.APIKeyEnv)
	if expectedKey == "" {
		log.Warn("API key not set in environment, authentication disabled")
	}

	return func(c *gin.Context) {
		if expectedKey == "" {
			c.Next()
			return
		}

		// Check header first
		apiKey := c.GetHeader("X-Api-Key")
		if apiKey == "" {
			apiKey = c.Query("key")
		}

		if apiKey != expectedKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or missing API key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := s.rateLimiter.GetLimiter(c.ClientIP())

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleStat(c *gin.Context) {
	stats := s.scanner.Stats()

	response := gin.H{
		"cycles":        stats.Cycles,
		"failed_cycles": stats.FailedCycles,
		"quota_aborts":  stats.QuotaAborts,
		"items_seen":    stats.ItemsSeen,
		"bought":        stats.Bought,
		"relisted":      stats.Relisted,
		"abandoned":     stats.Abandoned,
		"cache_size":    s.scanner.CacheSize(),
		"last_cycle":    formatTime(stats.LastCycleTime),
	}

	if s.proxies != nil {
		response["live_proxies"] = len(s.proxies.Live())
		response["blacklisted"] = len(s.proxies.Blacklist())
		response["last_refresh"] = formatTime(s.proxies.LastRefresh())
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) handleProxies(c *gin.Context) {
	if !s.requireProxies(c) {
		return
	}

	live := s.proxies.Live()
	addrs := make([]string, 0, len(live))
	for _, p := range live {
		addrs = append(addrs, p.String())
	}

	c.JSON(http.StatusOK, gin.H{
		"total":       len(addrs),
		"proxies":     addrs,
		"blacklisted": s.proxies.Blacklist(),
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	if !s.requireProxies(c) {
		return
	}
	log.Info("Manual proxy refresh triggered via API")

	go func() {
		n, err := s.proxies.Refresh(s.refreshCtx)
		switch {
		case errors.Is(err, proxyhealth.ErrRefreshInProgress):
			log.Info("Manual refresh skipped, a refresh is already running")
		case err != nil:
			log.Errorf("Manual refresh failed: %v", err)
		default:
			log.Infof("Manual refresh complete: %d live proxies", n)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Refresh triggered",
	})
}

type blacklistRequest struct {
	Proxy string `json:"proxy" binding:"required"`
}

func (s *Server) handleBlacklist(c *gin.Context) {
	if !s.requireProxies(c) {
		return
	}

	var req blacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Body must be {\"proxy\": \"<uri>\"}",
		})
		return
	}

	p, err := proxyhealth.ParseProxy(req.Proxy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	s.proxies.AddBlacklist(p)
	log.Infof("Proxy host %s blacklisted via API", p.Host)

	c.JSON(http.StatusOK, gin.H{
		"blacklisted": p.Host,
		"total":       len(s.proxies.Blacklist()),
	})
}

func (s *Server) requireProxies(c *gin.Context) bool {
	if s.proxies != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": "Proxy pool disabled",
	})
	return false
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
