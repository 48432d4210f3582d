// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/propforge/sentinel/internal/audit"
	"github.com/propforge/sentinel/internal/config"
	"github.com/propforge/sentinel/internal/health"
	"github.com/propforge/sentinel/internal/idgen"
	"github.com/propforge/sentinel/internal/logging"
	"github.com/propforge/sentinel/internal/metrics"
	"github.com/propforge/sentinel/internal/monitor"
	"github.com/propforge/sentinel/internal/ratelimit"
	"github.com/propforge/sentinel/internal/realtime"
	"github.com/propforge/sentinel/internal/security"
	"github.com/propforge/sentinel/internal/traces"
	"github.com/propforge/sentinel/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	svc          *monitor.Service
	sweeper      *monitor.Sweeper
	dispatcher   *audit.Dispatcher
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	healthReg    *health.Registry
	db           *sql.DB // nil if using in-memory audit store
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	tracesStop   func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Tracing (no-op unless an OTLP endpoint is configured)
	tracesStop, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.tracesStop = tracesStop

	// Audit sink: structured log always, plus Postgres when configured
	sinks := []audit.Sink{audit.NewSlogSink(s.logger)}
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		pgStore := audit.NewPostgresStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate audit store", "error", err)
		}
		sinks = append(sinks, pgStore)
		s.logger.Info("using PostgreSQL audit storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		sinks = append(sinks, audit.NewMemoryStore())
		s.logger.Info("using in-memory audit storage")
	}
	s.dispatcher = audit.NewDispatcher(audit.NewMultiSink(sinks...), s.logger)

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	// Monitoring engine
	s.svc = monitor.NewService(cfg.Monitor(),
		monitor.WithLogger(s.logger),
		monitor.WithEventSink(s.dispatcher),
		monitor.WithAlertHook(func(a monitor.Alert) {
			s.realtimeHub.BroadcastAlert(map[string]interface{}{
				"id":       a.ID,
				"type":     string(a.Type),
				"severity": string(a.Severity),
				"message":  a.Message,
				"ip":       alertIP(a),
			})
		}),
		monitor.WithBlockHook(s.realtimeHub.BroadcastBlock),
	)
	s.sweeper = monitor.NewSweeper(s.svc, cfg.SweepInterval, s.logger)

	// Health checks
	s.healthReg = health.NewRegistry()
	s.healthReg.Register("sweeper", health.Fresh("sweeper", 2*cfg.SweepInterval, s.sweeper.LastRun))
	s.healthReg.Register("audit", func(context.Context) health.Status {
		if !s.dispatcher.Running() {
			return health.Status{Name: "audit", Healthy: false, Detail: "dispatcher not running"}
		}
		return health.Status{Name: "audit", Healthy: true}
	})
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func alertIP(a monitor.Alert) string {
	if ip, ok := a.Metadata["ip"].(string); ok {
		return ip
	}
	return ""
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Edge rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.EdgeRateRPM,
		BurstSize:         s.cfg.EdgeRateBurst,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time alert streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API v1
	v1 := s.router.Group("/v1")
	monitor.NewHandler(s.svc, s.cfg.AdminSecret).RegisterRoutes(v1)
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, statuses := s.healthReg.CheckAll(c.Request.Context())
	code := http.StatusOK
	if !ok || !s.healthy.Load() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"healthy":    ok && s.healthy.Load(),
		"subsystems": statuses,
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": true})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start audit dispatcher
	go s.dispatcher.Start(runCtx)

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start cleanup sweeper
	go s.sweeper.Start(runCtx)

	// Start DB stats collector
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeper, dispatcher)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop sweeper
	s.sweeper.Stop()

	// Flush remaining audit events
	s.dispatcher.Stop()
	if dropped := s.dispatcher.Dropped(); dropped > 0 {
		s.logger.Warn("audit events dropped during run", "count", dropped)
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Cancel pending alert timers
	s.svc.Close()

	// Flush traces
	if s.tracesStop != nil {
		if err := s.tracesStop(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
