// Package server wires the marketplace services into an HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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

	"github.com/mtho-ngoza/mzansigig-sub002/internal/application"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/auth"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/config"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/gig"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/ledger"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/logging"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/metrics"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/payments"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/ratelimit"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/realtime"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/security"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/traces"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/validation"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	authMgr    *auth.Manager
	gigs       *gig.Service
	apps       *application.Service
	balances   *ledger.Accessor
	intents    payments.IntentStore
	reconciler *payments.Reconciler

	autoRelease *application.Timer
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter

	db             *sql.DB // nil when using in-memory stores
	router         *gin.Engine
	httpSrv        *http.Server
	tracesShutdown func(context.Context) error
	cancelRunCtx   context.CancelFunc

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
		logger: logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(s)
	}

	var (
		gigStore    gig.Store
		appStore    application.Store
		ledgerStore ledger.Store
		authStore   auth.Store
		intentStore payments.IntentStore
	)

	// Postgres if DATABASE_URL is set, otherwise in-memory.
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
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		gigStore = gig.NewPostgresStore(db)
		appStore = application.NewPostgresStore(db)
		ledgerStore = ledger.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		intentStore = payments.NewPostgresIntentStore(db)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		gigStore = gig.NewMemoryStore()
		appStore = application.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		intentStore = payments.NewMemoryIntentStore()
	}

	s.authMgr = auth.NewManager(authStore)
	s.gigs = gig.NewService(gigStore)
	s.balances = ledger.NewAccessor(ledgerStore)
	s.apps = application.NewService(appStore, s.gigs, application.Options{
		AutoReleaseGrace:     cfg.AutoReleaseGrace(),
		MinDisputeReasonLen:  cfg.MinDisputeReasonLen,
		DefaultMaxApplicants: cfg.DefaultMaxApplicants,
	})
	s.intents = intentStore
	s.reconciler = payments.NewReconciler(s.gigs, s.apps, intentStore, s.balances, cfg.PaymentProvider)
	s.apps.SetSettler(s.reconciler)
	s.autoRelease = application.NewTimer(s.apps, cfg.SweepInterval)

	s.realtimeHub = realtime.NewHub(s.logger)
	s.apps.SetHub(s.realtimeHub)
	s.reconciler.SetHub(s.realtimeHub)
	s.logger.Info("realtime streaming enabled")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// maskDSN hides the password in a connection string for logging
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

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logging.HTTPRequest(c.Request.Context(), c.Request.Method, path,
			c.Writer.Status(), time.Since(start), c.ClientIP())
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket event stream
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")

	gigHandler := gig.NewHandler(s.gigs)
	appHandler := application.NewHandler(s.apps)
	ledgerHandler := ledger.NewHandler(s.balances)
	authHandler := auth.NewHandler(s.authMgr)
	paymentsHandler := payments.NewHandler(s.reconciler,
		s.cfg.PaymentWebhookSecret, s.cfg.PaymentSuccessURL, s.cfg.PaymentErrorURL)

	// PUBLIC ROUTES
	v1.GET("/platform", s.platformHandler)
	gigHandler.RegisterRoutes(v1)       // gig browsing
	paymentsHandler.RegisterRoutes(v1)  // provider webhook + browser return
	v1.GET("/auth/info", authHandler.Info)

	// REGISTRATION (public, returns an API key)
	v1.POST("/register", authHandler.Register)

	// PROTECTED ROUTES (API key required)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		gigHandler.RegisterProtectedRoutes(protected)
		appHandler.RegisterProtectedRoutes(protected)
		paymentsHandler.RegisterProtectedRoutes(protected)

		// Balances are private to their owner.
		protected.GET("/users/:id/balance", auth.RequireOwnership(s.authMgr, "id"), ledgerHandler.GetBalance)
		protected.GET("/users/:id/ledger", auth.RequireOwnership(s.authMgr, "id"), ledgerHandler.GetHistory)

		// API key management
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.POST("/auth/keys", authHandler.CreateKey)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.GET("/auth/me", authHandler.Whoami)
	}

	// ADMIN ROUTES (operator secret): manual sweep trigger for the cron
	// collaborator, alongside the in-process timer.
	admin := v1.Group("/admin")
	admin.Use(s.requireAdmin())
	admin.POST("/sweep", s.sweepHandler)
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" || c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "admin secret required",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) sweepHandler(c *gin.Context) {
	released, err := s.apps.SweepAutoRelease(c.Request.Context(), time.Now())
	if err != nil {
		logging.L(c.Request.Context()).Error("manual sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "sweep failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "MzansiGig",
		"description": "Escrow settlement engine for the gig marketplace",
		"version":     "0.1.0",
		"currency":    "ZAR",
	})
}

func (s *Server) platformHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"platform": gin.H{
			"name":            "MzansiGig",
			"version":         "0.1.0",
			"currency":        "ZAR",
			"paymentProvider": s.cfg.PaymentProvider,
			"autoReleaseDays": s.cfg.AutoReleaseDays,
		},
		"instructions": gin.H{
			"register": "POST /v1/register to get an API key.",
			"post":     "POST /v1/gigs with 'Authorization: Bearer <apiKey>'.",
			"apply":    "POST /v1/gigs/{id}/apply as a worker.",
			"fund":     "POST /v1/payments/checkout after accepting an application.",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	if shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger); err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	s.autoRelease.Start(runCtx)

	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after a brief startup delay
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	s.autoRelease.Stop()
	s.logger.Info("auto-release timer stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Warn("trace exporter shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
