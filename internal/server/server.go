// Package server sets up the HTTP server with all routes
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

	"github.com/flexycode/altflex/internal/analysis"
	"github.com/flexycode/altflex/internal/anomaly"
	"github.com/flexycode/altflex/internal/audit"
	"github.com/flexycode/altflex/internal/chaindata"
	"github.com/flexycode/altflex/internal/config"
	"github.com/flexycode/altflex/internal/custody"
	"github.com/flexycode/altflex/internal/exploitdb"
	"github.com/flexycode/altflex/internal/health"
	"github.com/flexycode/altflex/internal/logging"
	"github.com/flexycode/altflex/internal/metrics"
	"github.com/flexycode/altflex/internal/ratelimit"
	"github.com/flexycode/altflex/internal/realtime"
	"github.com/flexycode/altflex/internal/security"
	"github.com/flexycode/altflex/internal/traces"
	"github.com/flexycode/altflex/internal/validation"
	"github.com/flexycode/altflex/internal/verify"
)

// engineActorID identifies the analysis service in custody chains.
const engineActorID = "analysis-engine"

// defaultLendingProtocols are monitored lending pool contracts on
// Ethereum mainnet (Aave v2 pool, Compound comptroller, Euler).
var defaultLendingProtocols = map[string]struct{}{
	"0x7d2768de32b0b80b7a3454c06bdac94a69ddc7a9": {},
	"0x3d9819210a31b4961b30ef54be2aed79b9c9cd3b": {},
	"0x27182842e098f60e3d576794a5bffb0777e025d3": {},
}

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	stores       *stores
	ledger       *audit.Ledger
	tracker      *custody.Tracker
	signer       *custody.Signer
	verifier     *verify.Verifier
	service      *analysis.Service
	hub          *realtime.Hub
	checks       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	scorer       anomaly.Scorer
	chain        chaindata.Client
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// stores bundles the per-domain persistence handles.
type stores struct {
	exploits    exploitdb.Store
	attackers   verify.AttackerSource
	audit       audit.Store
	custody     custody.Store
	assessments analysis.Store
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithChainClient injects a chain-data client (for testing).
func WithChainClient(c chaindata.Client) Option {
	return func(s *Server) {
		s.chain = c
	}
}

// WithScorer injects an anomaly scorer (for testing).
func WithScorer(sc anomaly.Scorer) Option {
	return func(s *Server) {
		s.scorer = sc
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	st, err := s.initStores(ctx)
	if err != nil {
		return nil, err
	}
	s.stores = st

	s.ledger = audit.NewLedger(st.audit, cfg.AuditSigningKey)

	// Engine custody identity plus any externally registered actors.
	signer, err := custody.NewSigner(engineActorID)
	if err != nil {
		return nil, fmt.Errorf("failed to create custody signer: %w", err)
	}
	s.signer = signer
	actors := map[string]string{signer.ID(): signer.Address()}
	for id, addr := range cfg.CustodyActors {
		actors[id] = addr
	}
	s.tracker = custody.NewTracker(st.custody, custody.NewMemoryRegistry(actors), s.ledger)
	s.logger.Info("custody tracking enabled",
		"engine_actor", signer.ID(), "registered_actors", len(actors))

	// External collaborators: live clients when configured, fixtures
	// otherwise.
	if s.chain == nil {
		if cfg.ChainDataURL != "" {
			s.chain = chaindata.NewEtherscanClient(cfg.ChainDataURL, cfg.ChainDataAPIKey)
			s.logger.Info("chain data provider enabled", "url", cfg.ChainDataURL)
		} else {
			s.chain = chaindata.NewStaticClient()
			s.logger.Info("chain data provider not configured, on-chain checks will be inconclusive")
		}
	}
	if s.scorer == nil {
		if cfg.AnomalyScorerURL != "" {
			s.scorer = anomaly.NewHTTPScorer(cfg.AnomalyScorerURL, cfg.AnomalyTimeout)
			s.logger.Info("anomaly scorer enabled", "url", cfg.AnomalyScorerURL)
		} else {
			s.scorer = anomaly.UnavailableScorer{}
			s.logger.Info("anomaly scorer not configured, analyses will be rule-only")
		}
	}

	s.verifier = verify.NewVerifier(s.chain, st.attackers, st.exploits)
	s.hub = realtime.NewHub(s.logger, cfg.AlertMinScore)

	engine := analysis.NewEngine()
	aggregator := analysis.NewAggregator(cfg.CriticalThreshold, cfg.SuspiciousThreshold,
		exploitdb.NewMatcher(st.exploits))
	s.service = analysis.NewService(engine, aggregator, s.verifier, s.scorer,
		st.attackers, s.ledger, s.tracker, s.signer, st.assessments, s.hub,
		analysis.Options{
			EthPriceUSD:      cfg.EthPriceUSD,
			AnomalyTimeout:   cfg.AnomalyTimeout,
			LendingProtocols: defaultLendingProtocols,
		})

	s.registerHealthChecks()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// initStores opens PostgreSQL when DATABASE_URL is set, in-memory
// otherwise.
func (s *Server) initStores(ctx context.Context) (*stores, error) {
	if s.cfg.DatabaseURL == "" {
		exploits := exploitdb.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
		return &stores{
			exploits:    exploits,
			attackers:   exploits,
			audit:       audit.NewMemoryStore(),
			custody:     custody.NewMemoryStore(),
			assessments: analysis.NewMemoryStore(),
		}, nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
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
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

	exploits := exploitdb.NewPostgresStore(db)
	if err := exploits.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate exploit store", "error", err)
	}
	if err := exploits.Seed(ctx); err != nil {
		s.logger.Warn("failed to seed exploit catalog", "error", err)
	}

	auditStore := audit.NewPostgresStore(db)
	if err := auditStore.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate audit store", "error", err)
	}

	custodyStore := custody.NewPostgresStore(db)
	if err := custodyStore.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate custody store", "error", err)
	}

	assessmentStore := analysis.NewPostgresStore(db)
	if err := assessmentStore.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate assessment store", "error", err)
	}

	return &stores{
		exploits:    exploits,
		attackers:   exploits,
		audit:       auditStore,
		custody:     custodyStore,
		assessments: assessmentStore,
	}, nil
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				return health.Down("database", err.Error())
			}
			return health.OK("database")
		})
	}
	s.checks.Register("ledger", func(ctx context.Context) health.Status {
		if _, err := s.stores.audit.Last(ctx); err != nil {
			return health.Down("ledger", err.Error())
		}
		return health.OK("ledger")
	})
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(limiterCfg)
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
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket alert stream
	s.router.GET("/ws/alerts", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	api := s.router.Group("/api")

	analysis.NewHandler(s.service).RegisterRoutes(api)
	verify.NewHandler(s.verifier, s.ledger).RegisterRoutes(api)
	exploitdb.NewHandler(s.stores.exploits).RegisterRoutes(api)
	audit.NewHandler(s.ledger).RegisterRoutes(api)
	custody.NewHandler(s.tracker).RegisterRoutes(api)

	s.router.GET("/api/alerts/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
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
		"name":        "AltFlex",
		"description": "Exploit risk detection and forensic audit engine",
		"version":     "0.1.0",
		"chain":       "ethereum",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no OTLP endpoint is configured)
	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
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

	go s.hub.Run(runCtx)

	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
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

	shutdownErr := s.Shutdown()
	if shutdownTraces != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := shutdownTraces(shutdownCtx); err != nil {
			s.logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}
	return shutdownErr
}

// Shutdown drains in-flight requests and stops background goroutines.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (alert hub, stats)
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

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
