// Package server exposes the HTTP surface of the fraud engine: transaction
// ingest, decision review endpoints, health probes, Prometheus metrics, and
// the live decision feed over WebSocket.
package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/frauddesk/sentinel/internal/config"
	"github.com/frauddesk/sentinel/internal/idgen"
	"github.com/frauddesk/sentinel/internal/logging"
	"github.com/frauddesk/sentinel/internal/metrics"
	"github.com/frauddesk/sentinel/internal/model"
	"github.com/frauddesk/sentinel/internal/realtime"
	"github.com/frauddesk/sentinel/internal/store"
)

// Producer enqueues ingested transactions for scoring.
type Producer interface {
	Produce(ctx context.Context, tx *model.Transaction) error
}

// Server wraps the HTTP server and its dependencies. It never scores a
// transaction itself; ingest only enqueues onto the inbound topic and the
// stream consumer does the rest.
type Server struct {
	cfg       *config.Config
	decisions store.DecisionStore
	txs       store.TransactionStore
	producer  Producer
	hub       *realtime.Hub
	db        *sql.DB // nil when running on in-memory stores
	router    *gin.Engine
	httpSrv   *http.Server
	logger    *slog.Logger

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithDB attaches the database pool for health checks and stats gauges.
func WithDB(db *sql.DB) Option {
	return func(s *Server) { s.db = db }
}

// WithRealtimeHub attaches the live decision feed.
func WithRealtimeHub(hub *realtime.Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// New creates the HTTP server.
func New(cfg *config.Config, decisions store.DecisionStore, txs store.TransactionStore, producer Producer, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		decisions: decisions,
		txs:       txs,
		producer:  producer,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s
}

// MaskDSN hides the password in a connection string for logging.
func MaskDSN(dsn string) string {
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
		}

		ctx := logging.WithLogger(c.Request.Context(), s.logger.With("request_id", requestID))
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

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	if s.hub != nil {
		s.router.GET("/ws", func(c *gin.Context) {
			s.hub.HandleWebSocket(c.Writer, c.Request)
		})
	}

	api := s.router.Group("/api")
	{
		api.POST("/transactions", s.ingestTransaction)
		api.GET("/transactions", s.listTransactions)
		api.GET("/decisions", s.listDecisions)
		api.GET("/overview", s.overviewHandler)
	}
}

// ingestTransaction handles POST /api/transactions. Accepted transactions
// are enqueued for asynchronous scoring; 202 means "queued", never "scored".
func (s *Server) ingestTransaction(c *gin.Context) {
	var tx model.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a valid transaction",
		})
		return
	}
	if tx.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_user_id",
			"message": "userId is required",
		})
		return
	}
	if tx.TransactionID == "" {
		tx.TransactionID = uuid.NewString()
	}

	if err := s.producer.Produce(c.Request.Context(), &tx); err != nil {
		logging.L(c.Request.Context()).Error("failed to enqueue transaction",
			"transaction_id", tx.TransactionID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "enqueue_failed",
			"message": "Transaction could not be queued for scoring",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"transactionId": tx.TransactionID,
		"status":        "queued",
	})
}

func (s *Server) listTransactions(c *gin.Context) {
	ctx := c.Request.Context()
	limit := intQuery(c, "limit", 50, 500)

	txs, err := s.txs.ListRecent(ctx, limit)
	if err != nil {
		logging.L(ctx).Error("failed to list transactions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list transactions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
	})
}

func (s *Server) listDecisions(c *gin.Context) {
	ctx := c.Request.Context()
	limit := intQuery(c, "limit", 50, 500)

	decisions, err := s.decisions.ListRecent(ctx, limit)
	if err != nil {
		logging.L(ctx).Error("failed to list decisions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list decisions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// overviewHandler aggregates decision counts by label plus feed stats.
func (s *Server) overviewHandler(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := s.decisions.CountByLabel(ctx)
	if err != nil {
		logging.L(ctx).Error("failed to count decisions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to build overview",
		})
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	overview := gin.H{
		"totalDecisions": total,
		"allowed":        counts[model.LabelAllow],
		"review":         counts[model.LabelReview],
		"blocked":        counts[model.LabelBlock],
		"thresholds": gin.H{
			"review": s.cfg.Rules.ReviewThreshold,
			"block":  s.cfg.Rules.BlockThreshold,
		},
	}
	if s.hub != nil {
		overview["feed"] = s.hub.Stats()
	}

	c.JSON(http.StatusOK, overview)
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

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
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
		s.logger.Info("http server starting", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	s.ready.Store(true)

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	s.ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// Router exposes the gin router for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// intQuery reads a positive integer query parameter, clamped to max.
func intQuery(c *gin.Context, key string, def, max int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
