// Sentinel - real-time fraud scoring for payment transactions
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/frauddesk/sentinel/internal/alerts"
	"github.com/frauddesk/sentinel/internal/config"
	"github.com/frauddesk/sentinel/internal/engine"
	"github.com/frauddesk/sentinel/internal/features"
	"github.com/frauddesk/sentinel/internal/logging"
	"github.com/frauddesk/sentinel/internal/metrics"
	"github.com/frauddesk/sentinel/internal/model"
	"github.com/frauddesk/sentinel/internal/realtime"
	"github.com/frauddesk/sentinel/internal/server"
	"github.com/frauddesk/sentinel/internal/signals"
	"github.com/frauddesk/sentinel/internal/store"
	"github.com/frauddesk/sentinel/internal/stream"
	"github.com/frauddesk/sentinel/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting sentinel",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op when endpoint unset)
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTraces(shutdownCtx)
	}()

	// Shared signal state: Redis in production, in-memory fallback for
	// local single-node runs.
	var backend signals.Backend
	if cfg.RedisAddr != "" {
		client := signals.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		backend = signals.NewRedisBackend(client)
		logger.Info("using redis signal backend", "addr", cfg.RedisAddr)
	} else {
		backend = signals.NewMemoryBackend()
		logger.Warn("using in-memory signal backend (single node only)")
	}
	signalStore := signals.NewStore(backend)

	// Persistence: Postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		decisions store.DecisionStore
		txs       store.TransactionStore
		db        *sql.DB
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		decisions = store.NewPostgresDecisionStore(db)
		txs = store.NewPostgresTransactionStore(db)
		logger.Info("using PostgreSQL storage", "url", server.MaskDSN(cfg.DatabaseURL))

		go metrics.StartDBStatsCollector(ctx, db, 15*time.Second)
	} else {
		decisions = store.NewMemoryDecisionStore()
		txs = store.NewMemoryTransactionStore()
		logger.Info("using in-memory storage (data will not persist)")
	}

	// Streams
	publisher := stream.NewPublisher(cfg.KafkaBrokers, cfg.DecisionTopic)
	defer func() { _ = publisher.Close() }()
	deadLetter := stream.NewDeadLetter(cfg.KafkaBrokers, cfg.DeadTopic)
	defer func() { _ = deadLetter.Close() }()
	producer := stream.NewTransactionProducer(cfg.KafkaBrokers, cfg.InboundTopic)
	defer func() { _ = producer.Close() }()

	// Decision pipeline
	processor := engine.NewProcessor(cfg.Rules, signalStore, decisions, logger).
		WithPublisher(publisher).
		WithTransactionStore(txs)
	if cfg.ModelURL != "" {
		builder := features.NewBuilder(signalStore, cfg.Rules.BurstWindow())
		sink := features.NewHTTPSink(cfg.ModelURL, 5*time.Second)
		processor = processor.WithFeatureExport(builder, sink)
		logger.Info("feature export enabled", "url", cfg.ModelURL)
	}

	consumer := stream.NewConsumer(cfg.KafkaBrokers, cfg.InboundTopic, cfg.ConsumerGroup, processor, deadLetter, logger)

	// Decision fan-out: alerts and the live WebSocket feed.
	notifier := alerts.NewNotifier(cfg.SlackWebhookURL, cfg.AlertDecisions, cfg.AlertDedupe, cfg.AlertPostTimeout, logger)
	consumer.OnDecision(func(ctx context.Context, d *model.Decision) {
		notifier.Notify(ctx, d)
	})

	hub := realtime.NewHub(logger)
	go hub.Run(ctx)
	consumer.OnDecision(func(_ context.Context, d *model.Decision) {
		hub.Broadcast(d)
	})

	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("consumer stopped", "error", err)
			stop()
		}
	}()

	srv := server.New(cfg, decisions, txs, producer, logger,
		server.WithDB(db),
		server.WithRealtimeHub(hub),
	)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("sentinel stopped")
}
