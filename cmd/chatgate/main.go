package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/mtuomik/chatgate/internal/api"
	"github.com/mtuomik/chatgate/internal/audit"
	"github.com/mtuomik/chatgate/internal/config"
	"github.com/mtuomik/chatgate/internal/credential"
	"github.com/mtuomik/chatgate/internal/dispatch"
	"github.com/mtuomik/chatgate/internal/metrics"
	"github.com/mtuomik/chatgate/internal/notifications"
	"github.com/mtuomik/chatgate/internal/quota"
	"github.com/mtuomik/chatgate/internal/secrets"
	"github.com/mtuomik/chatgate/internal/telemetry"
	"github.com/mtuomik/chatgate/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting chatgate", "addr", cfg.Addr, "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "chatgate", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	keys := cfg.Credentials
	if cfg.CredentialsSecret != "" {
		store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to build secrets client", "error", err)
			os.Exit(1)
		}
		secretKeys, err := secrets.LoadCredentialKeys(ctx, store, cfg.CredentialsSecret)
		if err != nil {
			slog.Error("failed to load credential secret", "error", err, "secret", cfg.CredentialsSecret)
			os.Exit(1)
		}
		keys = append(keys, secretKeys...)
		slog.Info("loaded credentials from secrets manager", "count", len(secretKeys))
	}

	pool := credential.NewPool(keys)
	metrics.SetCredentialPoolSize(pool.Size())
	if pool.Size() == 0 {
		slog.Warn("credential pool is empty, chat requests will be refused")
	} else {
		slog.Info("credential pool ready", "credentials", pool.Size())
	}

	var (
		tracker     quota.Tracker
		redisClient *redis.Client
		checkers    []api.HealthChecker
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}

		tracker = quota.NewRedisTrackerWithClient(redisClient, cfg.IPLimit, cfg.QuotaWindow)
		checkers = append(checkers, api.NewRedisHealthChecker(redisClient))
		slog.Info("using redis quota tracker", "limit", cfg.IPLimit, "window", cfg.QuotaWindow)
	} else {
		tracker = quota.NewMemoryTracker(cfg.IPLimit, cfg.QuotaWindow)
		slog.Warn("using in-memory quota tracker, counts will not survive restarts")
	}

	var auditSink audit.Sink
	var db *sql.DB
	switch {
	case cfg.DatabaseURL != "":
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		pingCancel()
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}

		pg := audit.NewPostgresSink(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure audit schema", "error", err)
			os.Exit(1)
		}
		auditSink = pg
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
		slog.Info("using postgres audit sink")
	case cfg.UsageQueueURL != "":
		auditSink, err = audit.NewSQSSink(ctx, cfg.AWSRegion, cfg.UsageQueueURL)
		if err != nil {
			slog.Error("failed to build sqs audit sink", "error", err)
			os.Exit(1)
		}
		slog.Info("using sqs audit sink", "queue", cfg.UsageQueueURL)
	default:
		slog.Info("audit sink disabled")
	}

	var alerter *notifications.Alerter
	if cfg.AlertTopicARN != "" {
		notifier, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.AlertTopicARN)
		if err != nil {
			slog.Error("failed to build sns notifier", "error", err)
			os.Exit(1)
		}

		var dedup notifications.Deduplicator
		if redisClient != nil {
			dedup = notifications.NewRedisDeduplicatorWithClient(redisClient, 15*time.Minute)
		} else {
			dedup = notifications.NewInMemoryDeduplicator(15 * time.Minute)
		}

		alerter = notifications.NewAlerter(notifier, dedup)
		slog.Info("alerting enabled", "topic", cfg.AlertTopicARN)
	}

	client := upstream.NewClient(cfg.OpenAIBaseURL, cfg.ChatModel, nil)
	dispatcher := dispatch.New(pool, client, cfg.UpstreamTimeout)

	handler := api.NewHandler(api.HandlerConfig{
		Tracker:      tracker,
		Dispatcher:   dispatcher,
		Audit:        auditSink,
		Alerter:      alerter,
		SystemPrompt: cfg.SystemPrompt,
		HistoryLimit: cfg.HistoryLimit,
		ChatModel:    cfg.ChatModel,
		QuotaLimit:   cfg.IPLimit,
		PoolSize:     pool.Size(),
		AdminToken:   cfg.AdminToken,
		Checkers:     checkers,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}

	if redisClient != nil {
		redisClient.Close()
	}
	if db != nil {
		db.Close()
	}

	slog.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
