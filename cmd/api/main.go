package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mindhaven/mindhaven-platform/cmd/mainconfig"
	"github.com/mindhaven/mindhaven-platform/internal/api/router"
	"github.com/mindhaven/mindhaven-platform/internal/appointments"
	"github.com/mindhaven/mindhaven-platform/internal/assistant"
	"github.com/mindhaven/mindhaven-platform/internal/chat"
	appconfig "github.com/mindhaven/mindhaven-platform/internal/config"
	"github.com/mindhaven/mindhaven-platform/internal/emotion"
	"github.com/mindhaven/mindhaven-platform/internal/escalation"
	"github.com/mindhaven/mindhaven-platform/internal/http/handlers"
	"github.com/mindhaven/mindhaven-platform/internal/messages"
	"github.com/mindhaven/mindhaven-platform/internal/notify"
	"github.com/mindhaven/mindhaven-platform/internal/observability/metrics"
	"github.com/mindhaven/mindhaven-platform/internal/sessions"
	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting mindhaven-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	// Postgres: pgxpool for the hot chat path, database/sql for the
	// escalation store.
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sqlDB.Close() }()

	// Redis caches the assistant-disabled latch; the app runs without it.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, latch cache disabled", "error", err)
			rdb = nil
		}
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	// Assistant backend chain: Gemini first, Bedrock as fallback, canned
	// replies as the floor.
	var gemini, bedrock assistant.LLMClient
	if cfg.GeminiAPIKey != "" {
		gc, err := assistant.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Warn("gemini client unavailable", "error", err)
		} else {
			defer func() { _ = gc.Close() }()
			gemini = gc
		}
	}
	if cfg.BedrockModelID != "" {
		bedrock = assistant.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg))
	}
	var chain assistant.LLMClient
	switch {
	case gemini != nil && bedrock != nil:
		chain = assistant.NewFallbackClient(gemini, bedrock, logger)
	case gemini != nil:
		chain = gemini
	case bedrock != nil:
		chain = bedrock
	default:
		logger.Warn("no assistant backend configured, serving canned replies only")
	}

	chatMetrics := metrics.NewChatMetrics(prometheus.DefaultRegisterer)

	// Stores and services
	sessionStore := sessions.NewStore(pool)
	latch := sessions.NewLatch(sessionStore, rdb, logger)
	messageStore := messages.NewStore(pool, emotion.NewAnalyzer(), logger)
	escalationStore := escalation.NewStore(sqlDB, logger)
	evaluator := escalation.NewEvaluator(nil, nil)
	apptService := appointments.NewService(appointments.NewRepository(pool), logger)

	responder := assistant.NewChainResponder(chain, assistant.Options{
		Model:     cfg.BedrockModelID,
		MaxTurns:  cfg.AssistantMaxTurns,
		MaxTokens: int32(cfg.AssistantMaxTokens),
	}, logger)

	// Escalation notifications: SendGrid when configured, SES otherwise.
	var emailSender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.NotifyFromEmail,
		FromName:  cfg.NotifyFromName,
	}, logger); sg != nil {
		emailSender = sg
	} else if ses := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
		FromEmail: cfg.NotifyFromEmail,
		FromName:  cfg.NotifyFromName,
	}, logger); ses != nil {
		emailSender = ses
	}
	notifier := notify.NewService(emailSender, notify.Config{
		OnCallEmail:      cfg.OnCallEmail,
		NotifyOnEscalate: cfg.NotifyOnEscalate,
	}, logger)

	// Chat plumbing
	registry := chat.NewRegistry(latch, chatMetrics, logger)
	chatRouter := chat.NewRouter(chat.RouterConfig{
		Registry:     registry,
		Store:        messageStore,
		Latch:        latch,
		Evaluator:    evaluator,
		Escalations:  escalationStore,
		Booker:       apptService,
		Responder:    responder,
		Notifier:     notifier,
		Metrics:      chatMetrics,
		Logger:       logger,
		HistoryLimit: cfg.EscalationHistoryLimit,
	})
	wsHandler := chat.NewWSHandler(registry, chatRouter, sessionStore, chat.WSOptions{
		ReadLimit:    cfg.WSReadLimit,
		WriteTimeout: cfg.WSWriteTimeout,
	}, logger)

	// Initialize handlers
	chatHandler := handlers.NewChatHandler(sessionStore, messageStore, chatRouter, registry, latch, escalationStore, logger)
	apptHandler := handlers.NewAppointmentsHandler(apptService, logger)

	// Setup router
	routerCfg := &router.Config{
		Logger:              logger,
		ChatHandler:         chatHandler,
		AppointmentsHandler: apptHandler,
		WSHandler:           wsHandler,
		MetricsHandler:      promhttp.Handler(),
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
