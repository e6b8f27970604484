package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/masqify/billing-service/internal/config"
	"github.com/masqify/billing-service/internal/events"
	"github.com/masqify/billing-service/internal/handlers"
	"github.com/masqify/billing-service/internal/pricing"
	"github.com/masqify/billing-service/internal/ratelimit"
	"github.com/masqify/billing-service/internal/service"
	"github.com/masqify/billing-service/internal/store"
	"github.com/masqify/billing-service/internal/webhook"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Billing service starting up...")

	// Setup the ledger store. An empty database URL runs on the
	// in-memory store for local development.
	var ledgerStore store.Store
	if cfg.Database.URL != "" {
		dbPool, err := setupDatabase(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer dbPool.Close()
		ledgerStore = store.NewPostgresStore(dbPool, logger)
	} else {
		logger.Warn("No database URL configured, using in-memory store")
		ledgerStore = store.NewMemoryStore()
	}

	if err := ledgerStore.Initialize(context.Background()); err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer ledgerStore.Close()

	// Optional NATS publisher for balance-change events.
	var publisher service.EventPublisher
	if cfg.Events.Address != "" {
		nc, err := events.Connect(cfg.Events.Address, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		publisher = events.NewPublisher(nc, cfg.Events.Subject, logger)
	}

	pricingEngine := pricing.NewEngine(cfg.GetPricingConfig(), logger)

	fundsService := service.NewFundsService(
		ledgerStore,
		pricingEngine,
		publisher,
		cfg.GetBillingConfig(),
		logger,
	)

	webhookProcessor := webhook.NewProcessor(ledgerStore, fundsService, cfg.GetWebhookConfig(), logger)

	limiter := ratelimit.New()
	startLimiterCleanup(limiter, cfg.RateLimit.CleanupInterval, logger)

	server := setupHTTPServer(cfg, fundsService, webhookProcessor, limiter, logger)

	setupGracefulShutdown(server, cfg.Server.ShutdownTimeout, logger)

	logger.Info("Starting HTTP server", zap.String("address", fmt.Sprintf(":%d", cfg.Server.Port)))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}

// setupLogger initializes the logger
func setupLogger(level string) (*zap.Logger, error) {
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config := zap.NewProductionConfig()
	config.Level = zapLevel
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}

// setupDatabase initializes the database connection pool
func setupDatabase(cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	poolConfig, err := cfg.GetDatabaseConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established successfully")
	return pool, nil
}

// startLimiterCleanup drives the rate limiter's idle-entry cleanup.
func startLimiterCleanup(limiter *ratelimit.Limiter, interval time.Duration, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if deleted := limiter.Cleanup(); deleted > 0 {
				logger.Debug("Rate limiter cleanup", zap.Int("deleted", deleted))
			}
		}
	}()
}

// setupHTTPServer configures and returns the HTTP server
func setupHTTPServer(
	cfg *config.Config,
	fundsService *service.FundsService,
	webhookProcessor *webhook.Processor,
	limiter *ratelimit.Limiter,
	logger *zap.Logger,
) *http.Server {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.ReadTimeout))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"billing-service"}`))
	})

	rewriteLimit := ratelimit.Config{
		Endpoint:      "/api/v1/rewrite/charge",
		Limit:         cfg.RateLimit.Rewrite.Limit,
		WindowSeconds: cfg.RateLimit.Rewrite.WindowSeconds,
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Balance and ledger
		r.Route("/balance/{userID}", func(r chi.Router) {
			r.Get("/", handlers.GetBalanceHandler(fundsService, logger))
			r.Get("/transactions", handlers.ListTransactionsHandler(fundsService, logger))
			r.Get("/transactions/export", handlers.ExportTransactionsHandler(fundsService, logger))
		})

		// Usage charging
		r.Post("/rewrite/charge", handlers.ChargeRewriteHandler(fundsService, limiter, rewriteLimit, logger))

		// Pricing
		r.Post("/pricing/estimate", handlers.EstimateCostHandler(fundsService, logger))

		// Admin operations
		r.Route("/admin/users/{userID}", func(r chi.Router) {
			r.Post("/adjust", handlers.AdjustBalanceHandler(fundsService, logger))
			r.Post("/reconcile", handlers.ReconcileHandler(fundsService, logger))
		})

		// Payment provider notifications
		r.Post("/webhooks/payment", handlers.PaymentWebhookHandler(webhookProcessor, logger))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// setupGracefulShutdown configures graceful shutdown handling
func setupGracefulShutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Info("Received shutdown signal, shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown server gracefully", zap.Error(err))
		} else {
			logger.Info("Server shutdown completed")
		}
	}()
}
