package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sales-arena/internal/config"
	"github.com/sales-arena/internal/handler"
	"github.com/sales-arena/internal/kafka"
	"github.com/sales-arena/internal/memstore"
	"github.com/sales-arena/internal/metrics"
	"github.com/sales-arena/internal/postgres"
	"github.com/sales-arena/internal/redis"
	"github.com/sales-arena/internal/service"
	"github.com/sales-arena/internal/websocket"
	"github.com/sales-arena/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipelineMetrics := metrics.New(registry)

	checks := map[string]handler.Pinger{}

	// Initialize storage
	var store service.Ledger
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		store = memstore.New()
	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		logger.Info("connected to PostgreSQL")

		// Run database migrations
		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		store = repo
		checks["postgres"] = repo
	}

	// Initialize services
	salesService := service.NewSalesService(store, &cfg.Pipeline, pipelineMetrics, logger)
	adminService := service.NewAdminService(store, &cfg.Leaderboard, cfg.Pipeline.OnlineWindow, logger)

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	salesService.AddObserver(wsHub)
	adminService.AddObserver(wsHub)
	logger.Info("WebSocket hub initialized")

	// Redis leaderboard projection
	var syncWorker *worker.SyncWorker
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		projection, err := redis.NewProjection(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer projection.Close()
		logger.Info("connected to Redis")

		salesService.AddObserver(projection)
		adminService.AddObserver(projection)
		adminService.SetCache(projection)
		checks["redis"] = projection

		syncWorker = worker.NewSyncWorker(projection, store, &cfg.Sync, logger)

		// Rebuild the projection on startup (recovery)
		logger.Info("syncing leaderboard from database to Redis")
		if err := syncWorker.SyncFromDatabase(ctx); err != nil {
			logger.Warn("failed to sync from database on startup", "error", err)
		}

		if cfg.Sync.Enabled {
			if err := syncWorker.Start(ctx); err != nil {
				logger.Error("failed to start sync worker", "error", err)
				os.Exit(1)
			}
		}
	}

	// Kafka ingestion and outbox relay
	var (
		kafkaConsumer  *kafka.Consumer
		kafkaPublisher *kafka.Publisher
		relayWorker    *worker.RelayWorker
	)
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.SalesTopic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, salesService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka ingestion", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka ingestion", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}

		kafkaPublisher, err = kafka.NewPublisher(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka publisher, events stay in the outbox", "error", err)
		} else {
			relayWorker = worker.NewRelayWorker(store, kafkaPublisher, &cfg.Sync, logger)
			if err := relayWorker.Start(ctx); err != nil {
				logger.Error("failed to start relay worker", "error", err)
				os.Exit(1)
			}
		}
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(
		salesService,
		adminService,
		wsHub,
		pipelineMetrics.Handler(),
		&cfg.RateLimit,
		logger,
	)
	for name, p := range checks {
		httpHandler.AddReadinessCheck(name, p)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", cfg.Storage)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting sales first so no commit races the workers below
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if relayWorker != nil {
		if err := relayWorker.Stop(); err != nil {
			logger.Error("failed to stop relay worker", "error", err)
		}
		if _, err := relayWorker.Drain(shutdownCtx); err != nil {
			logger.Warn("final outbox drain failed", "error", err)
		}
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("failed to close Kafka publisher", "error", err)
		}
	}

	if syncWorker != nil && syncWorker.IsRunning() {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
	}

	wsHub.Stop()

	logger.Info("server stopped")
}
