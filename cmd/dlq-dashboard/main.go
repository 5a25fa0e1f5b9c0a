package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/LaylAgnes/Hermes/internal/config"
	"github.com/LaylAgnes/Hermes/internal/dashboard"
	"github.com/LaylAgnes/Hermes/internal/dlq"
	"github.com/LaylAgnes/Hermes/internal/producer/storage"
	"github.com/LaylAgnes/Hermes/shared/idempotency"
	"github.com/LaylAgnes/Hermes/shared/logger"
	"github.com/LaylAgnes/Hermes/shared/postgresql"
	"github.com/LaylAgnes/Hermes/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("DLQ_DASHBOARD_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/dlq-dashboard/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateDashboardConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting dlq-dashboard service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Initialize idempotency store for claim release on replay
	store, err := idempotency.NewStore(&idempotency.Config{
		Addr:      cfg.Idempotency.Addr,
		Password:  cfg.Idempotency.Password,
		DB:        cfg.Idempotency.DB,
		KeyPrefix: cfg.Idempotency.KeyPrefix,
		TTL:       cfg.Idempotency.TTL,
		Required:  cfg.Idempotency.Required,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize idempotency store: %w", err)
	}
	defer store.Close()

	// Initialize optional run history storage
	var runs dashboard.RunLister
	if cfg.Database.Enabled {
		dbClient, err := postgresql.NewClient(&postgresql.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		runs, err = storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize run history: %w", err)
		}

		appLogger.Info("Run history enabled")
	}

	// Create DLQ manager
	manager := dlq.NewManager(&dlq.Config{
		Logger:       appLogger.Logger,
		Bus:          rabbitClient,
		Store:        store,
		MaxScan:      cfg.DLQ.MaxScan,
		DefaultLimit: cfg.DLQ.DefaultLimit,
	})

	// Setup router
	r := dashboard.SetupRouter(&dashboard.Dependencies{
		Logger: appLogger.Logger,
		DLQ:    manager,
		Runs:   runs,
		Bus:    rabbitClient,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("DLQ dashboard is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		User:          cfg.User,
		Password:      cfg.Password,
		VHost:         cfg.VHost,
		JobsQueue:     cfg.Queues.Jobs,
		DLQQueue:      cfg.Queues.DLQ,
		ReplayQueue:   cfg.Queues.Replay,
		RetryAttempts: cfg.Connection.RetryAttempts,
		RetryInterval: cfg.Connection.RetryInterval,
		Heartbeat:     cfg.Connection.Heartbeat,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
