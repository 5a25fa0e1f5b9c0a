package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/LaylAgnes/Hermes/internal/config"
	"github.com/LaylAgnes/Hermes/internal/consumer"
	"github.com/LaylAgnes/Hermes/internal/metrics"
	"github.com/LaylAgnes/Hermes/shared/idempotency"
	"github.com/LaylAgnes/Hermes/shared/logger"
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
	defaultConfigPath := os.Getenv("CONSUMER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/consumer/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateConsumerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting consumer service",
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

	// Initialize idempotency store
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

	// Initialize the import API client
	importer := consumer.NewImporter(&consumer.ImporterConfig{
		URL:     cfg.Importer.URL,
		Timeout: cfg.Importer.Timeout,
	}, appLogger.Logger)

	// Start the metrics listener
	consumerMetrics := metrics.NewConsumer()
	metricsSrv := metrics.Serve(cfg.Metrics.Port, consumerMetrics, appLogger.Logger)

	// Create consumer instance
	consumerInstance := consumer.New(&consumer.Config{
		Logger:        appLogger.Logger,
		Bus:           rabbitClient,
		Store:         store,
		Importer:      importer,
		Metrics:       consumerMetrics,
		MaxRetries:    cfg.Importer.MaxRetries,
		PrefetchCount: cfg.Consumer.PrefetchCount,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumerInstance.Start(ctx, consumerTag(cfg)); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	appLogger.Info("Consumer service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	// Cancel context to stop workers
	cancel()

	// Give workers time to finish in-flight deliveries
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		consumerInstance.Wait()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Consumer stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Consumer shutdown timeout exceeded, forcing exit")
	}

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	appLogger.Info("Consumer service shutdown complete")
	return nil
}

func consumerTag(cfg *config.Config) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-consumer-%s", cfg.App.Name, host)
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
