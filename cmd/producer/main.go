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
	"github.com/LaylAgnes/Hermes/internal/extractor"
	"github.com/LaylAgnes/Hermes/internal/metrics"
	"github.com/LaylAgnes/Hermes/internal/producer"
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
	defaultConfigPath := os.Getenv("PRODUCER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/producer/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	once := flag.Bool("once", false, "Run a single extraction pass and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateProducerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting producer service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.Int("sources", len(cfg.Producer.Sources)),
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

	// Initialize optional run history storage
	var history producer.History
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

		history, err = storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize run history: %w", err)
		}

		appLogger.Info("Run history storage enabled")
	}

	// Build the collector and source list
	collector := extractor.NewCollector(extractor.Options{
		RequestTimeout: cfg.Producer.RequestTimeout,
		MaxPerSource:   cfg.Producer.MaxJobsPerSource,
		Retries:        cfg.Producer.SourceRetries,
		RetryBaseDelay: cfg.Producer.RetryBaseDelay,
		ParserVersion:  cfg.Producer.ParserVersion,
	}, appLogger.Logger)

	sources := make([]extractor.Source, 0, len(cfg.Producer.Sources))
	for _, src := range cfg.Producer.Sources {
		sources = append(sources, extractor.Source{
			Name:       src.Name,
			Type:       src.Type,
			URL:        src.URL,
			BoardToken: src.BoardToken,
			Company:    src.Company,
		})
	}

	// Start the metrics listener
	producerMetrics := metrics.NewProducer()
	metricsSrv := metrics.Serve(cfg.Metrics.Port, producerMetrics, appLogger.Logger)

	// Create producer instance
	producerInstance := producer.New(&producer.Config{
		Logger:       appLogger.Logger,
		Bus:          rabbitClient,
		Store:        store,
		Metrics:      producerMetrics,
		Collector:    collector,
		Sources:      sources,
		PollInterval: cfg.Producer.PollInterval,
		History:      history,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batch := *once || cfg.Producer.RunMode == "batch"

	errChan := make(chan error, 1)
	go func() {
		if batch {
			errChan <- producerInstance.RunOnce(ctx)
			return
		}
		errChan <- producerInstance.Run(ctx)
	}()

	// Wait for interrupt signal or loop exit
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			producerMetrics.SetUnhealthy()
			appLogger.Error("Producer loop error",
				slog.Any("error", err),
			)
			return err
		}
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	appLogger.Info("Producer service shutdown complete")
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
