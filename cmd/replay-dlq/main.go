package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/LaylAgnes/Hermes/internal/config"
	"github.com/LaylAgnes/Hermes/internal/dlq"
	"github.com/LaylAgnes/Hermes/shared/idempotency"
	"github.com/LaylAgnes/Hermes/shared/logger"
	"github.com/LaylAgnes/Hermes/shared/rabbitmq"
)

// replay-dlq is the one-shot operational tool: scan or replay dead-letter
// entries from a terminal without running the dashboard.
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
	defaultConfigPath := os.Getenv("REPLAY_DLQ_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/dlq-dashboard/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	source := flag.String("source", "", "Replay only entries from this source (exact match)")
	errorContains := flag.String("error-contains", "", "Replay only entries whose reason contains this text")
	fromISO := flag.String("from", "", "Replay only entries dead-lettered at or after this RFC3339 time")
	toISO := flag.String("to", "", "Replay only entries dead-lettered at or before this RFC3339 time")
	limit := flag.Int("limit", 0, "Maximum entries to replay (0 uses the configured default)")
	dryRun := flag.Bool("dry-run", false, "Scan and report matches without replaying")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateDashboardConfig(); err != nil {
		// The CLI does not serve HTTP; only the bus settings matter here.
		if rerr := validateBusOnly(cfg); rerr != nil {
			return fmt.Errorf("invalid config: %w", rerr)
		}
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize RabbitMQ client
	rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:          cfg.RabbitMQ.Host,
		Port:          cfg.RabbitMQ.Port,
		User:          cfg.RabbitMQ.User,
		Password:      cfg.RabbitMQ.Password,
		VHost:         cfg.RabbitMQ.VHost,
		JobsQueue:     cfg.RabbitMQ.Queues.Jobs,
		DLQQueue:      cfg.RabbitMQ.Queues.DLQ,
		ReplayQueue:   cfg.RabbitMQ.Queues.Replay,
		RetryAttempts: cfg.RabbitMQ.Connection.RetryAttempts,
		RetryInterval: cfg.RabbitMQ.Connection.RetryInterval,
		Heartbeat:     cfg.RabbitMQ.Connection.Heartbeat,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

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

	manager := dlq.NewManager(&dlq.Config{
		Logger:       appLogger.Logger,
		Bus:          rabbitClient,
		Store:        store,
		MaxScan:      cfg.DLQ.MaxScan,
		DefaultLimit: cfg.DLQ.DefaultLimit,
	})

	filter := dlq.Filter{
		Source:        *source,
		ErrorContains: *errorContains,
		FromISO:       *fromISO,
		ToISO:         *toISO,
	}

	ctx := context.Background()

	if *dryRun {
		result, err := manager.Scan(ctx, filter, *limit)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		fmt.Printf("Queue depth %d, scanned %d, %d match the filter\n", result.Total, result.Scanned, result.Matched)
		for _, entry := range result.Items {
			fmt.Printf("  %-20s retries=%-2d at=%-25s %s\n",
				entry.Payload.SourceName, entry.RetryCount, entry.At, entry.Reason)
		}
		return nil
	}

	result, err := manager.Replay(ctx, filter, *limit)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	fmt.Printf("Replayed %d of %d scanned entries\n", result.Replayed, result.Scanned)
	return nil
}

func validateBusOnly(cfg *config.Config) error {
	if cfg.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if cfg.RabbitMQ.Port <= 0 {
		return fmt.Errorf("rabbitmq port is required")
	}
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
