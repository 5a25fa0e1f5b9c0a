package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App         AppConfig         `yaml:"app"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Importer    ImporterConfig    `yaml:"importer"`
	Producer    ProducerConfig    `yaml:"producer"`
	Consumer    ConsumerConfig    `yaml:"consumer"`
	DLQ         DLQConfig         `yaml:"dlq"`
	Database    DatabaseConfig    `yaml:"database"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// ServerConfig holds HTTP server configuration for the dashboard service
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and queue topology configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Queues     QueuesConfig     `yaml:"queues"`
	Connection ConnectionConfig `yaml:"connection"`
}

// QueuesConfig names the three pipeline queues
type QueuesConfig struct {
	Jobs   string `yaml:"jobs"`
	DLQ    string `yaml:"dlq"`
	Replay string `yaml:"replay"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// IdempotencyConfig holds the Redis claim register settings
type IdempotencyConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
	Required  bool          `yaml:"required"`
}

// ImporterConfig holds the downstream import API settings
type ImporterConfig struct {
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// SourceConfig describes one job board to collect from
type SourceConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	URL        string `yaml:"url"`
	BoardToken string `yaml:"board_token"`
	Company    string `yaml:"company"`
}

// ProducerConfig holds producer loop settings
type ProducerConfig struct {
	RunMode          string         `yaml:"run_mode"` // batch, continuous
	PollInterval     time.Duration  `yaml:"poll_interval"`
	MaxJobsPerSource int            `yaml:"max_jobs_per_source"`
	RequestTimeout   time.Duration  `yaml:"request_timeout"`
	SourceRetries    int            `yaml:"source_retries"`
	RetryBaseDelay   time.Duration  `yaml:"retry_base_delay"`
	ParserVersion    string         `yaml:"parser_version"`
	Sources          []SourceConfig `yaml:"sources"`
}

// ConsumerConfig holds consumer loop settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// DLQConfig holds DLQ manager settings
type DLQConfig struct {
	MaxScan      int `yaml:"max_scan"`
	DefaultLimit int `yaml:"default_limit"`
}

// DatabaseConfig holds the optional run-history PostgreSQL settings
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// MetricsConfig holds the metrics listener settings; port 0 disables it
type MetricsConfig struct {
	Port int `yaml:"port"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.RabbitMQ.Queues.Jobs == "" {
		c.RabbitMQ.Queues.Jobs = "hermes.jobs"
	}
	if c.RabbitMQ.Queues.DLQ == "" {
		c.RabbitMQ.Queues.DLQ = "hermes.jobs.dlq"
	}
	if c.RabbitMQ.Queues.Replay == "" {
		c.RabbitMQ.Queues.Replay = "hermes.jobs.replay"
	}
	if c.RabbitMQ.Connection.RetryAttempts <= 0 {
		c.RabbitMQ.Connection.RetryAttempts = 3
	}
	if c.RabbitMQ.Connection.RetryInterval <= 0 {
		c.RabbitMQ.Connection.RetryInterval = 2 * time.Second
	}
	if c.Idempotency.KeyPrefix == "" {
		c.Idempotency.KeyPrefix = "hermes:idempotency"
	}
	if c.Idempotency.TTL <= 0 {
		c.Idempotency.TTL = 7 * 24 * time.Hour
	}
	if c.Consumer.PrefetchCount <= 0 {
		c.Consumer.PrefetchCount = 10
	}
	if c.DLQ.MaxScan <= 0 {
		c.DLQ.MaxScan = 500
	}
	if c.DLQ.DefaultLimit <= 0 {
		c.DLQ.DefaultLimit = 50
	}
	if c.Producer.MaxJobsPerSource <= 0 {
		c.Producer.MaxJobsPerSource = 30
	}
	if c.Producer.SourceRetries <= 0 {
		c.Producer.SourceRetries = 2
	}
	if c.Producer.RetryBaseDelay <= 0 {
		c.Producer.RetryBaseDelay = time.Second
	}
	if c.Producer.RequestTimeout <= 0 {
		c.Producer.RequestTimeout = 30 * time.Second
	}
	if c.Producer.PollInterval <= 0 {
		c.Producer.PollInterval = 15 * time.Minute
	}
	if c.Producer.ParserVersion == "" {
		c.Producer.ParserVersion = "v4"
	}
	if c.Importer.Timeout <= 0 {
		c.Importer.Timeout = 30 * time.Second
	}
	if c.Importer.MaxRetries <= 0 {
		c.Importer.MaxRetries = 3
	}
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	return nil
}

func (c *Config) validateIdempotency() error {
	if c.Idempotency.Required && c.Idempotency.Addr == "" {
		return fmt.Errorf("idempotency addr is required when idempotency is marked required")
	}

	return nil
}

// ValidateProducerConfig checks the settings the producer service needs
func (c *Config) ValidateProducerConfig() error {
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := c.validateIdempotency(); err != nil {
		return err
	}

	if len(c.Producer.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}

	for _, src := range c.Producer.Sources {
		if src.Name == "" {
			return fmt.Errorf("source name is required")
		}
		if src.Type == "" {
			return fmt.Errorf("source type is required for %q", src.Name)
		}
	}

	return nil
}

// ValidateConsumerConfig checks the settings the consumer service needs
func (c *Config) ValidateConsumerConfig() error {
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := c.validateIdempotency(); err != nil {
		return err
	}

	if c.Importer.URL == "" {
		return fmt.Errorf("importer url is required")
	}

	return nil
}

// ValidateDashboardConfig checks the settings the dlq-dashboard service needs
func (c *Config) ValidateDashboardConfig() error {
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	return nil
}
