package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, "hermes-producer", cfg.App.Name)
				assert.Equal(t, "localhost", cfg.RabbitMQ.Host)
				assert.Equal(t, 5672, cfg.RabbitMQ.Port)
				assert.Equal(t, "hermes.jobs", cfg.RabbitMQ.Queues.Jobs)
				assert.Equal(t, "hermes.jobs.dlq", cfg.RabbitMQ.Queues.DLQ)
				assert.Equal(t, "localhost:6379", cfg.Idempotency.Addr)
				assert.True(t, cfg.Idempotency.Required)
				assert.Equal(t, 168*time.Hour, cfg.Idempotency.TTL)
				assert.Equal(t, 10, cfg.Consumer.PrefetchCount)
				assert.Equal(t, 500, cfg.DLQ.MaxScan)
				assert.Len(t, cfg.Producer.Sources, 2)
				assert.Equal(t, "greenhouse", cfg.Producer.Sources[0].Type)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	// A config that omits most sections still gets pipeline defaults.
	cfg, err := Load("testdata/minimal_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "hermes.jobs", cfg.RabbitMQ.Queues.Jobs)
	assert.Equal(t, "hermes.jobs.dlq", cfg.RabbitMQ.Queues.DLQ)
	assert.Equal(t, "hermes.jobs.replay", cfg.RabbitMQ.Queues.Replay)
	assert.Equal(t, "hermes:idempotency", cfg.Idempotency.KeyPrefix)
	assert.Equal(t, 7*24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, 10, cfg.Consumer.PrefetchCount)
	assert.Equal(t, 500, cfg.DLQ.MaxScan)
	assert.Equal(t, 50, cfg.DLQ.DefaultLimit)
	assert.Equal(t, 3, cfg.Importer.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Importer.Timeout)
	assert.Equal(t, 30, cfg.Producer.MaxJobsPerSource)
	assert.Equal(t, 2, cfg.Producer.SourceRetries)
	assert.Equal(t, time.Second, cfg.Producer.RetryBaseDelay)
	assert.Equal(t, "v4", cfg.Producer.ParserVersion)
}

func validBase() *Config {
	return &Config{
		Server: ServerConfig{Port: 8091},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Queues: QueuesConfig{
				Jobs:   "hermes.jobs",
				DLQ:    "hermes.jobs.dlq",
				Replay: "hermes.jobs.replay",
			},
		},
		Idempotency: IdempotencyConfig{Addr: "localhost:6379", Required: true},
		Importer:    ImporterConfig{URL: "http://localhost:8080/api/jobs/import"},
		Producer: ProducerConfig{
			Sources: []SourceConfig{
				{Name: "acme-lever", Type: "lever", Company: "acme"},
			},
		},
		Consumer: ConsumerConfig{PrefetchCount: 10},
	}
}

func TestValidateProducerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "missing rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "invalid rabbitmq port",
			mutate:    func(c *Config) { c.RabbitMQ.Port = 0 },
			wantErr:   true,
			errString: "invalid rabbitmq port",
		},
		{
			name:      "no sources",
			mutate:    func(c *Config) { c.Producer.Sources = nil },
			wantErr:   true,
			errString: "at least one source is required",
		},
		{
			name:      "source without type",
			mutate:    func(c *Config) { c.Producer.Sources[0].Type = "" },
			wantErr:   true,
			errString: "source type is required",
		},
		{
			name:      "required idempotency without addr",
			mutate:    func(c *Config) { c.Idempotency.Addr = "" },
			wantErr:   true,
			errString: "idempotency addr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			tt.mutate(cfg)

			err := cfg.ValidateProducerConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateConsumerConfig(t *testing.T) {
	cfg := validBase()
	require.NoError(t, cfg.ValidateConsumerConfig())

	cfg.Importer.URL = ""
	err := cfg.ValidateConsumerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "importer url is required")
}

func TestValidateDashboardConfig(t *testing.T) {
	cfg := validBase()
	require.NoError(t, cfg.ValidateDashboardConfig())

	cfg.Server.Port = 70000
	err := cfg.ValidateDashboardConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")

	cfg = validBase()
	cfg.Database.Enabled = true
	err = cfg.ValidateDashboardConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database host is required")
}
