package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/LaylAgnes/Hermes/internal/pipeline"
)

// ContentTypeJSON marks every pipeline message body.
const ContentTypeJSON = "application/json"

// Config holds RabbitMQ connection and topology configuration
type Config struct {
	Host          string
	Port          int
	User          string
	Password      string
	VHost         string
	JobsQueue     string
	DLQQueue      string
	ReplayQueue   string
	RetryAttempts int
	RetryInterval time.Duration
	Heartbeat     time.Duration
}

// Client owns one RabbitMQ connection and channel. The channel is not safe
// for concurrent publishers; each loop owns its own Client.
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	closeChan   chan *amqp.Error
	isConnected bool
}

// NewClient dials RabbitMQ with bounded retries and declares the pipeline
// topology: jobs queue, DLQ and replay queue, all durable.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

func (c *Client) connect() error {
	var err error

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	for attempt := 1; attempt <= c.config.RetryAttempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.config.RetryAttempts),
		)

		c.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < c.config.RetryAttempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", c.config.RetryAttempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to declare queues: %w", err)
	}

	c.closeChan = make(chan *amqp.Error)
	c.channel.NotifyClose(c.closeChan)
	c.isConnected = true

	c.logger.Info("RabbitMQ client initialized",
		slog.String("jobs_queue", c.config.JobsQueue),
		slog.String("dlq_queue", c.config.DLQQueue),
		slog.String("replay_queue", c.config.ReplayQueue),
	)

	return nil
}

// setup declares the three durable pipeline queues. The jobs queue carries no
// broker dead-letter arguments: dead-lettering is always an explicit publish
// to the DLQ, so there is a single write path into it.
func (c *Client) setup() error {
	for _, name := range []string{c.config.DLQQueue, c.config.ReplayQueue, c.config.JobsQueue} {
		_, err := c.channel.QueueDeclare(
			name,  // name
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", name, err)
		}
	}

	return nil
}

// PublishJob sends a persistent job message to the jobs queue. The message id
// is the job's logical identity and headers carry source and retry metadata.
func (c *Client) PublishJob(ctx context.Context, job pipeline.Job) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	headers := amqp.Table{
		"sourceName": job.SourceName,
		"sourceType": job.SourceType,
		"retryCount": int32(job.RetryCount),
	}
	if job.Traceparent != "" {
		headers["traceparent"] = job.Traceparent
	}
	if job.Tracestate != "" {
		headers["tracestate"] = job.Tracestate
	}

	err = c.channel.PublishWithContext(
		ctx,
		"",                 // exchange (default)
		c.config.JobsQueue, // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  ContentTypeJSON,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    job.Identity(),
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)
	if err != nil {
		c.logger.Error("Failed to publish job",
			slog.Any("error", err),
			slog.String("identity", job.Identity()),
		)
		return fmt.Errorf("failed to publish job: %w", err)
	}

	c.logger.Debug("Job published",
		slog.String("identity", job.Identity()),
		slog.Int("retry_count", job.RetryCount),
	)

	return nil
}

// PublishDLQ wraps the payload in a dead-letter entry and sends it,
// persistent, to the DLQ.
func (c *Client) PublishDLQ(ctx context.Context, payload pipeline.Job, reason string, retryCount int) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	entry := pipeline.DLQEntry{
		Payload:    payload,
		Reason:     reason,
		RetryCount: retryCount,
		At:         time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq entry: %w", err)
	}

	sourceName := payload.SourceName
	if sourceName == "" {
		sourceName = "unknown"
	}

	err = c.channel.PublishWithContext(
		ctx,
		"",
		c.config.DLQQueue,
		false,
		false,
		amqp.Publishing{
			ContentType:  ContentTypeJSON,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers: amqp.Table{
				"reason":     reason,
				"retryCount": int32(retryCount),
				"sourceName": sourceName,
			},
		},
	)
	if err != nil {
		c.logger.Error("Failed to publish dlq entry",
			slog.Any("error", err),
			slog.String("reason", reason),
		)
		return fmt.Errorf("failed to publish dlq entry: %w", err)
	}

	c.logger.Info("Job dead-lettered",
		slog.String("url", payload.URL),
		slog.String("reason", reason),
		slog.Int("retry_count", retryCount),
	)

	return nil
}

// PublishRaw re-sends a previously fetched message verbatim to a queue,
// preserving body and properties. Used by the DLQ scan restore phase.
func (c *Client) PublishRaw(ctx context.Context, queue string, d amqp.Delivery) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	err := c.channel.PublishWithContext(
		ctx,
		"",
		queue,
		false,
		false,
		amqp.Publishing{
			ContentType:     d.ContentType,
			ContentEncoding: d.ContentEncoding,
			DeliveryMode:    d.DeliveryMode,
			Priority:        d.Priority,
			CorrelationId:   d.CorrelationId,
			ReplyTo:         d.ReplyTo,
			Expiration:      d.Expiration,
			MessageId:       d.MessageId,
			Timestamp:       d.Timestamp,
			Type:            d.Type,
			AppId:           d.AppId,
			Headers:         d.Headers,
			Body:            d.Body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to republish message: %w", err)
	}

	return nil
}

// Get fetches a single message with manual acknowledgment. ok is false when
// the queue is empty.
func (c *Client) Get(queue string) (amqp.Delivery, bool, error) {
	if !c.isConnected {
		return amqp.Delivery{}, false, fmt.Errorf("not connected to RabbitMQ")
	}

	d, ok, err := c.channel.Get(queue, false)
	if err != nil {
		return amqp.Delivery{}, false, fmt.Errorf("failed to get message from %q: %w", queue, err)
	}

	return d, ok, nil
}

// Depth returns the current message count of a queue via passive declare.
func (c *Client) Depth(queue string) (int, error) {
	if !c.isConnected {
		return 0, fmt.Errorf("not connected to RabbitMQ")
	}

	q, err := c.channel.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue %q: %w", queue, err)
	}

	return q.Messages, nil
}

// Qos bounds the number of unacknowledged messages delivered to this channel.
func (c *Client) Qos(prefetchCount int) error {
	if err := c.channel.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	c.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", prefetchCount),
	)

	return nil
}

// Consume starts delivering messages from the jobs queue with manual acks.
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.isConnected {
		return nil, fmt.Errorf("not connected to RabbitMQ")
	}

	deliveries, err := c.channel.Consume(
		c.config.JobsQueue, // queue
		consumerTag,        // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages",
		slog.String("queue", c.config.JobsQueue),
		slog.String("consumer_tag", consumerTag),
	)

	return deliveries, nil
}

// Purge drains a queue. Used by operational tooling and integration tests.
func (c *Client) Purge(queue string) (int, error) {
	n, err := c.channel.QueuePurge(queue, false)
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue %q: %w", queue, err)
	}
	return n, nil
}

// JobsQueue returns the configured jobs queue name.
func (c *Client) JobsQueue() string { return c.config.JobsQueue }

// DLQQueue returns the configured dead-letter queue name.
func (c *Client) DLQQueue() string { return c.config.DLQQueue }

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}

// Close closes the RabbitMQ channel and connection.
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.isConnected = false

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	return nil
}
