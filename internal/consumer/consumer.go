package consumer

import (
	"context"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/LaylAgnes/Hermes/internal/metrics"
	"github.com/LaylAgnes/Hermes/internal/pipeline"
	"github.com/LaylAgnes/Hermes/shared/idempotency"
	"github.com/LaylAgnes/Hermes/shared/rabbitmq"
)

// ClaimScope partitions consumer claims from producer claims.
const ClaimScope = "consumer"

// Bus is the slice of the bus gateway the consumer needs.
type Bus interface {
	PublishJob(ctx context.Context, job pipeline.Job) error
	PublishDLQ(ctx context.Context, payload pipeline.Job, reason string, retryCount int) error
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// JobImporter delivers one job downstream.
type JobImporter interface {
	Import(ctx context.Context, job pipeline.Job) error
}

// Config holds consumer loop dependencies and settings
type Config struct {
	Logger        *slog.Logger
	Bus           Bus
	Store         idempotency.Store
	Importer      JobImporter
	Metrics       *metrics.Consumer
	MaxRetries    int
	PrefetchCount int
	WorkerCount   int
}

// Consumer pulls jobs off the queue with bounded concurrency and drives each
// one to exactly one terminal outcome: imported, retried, dead-lettered or
// dropped as duplicate/invalid. Every delivery is acknowledged.
type Consumer struct {
	logger        *slog.Logger
	bus           Bus
	store         idempotency.Store
	importer      JobImporter
	metrics       *metrics.Consumer
	maxRetries    int
	prefetchCount int
	workerCount   int

	wg sync.WaitGroup
}

// New creates a consumer loop.
func New(cfg *Config) *Consumer {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = cfg.PrefetchCount
	}
	if workers <= 0 {
		workers = 1
	}

	return &Consumer{
		logger:        cfg.Logger,
		bus:           cfg.Bus,
		store:         cfg.Store,
		importer:      cfg.Importer,
		metrics:       cfg.Metrics,
		maxRetries:    cfg.MaxRetries,
		prefetchCount: cfg.PrefetchCount,
		workerCount:   workers,
	}
}

// Start configures channel QoS, begins consuming and launches the worker
// pool. The prefetch window is the concurrency bound: the broker never hands
// this channel more unacknowledged messages than the window allows.
func (c *Consumer) Start(ctx context.Context, consumerTag string) error {
	if err := c.bus.Qos(c.prefetchCount); err != nil {
		return err
	}

	deliveries, err := c.bus.Consume(consumerTag)
	if err != nil {
		return err
	}

	for i := 0; i < c.workerCount; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, deliveries)
	}

	c.metrics.MarkHealthy()

	c.logger.Info("Consumer started",
		slog.String("consumer_tag", consumerTag),
		slog.Int("workers", c.workerCount),
		slog.Int("prefetch_count", c.prefetchCount),
	)

	return nil
}

// Wait blocks until every worker has drained and exited.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) worker(ctx context.Context, id int, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()

	c.logger.Debug("Worker started", slog.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Worker stopping", slog.Int("worker_id", id))
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Debug("Delivery channel closed", slog.Int("worker_id", id))
				return
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery drives one message to its terminal outcome. Failures of any
// kind, expected or not, run through the same retry-counter-bounded path so a
// poison message can never cycle forever.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	job, err := rabbitmq.ParseJob(d.Body)
	if err != nil {
		c.metrics.IncInvalid()
		c.logger.Warn("Malformed message",
			slog.String("message_id", d.MessageId),
			slog.Any("error", err),
		)
		c.deadLetter(ctx, d, pipeline.Job{}, "malformed message: "+err.Error(), 0)
		return
	}

	retryCount := rabbitmq.RetryCountFromHeaders(d.Headers)
	if job.RetryCount > retryCount {
		retryCount = job.RetryCount
	}

	c.metrics.IncReceived(job.SourceKey())

	cleaned, verrs := pipeline.ValidateJob(job)
	if len(verrs) > 0 {
		c.metrics.IncInvalid()
		c.logger.Warn("Invalid job",
			slog.String("url", job.URL),
			slog.Any("error", verrs[0]),
		)
		c.deadLetter(ctx, d, job, "validation failed: "+verrs[0].Error(), retryCount)
		return
	}

	claimed, err := c.store.Claim(ctx, ClaimScope, cleaned.Identity())
	if err != nil {
		c.logger.Error("Idempotency claim failed",
			slog.String("identity", cleaned.Identity()),
			slog.Any("error", err),
		)
		c.metrics.IncProcessingError()
		c.retryOrDeadLetter(ctx, d, cleaned, retryCount, "claim failed: "+err.Error())
		return
	}
	if !claimed {
		c.metrics.IncDuplicate()
		c.logger.Debug("Duplicate job dropped",
			slog.String("identity", cleaned.Identity()),
		)
		c.ack(d)
		return
	}

	if err := c.importer.Import(ctx, cleaned); err != nil {
		if !pipeline.IsTransient(err) {
			c.metrics.IncProcessingError()
		}

		// The claim must not outlive a failed import, or the retry and
		// any later replay would be dropped as duplicates.
		if rerr := c.store.Release(ctx, ClaimScope, cleaned.Identity()); rerr != nil {
			c.logger.Error("Failed to release claim",
				slog.String("identity", cleaned.Identity()),
				slog.Any("error", rerr),
			)
		}

		c.logger.Warn("Import failed",
			slog.String("identity", cleaned.Identity()),
			slog.Int("retry_count", retryCount),
			slog.Any("error", err),
		)
		c.retryOrDeadLetter(ctx, d, cleaned, retryCount, err.Error())
		return
	}

	c.metrics.IncImported(cleaned.SourceKey())
	c.logger.Info("Job imported",
		slog.String("identity", cleaned.Identity()),
		slog.String("source", cleaned.SourceName),
	)
	c.ack(d)
}

// retryOrDeadLetter republishes with an incremented retry counter while the
// budget lasts, then routes to the DLQ.
func (c *Consumer) retryOrDeadLetter(ctx context.Context, d amqp.Delivery, job pipeline.Job, retryCount int, reason string) {
	if retryCount >= c.maxRetries {
		c.deadLetter(ctx, d, job, reason, retryCount)
		return
	}

	retry := job
	retry.RetryCount = retryCount + 1

	if err := c.bus.PublishJob(ctx, retry); err != nil {
		c.logger.Error("Failed to republish for retry, requeueing delivery",
			slog.String("identity", job.Identity()),
			slog.Any("error", err),
		)
		c.metrics.IncProcessingError()
		c.nack(d)
		return
	}

	c.metrics.IncRetried(job.SourceKey())
	c.logger.Info("Job scheduled for retry",
		slog.String("identity", job.Identity()),
		slog.Int("retry_count", retry.RetryCount),
	)
	c.ack(d)
}

// deadLetter publishes the DLQ entry and acknowledges the original delivery
// only once the entry is safely queued.
func (c *Consumer) deadLetter(ctx context.Context, d amqp.Delivery, job pipeline.Job, reason string, retryCount int) {
	if err := c.bus.PublishDLQ(ctx, job, reason, retryCount); err != nil {
		c.logger.Error("Failed to publish dead-letter entry, requeueing delivery",
			slog.String("identity", job.Identity()),
			slog.Any("error", err),
		)
		c.metrics.IncProcessingError()
		c.nack(d)
		return
	}

	c.metrics.IncDeadLettered(job.SourceKey())
	c.ack(d)
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Error("Failed to ack delivery",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.Any("error", err),
		)
	}
}

func (c *Consumer) nack(d amqp.Delivery) {
	if err := d.Nack(false, true); err != nil {
		c.logger.Error("Failed to nack delivery",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.Any("error", err),
		)
	}
}
