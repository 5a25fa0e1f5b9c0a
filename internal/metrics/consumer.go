package metrics

import "sync"

// Consumer aggregates the consumer loop counters.
type Consumer struct {
	mu sync.Mutex

	received         int64
	imported         int64
	retried          int64
	deadLettered     int64
	duplicates       int64
	invalid          int64
	processingErrors int64

	receivedBySource map[string]int64
	importedBySource map[string]int64
	retriedBySource  map[string]int64
	dlqBySource      map[string]int64

	health Health
}

// ConsumerSnapshot is the structured read-only view of the counters.
type ConsumerSnapshot struct {
	Received         int64            `json:"received"`
	Imported         int64            `json:"imported"`
	Retried          int64            `json:"retried"`
	DeadLettered     int64            `json:"sentToDlq"`
	Duplicates       int64            `json:"duplicates"`
	Invalid          int64            `json:"invalid"`
	ProcessingErrors int64            `json:"processingErrors"`
	ReceivedBySource map[string]int64 `json:"receivedBySource"`
	ImportedBySource map[string]int64 `json:"importedBySource"`
	RetriedBySource  map[string]int64 `json:"retriedBySource"`
	DLQBySource      map[string]int64 `json:"dlqBySource"`
	Health           Health           `json:"health"`
}

// NewConsumer creates a consumer aggregator in the starting state.
func NewConsumer() *Consumer {
	return &Consumer{
		receivedBySource: make(map[string]int64),
		importedBySource: make(map[string]int64),
		retriedBySource:  make(map[string]int64),
		dlqBySource:      make(map[string]int64),
		health:           HealthStarting,
	}
}

// MarkHealthy flips the gauge once the loop is consuming.
func (c *Consumer) MarkHealthy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.health == HealthStarting {
		c.health = HealthHealthy
	}
}

// IncReceived counts a delivered message.
func (c *Consumer) IncReceived(sourceKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received++
	incMap(c.receivedBySource, sourceKey, 1)
}

// IncImported counts a job accepted by the import API.
func (c *Consumer) IncImported(sourceKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.imported++
	incMap(c.importedBySource, sourceKey, 1)
}

// IncRetried counts a republish with an incremented retry counter.
func (c *Consumer) IncRetried(sourceKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retried++
	incMap(c.retriedBySource, sourceKey, 1)
}

// IncDeadLettered counts a job routed to the DLQ.
func (c *Consumer) IncDeadLettered(sourceKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadLettered++
	incMap(c.dlqBySource, sourceKey, 1)
}

// IncDuplicate counts a denied consumer-scope claim.
func (c *Consumer) IncDuplicate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duplicates++
}

// IncInvalid counts a malformed or identity-less message.
func (c *Consumer) IncInvalid() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalid++
}

// IncProcessingError counts an unexpected handler error and degrades health.
func (c *Consumer) IncProcessingError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processingErrors++
	c.health = HealthDegraded
}

// Health returns the current health gauge.
func (c *Consumer) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// Snapshot returns a copy of all counters.
func (c *Consumer) Snapshot() ConsumerSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ConsumerSnapshot{
		Received:         c.received,
		Imported:         c.imported,
		Retried:          c.retried,
		DeadLettered:     c.deadLettered,
		Duplicates:       c.duplicates,
		Invalid:          c.invalid,
		ProcessingErrors: c.processingErrors,
		ReceivedBySource: copyMap(c.receivedBySource),
		ImportedBySource: copyMap(c.importedBySource),
		RetriedBySource:  copyMap(c.retriedBySource),
		DLQBySource:      copyMap(c.dlqBySource),
		Health:           c.health,
	}
}

// SnapshotJSON implements Exposer.
func (c *Consumer) SnapshotJSON() any {
	return c.Snapshot()
}

// PrometheusText renders the line-oriented exposition format.
func (c *Consumer) PrometheusText() string {
	s := c.Snapshot()

	var b promBuilder
	b.counter("hermes_consumer_received_total", s.Received)
	b.counter("hermes_consumer_imported_total", s.Imported)
	b.counter("hermes_consumer_retried_total", s.Retried)
	b.counter("hermes_consumer_dlq_total", s.DeadLettered)
	b.counter("hermes_consumer_duplicates_total", s.Duplicates)
	b.counter("hermes_consumer_invalid_total", s.Invalid)
	b.counter("hermes_consumer_processing_errors_total", s.ProcessingErrors)
	b.gauge("hermes_consumer_up", upValue(s.Health))
	b.bySource("hermes_consumer_received_by_source_total", s.ReceivedBySource, true)
	b.bySource("hermes_consumer_imported_by_source_total", s.ImportedBySource, true)
	b.bySource("hermes_consumer_retried_by_source_total", s.RetriedBySource, true)
	b.bySource("hermes_consumer_dlq_by_source_total", s.DLQBySource, true)

	return b.String()
}
