package metrics

import (
	"sync"
	"time"
)

// Producer aggregates the producer loop counters.
type Producer struct {
	mu sync.Mutex

	runs           int64
	collected      int64
	published      int64
	dropped        int64
	duplicates     int64
	sourceFailures int64

	collectedBySource map[string]int64
	publishedBySource map[string]int64
	failuresByName    map[string]int64

	health          Health
	lastRunAt       time.Time
	lastRunDuration time.Duration
}

// ProducerSnapshot is the structured read-only view of the counters.
type ProducerSnapshot struct {
	Runs              int64            `json:"runs"`
	Collected         int64            `json:"collected"`
	Published         int64            `json:"published"`
	Dropped           int64            `json:"dropped"`
	Duplicates        int64            `json:"duplicates"`
	SourceFailures    int64            `json:"sourceFailures"`
	CollectedBySource map[string]int64 `json:"collectedBySource"`
	PublishedBySource map[string]int64 `json:"publishedBySource"`
	FailuresBySource  map[string]int64 `json:"failuresBySource"`
	Health            Health           `json:"health"`
	LastRunAt         string           `json:"lastRunAt,omitempty"`
	LastRunDurationMS int64            `json:"lastRunDurationMs"`
}

// NewProducer creates a producer aggregator in the starting state.
func NewProducer() *Producer {
	return &Producer{
		collectedBySource: make(map[string]int64),
		publishedBySource: make(map[string]int64),
		failuresByName:    make(map[string]int64),
		health:            HealthStarting,
	}
}

// RunStarted records the beginning of an extraction run.
func (p *Producer) RunStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs++
	p.lastRunAt = time.Now()
}

// RunFinished derives the run health: degraded iff any source failed during
// the run, healthy otherwise.
func (p *Producer) RunFinished(duration time.Duration, sourcesFailed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRunDuration = duration
	if sourcesFailed {
		p.health = HealthDegraded
	} else {
		p.health = HealthHealthy
	}
}

// SetUnhealthy flips the gauge on a fatal loop error.
func (p *Producer) SetUnhealthy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health = HealthUnhealthy
}

// AddCollected counts jobs yielded by one source extraction.
func (p *Producer) AddCollected(sourceKey string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collected += int64(n)
	incMap(p.collectedBySource, sourceKey, int64(n))
}

// IncPublished counts a job accepted onto the bus.
func (p *Producer) IncPublished(sourceKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published++
	incMap(p.publishedBySource, sourceKey, 1)
}

// IncDropped counts a job rejected by validation.
func (p *Producer) IncDropped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped++
}

// IncDuplicate counts a denied producer-scope claim.
func (p *Producer) IncDuplicate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duplicates++
}

// IncSourceFailure counts a failed source extraction.
func (p *Producer) IncSourceFailure(sourceName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceFailures++
	incMap(p.failuresByName, sourceName, 1)
}

// Health returns the current health gauge.
func (p *Producer) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

// Snapshot returns a copy of all counters.
func (p *Producer) Snapshot() ProducerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProducerSnapshot{
		Runs:              p.runs,
		Collected:         p.collected,
		Published:         p.published,
		Dropped:           p.dropped,
		Duplicates:        p.duplicates,
		SourceFailures:    p.sourceFailures,
		CollectedBySource: copyMap(p.collectedBySource),
		PublishedBySource: copyMap(p.publishedBySource),
		FailuresBySource:  copyMap(p.failuresByName),
		Health:            p.health,
		LastRunAt:         formatTime(p.lastRunAt),
		LastRunDurationMS: p.lastRunDuration.Milliseconds(),
	}
}

// SnapshotJSON implements Exposer.
func (p *Producer) SnapshotJSON() any {
	return p.Snapshot()
}

// PrometheusText renders the line-oriented exposition format.
func (p *Producer) PrometheusText() string {
	s := p.Snapshot()

	var b promBuilder
	b.counter("hermes_producer_runs_total", s.Runs)
	b.counter("hermes_producer_jobs_collected_total", s.Collected)
	b.counter("hermes_producer_jobs_published_total", s.Published)
	b.counter("hermes_producer_jobs_dropped_total", s.Dropped)
	b.counter("hermes_producer_duplicates_total", s.Duplicates)
	b.counter("hermes_producer_source_failures_total", s.SourceFailures)
	b.gauge("hermes_producer_up", upValue(s.Health))
	b.bySource("hermes_producer_collected_by_source_total", s.CollectedBySource, true)
	b.bySource("hermes_producer_published_by_source_total", s.PublishedBySource, true)
	b.bySource("hermes_producer_source_failures_by_source_total", s.FailuresBySource, false)

	return b.String()
}
