package producer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LaylAgnes/Hermes/internal/extractor"
	"github.com/LaylAgnes/Hermes/internal/metrics"
	"github.com/LaylAgnes/Hermes/internal/pipeline"
	"github.com/LaylAgnes/Hermes/internal/producer/storage"
	"github.com/LaylAgnes/Hermes/shared/idempotency"
)

// ClaimScope partitions producer claims from consumer and replay claims.
const ClaimScope = "producer"

// Publisher is the slice of the bus gateway the producer needs.
type Publisher interface {
	PublishJob(ctx context.Context, job pipeline.Job) error
}

// Collector yields raw jobs for one source.
type Collector interface {
	Collect(ctx context.Context, source extractor.Source) ([]pipeline.Job, error)
}

// History records finished runs. Optional; nil disables run history.
type History interface {
	RecordRun(ctx context.Context, run storage.RunRecord) error
}

// Config holds producer loop dependencies and settings
type Config struct {
	Logger       *slog.Logger
	Bus          Publisher
	Store        idempotency.Store
	Metrics      *metrics.Producer
	Collector    Collector
	Sources      []extractor.Source
	PollInterval time.Duration
	History      History
}

// Producer runs extraction over all configured sources and publishes accepted
// jobs to the bus. One source's failure never blocks the others.
type Producer struct {
	logger       *slog.Logger
	bus          Publisher
	store        idempotency.Store
	metrics      *metrics.Producer
	collector    Collector
	sources      []extractor.Source
	pollInterval time.Duration
	history      History
}

// New creates a producer loop.
func New(cfg *Config) *Producer {
	return &Producer{
		logger:       cfg.Logger,
		bus:          cfg.Bus,
		store:        cfg.Store,
		metrics:      cfg.Metrics,
		collector:    cfg.Collector,
		sources:      cfg.Sources,
		pollInterval: cfg.PollInterval,
		history:      cfg.History,
	}
}

// RunOnce performs a single extraction pass over every source.
func (p *Producer) RunOnce(ctx context.Context) error {
	start := time.Now()
	p.metrics.RunStarted()

	run := storage.RunRecord{
		RunID:     uuid.New().String(),
		StartedAt: start,
	}

	sourcesFailed := false

	for _, source := range p.sources {
		stat := p.runSource(ctx, source)
		run.Sources = append(run.Sources, stat)

		if stat.Failed {
			sourcesFailed = true
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	p.metrics.RunFinished(time.Since(start), sourcesFailed)

	run.FinishedAt = time.Now()
	run.Health = string(p.metrics.Health())

	if p.history != nil {
		if err := p.history.RecordRun(ctx, run); err != nil {
			p.logger.Warn("Failed to record run history",
				slog.String("run_id", run.RunID),
				slog.Any("error", err),
			)
		}
	}

	p.logger.Info("Extraction run finished",
		slog.String("run_id", run.RunID),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("sources_failed", sourcesFailed),
	)

	return nil
}

// runSource collects, claims, validates and publishes the jobs of a single
// source. Failures are contained here.
func (p *Producer) runSource(ctx context.Context, source extractor.Source) storage.SourceStat {
	stat := storage.SourceStat{
		SourceName: source.Name,
		SourceType: source.Type,
	}

	p.logger.Info("Collecting source",
		slog.String("source", source.Name),
		slog.String("type", source.Type),
	)

	jobs, err := p.collector.Collect(ctx, source)
	if err != nil {
		p.metrics.IncSourceFailure(source.Name)
		stat.Failed = true
		stat.LastError = err.Error()

		p.logger.Error("Source extraction failed",
			slog.String("source", source.Name),
			slog.Any("error", err),
		)
		return stat
	}

	stat.Collected = len(jobs)
	if len(jobs) > 0 {
		p.metrics.AddCollected(jobs[0].SourceKey(), len(jobs))
	}

	for _, job := range jobs {
		claimed, err := p.store.Claim(ctx, ClaimScope, job.Identity())
		if err != nil {
			p.logger.Error("Idempotency claim failed",
				slog.String("source", source.Name),
				slog.String("identity", job.Identity()),
				slog.Any("error", err),
			)
			continue
		}
		if !claimed {
			p.metrics.IncDuplicate()
			p.logger.Debug("Job already claimed, skipping",
				slog.String("identity", job.Identity()),
			)
			continue
		}

		cleaned, errs := pipeline.ValidateJob(job)
		if len(errs) > 0 {
			p.metrics.IncDropped()
			p.logger.Warn("Job failed validation",
				slog.String("source", source.Name),
				slog.String("url", job.URL),
				slog.Int("error_count", len(errs)),
				slog.Any("first_error", errs[0]),
			)
			continue
		}

		if err := p.bus.PublishJob(ctx, cleaned); err != nil {
			p.metrics.IncSourceFailure(source.Name)
			stat.Failed = true
			stat.LastError = err.Error()

			p.logger.Error("Failed to publish job",
				slog.String("source", source.Name),
				slog.String("identity", cleaned.Identity()),
				slog.Any("error", err),
			)
			continue
		}

		stat.Published++
		p.metrics.IncPublished(cleaned.SourceKey())
	}

	p.logger.Info("Source collected",
		slog.String("source", source.Name),
		slog.Int("collected", stat.Collected),
		slog.Int("published", stat.Published),
	)

	return stat
}

// Run executes extraction passes on the poll interval until the context is
// canceled. A single pass is the batch mode entrypoint.
func (p *Producer) Run(ctx context.Context) error {
	for {
		if err := p.RunOnce(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}
