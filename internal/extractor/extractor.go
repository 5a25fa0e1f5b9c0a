// Package extractor collects raw job postings from external boards. Each
// source type has its own extractor; the producer loop only sees the
// Collector. Browser-driven boards (gupy, workday) are handled by a separate
// scraping engine and are not registered here.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/LaylAgnes/Hermes/internal/pipeline"
)

// Source describes one job board to collect from.
type Source struct {
	Name       string
	Type       string
	URL        string
	BoardToken string
	Company    string
}

// Extractor fetches raw jobs (url, title, location, description) from one
// kind of board.
type Extractor interface {
	Extract(ctx context.Context, source Source, maxJobs int) ([]pipeline.Job, error)
}

// Options bound extraction work per source.
type Options struct {
	RequestTimeout time.Duration
	MaxPerSource   int
	Retries        int
	RetryBaseDelay time.Duration
	ParserVersion  string
}

// Collector routes sources to registered extractors, retries failed
// extractions and stamps collected jobs with source identity and one
// ingestion trace id per extraction.
type Collector struct {
	opts       Options
	logger     *slog.Logger
	extractors map[string]Extractor
}

// NewCollector builds a collector with the default extractor registry.
func NewCollector(opts Options, logger *slog.Logger) *Collector {
	client := &http.Client{Timeout: opts.RequestTimeout}

	return &Collector{
		opts:   opts,
		logger: logger,
		extractors: map[string]Extractor{
			"greenhouse": NewGreenhouse(client),
			"lever":      NewLever(client),
		},
	}
}

// Register adds or replaces the extractor for a source type. Used by tests
// and by deployments that plug in a scraping engine.
func (c *Collector) Register(sourceType string, e Extractor) {
	c.extractors[sourceType] = e
}

// Collect runs one extraction for the source, with bounded retries and a
// linear backoff of attempt * base delay. All returned jobs share a freshly
// minted ingestion trace id.
func (c *Collector) Collect(ctx context.Context, source Source) ([]pipeline.Job, error) {
	ext, ok := c.extractors[source.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", pipeline.ErrUnsupportedSource, source.Type)
	}

	traceID := mintTraceID(source.Name)

	var jobs []pipeline.Job
	var lastErr error

	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		jobs, lastErr = ext.Extract(ctx, source, c.opts.MaxPerSource)
		if lastErr == nil {
			break
		}

		c.logger.Warn("Source extraction attempt failed",
			slog.String("source", source.Name),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.opts.Retries),
			slog.Any("error", lastErr),
		)

		if attempt < c.opts.Retries {
			select {
			case <-time.After(time.Duration(attempt) * c.opts.RetryBaseDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("source %q failed after %d attempts: %w", source.Name, c.opts.Retries, lastErr)
	}

	tagged := make([]pipeline.Job, 0, len(jobs))
	for _, job := range jobs {
		job.SourceType = source.Type
		job.SourceName = source.Name
		job.ParserVersion = c.opts.ParserVersion
		job.IngestionTraceID = traceID
		job.Confidence = pipeline.ConfidenceOf(job)
		tagged = append(tagged, job)
	}

	return tagged, nil
}

// mintTraceID builds the per-extraction correlation id, "name-millis-uuid".
func mintTraceID(sourceName string) string {
	return fmt.Sprintf("%s-%d-%s", sourceName, time.Now().UnixMilli(), uuid.New().String())
}
