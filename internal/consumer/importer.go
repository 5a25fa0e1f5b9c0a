package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/LaylAgnes/Hermes/internal/pipeline"
)

// ImporterConfig holds the import API settings.
type ImporterConfig struct {
	URL     string
	Timeout time.Duration
}

// Importer delivers consumed jobs to the downstream import API.
type Importer struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

// NewImporter creates an import API client.
func NewImporter(config *ImporterConfig, logger *slog.Logger) *Importer {
	return &Importer{
		client: &http.Client{Timeout: config.Timeout},
		url:    config.URL,
		logger: logger,
	}
}

type importRequest struct {
	Jobs []pipeline.Job `json:"jobs"`
}

// Import posts a single job to the import API. Network errors and non-2xx
// responses are transient: the caller decides between retry and dead-letter.
func (i *Importer) Import(ctx context.Context, job pipeline.Job) error {
	body, err := json.Marshal(importRequest{Jobs: []pipeline.Job{job}})
	if err != nil {
		return fmt.Errorf("failed to marshal import request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build import request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if job.Traceparent != "" {
		req.Header.Set("traceparent", job.Traceparent)
	}
	if job.Tracestate != "" {
		req.Header.Set("tracestate", job.Tracestate)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return pipeline.NewTransientError(fmt.Errorf("import request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return pipeline.NewTransientError(
			fmt.Errorf("import API returned status %d: %s", resp.StatusCode, snippet),
		)
	}

	i.logger.Debug("Job imported",
		slog.String("identity", job.Identity()),
		slog.Int("status", resp.StatusCode),
	)

	return nil
}
