package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// RunRecord is one finished extraction pass.
type RunRecord struct {
	RunID      string       `db:"run_id" json:"runId"`
	StartedAt  time.Time    `db:"started_at" json:"startedAt"`
	FinishedAt time.Time    `db:"finished_at" json:"finishedAt"`
	Health     string       `db:"health" json:"health"`
	Sources    []SourceStat `db:"-" json:"sources"`
}

// SourceStat is the per-source outcome inside a run.
type SourceStat struct {
	SourceName string `json:"sourceName"`
	SourceType string `json:"sourceType"`
	Collected  int    `json:"collected"`
	Published  int    `json:"published"`
	Failed     bool   `json:"failed"`
	LastError  string `json:"lastError,omitempty"`
}

// Storage persists extraction run history in PostgreSQL.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a run history store and ensures its schema exists.
func NewStorage(db *sqlx.DB, logger *slog.Logger) (*Storage, error) {
	s := &Storage{db: db, logger: logger}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure run history schema: %w", err)
	}
	return s, nil
}

func (s *Storage) ensureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS ingestion_runs (
			run_id UUID PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			health TEXT NOT NULL,
			sources JSONB NOT NULL DEFAULT '[]'::jsonb
		);
		CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started_at
			ON ingestion_runs (started_at DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// RecordRun inserts a finished run with its per-source stats.
func (s *Storage) RecordRun(ctx context.Context, run RunRecord) error {
	sources, err := json.Marshal(run.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal source stats: %w", err)
	}

	query := `
		INSERT INTO ingestion_runs (run_id, started_at, finished_at, health, sources)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := s.db.ExecContext(ctx, query, run.RunID, run.StartedAt, run.FinishedAt, run.Health, sources); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	s.logger.Debug("Run recorded", slog.String("run_id", run.RunID))
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Storage) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT run_id, started_at, finished_at, health, sources
		FROM ingestion_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			run     RunRecord
			sources []byte
		)
		if err := rows.Scan(&run.RunID, &run.StartedAt, &run.FinishedAt, &run.Health, &sources); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal(sources, &run.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source stats: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
