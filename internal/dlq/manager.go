package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/LaylAgnes/Hermes/internal/pipeline"
	"github.com/LaylAgnes/Hermes/shared/idempotency"
	"github.com/LaylAgnes/Hermes/shared/rabbitmq"
)

// consumerScope mirrors the consumer's claim scope so a replayed job can have
// its stale claim dropped before it reaches the consumer again.
const consumerScope = "consumer"

// Bus is the slice of the bus gateway the manager needs.
type Bus interface {
	Depth(queue string) (int, error)
	Get(queue string) (amqp.Delivery, bool, error)
	PublishRaw(ctx context.Context, queue string, d amqp.Delivery) error
	PublishJob(ctx context.Context, job pipeline.Job) error
	DLQQueue() string
}

// Filter selects dead-letter entries. Zero-value fields match everything.
type Filter struct {
	Source        string `json:"source,omitempty" form:"source"`
	ErrorContains string `json:"errorContains,omitempty" form:"errorContains"`
	FromISO       string `json:"fromIso,omitempty" form:"fromIso"`
	ToISO         string `json:"toIso,omitempty" form:"toIso"`
}

// Matches reports whether an entry passes every set criterion. Source matches
// exactly, errorContains is a case-insensitive substring and the time bounds
// are inclusive. An entry with a malformed timestamp fails any time bound.
func (f Filter) Matches(entry pipeline.DLQEntry) bool {
	if f.Source != "" && entry.Payload.SourceName != f.Source {
		return false
	}

	if f.ErrorContains != "" &&
		!strings.Contains(strings.ToLower(entry.Reason), strings.ToLower(f.ErrorContains)) {
		return false
	}

	if f.FromISO != "" || f.ToISO != "" {
		at, ok := entry.Time()
		if !ok {
			return false
		}

		if f.FromISO != "" {
			from, err := time.Parse(time.RFC3339, f.FromISO)
			if err != nil || at.Before(from) {
				return false
			}
		}
		if f.ToISO != "" {
			to, err := time.Parse(time.RFC3339, f.ToISO)
			if err != nil || at.After(to) {
				return false
			}
		}
	}

	return true
}

// ScanResult is a non-destructive view of the DLQ. Total is the queue depth
// before the pass; Matched counts filter hits inside the scanned window.
type ScanResult struct {
	Scanned int                 `json:"scanned"`
	Total   int                 `json:"total"`
	Matched int                 `json:"matched"`
	Items   []pipeline.DLQEntry `json:"items"`
}

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Scanned  int `json:"scanned"`
	Replayed int `json:"replayed"`
}

// Config holds DLQ manager dependencies and settings
type Config struct {
	Logger       *slog.Logger
	Bus          Bus
	Store        idempotency.Store
	MaxScan      int
	DefaultLimit int
}

// Manager inspects and replays the dead-letter queue without losing entries.
// Both operations use the same acknowledge-and-buffer pass: every fetched
// message is buffered, and everything not replayed is republished to the DLQ
// verbatim in the restore phase.
type Manager struct {
	logger       *slog.Logger
	bus          Bus
	store        idempotency.Store
	maxScan      int
	defaultLimit int
}

// NewManager creates a DLQ manager.
func NewManager(cfg *Config) *Manager {
	return &Manager{
		logger:       cfg.Logger,
		bus:          cfg.Bus,
		store:        cfg.Store,
		maxScan:      cfg.MaxScan,
		defaultLimit: cfg.DefaultLimit,
	}
}

// scannedMessage pairs a buffered delivery with its decoded entry. parseable
// is false for bodies that do not decode; those never match a filter but are
// always restored.
type scannedMessage struct {
	delivery  amqp.Delivery
	entry     pipeline.DLQEntry
	parseable bool
}

// drain fetches and acknowledges up to min(depth, maxScan) DLQ messages into
// a buffer, returning the buffer and the pre-scan queue depth. The caller
// owns restoring whatever should stay queued.
func (m *Manager) drain(ctx context.Context) ([]scannedMessage, int, error) {
	depth, err := m.bus.Depth(m.bus.DLQQueue())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read DLQ depth: %w", err)
	}

	scanCount := depth
	if scanCount > m.maxScan {
		scanCount = m.maxScan
	}

	buffered := make([]scannedMessage, 0, scanCount)
	for i := 0; i < scanCount; i++ {
		if ctx.Err() != nil {
			break
		}

		d, ok, err := m.bus.Get(m.bus.DLQQueue())
		if err != nil {
			m.restore(ctx, buffered)
			return nil, 0, fmt.Errorf("failed to fetch DLQ message: %w", err)
		}
		if !ok {
			break
		}

		if err := d.Ack(false); err != nil {
			m.logger.Error("Failed to ack DLQ message during scan",
				slog.Uint64("delivery_tag", d.DeliveryTag),
				slog.Any("error", err),
			)
		}

		msg := scannedMessage{delivery: d}
		if entry, err := rabbitmq.ParseEntry(d.Body); err == nil {
			msg.entry = entry
			msg.parseable = true
		} else {
			m.logger.Warn("Unparseable DLQ entry kept verbatim",
				slog.String("message_id", d.MessageId),
			)
		}

		buffered = append(buffered, msg)
	}

	return buffered, depth, nil
}

// restore republishes buffered messages to the DLQ verbatim.
func (m *Manager) restore(ctx context.Context, messages []scannedMessage) {
	for _, msg := range messages {
		if err := m.bus.PublishRaw(ctx, m.bus.DLQQueue(), msg.delivery); err != nil {
			m.logger.Error("Failed to restore DLQ message",
				slog.String("message_id", msg.delivery.MessageId),
				slog.Any("error", err),
			)
		}
	}
}

// Scan reads the DLQ without consuming it: every scanned message goes back to
// the queue. Items holds at most limit matching entries.
func (m *Manager) Scan(ctx context.Context, filter Filter, limit int) (ScanResult, error) {
	if limit <= 0 {
		limit = m.defaultLimit
	}

	buffered, depth, err := m.drain(ctx)
	if err != nil {
		return ScanResult{}, err
	}
	defer m.restore(ctx, buffered)

	result := ScanResult{
		Scanned: len(buffered),
		Total:   depth,
		Items:   []pipeline.DLQEntry{},
	}
	for _, msg := range buffered {
		if !msg.parseable || !filter.Matches(msg.entry) {
			continue
		}
		result.Matched++
		if len(result.Items) < limit {
			result.Items = append(result.Items, msg.entry)
		}
	}

	m.logger.Info("DLQ scanned",
		slog.Int("scanned", result.Scanned),
		slog.Int("depth", result.Total),
		slog.Int("matched", result.Matched),
	)

	return result, nil
}

// Replay moves up to limit matching entries back onto the jobs queue with a
// reset retry counter and restores everything else to the DLQ. A replayed
// identity's consumer claim is released first so the replay is not dropped as
// a duplicate.
func (m *Manager) Replay(ctx context.Context, filter Filter, limit int) (ReplayResult, error) {
	if limit <= 0 {
		limit = m.defaultLimit
	}

	buffered, _, err := m.drain(ctx)
	if err != nil {
		return ReplayResult{}, err
	}

	result := ReplayResult{Scanned: len(buffered)}
	keep := make([]scannedMessage, 0, len(buffered))

	for _, msg := range buffered {
		if !msg.parseable || result.Replayed >= limit || !filter.Matches(msg.entry) {
			keep = append(keep, msg)
			continue
		}

		// Entries without a payload (a malformed-message entry carries none)
		// would only bounce straight back here; keep them queued.
		if msg.entry.Payload.URL == "" {
			keep = append(keep, msg)
			continue
		}

		job := msg.entry.Payload
		job.RetryCount = 0

		if err := m.store.Release(ctx, consumerScope, job.Identity()); err != nil {
			m.logger.Warn("Failed to release claim before replay",
				slog.String("identity", job.Identity()),
				slog.Any("error", err),
			)
		}

		if err := m.bus.PublishJob(ctx, job); err != nil {
			m.logger.Error("Failed to replay entry, restoring to DLQ",
				slog.String("identity", job.Identity()),
				slog.Any("error", err),
			)
			keep = append(keep, msg)
			continue
		}

		result.Replayed++
		m.logger.Info("Entry replayed",
			slog.String("identity", job.Identity()),
			slog.String("source", job.SourceName),
		)
	}

	m.restore(ctx, keep)

	m.logger.Info("DLQ replay finished",
		slog.Int("scanned", result.Scanned),
		slog.Int("replayed", result.Replayed),
	)

	return result, nil
}
