package producer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaylAgnes/Hermes/internal/extractor"
	"github.com/LaylAgnes/Hermes/internal/metrics"
	"github.com/LaylAgnes/Hermes/internal/pipeline"
	"github.com/LaylAgnes/Hermes/internal/producer/storage"
	"github.com/LaylAgnes/Hermes/shared/idempotency"
	"github.com/LaylAgnes/Hermes/shared/logger"
)

type fakePublisher struct {
	published []pipeline.Job
	failOn    map[string]error
}

func (f *fakePublisher) PublishJob(_ context.Context, job pipeline.Job) error {
	if err, ok := f.failOn[job.URL]; ok {
		return err
	}
	f.published = append(f.published, job)
	return nil
}

type fakeCollector struct {
	jobs map[string][]pipeline.Job
	errs map[string]error
}

func (f *fakeCollector) Collect(_ context.Context, source extractor.Source) ([]pipeline.Job, error) {
	if err, ok := f.errs[source.Name]; ok {
		return nil, err
	}
	return f.jobs[source.Name], nil
}

type fakeStore struct {
	claimed map[string]bool
	denied  map[string]bool
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{claimed: map[string]bool{}, denied: map[string]bool{}}
}

func (f *fakeStore) Claim(_ context.Context, scope, identity string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	key := scope + ":" + identity
	if f.denied[key] || f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func (f *fakeStore) Release(_ context.Context, scope, identity string) error {
	delete(f.claimed, scope+":"+identity)
	return nil
}

func (f *fakeStore) Close() error { return nil }

type fakeHistory struct {
	runs []storage.RunRecord
}

func (f *fakeHistory) RecordRun(_ context.Context, run storage.RunRecord) error {
	f.runs = append(f.runs, run)
	return nil
}

func validJob(url string) pipeline.Job {
	return pipeline.Job{
		URL:         url,
		Title:       "Engineer",
		Location:    "Remote",
		Description: strings.Repeat("d", 300),
		SourceName:  "acme",
		SourceType:  "lever",
	}
}

func newTestProducer(t *testing.T, cfg *Config) *Producer {
	t.Helper()

	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault().Logger
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewProducer()
	}
	if cfg.Store == nil {
		cfg.Store = newFakeStore()
	}
	return New(cfg)
}

func TestRunOnce_PublishesCollectedJobs(t *testing.T) {
	bus := &fakePublisher{}
	m := metrics.NewProducer()

	p := newTestProducer(t, &Config{
		Bus:     bus,
		Metrics: m,
		Collector: &fakeCollector{jobs: map[string][]pipeline.Job{
			"acme": {validJob("https://x/1"), validJob("https://x/2")},
		}},
		Sources: []extractor.Source{{Name: "acme", Type: "lever"}},
	})

	require.NoError(t, p.RunOnce(context.Background()))
	require.Len(t, bus.published, 2)

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.Runs)
	assert.Equal(t, int64(2), snap.Collected)
	assert.Equal(t, int64(2), snap.Published)
	assert.Equal(t, int64(2), snap.PublishedBySource["acme::lever"])
	assert.Equal(t, metrics.HealthHealthy, m.Health())
}

func TestRunOnce_SkipsAlreadyClaimedJobs(t *testing.T) {
	bus := &fakePublisher{}
	m := metrics.NewProducer()
	store := newFakeStore()

	job := validJob("https://x/1")
	job.IngestionTraceID = "trace-1"
	store.denied[ClaimScope+":"+job.Identity()] = true

	p := newTestProducer(t, &Config{
		Bus:     bus,
		Metrics: m,
		Store:   store,
		Collector: &fakeCollector{jobs: map[string][]pipeline.Job{
			"acme": {job},
		}},
		Sources: []extractor.Source{{Name: "acme", Type: "lever"}},
	})

	require.NoError(t, p.RunOnce(context.Background()))
	assert.Empty(t, bus.published)
	assert.Equal(t, int64(1), m.Snapshot().Duplicates)
}

func TestRunOnce_DropsInvalidJobs(t *testing.T) {
	bus := &fakePublisher{}
	m := metrics.NewProducer()

	broken := validJob("https://x/1")
	broken.Title = "  "

	p := newTestProducer(t, &Config{
		Bus:     bus,
		Metrics: m,
		Collector: &fakeCollector{jobs: map[string][]pipeline.Job{
			"acme": {broken, validJob("https://x/2")},
		}},
		Sources: []extractor.Source{{Name: "acme", Type: "lever"}},
	})

	require.NoError(t, p.RunOnce(context.Background()))
	require.Len(t, bus.published, 1)
	assert.Equal(t, "https://x/2", bus.published[0].URL)
	assert.Equal(t, int64(1), m.Snapshot().Dropped)
}

func TestRunOnce_SourceFailureDoesNotAbortOthers(t *testing.T) {
	bus := &fakePublisher{}
	m := metrics.NewProducer()

	p := newTestProducer(t, &Config{
		Bus:     bus,
		Metrics: m,
		Collector: &fakeCollector{
			jobs: map[string][]pipeline.Job{"beta": {validJob("https://x/1")}},
			errs: map[string]error{"alpha": errors.New("board unreachable")},
		},
		Sources: []extractor.Source{
			{Name: "alpha", Type: "greenhouse"},
			{Name: "beta", Type: "lever"},
		},
	})

	require.NoError(t, p.RunOnce(context.Background()))
	assert.Len(t, bus.published, 1)

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.SourceFailures)
	assert.Equal(t, int64(1), snap.FailuresBySource["alpha"])
	assert.Equal(t, metrics.HealthDegraded, m.Health())
}

func TestRunOnce_PublishFailureMarksSourceFailed(t *testing.T) {
	bus := &fakePublisher{failOn: map[string]error{"https://x/1": errors.New("channel closed")}}
	m := metrics.NewProducer()

	p := newTestProducer(t, &Config{
		Bus:     bus,
		Metrics: m,
		Collector: &fakeCollector{jobs: map[string][]pipeline.Job{
			"acme": {validJob("https://x/1"), validJob("https://x/2")},
		}},
		Sources: []extractor.Source{{Name: "acme", Type: "lever"}},
	})

	require.NoError(t, p.RunOnce(context.Background()))
	require.Len(t, bus.published, 1)
	assert.Equal(t, metrics.HealthDegraded, m.Health())
}

func TestRunOnce_RecordsRunHistory(t *testing.T) {
	history := &fakeHistory{}

	p := newTestProducer(t, &Config{
		Bus: &fakePublisher{},
		Collector: &fakeCollector{
			jobs: map[string][]pipeline.Job{"acme": {validJob("https://x/1")}},
			errs: map[string]error{"alpha": errors.New("boom")},
		},
		Sources: []extractor.Source{
			{Name: "acme", Type: "lever"},
			{Name: "alpha", Type: "greenhouse"},
		},
		History: history,
	})

	require.NoError(t, p.RunOnce(context.Background()))
	require.Len(t, history.runs, 1)

	run := history.runs[0]
	assert.NotEmpty(t, run.RunID)
	require.Len(t, run.Sources, 2)
	assert.Equal(t, 1, run.Sources[0].Published)
	assert.True(t, run.Sources[1].Failed)
	assert.Equal(t, string(metrics.HealthDegraded), run.Health)
}

func TestRunOnce_ClaimErrorSkipsJob(t *testing.T) {
	bus := &fakePublisher{}
	store := newFakeStore()
	store.err = errors.New("redis down")

	p := newTestProducer(t, &Config{
		Bus:   bus,
		Store: store,
		Collector: &fakeCollector{jobs: map[string][]pipeline.Job{
			"acme": {validJob("https://x/1")},
		}},
		Sources: []extractor.Source{{Name: "acme", Type: "lever"}},
	})

	require.NoError(t, p.RunOnce(context.Background()))
	assert.Empty(t, bus.published)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	p := newTestProducer(t, &Config{
		Bus:          &fakePublisher{},
		Collector:    &fakeCollector{},
		PollInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

var _ idempotency.Store = (*fakeStore)(nil)
