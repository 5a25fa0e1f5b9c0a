package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaylAgnes/Hermes/internal/dlq"
	"github.com/LaylAgnes/Hermes/internal/pipeline"
	"github.com/LaylAgnes/Hermes/internal/producer/storage"
	"github.com/LaylAgnes/Hermes/shared/logger"
)

type fakeDLQ struct {
	scanFilter   dlq.Filter
	scanLimit    int
	scanResult   dlq.ScanResult
	scanErr      error
	replayFilter dlq.Filter
	replayLimit  int
	replayResult dlq.ReplayResult
}

func (f *fakeDLQ) Scan(_ context.Context, filter dlq.Filter, limit int) (dlq.ScanResult, error) {
	f.scanFilter = filter
	f.scanLimit = limit
	if f.scanErr != nil {
		return dlq.ScanResult{}, f.scanErr
	}
	return f.scanResult, nil
}

func (f *fakeDLQ) Replay(_ context.Context, filter dlq.Filter, limit int) (dlq.ReplayResult, error) {
	f.replayFilter = filter
	f.replayLimit = limit
	return f.replayResult, nil
}

type fakeRuns struct {
	runs  []storage.RunRecord
	limit int
}

func (f *fakeRuns) ListRuns(_ context.Context, limit int) ([]storage.RunRecord, error) {
	f.limit = limit
	return f.runs, nil
}

type fakeBus struct{ connected bool }

func (f *fakeBus) IsConnected() bool { return f.connected }

func setup(deps *Dependencies) *httptest.Server {
	if deps.Logger == nil {
		deps.Logger = logger.NewDefault().Logger
	}
	return httptest.NewServer(SetupRouter(deps))
}

func TestScanDLQ(t *testing.T) {
	svc := &fakeDLQ{scanResult: dlq.ScanResult{
		Scanned: 7,
		Total:   12,
		Matched: 2,
		Items: []pipeline.DLQEntry{
			{Payload: pipeline.Job{SourceName: "acme", URL: "https://x/1"}, Reason: "status 503", RetryCount: 3},
			{Payload: pipeline.Job{SourceName: "acme", URL: "https://x/2"}, Reason: "status 503", RetryCount: 3},
		},
	}}

	server := setup(&Dependencies{DLQ: svc, Bus: &fakeBus{connected: true}})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/dlq?source=acme&errorContains=503&limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body dlq.ScanResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 7, body.Scanned)
	assert.Equal(t, 12, body.Total)
	assert.Equal(t, 2, body.Matched)
	assert.Len(t, body.Items, 2)

	assert.Equal(t, dlq.Filter{Source: "acme", ErrorContains: "503"}, svc.scanFilter)
	assert.Equal(t, 10, svc.scanLimit)
}

func TestScanDLQ_Error(t *testing.T) {
	svc := &fakeDLQ{scanErr: errors.New("broker down")}

	server := setup(&Dependencies{DLQ: svc})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/dlq")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestReplayDLQ(t *testing.T) {
	svc := &fakeDLQ{replayResult: dlq.ReplayResult{Scanned: 8, Replayed: 5}}

	server := setup(&Dependencies{DLQ: svc})
	defer server.Close()

	payload := `{"source":"acme","errorContains":"503","fromIso":"2026-08-01T00:00:00Z","limit":10}`
	resp, err := http.Post(server.URL+"/api/replay", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body dlq.ReplayResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 5, body.Replayed)
	assert.Equal(t, 8, body.Scanned)

	assert.Equal(t, "acme", svc.replayFilter.Source)
	assert.Equal(t, "2026-08-01T00:00:00Z", svc.replayFilter.FromISO)
	assert.Equal(t, 10, svc.replayLimit)
}

func TestReplayDLQ_InvalidBody(t *testing.T) {
	server := setup(&Dependencies{DLQ: &fakeDLQ{}})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/replay", "application/json", strings.NewReader("{oops"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	runs := &fakeRuns{runs: []storage.RunRecord{
		{RunID: "r1", StartedAt: time.Now(), FinishedAt: time.Now(), Health: "healthy"},
	}}

	server := setup(&Dependencies{DLQ: &fakeDLQ{}, Runs: runs})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/runs?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, runs.limit)

	var body struct {
		Runs []storage.RunRecord `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "r1", body.Runs[0].RunID)
}

func TestListRuns_DisabledWhenNoHistory(t *testing.T) {
	server := setup(&Dependencies{DLQ: &fakeDLQ{}})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRuns_InvalidLimit(t *testing.T) {
	server := setup(&Dependencies{DLQ: &fakeDLQ{}, Runs: &fakeRuns{}})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/runs?limit=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	t.Run("healthy when bus connected", func(t *testing.T) {
		server := setup(&Dependencies{DLQ: &fakeDLQ{}, Bus: &fakeBus{connected: true}})
		defer server.Close()

		resp, err := http.Get(server.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("unavailable when bus disconnected", func(t *testing.T) {
		server := setup(&Dependencies{DLQ: &fakeDLQ{}, Bus: &fakeBus{connected: false}})
		defer server.Close()

		resp, err := http.Get(server.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestIndexPage(t *testing.T) {
	server := setup(&Dependencies{DLQ: &fakeDLQ{}})
	defer server.Close()

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}
