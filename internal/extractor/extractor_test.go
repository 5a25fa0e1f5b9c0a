package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaylAgnes/Hermes/internal/pipeline"
	"github.com/LaylAgnes/Hermes/shared/logger"
)

func testCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector(Options{
		RequestTimeout: 5 * time.Second,
		MaxPerSource:   30,
		Retries:        2,
		RetryBaseDelay: time.Millisecond,
		ParserVersion:  "v4",
	}, logger.NewDefault().Logger)
}

type stubExtractor struct {
	jobs  []pipeline.Job
	errs  []error
	calls int
}

func (s *stubExtractor) Extract(_ context.Context, _ Source, _ int) ([]pipeline.Job, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.jobs, nil
}

func TestCollect_TagsJobsWithSourceAndTrace(t *testing.T) {
	c := testCollector(t)
	c.Register("lever", &stubExtractor{jobs: []pipeline.Job{
		{URL: "https://x/1", Title: "Eng", Location: "Remote", Description: strings.Repeat("d", 300)},
	}})

	jobs, err := c.Collect(context.Background(), Source{Name: "acme-lever", Type: "lever"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "lever", job.SourceType)
	assert.Equal(t, "acme-lever", job.SourceName)
	assert.Equal(t, "v4", job.ParserVersion)
	assert.True(t, strings.HasPrefix(job.IngestionTraceID, "acme-lever-"))
	assert.InDelta(t, 1.0, job.Confidence, 0.001)
}

func TestCollect_SharedTraceIDPerExtraction(t *testing.T) {
	c := testCollector(t)
	c.Register("lever", &stubExtractor{jobs: []pipeline.Job{
		{URL: "https://x/1", Title: "A", Description: "d"},
		{URL: "https://x/2", Title: "B", Description: "d"},
	}})

	jobs, err := c.Collect(context.Background(), Source{Name: "acme", Type: "lever"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, jobs[0].IngestionTraceID, jobs[1].IngestionTraceID)
}

func TestCollect_RetriesThenSucceeds(t *testing.T) {
	c := testCollector(t)
	stub := &stubExtractor{
		jobs: []pipeline.Job{{URL: "https://x/1", Title: "Eng", Description: "d"}},
		errs: []error{errors.New("boom"), nil},
	}
	c.Register("lever", stub)

	jobs, err := c.Collect(context.Background(), Source{Name: "acme", Type: "lever"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, 2, stub.calls)
}

func TestCollect_ExhaustsRetries(t *testing.T) {
	c := testCollector(t)
	stub := &stubExtractor{errs: []error{errors.New("boom"), errors.New("boom")}}
	c.Register("lever", stub)

	_, err := c.Collect(context.Background(), Source{Name: "acme", Type: "lever"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, stub.calls)
}

func TestCollect_UnsupportedSourceType(t *testing.T) {
	c := testCollector(t)

	_, err := c.Collect(context.Background(), Source{Name: "acme", Type: "workday"})
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrUnsupportedSource)
}

func TestGreenhouseExtract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/acme/jobs":
			fmt.Fprint(w, `{"jobs":[
				{"id":1,"absolute_url":"https://boards.greenhouse.io/acme/jobs/1","title":"Backend Engineer","location":{"name":"Remote"}},
				{"id":2,"absolute_url":"https://boards.greenhouse.io/acme/jobs/2","title":"Data Engineer","location":{"name":"NYC"}}
			]}`)
		case "/acme/jobs/1":
			fmt.Fprint(w, `{"content":"<p>Build   services</p>"}`)
		case "/acme/jobs/2":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	g := NewGreenhouse(server.Client())
	g.baseURL = server.URL

	jobs, err := g.Extract(context.Background(), Source{Name: "acme", Type: "greenhouse", BoardToken: "acme"}, 30)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "https://boards.greenhouse.io/acme/jobs/1", jobs[0].URL)
	assert.Equal(t, "Backend Engineer", jobs[0].Title)
	assert.Equal(t, "Remote", jobs[0].Location)
	assert.Equal(t, "Build services", jobs[0].Description)

	// Detail failure falls back to the title.
	assert.Equal(t, "Data Engineer", jobs[1].Description)
}

func TestGreenhouseExtract_TokenFromURL(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"jobs":[]}`)
	}))
	defer server.Close()

	g := NewGreenhouse(server.Client())
	g.baseURL = server.URL

	_, err := g.Extract(context.Background(), Source{Name: "acme", Type: "greenhouse", URL: "https://boards.greenhouse.io/acme"}, 30)
	require.NoError(t, err)
	assert.Equal(t, "/acme/jobs", gotPath)
}

func TestGreenhouseExtract_RespectsMaxJobs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/acme/jobs" {
			fmt.Fprint(w, `{"jobs":[
				{"id":1,"absolute_url":"https://x/1","title":"A"},
				{"id":2,"absolute_url":"https://x/2","title":"B"},
				{"id":3,"absolute_url":"https://x/3","title":"C"}
			]}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	g := NewGreenhouse(server.Client())
	g.baseURL = server.URL

	jobs, err := g.Extract(context.Background(), Source{BoardToken: "acme"}, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestLeverExtract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/acme", r.URL.Path)
		require.Equal(t, "json", r.URL.Query().Get("mode"))
		fmt.Fprint(w, `[
			{"hostedUrl":"https://jobs.lever.co/acme/1","text":"Platform Engineer","categories":{"location":"Remote"},"descriptionPlain":"Run the platform"},
			{"hostedUrl":"https://jobs.lever.co/acme/2","text":"SRE","categories":{"location":"SP"},"description":"<b>Keep it up</b>"}
		]`)
	}))
	defer server.Close()

	l := NewLever(server.Client())
	l.baseURL = server.URL

	jobs, err := l.Extract(context.Background(), Source{Name: "acme-lever", Type: "lever", Company: "acme"}, 30)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "Platform Engineer", jobs[0].Title)
	assert.Equal(t, "Run the platform", jobs[0].Description)
	assert.Equal(t, "Keep it up", jobs[1].Description)
}

func TestLeverExtract_MissingCompany(t *testing.T) {
	l := NewLever(http.DefaultClient)

	_, err := l.Extract(context.Background(), Source{Name: "acme-lever", Type: "lever"}, 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no company")
}
