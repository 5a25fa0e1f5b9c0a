package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/LaylAgnes/Hermes/internal/pipeline"
)

const greenhouseAPIBase = "https://boards-api.greenhouse.io/v1/boards"

// Greenhouse pulls postings from the Greenhouse boards API: one list call
// plus a detail call per job for the full description.
type Greenhouse struct {
	client  *http.Client
	baseURL string
}

// NewGreenhouse creates a Greenhouse extractor.
func NewGreenhouse(client *http.Client) *Greenhouse {
	return &Greenhouse{client: client, baseURL: greenhouseAPIBase}
}

type greenhouseList struct {
	Jobs []greenhouseItem `json:"jobs"`
}

type greenhouseItem struct {
	ID          int64  `json:"id"`
	AbsoluteURL string `json:"absolute_url"`
	Title       string `json:"title"`
	Location    struct {
		Name string `json:"name"`
	} `json:"location"`
}

type greenhouseDetail struct {
	Content string `json:"content"`
}

// Extract lists board jobs and enriches each with its detail content. A
// failed detail call falls back to the title as description.
func (g *Greenhouse) Extract(ctx context.Context, source Source, maxJobs int) ([]pipeline.Job, error) {
	token := source.BoardToken
	if token == "" {
		parts := strings.Split(strings.TrimRight(source.URL, "/"), "/")
		token = parts[len(parts)-1]
	}

	var list greenhouseList
	listURL := fmt.Sprintf("%s/%s/jobs", g.baseURL, token)
	if err := g.getJSON(ctx, listURL, &list); err != nil {
		return nil, fmt.Errorf("greenhouse list failed: %w", err)
	}

	items := list.Jobs
	if len(items) > maxJobs {
		items = items[:maxJobs]
	}

	jobs := make([]pipeline.Job, 0, len(items))
	for _, item := range items {
		description := item.Title

		var detail greenhouseDetail
		detailURL := fmt.Sprintf("%s/%s/jobs/%d", g.baseURL, token, item.ID)
		if err := g.getJSON(ctx, detailURL, &detail); err == nil && detail.Content != "" {
			description = detail.Content
		}

		jobs = append(jobs, pipeline.Job{
			URL:         item.AbsoluteURL,
			Title:       pipeline.NormalizeText(item.Title),
			Location:    pipeline.NormalizeText(item.Location.Name),
			Description: pipeline.NormalizeText(description),
		})
	}

	return jobs, nil
}

func (g *Greenhouse) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
