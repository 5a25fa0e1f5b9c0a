package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/LaylAgnes/Hermes/internal/pipeline"
)

const leverAPIBase = "https://api.lever.co/v0/postings"

// Lever pulls postings from the Lever postings API in a single call.
type Lever struct {
	client  *http.Client
	baseURL string
}

// NewLever creates a Lever extractor.
func NewLever(client *http.Client) *Lever {
	return &Lever{client: client, baseURL: leverAPIBase}
}

type leverPosting struct {
	HostedURL  string `json:"hostedUrl"`
	Text       string `json:"text"`
	Categories struct {
		Location string `json:"location"`
	} `json:"categories"`
	DescriptionPlain string `json:"descriptionPlain"`
	Description      string `json:"description"`
}

// Extract fetches the company's postings list.
func (l *Lever) Extract(ctx context.Context, source Source, maxJobs int) ([]pipeline.Job, error) {
	if source.Company == "" {
		return nil, fmt.Errorf("lever source %q has no company", source.Name)
	}

	url := fmt.Sprintf("%s/%s?mode=json", l.baseURL, source.Company)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lever list failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lever list failed with status %d", resp.StatusCode)
	}

	var postings []leverPosting
	if err := json.NewDecoder(resp.Body).Decode(&postings); err != nil {
		return nil, fmt.Errorf("lever list decode failed: %w", err)
	}

	if len(postings) > maxJobs {
		postings = postings[:maxJobs]
	}

	jobs := make([]pipeline.Job, 0, len(postings))
	for _, p := range postings {
		description := p.DescriptionPlain
		if description == "" {
			description = p.Description
		}
		if description == "" {
			description = p.Text
		}

		jobs = append(jobs, pipeline.Job{
			URL:         p.HostedURL,
			Title:       pipeline.NormalizeText(p.Text),
			Location:    pipeline.NormalizeText(p.Categories.Location),
			Description: pipeline.NormalizeText(description),
		})
	}

	return jobs, nil
}
