package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

const (
	// DescriptionLimit is the maximum number of runes kept in a job description.
	DescriptionLimit = 8000
)

// Job is the unit of work flowing through the pipeline. Extractors fill the
// content fields; RetryCount is mutated only by the consumer on republish.
type Job struct {
	URL              string  `json:"url"`
	Title            string  `json:"title"`
	Location         string  `json:"location,omitempty"`
	Description      string  `json:"description"`
	SourceName       string  `json:"sourceName"`
	SourceType       string  `json:"sourceType"`
	Confidence       float64 `json:"confidence"`
	ParserVersion    string  `json:"parserVersion,omitempty"`
	IngestionTraceID string  `json:"ingestionTraceId"`
	Traceparent      string  `json:"traceparent,omitempty"`
	Tracestate       string  `json:"tracestate,omitempty"`
	RetryCount       int     `json:"retryCount,omitempty"`
}

// Identity returns the logical identity used for idempotency claims and as
// the bus message id. A job without a trace id still gets a stable identity.
func (j Job) Identity() string {
	traceID := j.IngestionTraceID
	if traceID == "" {
		traceID = "none"
	}
	return j.URL + "::" + traceID
}

// SourceKey is the per-source metrics dimension, "name::type".
func (j Job) SourceKey() string {
	return j.SourceName + "::" + j.SourceType
}

// DLQEntry wraps a failed payload for the dead-letter queue.
type DLQEntry struct {
	Payload    Job    `json:"payload"`
	Reason     string `json:"reason"`
	RetryCount int    `json:"retryCount"`
	At         string `json:"at"`
}

// Time parses the entry's recorded timestamp. The zero time and ok=false are
// returned when the timestamp is absent or malformed.
func (e DLQEntry) Time() (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, e.At)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// NormalizeText strips HTML tags, collapses whitespace and trims the result.
func NormalizeText(value string) string {
	text := tagPattern.ReplaceAllString(value, " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ConfidenceOf computes the derived completeness score of a job: url 0.35,
// title 0.25, description longer than 220 chars 0.25, location 0.15.
func ConfidenceOf(j Job) float64 {
	score := 0.0
	if j.URL != "" {
		score += 0.35
	}
	if j.Title != "" {
		score += 0.25
	}
	if len(j.Description) > 220 {
		score += 0.25
	}
	if j.Location != "" {
		score += 0.15
	}
	return math.Round(math.Min(score, 1)*100) / 100
}

// ValidateJob normalizes all text fields, truncates the description and
// recomputes confidence. The returned job is the cleaned copy; errors lists
// every missing required field.
func ValidateJob(j Job) (Job, []error) {
	cleaned := j
	cleaned.URL = NormalizeText(j.URL)
	cleaned.Title = NormalizeText(j.Title)
	cleaned.Location = NormalizeText(j.Location)
	cleaned.Description = truncateRunes(NormalizeText(j.Description), DescriptionLimit)
	cleaned.SourceType = NormalizeText(j.SourceType)
	cleaned.SourceName = NormalizeText(j.SourceName)
	cleaned.ParserVersion = NormalizeText(j.ParserVersion)
	cleaned.IngestionTraceID = NormalizeText(j.IngestionTraceID)
	cleaned.Confidence = ConfidenceOf(cleaned)

	var errs []error
	if cleaned.URL == "" {
		errs = append(errs, fmt.Errorf("%w: url missing", ErrInvalidJob))
	}
	if cleaned.Title == "" {
		errs = append(errs, fmt.Errorf("%w: title missing", ErrInvalidJob))
	}
	if cleaned.Description == "" {
		errs = append(errs, fmt.Errorf("%w: description missing", ErrInvalidJob))
	}
	if cleaned.SourceType == "" {
		errs = append(errs, fmt.Errorf("%w: sourceType missing", ErrInvalidJob))
	}

	return cleaned, errs
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
