package rabbitmq

import (
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/LaylAgnes/Hermes/internal/pipeline"
)

// ParseJob decodes a jobs-queue message body. Bodies may be a bare job or a
// dead-letter entry wrapping one (a replayed message keeps the entry shape
// when an operator republishes it by hand); both decode to the inner job.
func ParseJob(body []byte) (pipeline.Job, error) {
	var probe struct {
		Payload *pipeline.Job `json:"payload"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return pipeline.Job{}, fmt.Errorf("%w: %v", pipeline.ErrMalformedMessage, err)
	}

	if probe.Payload != nil {
		return *probe.Payload, nil
	}

	var job pipeline.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return pipeline.Job{}, fmt.Errorf("%w: %v", pipeline.ErrMalformedMessage, err)
	}

	return job, nil
}

// ParseEntry decodes a DLQ message body.
func ParseEntry(body []byte) (pipeline.DLQEntry, error) {
	var entry pipeline.DLQEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return pipeline.DLQEntry{}, fmt.Errorf("%w: %v", pipeline.ErrMalformedMessage, err)
	}

	return entry, nil
}

// RetryCountFromHeaders reads the retryCount header, tolerating the numeric
// types an AMQP table may carry. Missing or unreadable values count as zero.
func RetryCountFromHeaders(headers amqp.Table) int {
	if headers == nil {
		return 0
	}

	switch v := headers["retryCount"].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// HeaderString reads a string header; missing or non-string values are "".
func HeaderString(headers amqp.Table, key string) string {
	if headers == nil {
		return ""
	}
	if s, ok := headers[key].(string); ok {
		return s
	}
	return ""
}
