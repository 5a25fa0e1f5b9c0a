package pipeline

import "errors"

var (
	// ErrInvalidJob is returned when a job is missing a required field after
	// normalization. Invalid jobs are terminal: counted and dropped, never retried.
	ErrInvalidJob = errors.New("invalid job")

	// ErrMalformedMessage is returned when a queue message body cannot be
	// decoded. Malformed messages are acknowledged and dropped to avoid
	// poison loops.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnsupportedSource is returned when no extractor is registered for a
	// source type. Counted as a source failure, never crashes the run.
	ErrUnsupportedSource = errors.New("unsupported source type")

	// ErrDuplicate is returned when an idempotency claim is denied. Not an
	// error condition for the pipeline: the job was already handled.
	ErrDuplicate = errors.New("duplicate delivery")
)

// TransientError wraps an anticipated delivery failure (import API error or
// timeout) that should be retried up to the ceiling before dead-lettering.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient delivery error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether err is an anticipated, retryable delivery failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
