package embedder

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError is returned when the local admission limiter denies a
// request before it reaches the provider. Callers can wait RetryAfter and
// try again.
type RateLimitedError struct {
	// Resource is the limiter key that was exhausted (e.g. "embeddings").
	Resource string
	// RetryAfter is how long to wait before the next request can be admitted.
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("embedder: rate limited on %s, retry after %s", e.Resource, e.RetryAfter)
}

// TransientError marks a provider failure that is worth retrying:
// HTTP 429, 408, any 5xx, or a network-level error.
type TransientError struct {
	// Status is the HTTP status code, or 0 for network-level failures.
	Status int
	// Err is the underlying cause.
	Err error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("embedder: transient provider error (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("embedder: transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a provider failure that retrying cannot fix, such as a
// rejected API key or a malformed request.
type FatalError struct {
	// Status is the HTTP status code the provider returned.
	Status int
	// Err is the underlying cause.
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("embedder: fatal provider error (HTTP %d): %v", e.Status, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every retry attempt for a batch failed.
type ExhaustedError struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the error from the final attempt.
	Err error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("embedder: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// classifyStatus wraps a provider error in TransientError or FatalError
// based on the HTTP status code.
func classifyStatus(status int, err error) error {
	switch {
	case status == 429 || status == 408 || status >= 500:
		return &TransientError{Status: status, Err: err}
	default:
		return &FatalError{Status: status, Err: err}
	}
}
