package graph

import (
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidRetryPolicy indicates a RetryPolicy with out-of-range fields.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// RetryPolicy defines automatic retry configuration for transient failures.
//
// The dialogue runtime attaches retry policies to action handlers: when a
// handler fails, the policy decides whether the failure is retryable and how
// long to wait before the next attempt. Exponential backoff with jitter is
// used to avoid thundering herd problems against external services.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of execution attempts, including the
	// initial attempt. Must be >= 1; a value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	// The actual delay is min(BaseDelay * 2^attempt, MaxDelay) + jitter.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides if an error is worth retrying. If nil, every error
	// is retried until MaxAttempts is exhausted.
	Retryable func(error) bool
}

// Validate checks the RetryPolicy configuration.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// Backoff calculates the delay before retry number attempt (zero-based).
//
// delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// The exponential component doubles the delay with each retry; jitter
// randomizes timing so concurrent users retrying the same failing action do
// not synchronize.
func (rp *RetryPolicy) Backoff(attempt int) time.Duration {
	base := rp.BaseDelay
	if base <= 0 {
		return 0
	}

	delay := base * (1 << attempt)
	if rp.MaxDelay > 0 && delay > rp.MaxDelay {
		delay = rp.MaxDelay
	}

	// Jitter for retry timing, not security.
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404
	return delay + jitter
}
