package models

import (
	"time"

	"github.com/rohanthewiz/logger"
)

// RetryPolicy retries an operation with exponential backoff.
// Failures whose kind is permanent (see Retryable) short-circuit:
// retrying cannot fix quota exhaustion, a missing credential, or a
// caller bug. Once an operation is dispatched it runs to its retry
// bound; there is no cancellation into the backoff loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64

	// sleep is swapped out in tests so retries don't wall-clock wait.
	sleep func(time.Duration)
}

// DefaultRetryPolicy matches the store and network retry contract:
// 3 attempts, 1s base delay, doubling between attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Factor: 2}
}

// Do runs fn up to MaxAttempts times, backing off between attempts.
// The last error is returned as-is so its kind survives for callers;
// retry context goes to the log instead of the error chain.
func (p RetryPolicy) Do(op string, fn func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		logger.Debug("Retrying operation",
			"op", op,
			"attempt", attempt,
			"delay", delay.String(),
		)
		sleep(delay)
		delay = time.Duration(float64(delay) * p.Factor)
	}

	logger.LogErr(lastErr, "operation failed after retries",
		"op", op, "attempts", p.MaxAttempts)
	return lastErr
}
