package reliability

import (
	"context"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsUnavailableHTTPStatus classifies status codes that mean the collaborator
// itself is down rather than rejecting this particular request.
func IsUnavailableHTTPStatus(code int) bool {
	switch code {
	case 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Retry runs fn up to attempts times, sleeping a capped exponential backoff
// between tries. fn's second result reports whether the failure is worth
// retrying; the last error is returned when attempts run out.
func Retry(ctx context.Context, attempts int, base, cap time.Duration, fn func() (error, bool)) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err, retryable := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt == attempts-1 {
			return lastErr
		}
		select {
		case <-time.After(ExponentialBackoff(attempt, base, cap)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
