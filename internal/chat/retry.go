package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RetryConfig configures the retry behavior for model calls.
type RetryConfig struct {
	MaxRetries      int           // retry attempts after the first call
	InitialInterval time.Duration // initial backoff interval
	MaxInterval     time.Duration // backoff ceiling
}

// DefaultRetryConfig returns sensible defaults for chat API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// retryablePatterns groups error substrings by category.
// Matched case-insensitively against err.Error().
//
// String matching is used because neither the platform backend nor
// OpenAI-compatible providers expose typed errors for transient failures; the
// HTTP status ends up in the error text.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// retryableError reports whether err is transient and should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// callWithRetry runs fn with exponential backoff on transient failures. Each
// attempt passes the rate limiter separately, so retries cannot burst past it.
// Non-retryable errors fail immediately; a strategy-level fallback handles
// those.
func (o *Orchestrator) callWithRetry(ctx context.Context, name string, fn func(context.Context) error) error {
	var lastErr error
	delay := o.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= o.retry.MaxRetries; attempt++ {
		if err := o.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				o.logger.Debug("call succeeded after retry",
					"call", name,
					"attempts", attempt+1,
					"elapsed", time.Since(start))
			}
			return nil
		}
		lastErr = err

		if !retryableError(err) {
			return err
		}
		if attempt == o.retry.MaxRetries {
			break
		}

		o.logger.Debug("retrying after transient error",
			"call", name,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, o.retry.MaxInterval)
		}
	}

	return fmt.Errorf("%s after %d retries (elapsed %v): %w",
		name, o.retry.MaxRetries, time.Since(start).Round(time.Millisecond), lastErr)
}
