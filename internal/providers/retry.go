package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// RetryConfig controls retries of transient provider failures.
type RetryConfig struct {
	Attempts int
	MinDelay time.Duration
	MaxDelay time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, MinDelay: time.Second, MaxDelay: 10 * time.Second}
}

// HTTPStatusError is implemented by SDK errors that carry an HTTP status.
type HTTPStatusError interface {
	HTTPStatusCode() int
}

// StatusError carries the HTTP status of a failed provider call.
type StatusError struct {
	Provider string
	Status   int
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %v", e.Provider, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error       { return e.Err }
func (e *StatusError) HTTPStatusCode() int { return e.Status }

// RetryDo calls fn until it succeeds, returns a non-retryable error, or attempts run out.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := cfg.MinDelay

	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !IsRetryable(err) || i == attempts-1 {
			break
		}

		slog.Debug("provider.retry", "attempt", i+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return zero, lastErr
}

// IsRetryable reports whether err looks like a rate limit, timeout or 5xx.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se HTTPStatusError
	if errors.As(err, &se) {
		code := se.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "throttl"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
