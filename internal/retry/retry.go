// Package retry implements the single retry wrapper called for in the
// design notes: one policy object instead of ad-hoc backoff scattered at
// call sites. The embedding and LLM gateways retry their upstream calls
// through Do; the vector store, document loader and external agent sources
// do not retry.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrExhausted is returned when all attempts of a retryable error are spent.
var ErrExhausted = errors.New("upstream unavailable: retries exhausted")

// Policy describes a fixed backoff schedule with a ceiling.
type Policy struct {
	Attempts int
	Delays   []time.Duration
	MaxDelay time.Duration
}

// DefaultPolicy mirrors the 500ms/1000ms/2000ms schedule capped at 4s that
// the embedding and LLM gateways retry transient upstream errors with.
var DefaultPolicy = Policy{
	Attempts: 4,
	Delays:   []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond, 2000 * time.Millisecond},
	MaxDelay: 4 * time.Second,
}

// Retryable reports whether err looks like a transient upstream condition:
// rate limiting, quota exhaustion, a timeout, or a 429/503 status embedded
// in the error text (other 5xx codes are not matched). Adapters wrap provider-specific errors so this string match
// stays provider-agnostic.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "UNAVAILABLE") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timeout")
}

// RetryableStatus reports whether an HTTP status code warrants a retry.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// Do executes fn, retrying under p's schedule while Retryable(err) holds.
// The first attempt is free; p.Delays supplies the backoff before each
// subsequent attempt, capped at p.MaxDelay; no jitter is added.
func Do[T any](ctx context.Context, operation string, p Policy, fn func() (T, error)) (T, error) {
	result, err := fn()
	if err == nil || !Retryable(err) {
		return result, err
	}

	for i, delay := range p.Delays {
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}

		slog.Warn("retrying upstream call",
			"operation", operation,
			"attempt", i+2,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("%s: context cancelled during retry: %w", operation, ctx.Err())
		case <-time.After(delay):
		}

		result, err = fn()
		if err == nil {
			slog.Info("retry succeeded", "operation", operation, "attempt", i+2)
			return result, nil
		}
		if !Retryable(err) {
			return result, err
		}
	}

	slog.Error("retries exhausted", "operation", operation, "attempts", len(p.Delays)+1)
	var zero T
	return zero, fmt.Errorf("%s: %w", operation, ErrExhausted)
}
