// Package retry applies exponential backoff with jitter to provider
// transport errors (spec §7's provider_transport policy), external to the
// engine core per spec §5 ("the retry utility... applies exponential
// backoff with jitter at the HTTP layer").
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Policy configures retry behavior for one operation.
type Policy struct {
	MaxRetries int
	MaxElapsed time.Duration
}

// DefaultPolicy mirrors the teacher's fixed-attempt provider retry budget.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, MaxElapsed: 30 * time.Second}
}

// Retryable reports whether err is a transient provider_transport error
// (5xx, 429, timeout, or connection reset) eligible for retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"429", "connection reset", "EOF", "500", "502", "503", "504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Do runs fn, retrying with exponential backoff and jitter while Retryable
// reports true and the policy budget is not exhausted. fn's result type is
// generic so callers needing a value back (e.g. an *http.Response from a
// dial attempt) don't need a side-channel variable.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !Retryable(err) {
			return v, backoff.Permanent(err)
		}
		log.Warn().Str("op", op).Int("attempt", attempt).Err(err).Msg("retrying after transient provider error")
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(maxTries(p))),
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}
	return backoff.Retry(ctx, operation, opts...)
}

func maxTries(p Policy) int {
	if p.MaxRetries <= 0 {
		return DefaultPolicy().MaxRetries + 1
	}
	return p.MaxRetries + 1
}

// StatusRetryable reports whether an HTTP status code should be retried.
func StatusRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
