// Package retry runs remote calls with exponential backoff on rate-limit responses.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 5 * time.Second
	DefaultMaxDelay    = 120 * time.Second
)

// RateLimitError is returned by adapters when the remote service answered
// with HTTP 429. RetryAfter is the server-suggested wait, zero when absent.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("rate limited (status %d)", e.StatusCode)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err carries a RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// Policy configures Do. MaxAttempts counts calls, not retries.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *slog.Logger

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	return p
}

// Backoff returns the wait before the retry that follows the given zero-based
// failed attempt.
func (p Policy) Backoff(attempt int, suggested time.Duration) time.Duration {
	p = p.withDefaults()
	if suggested > 0 {
		return min(suggested, p.MaxDelay)
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(delay, p.MaxDelay)
}

// Do calls op until it succeeds, fails with something other than a
// RateLimitError, or the policy runs out of attempts. The last error is
// returned as is.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		var rl *RateLimitError
		if !errors.As(err, &rl) || attempt+1 >= p.MaxAttempts {
			return v, err
		}

		delay := p.Backoff(attempt, rl.RetryAfter)
		p.Logger.Warn("Rate limit hit, retrying",
			"delay", delay,
			"attempt", attempt+1,
			"max_attempts", p.MaxAttempts,
		)

		if err := p.sleep(ctx, delay); err != nil {
			var zero T
			return zero, err
		}
	}
}

// StatusError builds a RateLimitError for a 429 response and a plain error
// otherwise. Adapters use it so callers never inspect status codes.
func StatusError(resp *http.Response, body string, retryAfter time.Duration) error {
	err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{StatusCode: resp.StatusCode, RetryAfter: retryAfter, Err: err}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
