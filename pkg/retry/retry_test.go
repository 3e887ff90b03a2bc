package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPolicy returns a policy whose sleeps are recorded instead of waited.
func recordingPolicy(delays *[]time.Duration) Policy {
	p := DefaultPolicy()
	p.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return p
}

func failingOp(failures int, errFor func(int) error) (func(context.Context) (string, error), *int) {
	calls := 0
	return func(context.Context) (string, error) {
		calls++
		if calls <= failures {
			return "", errFor(calls)
		}
		return "ok", nil
	}, &calls
}

func TestDo_SucceedsAfterRateLimits(t *testing.T) {
	for k := 0; k < DefaultMaxAttempts; k++ {
		var delays []time.Duration
		op, calls := failingOp(k, func(int) error {
			return &RateLimitError{StatusCode: 429}
		})

		got, err := Do(context.Background(), recordingPolicy(&delays), op)
		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, "ok", got)
		assert.Equal(t, k+1, *calls)
		require.Len(t, delays, k)

		for i := 1; i < len(delays); i++ {
			assert.GreaterOrEqual(t, delays[i], delays[i-1])
		}
		for _, d := range delays {
			assert.LessOrEqual(t, d, DefaultMaxDelay)
		}
	}
}

func TestDo_ExhaustedReturnsLastErrorUnchanged(t *testing.T) {
	var delays []time.Duration
	var last error
	op, calls := failingOp(100, func(n int) error {
		last = &RateLimitError{StatusCode: 429, Err: errors.New("attempt")}
		return last
	})

	_, err := Do(context.Background(), recordingPolicy(&delays), op)
	require.Error(t, err)
	assert.Same(t, last, err)
	assert.Equal(t, DefaultMaxAttempts, *calls)
	assert.Len(t, delays, DefaultMaxAttempts-1)
}

func TestDo_NonRateLimitErrorIsNotRetried(t *testing.T) {
	var delays []time.Duration
	boom := errors.New("boom")
	op, calls := failingOp(3, func(int) error { return boom })

	_, err := Do(context.Background(), recordingPolicy(&delays), op)
	assert.Same(t, boom, err)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, delays)
}

func TestDo_UsesSuggestedWaitCapped(t *testing.T) {
	var delays []time.Duration
	waits := []time.Duration{7 * time.Second, 10 * time.Minute}
	op, _ := failingOp(2, func(n int) error {
		return &RateLimitError{StatusCode: 429, RetryAfter: waits[n-1]}
	})

	_, err := Do(context.Background(), recordingPolicy(&delays), op)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second, DefaultMaxDelay}, delays)
}

func TestDo_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	op, calls := failingOp(5, func(int) error { return &RateLimitError{StatusCode: 429} })

	_, err := Do(ctx, p, op)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, *calls)
}

func TestPolicy_Backoff(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		attempt   int
		suggested time.Duration
		want      time.Duration
	}{
		{0, 0, 5 * time.Second},
		{1, 0, 10 * time.Second},
		{2, 0, 20 * time.Second},
		{4, 0, 80 * time.Second},
		{5, 0, 120 * time.Second},
		{30, 0, 120 * time.Second},
		{0, 3 * time.Second, 3 * time.Second},
		{0, 5 * time.Minute, 120 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.attempt, tt.suggested), "attempt=%d suggested=%s", tt.attempt, tt.suggested)
	}
}

func TestIsRateLimited(t *testing.T) {
	wrapped := errors.Join(errors.New("search failed"), &RateLimitError{StatusCode: 429})
	assert.True(t, IsRateLimited(wrapped))
	assert.False(t, IsRateLimited(errors.New("plain")))
}
