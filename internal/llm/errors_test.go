package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"typed transient", &TransientError{StatusCode: 429, Err: errors.New("throttled")}, true},
		{"typed permanent", &PermanentError{StatusCode: 401, Err: errors.New("bad key")}, false},
		{"wrapped transient", fmt.Errorf("call failed: %w", &TransientError{Err: errors.New("reset")}), true},
		{"wrapped permanent", fmt.Errorf("call failed: %w", &PermanentError{Err: errors.New("invalid")}), false},
		{"rate limit message", errors.New("429 Too Many Requests"), true},
		{"server error message", errors.New("upstream returned 503 service unavailable"), true},
		{"timeout message", errors.New("request timeout exceeded"), true},
		{"plain validation error", errors.New("model name is invalid"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	base := errors.New("boom")

	var te *TransientError
	require.ErrorAs(t, classifyStatus(429, base), &te)
	assert.Equal(t, 429, te.StatusCode)

	require.ErrorAs(t, classifyStatus(500, base), &te)
	require.ErrorAs(t, classifyStatus(503, base), &te)

	var pe *PermanentError
	require.ErrorAs(t, classifyStatus(400, base), &pe)
	require.ErrorAs(t, classifyStatus(401, base), &pe)
	assert.Equal(t, 401, pe.StatusCode)
}

func TestCallWithRetry(t *testing.T) {
	fastPolicy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		err := CallWithRetry(context.Background(), fastPolicy, func() error {
			attempts++
			if attempts < 3 {
				return &TransientError{StatusCode: 429, Err: errors.New("throttled")}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("permanent error returns immediately", func(t *testing.T) {
		attempts := 0
		err := CallWithRetry(context.Background(), fastPolicy, func() error {
			attempts++
			return &PermanentError{StatusCode: 401, Err: errors.New("bad key")}
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("budget exhaustion keeps last error", func(t *testing.T) {
		attempts := 0
		err := CallWithRetry(context.Background(), fastPolicy, func() error {
			attempts++
			return &TransientError{StatusCode: 503, Err: errors.New("overloaded")}
		})
		require.Error(t, err)
		assert.Equal(t, fastPolicy.MaxAttempts, attempts)
		var te *TransientError
		assert.ErrorAs(t, err, &te)
	})

	t.Run("cancelled context stops the backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := CallWithRetry(ctx, fastPolicy, func() error {
			return &TransientError{Err: errors.New("throttled")}
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
}
