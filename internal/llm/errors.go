package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// TransientError marks a call failure that is worth retrying: rate limits,
// 5xx responses, network timeouts. The runner's retry policy branches on it.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient call error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient call error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a call failure that retrying cannot fix, such as an
// invalid request or a missing API key. The trajectory is failed immediately.
type PermanentError struct {
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("permanent call error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("permanent call error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	// Raw network errors from the transport are retryable.
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return looksTransient(err)
}

// looksTransient classifies errors from SDKs that only expose message text.
func looksTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "server_error", "overloaded",
		"connection reset", "timeout", "temporarily unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classifyStatus wraps an HTTP-level failure in the right taxonomy bucket.
func classifyStatus(status int, err error) error {
	if status == 429 || status >= 500 {
		return &TransientError{StatusCode: status, Err: err}
	}
	return &PermanentError{StatusCode: status, Err: err}
}

// RetryPolicy bounds the exponential backoff applied to transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the provider throttling behavior we see in
// practice: 4 attempts with 1s/2s/4s backoff, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// CallWithRetry runs fn under the policy, sleeping with exponential backoff
// between transient failures. Permanent errors and context cancellation
// return immediately.
func CallWithRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.BaseDelay << uint(attempt-1)
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("retry budget exhausted after %d attempts: %w", policy.MaxAttempts, lastErr)
}
