package unifiedllm

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy is exponential backoff for retryable provider errors.
type RetryPolicy struct {
	MaxRetries int // not counting the first call
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool // scales each delay by a factor in [0.5, 1.5)

	// ShouldRetry overrides IsRetryable when set.
	ShouldRetry func(err error) bool
	OnRetry     func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy retries twice starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Delay returns the wait before retry n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay)
	for i := 0; i < attempt && delay < float64(p.MaxDelay); i++ {
		delay *= p.Multiplier
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

func (p RetryPolicy) retryable(err error) bool {
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err)
	}
	return IsRetryable(err)
}

// retryAfter reports a server-requested delay from a rate limit error.
func retryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter == nil {
		return 0, false
	}
	return time.Duration(*rl.RetryAfter * float64(time.Second)), true
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// policy runs out of attempts. A Retry-After longer than MaxDelay ends the
// retries immediately.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= policy.MaxRetries || !policy.retryable(err) {
			return zero, err
		}

		delay := policy.Delay(attempt)
		if after, ok := retryAfter(err); ok {
			if policy.MaxDelay > 0 && after > policy.MaxDelay {
				return zero, err
			}
			delay = after
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-timer.C:
		}
	}
}
