package unifiedllm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func serverError() error {
	return &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "server error"}, Retryable: true}}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{40, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicyDelayJitterRange(t *testing.T) {
	p := DefaultRetryPolicy()
	for i := 0; i < 100; i++ {
		d := p.Delay(0)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 1500*time.Millisecond)
	}
}

func TestRetry(t *testing.T) {
	auth := &AuthenticationError{ProviderError: ProviderError{SDKError: SDKError{Message: "invalid key"}}}

	tests := []struct {
		name      string
		policy    RetryPolicy
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{name: "first call succeeds", policy: fastPolicy(2), wantCalls: 1},
		{name: "succeeds after retries", policy: fastPolicy(3), failures: 2, err: serverError(), wantCalls: 3},
		{name: "exhausted", policy: fastPolicy(2), failures: 10, err: serverError(), wantCalls: 3, wantErr: true},
		{name: "not retryable", policy: fastPolicy(3), failures: 10, err: auth, wantCalls: 1, wantErr: true},
		{
			name: "custom predicate",
			policy: func() RetryPolicy {
				p := fastPolicy(3)
				p.ShouldRetry = func(error) bool { return true }
				return p
			}(),
			failures: 1, err: errors.New("plain"), wantCalls: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := Retry(context.Background(), tt.policy, func(context.Context) (string, error) {
				calls++
				if calls <= tt.failures {
					return "", tt.err
				}
				return "ok", nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", got)
		})
	}
}

func TestRetryCancelledWhileWaiting(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := Retry(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, serverError()
	})
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestRetryAfterBeyondMaxDelayGivesUp(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 1}
	after := 30.0

	calls := 0
	_, err := Retry(context.Background(), p, func(context.Context) (string, error) {
		calls++
		return "", &RateLimitError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "slow down"}, Retryable: true, RetryAfter: &after,
		}}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryOnRetryCallback(t *testing.T) {
	var attempts []int
	p := fastPolicy(2)
	p.OnRetry = func(_ error, attempt int, _ time.Duration) {
		attempts = append(attempts, attempt)
	}

	_, _ = Retry(context.Background(), p, func(context.Context) (int, error) {
		return 0, &NetworkError{SDKError: SDKError{Message: "reset"}}
	})
	assert.Equal(t, []int{1, 2}, attempts)
}
