package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		want      any
		retryable bool
	}{
		{400, &InvalidRequestError{}, false},
		{401, &AuthenticationError{}, false},
		{403, &AuthenticationError{}, false},
		{404, &InvalidRequestError{}, false},
		{408, &RequestTimeoutError{}, true},
		{413, &ContextLengthError{}, false},
		{422, &InvalidRequestError{}, false},
		{429, &RateLimitError{}, true},
		{500, &ServerError{}, true},
		{502, &ServerError{}, true},
		{503, &ServerError{}, true},
		{504, &ServerError{}, true},
		{599, &ProviderError{}, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := ErrorFromStatusCode(tt.status, "test error", "openai", nil)
			assert.IsType(t, tt.want, err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"auth error", &AuthenticationError{}, false},
		{"invalid request", &InvalidRequestError{}, false},
		{"context length", &ContextLengthError{}, false},
		{"config error", &ConfigurationError{}, false},
		{"abort", &AbortError{}, false},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("generate: %w", context.DeadlineExceeded), false},
		{"rate limit", &RateLimitError{ProviderError: ProviderError{Retryable: true}}, true},
		{"server error", &ServerError{ProviderError: ProviderError{Retryable: true}}, true},
		{"network error", &NetworkError{}, true},
		{"timeout error", &RequestTimeoutError{}, true},
		{"wrapped auth", fmt.Errorf("decide: %w", &AuthenticationError{}), false},
		{"wrapped network", fmt.Errorf("decide: %w", &NetworkError{}), true},
		{"plain provider", &ProviderError{Retryable: false}, false},
		{"unknown error", errors.New("unknown"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestSDKErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &SDKError{Message: "wrapper", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "wrapper: root cause", err.Error())
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{
		SDKError:   SDKError{Message: "rate limit exceeded"},
		Provider:   "openai",
		StatusCode: 429,
		Retryable:  true,
	}
	assert.Contains(t, err.Error(), "openai")
	assert.Contains(t, err.Error(), "rate limit")
}
