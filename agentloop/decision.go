package agentloop

import (
	"context"
	"fmt"
	"time"

	"github.com/martinemde/aethel/unifiedllm"
	"go.uber.org/zap"
)

// DecisionSource proposes the next action as raw text, given the current
// state and the description of the available actions.
type DecisionSource interface {
	Propose(ctx context.Context, state *SessionState, schema string) (string, error)
}

// DecisionFunc adapts a function to DecisionSource.
type DecisionFunc func(ctx context.Context, state *SessionState, schema string) (string, error)

func (f DecisionFunc) Propose(ctx context.Context, state *SessionState, schema string) (string, error) {
	return f(ctx, state, schema)
}

// LLMDecisionSource asks a text-generation client for the next action.
type LLMDecisionSource struct {
	client      *unifiedllm.Client
	provider    string
	model       string
	maxTokens   int
	temperature *float64
	retry       unifiedllm.RetryPolicy
	logger      *zap.Logger
}

// LLMDecisionOption configures an LLMDecisionSource.
type LLMDecisionOption func(*LLMDecisionSource)

// WithDecisionModel selects the provider and model per request.
func WithDecisionModel(provider, model string) LLMDecisionOption {
	return func(d *LLMDecisionSource) {
		d.provider = provider
		d.model = model
	}
}

// WithDecisionMaxTokens caps the generated length.
func WithDecisionMaxTokens(n int) LLMDecisionOption {
	return func(d *LLMDecisionSource) {
		d.maxTokens = n
	}
}

// WithDecisionTemperature sets the sampling temperature.
func WithDecisionTemperature(t float64) LLMDecisionOption {
	return func(d *LLMDecisionSource) {
		d.temperature = &t
	}
}

// WithDecisionRetry sets the retry policy for failed completions.
func WithDecisionRetry(policy unifiedllm.RetryPolicy) LLMDecisionOption {
	return func(d *LLMDecisionSource) {
		d.retry = policy
	}
}

// WithDecisionLogger sets the logger.
func WithDecisionLogger(logger *zap.Logger) LLMDecisionOption {
	return func(d *LLMDecisionSource) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewLLMDecisionSource creates a decision source over client.
func NewLLMDecisionSource(client *unifiedllm.Client, opts ...LLMDecisionOption) *LLMDecisionSource {
	d := &LLMDecisionSource{
		client:    client,
		maxTokens: 128,
		retry:     unifiedllm.DefaultRetryPolicy(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Propose sends one decision prompt and returns the first function-call
// block of the reply (or the whole trimmed reply when there is none).
func (d *LLMDecisionSource) Propose(ctx context.Context, state *SessionState, schema string) (string, error) {
	req := unifiedllm.Request{
		Provider: d.provider,
		Model:    d.model,
		Messages: []unifiedllm.Message{
			unifiedllm.SystemMessage(SystemPrompt),
			unifiedllm.UserMessage(BuildDecisionPrompt(state, schema)),
		},
		Temperature: d.temperature,
		Metadata:    map[string]string{"session_id": state.Meta.SessionID},
	}
	if d.maxTokens > 0 {
		req.MaxTokens = &d.maxTokens
	}

	policy := d.retry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		d.logger.Warn("decision request failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	resp, err := unifiedllm.Retry(ctx, policy, func(ctx context.Context) (*unifiedllm.Response, error) {
		return d.client.Complete(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("decision source: %w", err)
	}
	return FirstFunctionBlock(resp.Text()), nil
}
