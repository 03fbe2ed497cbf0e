package unifiedllm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-sonnet-4-5",
	"ollama":    "llama3.1",
	"groq":      "llama-3.1-8b-instant",
	"mistral":   "mistral-small-latest",
}

// DefaultModel returns the model used for provider when none is configured.
func DefaultModel(provider string) string {
	if m, ok := defaultModels[provider]; ok {
		return m
	}
	return defaultModels["openai"]
}

// GollmAdapter serves completions through a gollm.LLM. gollm keeps request
// options on the LLM itself, so calls are serialized.
type GollmAdapter struct {
	provider string
	model    string

	mu        sync.Mutex
	generate  func(ctx context.Context, prompt *gollm.Prompt) (string, error)
	setOption func(key string, value any)
}

// GollmAdapterOption configures NewGollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.apiKey = key }
}

func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.model = model }
}

func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.maxTokens = n }
}

func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.temperature = t }
}

// WithGollmOptions passes extra options straight to gollm.NewLLM.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// NewGollmAdapter builds an adapter for provider. An empty apiKey lets gollm
// fall back to its provider environment variables, which is what local
// ollama needs.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{apiKey: apiKey, maxTokens: 128, temperature: 0.2}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.model == "" {
		cfg.model = DefaultModel(provider)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(cfg.model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // Retry owns backoff
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("create gollm LLM for provider %s", provider),
			Cause:   err,
		}}
	}
	a := NewGollmAdapterFromLLM(provider, llm)
	a.model = cfg.model
	return a, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		generate: func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
			return llm.Generate(ctx, prompt)
		},
		setOption: func(key string, value any) {
			llm.SetOption(key, value)
		},
	}
}

func (a *GollmAdapter) Name() string { return a.provider }

func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := toPrompt(req)

	a.mu.Lock()
	a.applyOptions(req)
	text, err := a.generate(ctx, prompt)
	a.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return nil, &AbortError{SDKError: SDKError{Message: "generation cancelled", Cause: ctx.Err()}}
		}
		return nil, a.translateError(err)
	}

	model := req.Model
	if model == "" {
		model = a.model
	}
	in, out := estimateTokens(req), len(text)/4
	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      AssistantMessage(text),
		FinishReason: FinishReason{Reason: "stop", Raw: "stop"},
		// gollm does not report usage.
		Usage: Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out, Estimated: true},
	}, nil
}

// toPrompt flattens user and assistant turns into the prompt body and lifts
// system messages into the gollm system prompt.
func toPrompt(req Request) *gollm.Prompt {
	var body []string
	for _, msg := range req.Messages {
		text := msg.TextContent()
		switch {
		case msg.Role == RoleUser:
			body = append(body, text)
		case msg.Role == RoleAssistant && text != "":
			body = append(body, "[Assistant]: "+text)
		}
	}
	input := strings.Join(body, "\n")
	if input == "" {
		input = "Hello"
	}

	var opts []gollm.PromptOption
	if system := strings.TrimSpace(req.SystemPrompt()); system != "" {
		opts = append(opts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		opts = append(opts, gollm.WithMaxLength(*req.MaxTokens))
	}
	return gollm.NewPrompt(input, opts...)
}

func (a *GollmAdapter) applyOptions(req Request) {
	if a.setOption == nil {
		return
	}
	if req.Model != "" {
		a.setOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.setOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.setOption("max_tokens", *req.MaxTokens)
	}
	if len(req.StopSequences) > 0 {
		a.setOption("stop", req.StopSequences)
	}
}

// errorRule maps gollm error text to a status code. gollm flattens HTTP
// failures into strings, so substring matching is all there is.
type errorRule struct {
	status  int
	needles []string
}

// Order matters: auth before generic 4xx, context length before 400.
var errorRules = []errorRule{
	{401, []string{"401", "unauthorized", "invalid api key", "403", "forbidden"}},
	{429, []string{"429", "rate limit"}},
	{413, []string{"context length", "too many tokens"}},
	{400, []string{"400", "404", "not found", "invalid request"}},
	{500, []string{"500", "502", "503", "internal server"}},
	{408, []string{"timeout"}},
	{-1, []string{"connection refused", "no such host", "connection reset"}},
}

// translateError classifies a gollm error into the unified hierarchy.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	status := 0
	for _, rule := range errorRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				status = rule.status
				break
			}
		}
		if status != 0 {
			break
		}
	}

	pe := ProviderError{SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: status}
	switch status {
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 400:
		return &InvalidRequestError{ProviderError: pe}
	case 500:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: pe.SDKError}
	case -1:
		return &NetworkError{SDKError: pe.SDKError}
	default:
		pe.Retryable = true
		return &pe
	}
}

// estimateTokens guesses four characters per token.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.TextContent()) / 4
	}
	if total == 0 {
		total = 10
	}
	return total
}
