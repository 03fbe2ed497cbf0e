package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CompleteFunc performs one completion.
type CompleteFunc func(ctx context.Context, req Request) (*Response, error)

// Middleware wraps the completion chain. The first middleware added runs
// outermost.
type Middleware func(ctx context.Context, req Request, next CompleteFunc) (*Response, error)

// Client sends completions to named provider adapters. A client is built
// once and is read-only afterwards, so it is safe for concurrent use.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers adapter under name. The first provider registered
// becomes the default unless WithDefaultProvider says otherwise.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
		if c.defaultProvider == "" {
			c.defaultProvider = name
		}
	}
}

// WithDefaultProvider picks the provider used when a request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware appends middleware to the chain.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{providers: make(map[string]ProviderAdapter)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) adapter(name string) (ProviderAdapter, error) {
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "no provider configured"}}
	}
	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{Message: fmt.Sprintf("provider %q is not registered", name)}}
	}
	return adapter, nil
}

// Complete runs req through the middleware chain and the resolved adapter.
// req.Provider is filled in before any middleware sees it.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.adapter(req.Provider)
	if err != nil {
		return nil, err
	}
	req.Provider = adapter.Name()

	call := CompleteFunc(adapter.Complete)
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw, next := c.middleware[i], call
		call = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}
	return call(ctx, req)
}

// Close closes every adapter that holds resources.
func (c *Client) Close() error {
	var errs []error
	for name, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// LoggingMiddleware logs each completion with provider, model, latency and
// output tokens. Failures log at warn with their retry classification.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req Request, next CompleteFunc) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []zap.Field{
			zap.String("provider", req.Provider),
			zap.String("model", req.Model),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			logger.Warn("completion failed", append(fields, zap.Error(err), zap.Bool("retryable", IsRetryable(err)))...)
			return nil, err
		}
		logger.Debug("completion", append(fields,
			zap.String("response_id", resp.ID),
			zap.Int("output_tokens", resp.Usage.OutputTokens),
			zap.Bool("estimated", resp.Usage.Estimated),
		)...)
		return resp, nil
	}
}
