// Package unifiedllm is the text-generation client the agent loop uses as
// its decision source. It wraps the gollm library
// (github.com/teilomillet/gollm) behind a small provider-agnostic surface.
//
// # Architecture
//
//   - ProviderAdapter: one backend (gollm, or a test double).
//   - Client: routes requests to a named provider and applies middleware.
//   - Retry: exponential backoff driven by the error taxonomy in errors.go.
//
// There is no process-wide default client. Callers construct a Client once
// and pass it to whatever needs it.
//
// # Quick Start
//
//	adapter, _ := unifiedllm.NewGollmAdapter("openai", os.Getenv("OPENAI_API_KEY"))
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("openai", adapter),
//	    unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger)),
//	)
//
//	resp, _ := client.Complete(ctx, unifiedllm.Request{
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	fmt.Println(resp.Text())
package unifiedllm
