// Package search provides the web search backend behind the search_web
// action. Providers implement [Provider]; the only built-in one scrapes the
// DuckDuckGo HTML endpoint.
package search

import "context"

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results. Zero means provider default.
	Count int `json:"count,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}
