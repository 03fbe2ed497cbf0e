package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsPage = `<html><body>
<div class="results">
  <div class="result results_links web-result">
    <div class="links_main links_deep result__body">
      <h2 class="result__title"><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F&rut=x">The Go <b>Programming</b> Language</a></h2>
      <a class="result__snippet" href="#">Go is an open source   programming language.</a>
    </div>
  </div>
  <div class="result">
    <div class="result__body">
      <h2 class="result__title"><a class="result__a" href="https://pkg.go.dev/">Go Packages</a></h2>
      <a class="result__snippet">Discover packages.</a>
    </div>
  </div>
  <div class="result">
    <div class="result__body">
      <h2 class="result__title">Title without snippet</h2>
    </div>
  </div>
</div>
</body></html>`

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *string) {
	t.Helper()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &gotQuery
}

func TestDuckDuckGoSearch(t *testing.T) {
	srv, gotQuery := newTestServer(t, http.StatusOK, resultsPage)
	ddg := NewDuckDuckGo(WithEndpoint(srv.URL))

	results, err := ddg.Search(context.Background(), "golang tutorial", Options{})
	require.NoError(t, err)
	assert.Equal(t, "golang tutorial", *gotQuery)
	require.Len(t, results, 2)
	assert.Equal(t, "The Go Programming Language", results[0].Title)
	assert.Equal(t, "Go is an open source programming language.", results[0].Snippet)
	assert.Equal(t, "https://go.dev/", results[0].URL)
	assert.Equal(t, "https://pkg.go.dev/", results[1].URL)
}

func TestDuckDuckGoSearchLimit(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, resultsPage)
	ddg := NewDuckDuckGo(WithEndpoint(srv.URL))

	results, err := ddg.Search(context.Background(), "go", Options{Count: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDuckDuckGoHTTPError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusServiceUnavailable, "busy")
	ddg := NewDuckDuckGo(WithEndpoint(srv.URL))

	_, err := ddg.Search(context.Background(), "go", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestDuckDuckGoEmptyQuery(t *testing.T) {
	ddg := NewDuckDuckGo()
	_, err := ddg.Search(context.Background(), "  ", Options{})
	assert.Error(t, err)
}

func TestResolveResultURL(t *testing.T) {
	tests := []struct {
		href, want string
	}{
		{"", ""},
		{"https://example.com/a", "https://example.com/a"},
		{"//example.com/b", "https://example.com/b"},
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fc", "https://example.com/c"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveResultURL(tt.href), tt.href)
	}
}
