// Package knowledge keeps an in-memory text index of a folder for the
// index_folder and kg_search actions.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	// DefaultMaxFileBytes skips larger files while indexing.
	DefaultMaxFileBytes = 200_000
	// DefaultSearchLimit is the number of hits Search returns.
	DefaultSearchLimit = 5

	snippetChars = 400
)

var (
	ErrEmptyQuery        = errors.New("empty_query")
	ErrIndexEmpty        = errors.New("index_empty")
	ErrDirectoryNotFound = errors.New("directory not found")
)

// Stats summarizes an indexing run.
type Stats struct {
	Root         string `json:"root"`
	FilesSeen    int    `json:"files_seen"`
	FilesIndexed int    `json:"files_indexed"`
}

// Hit is one search result.
type Hit struct {
	Path    string `json:"path"`
	Snippet string `json:"snippet"`
	Score   int    `json:"score"`
}

// Index is a replace-on-reindex document store. Safe for concurrent use.
type Index struct {
	mu           sync.RWMutex
	docs         map[string]string
	order        []string
	root         string
	maxFileBytes int64
	logger       *zap.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithMaxFileBytes sets the per-file size limit.
func WithMaxFileBytes(n int64) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.maxFileBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// NewIndex creates an empty index.
func NewIndex(opts ...Option) *Index {
	ix := &Index{
		docs:         make(map[string]string),
		maxFileBytes: DefaultMaxFileBytes,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// IndexFolder walks root and replaces the index contents with every
// readable UTF-8 file no larger than the size limit.
func (ix *Index) IndexFolder(ctx context.Context, root string) (Stats, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return Stats{}, fmt.Errorf("%w: %s", ErrDirectoryNotFound, root)
	}

	stats := Stats{Root: root}
	docs := make(map[string]string)
	var order []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if walkErr != nil || d.IsDir() {
			return nil
		}
		stats.FilesSeen++
		content, ok := ix.readDocument(path)
		if !ok {
			return nil
		}
		docs[path] = content
		order = append(order, path)
		stats.FilesIndexed++
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("index %s: %w", root, err)
	}

	ix.mu.Lock()
	ix.docs = docs
	ix.order = order
	ix.root = root
	ix.mu.Unlock()

	ix.logger.Info("folder indexed",
		zap.String("root", root),
		zap.Int("files_seen", stats.FilesSeen),
		zap.Int("files_indexed", stats.FilesIndexed))
	return stats, nil
}

func (ix *Index) readDocument(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > ix.maxFileBytes {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil || !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

// Refresh re-reads a single file under the indexed root. Files that became
// unreadable or too large are dropped.
func (ix *Index) Refresh(path string) {
	content, ok := ix.readDocument(path)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.root == "" || !within(ix.root, path) {
		return
	}
	_, existed := ix.docs[path]
	switch {
	case ok && existed:
		ix.docs[path] = content
	case ok:
		ix.docs[path] = content
		ix.order = append(ix.order, path)
	case existed:
		ix.removeLocked(path)
	}
}

// Remove drops path from the index.
func (ix *Index) Remove(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(path)
}

func (ix *Index) removeLocked(path string) {
	if _, ok := ix.docs[path]; !ok {
		return
	}
	delete(ix.docs, path)
	for i, p := range ix.order {
		if p == path {
			ix.order = append(ix.order[:i], ix.order[i+1:]...)
			break
		}
	}
}

// Root returns the currently indexed folder.
func (ix *Index) Root() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.root
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Search scores each document by token occurrences in its content plus
// twice the occurrences in its base name, and returns the best limit hits.
func (ix *Index) Search(query string, limit int) ([]Hit, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.docs) == 0 {
		return nil, ErrIndexEmpty
	}

	hits := []Hit{}
	for _, path := range ix.order {
		content := ix.docs[path]
		text := strings.ToLower(content)
		name := strings.ToLower(filepath.Base(path))
		score := 0
		for _, t := range tokens {
			score += strings.Count(text, t)
			score += strings.Count(name, t) * 2
		}
		if score > 0 {
			hits = append(hits, Hit{Path: path, Snippet: snippet(content), Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func snippet(content string) string {
	r := []rune(content)
	if len(r) <= snippetChars {
		return content
	}
	return string(r[:snippetChars])
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
