package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIndexFolder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.md"), "kernel notes")
	writeFile(t, filepath.Join(root, "sub", "plan.txt"), "the plan")
	writeFile(t, filepath.Join(root, "big.txt"), strings.Repeat("x", 64))
	writeFile(t, filepath.Join(root, "blob.bin"), string([]byte{0xff, 0xfe, 0x00}))

	ix := NewIndex(WithMaxFileBytes(32))
	stats, err := ix.IndexFolder(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.FilesSeen)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 2, ix.Len())
	assert.Equal(t, root, ix.Root())
}

func TestIndexFolderMissing(t *testing.T) {
	ix := NewIndex()
	_, err := ix.IndexFolder(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrDirectoryNotFound)
}

func TestIndexFolderReplacesPreviousContents(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(a, "a.txt"), "alpha")
	writeFile(t, filepath.Join(b, "b.txt"), "beta")

	ix := NewIndex()
	_, err := ix.IndexFolder(context.Background(), a)
	require.NoError(t, err)
	_, err = ix.IndexFolder(context.Background(), b)
	require.NoError(t, err)

	hits, err := ix.Search("alpha", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchScoring(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "kernel.go"), "package kernel") // 1 + 2*1
	writeFile(t, filepath.Join(root, "doc.txt"), "kernel kernel kernel kernel")
	writeFile(t, filepath.Join(root, "other.txt"), "nothing here")

	ix := NewIndex()
	_, err := ix.IndexFolder(context.Background(), root)
	require.NoError(t, err)

	hits, err := ix.Search("Kernel", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, filepath.Join(root, "doc.txt"), hits[0].Path)
	assert.Equal(t, 4, hits[0].Score)
	assert.Equal(t, 3, hits[1].Score)
}

func TestSearchLimitAndSnippet(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 7; i++ {
		writeFile(t, filepath.Join(root, string(rune('a'+i))+".txt"), "match "+strings.Repeat("y", 500))
	}
	ix := NewIndex()
	_, err := ix.IndexFolder(context.Background(), root)
	require.NoError(t, err)

	hits, err := ix.Search("match", 0)
	require.NoError(t, err)
	assert.Len(t, hits, DefaultSearchLimit)
	assert.Len(t, hits[0].Snippet, 400)
}

func TestSearchErrors(t *testing.T) {
	ix := NewIndex()
	_, err := ix.Search("   ", 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)
	_, err = ix.Search("x", 5)
	assert.ErrorIs(t, err, ErrIndexEmpty)
}

func TestRefreshAndRemove(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "old words")

	ix := NewIndex()
	_, err := ix.IndexFolder(context.Background(), root)
	require.NoError(t, err)

	writeFile(t, path, "fresh words")
	ix.Refresh(path)
	hits, err := ix.Search("fresh", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	added := filepath.Join(root, "b.txt")
	writeFile(t, added, "fresh too")
	ix.Refresh(added)
	assert.Equal(t, 2, ix.Len())

	ix.Refresh(filepath.Join(t.TempDir(), "outside.txt"))
	assert.Equal(t, 2, ix.Len())

	ix.Remove(path)
	assert.Equal(t, 1, ix.Len())
}
