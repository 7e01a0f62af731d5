package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/plevy/pkg/content"
	contenttesting "github.com/marmos91/plevy/pkg/content/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, base string, items map[content.Ref][]byte) {
	t.Helper()
	for ref, data := range items {
		path := filepath.Join(base, ref.String())
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
}

// TestFSContentSource runs the complete Source test suite against the
// FSContentSource implementation.
func TestFSContentSource(t *testing.T) {
	suite := &contenttesting.SourceTestSuite{
		NewSource: func(t *testing.T, items map[content.Ref][]byte) content.Source {
			base := t.TempDir()
			seed(t, base, items)

			// A tiny cache forces evictions while the concurrency test runs.
			src, err := NewFSContentSource(context.Background(), FSContentSourceConfig{
				Path:        base,
				FDCacheSize: 1,
			})
			if err != nil {
				t.Fatalf("Failed to create FSContentSource: %v", err)
			}
			return src
		},
	}

	suite.Run(t)
}

func TestNewFSContentSourceMissingDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")

	_, err := NewFSContentSource(context.Background(), FSContentSourceConfig{Path: missing})
	assert.Error(t, err)

	src, err := NewFSContentSource(context.Background(), FSContentSourceConfig{Path: missing, Create: true})
	require.NoError(t, err)
	assert.NoError(t, src.Close())
}

func TestFDCacheReusesOpenFiles(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "f")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	cache, err := NewFDCache(4)
	require.NoError(t, err)
	defer cache.Close()

	f1, release1, err := cache.Acquire(path)
	require.NoError(t, err)
	f2, release2, err := cache.Acquire(path)
	require.NoError(t, err)

	assert.Same(t, f1, f2)
	assert.Equal(t, 1, cache.Len())
	release1()
	release2()
}

func TestFDCacheEvictionWaitsForReaders(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a")
	b := filepath.Join(base, "b")
	require.NoError(t, os.WriteFile(a, []byte("aaaa"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("bbbb"), 0o644))

	cache, err := NewFDCache(1)
	require.NoError(t, err)
	defer cache.Close()

	fa, releaseA, err := cache.Acquire(a)
	require.NoError(t, err)

	// Evicts a while it is still held.
	_, releaseB, err := cache.Acquire(b)
	require.NoError(t, err)
	defer releaseB()

	buf := make([]byte, 4)
	_, err = fa.ReadAt(buf, 0)
	require.NoError(t, err, "evicted file must stay open until released")
	assert.Equal(t, "aaaa", string(buf))

	releaseA()
	_, err = fa.ReadAt(buf, 0)
	assert.Error(t, err, "file must be closed after the last release")
}
