package testing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/marmos91/plevy/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SourceTestSuite is a contract test suite for content.Source
// implementations. It tests the interface contract, not implementation
// details, making it reusable across implementations (memory, filesystem,
// S3, etc.).
//
// Usage:
//
//	func TestMySource(t *testing.T) {
//	    suite := &contenttesting.SourceTestSuite{
//	        NewSource: func(t *testing.T, items map[content.Ref][]byte) content.Source {
//	            return mysource.New(items)
//	        },
//	    }
//	    suite.Run(t)
//	}
type SourceTestSuite struct {
	// NewSource creates a fresh source holding exactly items.
	NewSource func(t *testing.T, items map[content.Ref][]byte) content.Source
}

var (
	refMovie = content.Ref{SourceID: "abc", Index: 0}
	refShow  = content.Ref{SourceID: "abc", Index: 1}
	refEmpty = content.Ref{SourceID: "empty", Index: 0}
	refGone  = content.Ref{SourceID: "abc", Index: 99}

	movieData = bytes.Repeat([]byte("0123456789"), 100)
)

func (suite *SourceTestSuite) newSource(t *testing.T) content.Source {
	t.Helper()
	src := suite.NewSource(t, map[content.Ref][]byte{
		refMovie: movieData,
		refShow:  []byte("hello world"),
		refEmpty: {},
	})
	t.Cleanup(func() { _ = src.Close() })
	return src
}

// Run executes all tests in the suite.
func (suite *SourceTestSuite) Run(t *testing.T) {
	t.Run("Size", suite.RunSizeTests)
	t.Run("ReadAt", suite.RunReadTests)
	t.Run("Exists", suite.RunExistsTests)
	t.Run("InvalidRefs", suite.RunInvalidRefTests)
	t.Run("Concurrency", suite.RunConcurrencyTests)
}

// RunSizeTests covers Size.
func (suite *SourceTestSuite) RunSizeTests(t *testing.T) {
	src := suite.newSource(t)
	ctx := context.Background()

	size, err := src.Size(ctx, refMovie)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(movieData)), size)

	size, err = src.Size(ctx, refEmpty)
	require.NoError(t, err)
	assert.Zero(t, size)

	_, err = src.Size(ctx, refGone)
	assert.True(t, content.IsNotFound(err), "expected ErrContentNotFound, got %v", err)
}

// RunReadTests covers ReadAt boundaries.
func (suite *SourceTestSuite) RunReadTests(t *testing.T) {
	src := suite.newSource(t)
	ctx := context.Background()

	t.Run("Middle", func(t *testing.T) {
		buf := make([]byte, 10)
		n, err := src.ReadAt(ctx, refMovie, buf, 15)
		require.NoError(t, err)
		assert.Equal(t, 10, n)
		assert.Equal(t, movieData[15:25], buf)
	})

	t.Run("ClippedAtEnd", func(t *testing.T) {
		buf := make([]byte, 64)
		n, err := src.ReadAt(ctx, refShow, buf, 6)
		assert.True(t, err == nil || errors.Is(err, io.EOF), "unexpected error %v", err)
		assert.Equal(t, 5, n)
		assert.Equal(t, []byte("world"), buf[:n])
	})

	t.Run("PastEnd", func(t *testing.T) {
		buf := make([]byte, 8)
		n, err := src.ReadAt(ctx, refShow, buf, 1000)
		assert.Zero(t, n)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("Missing", func(t *testing.T) {
		buf := make([]byte, 8)
		_, err := src.ReadAt(ctx, refGone, buf, 0)
		assert.True(t, content.IsNotFound(err), "expected ErrContentNotFound, got %v", err)
	})

	t.Run("NegativeOffset", func(t *testing.T) {
		buf := make([]byte, 8)
		_, err := src.ReadAt(ctx, refShow, buf, -1)
		assert.ErrorIs(t, err, content.ErrInvalidOffset)
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := src.ReadAt(cctx, refShow, make([]byte, 4), 0)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// RunExistsTests covers Exists.
func (suite *SourceTestSuite) RunExistsTests(t *testing.T) {
	src := suite.newSource(t)
	ctx := context.Background()

	ok, err := src.Exists(ctx, refMovie)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = src.Exists(ctx, refGone)
	require.NoError(t, err)
	assert.False(t, ok)
}

// RunInvalidRefTests verifies unsafe references never reach storage.
func (suite *SourceTestSuite) RunInvalidRefTests(t *testing.T) {
	src := suite.newSource(t)
	ctx := context.Background()

	for _, ref := range []content.Ref{
		{SourceID: ""},
		{SourceID: ".."},
		{SourceID: "../etc"},
		{SourceID: "a/b"},
	} {
		_, err := src.Size(ctx, ref)
		assert.ErrorIs(t, err, content.ErrInvalidRef, "ref %+v", ref)
	}
}

// RunConcurrencyTests reads the same item from many goroutines.
func (suite *SourceTestSuite) RunConcurrencyTests(t *testing.T) {
	src := suite.newSource(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			off := int64(i * 10)
			buf := make([]byte, 10)
			n, err := src.ReadAt(ctx, refMovie, buf, off)
			if err != nil || n != 10 || !bytes.Equal(buf, movieData[off:off+10]) {
				t.Errorf("read %d: n=%d err=%v", i, n, err)
			}
		}(i)
	}
	wg.Wait()
}
