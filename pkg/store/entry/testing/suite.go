package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/plevy/pkg/store/entry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a contract test suite for entry.Store implementations.
// It tests the interface contract, not implementation details, so it is
// reused across backends.
//
// Usage:
//
//	func TestMyEntryStore(t *testing.T) {
//	    suite := &entrytesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) entry.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) entry.Store

	// PutMalformed writes a record under id that cannot be decoded. When nil
	// the corrupt-record tests are skipped.
	PutMalformed func(t *testing.T, s entry.Store, id entry.ID)
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("BasicOperations", suite.RunBasicTests)
	t.Run("Validation", suite.RunValidationTests)
	t.Run("Listing", suite.RunListTests)
	t.Run("Concurrency", suite.RunConcurrencyTests)
	t.Run("Cancellation", suite.RunCancellationTests)
	t.Run("MalformedRecords", suite.RunMalformedTests)
	t.Run("Close", suite.RunCloseTests)
}

func (suite *StoreTestSuite) newStore(t *testing.T) entry.Store {
	t.Helper()
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sample(name string) entry.Entry {
	return entry.Entry{Name: name, SourceID: "abc", SourceIndex: 0}
}

// RunBasicTests covers Add, Get and Exists.
func (suite *StoreTestSuite) RunBasicTests(t *testing.T) {
	t.Run("AddThenGet", func(t *testing.T) {
		s := suite.newStore(t)
		ctx := context.Background()

		want := entry.Entry{Name: "movie.mkv", SourceID: "abc", SourceIndex: 3}
		id, err := s.Add(ctx, want)
		require.NoError(t, err)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, *got)
	})

	t.Run("IDsAvoidReservedRange", func(t *testing.T) {
		s := suite.newStore(t)

		id, err := s.Add(context.Background(), sample("a"))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, id, entry.FirstID)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := suite.newStore(t)

		_, err := s.Get(context.Background(), 999)
		require.Error(t, err)
		assert.True(t, entry.IsNotFound(err), "expected ErrNotFound, got %v", err)
	})

	t.Run("ExistsAgreesWithGet", func(t *testing.T) {
		s := suite.newStore(t)
		ctx := context.Background()

		id, err := s.Add(ctx, sample("a"))
		require.NoError(t, err)

		ok, err := s.Exists(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Exists(ctx, id+1000)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Get(ctx, id+1000)
		assert.True(t, entry.IsNotFound(err))
	})

	t.Run("IDsNeverReused", func(t *testing.T) {
		s := suite.newStore(t)
		ctx := context.Background()

		seen := make(map[entry.ID]bool)
		for i := 0; i < 50; i++ {
			id, err := s.Add(ctx, sample(fmt.Sprintf("e%d", i)))
			require.NoError(t, err)
			assert.False(t, seen[id], "id %d handed out twice", id)
			seen[id] = true
		}
	})
}

// RunValidationTests checks that invalid entries are rejected without side
// effects.
func (suite *StoreTestSuite) RunValidationTests(t *testing.T) {
	cases := []struct {
		name  string
		entry entry.Entry
	}{
		{"EmptyName", entry.Entry{Name: ""}},
		{"Dot", entry.Entry{Name: "."}},
		{"DotDot", entry.Entry{Name: ".."}},
		{"Slash", entry.Entry{Name: "a/b"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := suite.newStore(t)
			ctx := context.Background()

			_, err := s.Add(ctx, tc.entry)
			require.Error(t, err)
			assert.True(t, entry.IsValidationError(err), "expected validation error, got %v", err)

			records, err := s.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

// RunListTests covers full enumeration.
func (suite *StoreTestSuite) RunListTests(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		s := suite.newStore(t)

		records, err := s.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("ContainsEveryEntry", func(t *testing.T) {
		s := suite.newStore(t)
		ctx := context.Background()

		want := make(map[entry.ID]entry.Entry)
		for i := 0; i < 10; i++ {
			e := entry.Entry{Name: fmt.Sprintf("file-%d", i), SourceID: "src", SourceIndex: uint64(i)}
			id, err := s.Add(ctx, e)
			require.NoError(t, err)
			want[id] = e
		}

		records, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, len(want))
		for _, rec := range records {
			require.True(t, rec.OK(), "unexpected record error: %v", rec.Err)
			assert.Equal(t, want[rec.ID], rec.Entry)
		}
	})

	t.Run("VisibleAfterAddReturns", func(t *testing.T) {
		s := suite.newStore(t)
		ctx := context.Background()

		id, err := s.Add(ctx, sample("fresh"))
		require.NoError(t, err)

		records, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, id, records[0].ID)
	})
}

// RunConcurrencyTests exercises parallel adds and reads.
func (suite *StoreTestSuite) RunConcurrencyTests(t *testing.T) {
	t.Run("ParallelAddsYieldDistinctIDs", func(t *testing.T) {
		s := suite.newStore(t)
		ctx := context.Background()

		const n = 64
		ids := make([]entry.ID, n)
		errs := make([]error, n)

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ids[i], errs[i] = s.Add(ctx, sample(fmt.Sprintf("p%d", i)))
			}(i)
		}
		wg.Wait()

		seen := make(map[entry.ID]bool, n)
		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
			assert.False(t, seen[ids[i]], "duplicate id %d", ids[i])
			seen[ids[i]] = true
		}

		records, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, n)
	})

	t.Run("ListDuringAdds", func(t *testing.T) {
		s := suite.newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = s.Add(ctx, sample(fmt.Sprintf("w%d", i)))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				records, err := s.List(ctx)
				if err != nil {
					t.Errorf("List failed: %v", err)
					return
				}
				for _, rec := range records {
					if !rec.OK() {
						t.Errorf("torn record %d: %v", rec.ID, rec.Err)
					}
				}
			}
		}()
		wg.Wait()
	})
}

// RunCancellationTests verifies operations honor a cancelled context.
func (suite *StoreTestSuite) RunCancellationTests(t *testing.T) {
	s := suite.newStore(t)

	id, err := s.Add(context.Background(), sample("kept"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Add(ctx, sample("dropped"))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Exists(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	records, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1, "cancelled add must not be applied")
}

// RunMalformedTests verifies corrupt records are reported per record.
func (suite *StoreTestSuite) RunMalformedTests(t *testing.T) {
	if suite.PutMalformed == nil {
		t.Skip("store cannot inject malformed records")
	}

	s := suite.newStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, sample("good-1"))
	require.NoError(t, err)
	_, err = s.Add(ctx, sample("good-2"))
	require.NoError(t, err)

	const badID entry.ID = 5000
	suite.PutMalformed(t, s, badID)

	records, err := s.List(ctx)
	require.NoError(t, err, "a corrupt record must not fail the listing")
	require.Len(t, records, 3)

	var good, bad int
	for _, rec := range records {
		if rec.OK() {
			good++
			continue
		}
		bad++
		assert.Equal(t, badID, rec.ID)
		var de *entry.DecodeError
		assert.True(t, errors.As(rec.Err, &de))
	}
	assert.Equal(t, 2, good)
	assert.Equal(t, 1, bad)

	ok, err := s.Exists(ctx, badID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Get(ctx, badID)
	assert.True(t, entry.IsDecodeError(err), "expected decode error, got %v", err)
}

// RunCloseTests verifies a closed store reports StorageError.
func (suite *StoreTestSuite) RunCloseTests(t *testing.T) {
	s := suite.NewStore(t)
	require.NoError(t, s.Close())

	_, err := s.Add(context.Background(), sample("late"))
	var se *entry.StorageError
	assert.True(t, errors.As(err, &se), "expected StorageError, got %v", err)
	assert.ErrorIs(t, err, entry.ErrClosed)
}
