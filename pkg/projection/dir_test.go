package projection

import (
	"errors"
	"testing"

	"github.com/marmos91/plevy/pkg/store/entry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(ids ...entry.ID) []entry.Record {
	out := make([]entry.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, entry.Record{ID: id, Entry: entry.Entry{Name: "n" + string(rune('a'+int(id%26))), SourceID: "s"}})
	}
	return out
}

func TestSnapshotOrdering(t *testing.T) {
	snap := NewSnapshot(records(40, 7, 12, 3))

	all, complete := snap.Emit(0, nil)
	require.True(t, complete)
	require.Len(t, all, 6)

	var inos []Inode
	for _, d := range all[dotEntries:] {
		inos = append(inos, d.Ino)
	}
	assert.Equal(t, []Inode{3, 7, 12, 40}, inos)

	for i, d := range all {
		assert.Equal(t, uint64(i+1), d.Cursor)
	}
}

func TestSnapshotSetsAsideUnlistableRecords(t *testing.T) {
	recs := records(5, 9)
	recs = append(recs,
		entry.Record{ID: 7, Err: &entry.DecodeError{ID: 7, Err: errors.New("bad")}},
		entry.Record{ID: 1, Entry: entry.Entry{Name: "hijack", SourceID: "s"}},
	)

	snap := NewSnapshot(recs)
	assert.Equal(t, uint64(4), snap.Len())

	errs := snap.Errors()
	require.Len(t, errs, 2)
	assert.Equal(t, entry.ID(1), errs[0].ID)
	assert.Equal(t, "reserved", errs[0].Reason())
	assert.ErrorIs(t, errs[0].Err, entry.ErrReservedID)
	assert.Equal(t, entry.ID(7), errs[1].ID)
	assert.Equal(t, "decode", errs[1].Reason())
}

func TestSnapshotEmitStopsWhenFull(t *testing.T) {
	snap := NewSnapshot(records(2, 3, 4))

	var seen []string
	emitted, complete := snap.Emit(1, func(d DirEntry) bool {
		if len(seen) == 2 {
			return false
		}
		seen = append(seen, d.Name)
		return true
	})
	assert.False(t, complete)
	require.Len(t, emitted, 2)
	assert.Equal(t, "..", emitted[0].Name)
	assert.Equal(t, uint64(3), emitted[1].Cursor)

	listing := &Listing{Entries: emitted}
	rest, complete := snap.Emit(listing.Next(1), nil)
	assert.True(t, complete)
	require.Len(t, rest, 2)
	assert.Equal(t, uint64(4), rest[0].Cursor)
}

func TestSnapshotAt(t *testing.T) {
	snap := NewSnapshot(records(10))

	_, ok := snap.At(0)
	assert.False(t, ok)
	_, ok = snap.At(4)
	assert.False(t, ok)

	d, ok := snap.At(3)
	require.True(t, ok)
	assert.Equal(t, Inode(10), d.Ino)
	assert.Equal(t, TypeRegular, d.Type)
}

func TestListingNextWithoutEntries(t *testing.T) {
	l := &Listing{}
	assert.Equal(t, uint64(17), l.Next(17))
}
