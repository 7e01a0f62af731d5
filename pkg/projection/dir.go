package projection

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/marmos91/plevy/pkg/store/entry"
)

// DirEntry is one element of a directory enumeration.
//
// Cursor is the 1-based position of the element in the listing sequence.
// Passing it back as the offset of the next call resumes right after it.
type DirEntry struct {
	Ino    Inode
	Type   FileType
	Name   string
	Cursor uint64
}

// EntryError is a store record that could not be projected into a listing.
type EntryError struct {
	ID  entry.ID
	Err error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %d: %v", e.ID, e.Err)
}

// Reason is a short label for metrics: "decode" or "reserved".
func (e EntryError) Reason() string {
	if entry.IsDecodeError(e.Err) {
		return "decode"
	}
	return "reserved"
}

// Sink receives directory entries in order. It returns false when it cannot
// take the entry it was given (the reply buffer is full); that entry is not
// counted as emitted.
type Sink func(DirEntry) bool

// Snapshot is the listing sequence built from one store enumeration:
//
//	[".", "..", entries sorted by id ascending...]
//
// A Snapshot is immutable, so concurrent Adds never tear a listing; new
// entries appear in snapshots taken after Add returned.
type Snapshot struct {
	records []entry.Record
	errors  []EntryError
}

// dotEntries is the fixed prefix of every root listing.
const dotEntries = 2

// NewSnapshot sorts records by id and sets aside the ones that cannot be
// listed: records that failed to decode and ids in the reserved range.
func NewSnapshot(records []entry.Record) *Snapshot {
	valid := make([]entry.Record, 0, len(records))
	var errs []EntryError

	for _, r := range records {
		if r.Err != nil {
			errs = append(errs, EntryError{ID: r.ID, Err: r.Err})
			continue
		}
		if err := ValidateIdentifier(r.ID); err != nil {
			errs = append(errs, EntryError{ID: r.ID, Err: err})
			continue
		}
		valid = append(valid, r)
	}

	// Store iteration order is not part of the contract
	slices.SortFunc(valid, func(a, b entry.Record) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(errs, func(a, b EntryError) int { return cmp.Compare(a.ID, b.ID) })

	return &Snapshot{records: valid, errors: errs}
}

// Len returns the number of elements in the listing sequence, dot entries
// included.
func (s *Snapshot) Len() uint64 {
	return uint64(len(s.records)) + dotEntries
}

// Errors returns the records left out of the sequence, sorted by id.
func (s *Snapshot) Errors() []EntryError {
	return s.errors
}

// At returns the element with the given 1-based cursor.
func (s *Snapshot) At(cursor uint64) (DirEntry, bool) {
	switch {
	case cursor == 0 || cursor > s.Len():
		return DirEntry{}, false
	case cursor == 1:
		return DirEntry{Ino: RootInode, Type: TypeDirectory, Name: ".", Cursor: 1}, true
	case cursor == 2:
		return DirEntry{Ino: RootInode, Type: TypeDirectory, Name: "..", Cursor: 2}, true
	}
	r := s.records[cursor-dotEntries-1]
	return DirEntry{Ino: ToInode(r.ID), Type: TypeRegular, Name: r.Entry.Name, Cursor: cursor}, true
}

// record returns the entry behind an element, or nil for the dot entries.
func (s *Snapshot) record(cursor uint64) *entry.Record {
	if cursor <= dotEntries || cursor > s.Len() {
		return nil
	}
	return &s.records[cursor-dotEntries-1]
}

// Find returns the lowest-id record named name.
func (s *Snapshot) Find(name string) (*entry.Record, bool) {
	for i := range s.records {
		if s.records[i].Entry.Name == name {
			return &s.records[i], true
		}
	}
	return nil, false
}

// Emit feeds the sequence to sink, skipping the first offset elements,
// until the sequence ends or sink reports full.
//
// Returns the elements sink accepted and whether the sequence was
// exhausted. An offset at or past the end emits nothing and is complete.
// A nil sink accepts everything.
func (s *Snapshot) Emit(offset uint64, sink Sink) ([]DirEntry, bool) {
	var emitted []DirEntry
	for cursor := offset + 1; cursor <= s.Len(); cursor++ {
		d, _ := s.At(cursor)
		if sink != nil && !sink(d) {
			return emitted, false
		}
		emitted = append(emitted, d)
	}
	return emitted, true
}

// Listing is the result of one ReadDir call.
type Listing struct {
	// Entries are the elements accepted by the sink, in cursor order.
	Entries []DirEntry

	// Errors are the store records left out of the listing.
	Errors []EntryError

	// Complete is true when the sequence was exhausted.
	Complete bool
}

// Next returns the offset that resumes after this listing.
func (l *Listing) Next(offset uint64) uint64 {
	if len(l.Entries) == 0 {
		return offset
	}
	return l.Entries[len(l.Entries)-1].Cursor
}
