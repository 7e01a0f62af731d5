// Package entry defines the persistent repository of media-library entries
// that plevy projects as a filesystem.
//
// An Entry is an immutable named record pointing at a piece of content in an
// external content source. Entries are created through the management API and
// are never updated or removed. Each one is assigned a unique 64-bit ID by the
// store that holds it.
package entry

import (
	"fmt"
	"strings"
)

// ID is the repository-assigned identifier of an entry.
//
// IDs are unique for the lifetime of a store and never reused. They are not
// guaranteed to be handed out in increasing order, so callers that need a
// stable ordering must sort explicitly.
type ID uint64

// MaxNameLen is the longest entry name accepted, matching the common
// filesystem limit for a single path component.
const MaxNameLen = 255

// Entry is one media item and the reference to its content.
type Entry struct {
	// Name is the filename the entry is exposed under.
	Name string `json:"name" cbor:"1,keyasint"`

	// SourceID identifies the content source holding the entry's bytes.
	SourceID string `json:"source_id" cbor:"2,keyasint"`

	// SourceIndex selects the item within the content source.
	SourceIndex uint64 `json:"source_index" cbor:"3,keyasint"`
}

// Validate checks that the entry can be exposed as a single file in a flat
// directory.
func (e *Entry) Validate() error {
	switch {
	case e.Name == "":
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	case len(e.Name) > MaxNameLen:
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("longer than %d bytes", MaxNameLen)}
	case e.Name == "." || e.Name == "..":
		return &ValidationError{Field: "name", Reason: "reserved name"}
	case strings.ContainsAny(e.Name, "/\x00"):
		return &ValidationError{Field: "name", Reason: "must not contain '/' or NUL"}
	}
	return nil
}

// Record is one element of a store enumeration.
//
// When Err is non-nil the stored bytes for ID could not be decoded and Entry
// is the zero value. A listing that contains failed records is still a
// successful listing.
type Record struct {
	ID    ID
	Entry Entry
	Err   error
}

// OK reports whether the record decoded successfully.
func (r Record) OK() bool {
	return r.Err == nil
}
