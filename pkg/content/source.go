// Package content defines the read-only content sources that hold the bytes
// behind plevy entries.
//
// An entry does not carry its data. It names a source (SourceID) and an item
// within that source (Index); a Source resolves that pair to a size and to
// byte ranges. Implementations live in subpackages (fs, memory, s3).
package content

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Ref addresses one item inside a content source.
type Ref struct {
	SourceID string
	Index    uint64
}

// String returns "<source>/<index>", the layout used by path-based sources.
func (r Ref) String() string {
	return r.SourceID + "/" + strconv.FormatUint(r.Index, 10)
}

// Validate rejects references that cannot be mapped safely onto a path or an
// object key.
func (r Ref) Validate() error {
	switch {
	case r.SourceID == "":
		return fmt.Errorf("%w: empty source id", ErrInvalidRef)
	case r.SourceID == "." || r.SourceID == "..":
		return fmt.Errorf("%w: source id %q", ErrInvalidRef, r.SourceID)
	case strings.ContainsAny(r.SourceID, "/\\\x00"):
		return fmt.Errorf("%w: source id %q contains a path separator", ErrInvalidRef, r.SourceID)
	}
	return nil
}

// Source is a read-only content source.
//
// All methods are safe for concurrent use and check ctx before doing I/O.
type Source interface {
	// Size returns the length in bytes of the item.
	//
	// Returns ErrContentNotFound (wrapped) if the item does not exist.
	Size(ctx context.Context, ref Ref) (uint64, error)

	// ReadAt reads len(p) bytes starting at off.
	//
	// Semantics follow io.ReaderAt: n < len(p) only at end of content, in
	// which case err is io.EOF. Reading at or past the end returns 0, io.EOF.
	ReadAt(ctx context.Context, ref Ref, p []byte, off int64) (int, error)

	// Exists reports whether the item exists. A missing item is not an error.
	Exists(ctx context.Context, ref Ref) (bool, error)

	// Close releases resources held by the source.
	Close() error
}
