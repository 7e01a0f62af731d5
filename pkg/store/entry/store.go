package entry

import (
	"context"
	"fmt"
)

// FirstID is the lowest identifier a store hands out by default. Identifiers
// below it are reserved for virtual nodes (inode 1 is the filesystem root).
const FirstID ID = 2

// Store is the persistent repository of entries.
//
// Implementations provide their own concurrency control and are safe for
// concurrent use. Every operation checks ctx before touching storage; an
// abandoned call leaves the store consistent because each operation is a
// single atomic unit.
type Store interface {
	// Add allocates a fresh identifier and durably stores e under it.
	//
	// Either both the identifier and the entry become visible or neither
	// does. A successful return makes the entry visible to Get, Exists and
	// List immediately.
	//
	// Returns:
	//   - ID: the identifier assigned to e
	//   - error: *ValidationError for a bad entry, *StorageError on failure
	Add(ctx context.Context, e Entry) (ID, error)

	// Get returns the entry stored under id.
	//
	// Returns:
	//   - *Entry: the stored entry
	//   - error: ErrNotFound (wrapped) if absent, *DecodeError if the record
	//     is malformed, *StorageError on I/O failure
	Get(ctx context.Context, id ID) (*Entry, error)

	// Exists reports whether an entry is stored under id without decoding
	// it. Exists and Get agree: Exists is true iff Get does not return
	// ErrNotFound.
	Exists(ctx context.Context, id ID) (bool, error)

	// List returns a consistent snapshot of every stored entry.
	//
	// Records that cannot be decoded are included with Err set to a
	// *DecodeError. The returned error is non-nil only when the enumeration
	// as a whole failed. Order is unspecified.
	List(ctx context.Context) ([]Record, error)

	// Close releases resources. The store must not be used afterwards.
	Close() error
}

// ValidateFirstID rejects a configured starting identifier that would
// collide with reserved inode numbers.
func ValidateFirstID(first ID) error {
	if first < FirstID {
		return fmt.Errorf("first id %d: %w (must be >= %d)", first, ErrReservedID, FirstID)
	}
	return nil
}
