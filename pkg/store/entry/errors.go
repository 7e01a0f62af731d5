package entry

import (
	"errors"
	"fmt"
)

// ============================================================================
// Standard Entry Store Errors
// ============================================================================

// These errors provide a consistent way to report failures across all store
// implementations. Callers check them with errors.Is / errors.As and map them
// to protocol error codes (ENOENT / EIO for the filesystem, 404 / 500 for the
// management API).
//
// Implementations wrap sentinels with context:
//
//	return nil, fmt.Errorf("entry %d: %w", id, entry.ErrNotFound)

var (
	// ErrNotFound indicates no entry exists for the requested ID.
	ErrNotFound = errors.New("entry not found")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("entry store closed")

	// ErrReservedID indicates an identifier falls in the range reserved for
	// virtual filesystem nodes.
	ErrReservedID = errors.New("identifier is reserved")
)

// StorageError reports a failure of the underlying storage engine while
// reading or writing entries. It is never returned for a missing entry.
type StorageError struct {
	// Op is the store operation that failed (add, get, exists, list).
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("entry store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DecodeError reports a stored record whose bytes are malformed.
type DecodeError struct {
	ID  ID
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("entry %d: malformed record: %v", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ValidationError reports an entry rejected before it reached the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid entry %s: %s", e.Field, e.Reason)
}

// IsNotFound reports whether err means the entry does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDecodeError reports whether err carries a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
