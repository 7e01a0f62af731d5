package content

import "errors"

// ============================================================================
// Standard Content Source Errors
// ============================================================================

// These errors provide a consistent way to indicate common failure conditions
// across all content sources. The projection layer checks them and maps them
// to filesystem error codes.
//
// Usage Pattern:
//
//	n, err := src.ReadAt(ctx, ref, buf, off)
//	if errors.Is(err, content.ErrContentNotFound) {
//	    // the entry points at content that is gone
//	}
//
// Error Wrapping:
// Implementations wrap these errors with additional context:
//
//	return 0, fmt.Errorf("content %s: %w", ref, content.ErrContentNotFound)

var (
	// ErrContentNotFound indicates the referenced item does not exist.
	//
	// Protocol Mapping:
	//   - FUSE: EIO on read (the entry exists, its data does not)
	//   - HTTP: 404 Not Found
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidRef indicates a reference that cannot be resolved safely,
	// for example a source id containing a path separator.
	ErrInvalidRef = errors.New("invalid content reference")

	// ErrInvalidOffset indicates a negative read offset.
	ErrInvalidOffset = errors.New("invalid offset")
)

// IsNotFound reports whether err means the referenced item does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContentNotFound)
}
