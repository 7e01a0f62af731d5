// Package fs implements a content source on the local filesystem.
//
// Items are plain files laid out as <base>/<source_id>/<index>, so a media
// release unpacked into a directory per source can be served without
// copying.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/plevy/pkg/content"
)

// FSContentSourceConfig configures an FSContentSource.
type FSContentSourceConfig struct {
	// Path is the base directory holding one subdirectory per source id.
	Path string `mapstructure:"path"`

	// FDCacheSize bounds the number of content files kept open (default: 256).
	FDCacheSize int `mapstructure:"fd_cache_size"`

	// Create makes the base directory if it does not exist.
	Create bool `mapstructure:"create"`
}

// FSContentSource implements content.Source on the local filesystem.
//
// Thread Safety: safe for concurrent use. Open files are shared through the
// FDCache and read with positional reads only.
type FSContentSource struct {
	basePath string
	fdCache  *FDCache
}

var _ content.Source = (*FSContentSource)(nil)

// NewFSContentSource creates a filesystem content source.
//
// Parameters:
//   - ctx: Context for cancellation
//   - config: Source configuration
//
// Returns:
//   - *FSContentSource: ready for use
//   - error: if the base directory is missing (and Create is false) or not a directory
func NewFSContentSource(ctx context.Context, config FSContentSourceConfig) (*FSContentSource, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.Path == "" {
		return nil, fmt.Errorf("filesystem content source: path is required")
	}

	// ========================================================================
	// Step 2: Make sure the base directory exists
	// ========================================================================

	if config.Create {
		if err := os.MkdirAll(config.Path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	info, err := os.Stat(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("filesystem content source: %s is not a directory", config.Path)
	}

	cache, err := NewFDCache(config.FDCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create fd cache: %w", err)
	}

	return &FSContentSource{
		basePath: config.Path,
		fdCache:  cache,
	}, nil
}

// itemPath maps a validated reference onto the base directory.
func (s *FSContentSource) itemPath(ref content.Ref) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, ref.String()), nil
}

// Size returns the file size of the item.
func (s *FSContentSource) Size(ctx context.Context, ref content.Ref) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path, err := s.itemPath(ref)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("content %s: %w", ref, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to stat content: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("content %s: is a directory", ref)
	}

	return uint64(info.Size()), nil
}

// ReadAt reads from the item at off.
func (s *FSContentSource) ReadAt(ctx context.Context, ref content.Ref, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, content.ErrInvalidOffset
	}

	path, err := s.itemPath(ref)
	if err != nil {
		return 0, err
	}

	f, release, err := s.fdCache.Acquire(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("content %s: %w", ref, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to open content: %w", err)
	}
	defer release()

	n, err := f.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("failed to read content: %w", err)
	}
	return n, err
}

// Exists reports whether the item file exists.
func (s *FSContentSource) Exists(ctx context.Context, ref content.Ref) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path, err := s.itemPath(ref)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat content: %w", err)
}

// Close closes every cached file descriptor.
func (s *FSContentSource) Close() error {
	s.fdCache.Close()
	return nil
}
