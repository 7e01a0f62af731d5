// Package memory implements an in-memory content source.
//
// It is used by tests and by deployments that seed a handful of small items
// at startup. Items are added with Put; the Source interface itself stays
// read-only.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/plevy/pkg/content"
)

// MemoryContentSource implements content.Source with a map.
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Data is copied on Put and
// on read so callers never share buffers with the source.
type MemoryContentSource struct {
	// data stores item bytes keyed by reference
	data map[content.Ref][]byte

	// mu protects concurrent access to data map
	mu sync.RWMutex
}

var _ content.Source = (*MemoryContentSource)(nil)

// NewMemoryContentSource creates an empty source.
func NewMemoryContentSource() *MemoryContentSource {
	return &MemoryContentSource{
		data: make(map[content.Ref][]byte),
	}
}

// Put stores a copy of data under ref, replacing any previous item.
func (s *MemoryContentSource) Put(ref content.Ref, data []byte) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ref] = buf
	return nil
}

func (s *MemoryContentSource) get(ref content.Ref) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[ref]
	if !ok {
		return nil, fmt.Errorf("content %s: %w", ref, content.ErrContentNotFound)
	}
	return data, nil
}

func (s *MemoryContentSource) Size(ctx context.Context, ref content.Ref) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := s.get(ref)
	if err != nil {
		return 0, err
	}
	return uint64(len(data)), nil
}

func (s *MemoryContentSource) ReadAt(ctx context.Context, ref content.Ref, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, content.ErrInvalidOffset
	}

	data, err := s.get(ref)
	if err != nil {
		return 0, err
	}

	if off >= int64(len(data)) {
		return 0, io.EOF
	}

	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *MemoryContentSource) Exists(ctx context.Context, ref content.Ref) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := s.get(ref)
	if err != nil {
		if content.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *MemoryContentSource) Close() error {
	return nil
}
