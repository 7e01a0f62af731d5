// Package memory implements an in-memory entry store.
//
// Entries live only for the lifetime of the process. The store is used for
// tests and for ephemeral deployments where the entry list is rebuilt on
// every start.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/marmos91/plevy/pkg/store/entry"
)

// MemoryEntryStoreConfig configures a MemoryEntryStore.
type MemoryEntryStoreConfig struct {
	// FirstID is the first identifier handed out. Zero means entry.FirstID.
	FirstID uint64 `mapstructure:"first_id"`
}

type slot struct {
	entry entry.Entry
	// malformed is non-nil for a record injected with PutMalformed.
	malformed error
}

// MemoryEntryStore is an entry.Store backed by a map.
//
// Thread Safety: all methods are safe for concurrent use. Add holds the write
// lock while allocating and inserting, so an identifier is never observable
// without its entry.
type MemoryEntryStore struct {
	mu      sync.RWMutex
	entries map[entry.ID]slot
	next    entry.ID
	closed  bool
}

var _ entry.Store = (*MemoryEntryStore)(nil)

// NewMemoryEntryStore creates an empty store.
//
// Returns an error if cfg.FirstID falls in the reserved identifier range.
func NewMemoryEntryStore(cfg MemoryEntryStoreConfig) (*MemoryEntryStore, error) {
	first := entry.FirstID
	if cfg.FirstID != 0 {
		first = entry.ID(cfg.FirstID)
	}
	if err := entry.ValidateFirstID(first); err != nil {
		return nil, err
	}

	return &MemoryEntryStore{
		entries: make(map[entry.ID]slot),
		next:    first,
	}, nil
}

func (s *MemoryEntryStore) Add(ctx context.Context, e entry.Entry) (entry.ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := e.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, &entry.StorageError{Op: "add", Err: entry.ErrClosed}
	}
	if s.next == math.MaxUint64 {
		return 0, &entry.StorageError{Op: "add", Err: errors.New("identifier space exhausted")}
	}

	id := s.next
	s.next++
	s.entries[id] = slot{entry: e}

	return id, nil
}

func (s *MemoryEntryStore) Get(ctx context.Context, id entry.ID) (*entry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, &entry.StorageError{Op: "get", Err: entry.ErrClosed}
	}

	sl, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("entry %d: %w", id, entry.ErrNotFound)
	}
	if sl.malformed != nil {
		return nil, &entry.DecodeError{ID: id, Err: sl.malformed}
	}

	e := sl.entry
	return &e, nil
}

func (s *MemoryEntryStore) Exists(ctx context.Context, id entry.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, &entry.StorageError{Op: "exists", Err: entry.ErrClosed}
	}

	_, ok := s.entries[id]
	return ok, nil
}

func (s *MemoryEntryStore) List(ctx context.Context) ([]entry.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, &entry.StorageError{Op: "list", Err: entry.ErrClosed}
	}

	records := make([]entry.Record, 0, len(s.entries))
	for id, sl := range s.entries {
		rec := entry.Record{ID: id, Entry: sl.entry}
		if sl.malformed != nil {
			rec.Entry = entry.Entry{}
			rec.Err = &entry.DecodeError{ID: id, Err: sl.malformed}
		}
		records = append(records, rec)
	}

	return records, nil
}

// PutMalformed stores a record under id that fails to decode. It exists so
// callers can exercise corrupt-record handling without a disk-backed store.
func (s *MemoryEntryStore) PutMalformed(id entry.ID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[id] = slot{malformed: errors.New(reason)}
	if id >= s.next {
		s.next = id + 1
	}
}

// Len returns the number of stored records.
func (s *MemoryEntryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryEntryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.entries = nil
	return nil
}
