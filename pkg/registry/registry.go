package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/plevy/pkg/content"
	"github.com/marmos91/plevy/pkg/projection"
	"github.com/marmos91/plevy/pkg/store/entry"
)

// Registry holds the resources shared by every protocol adapter: the entry
// store, the content source and the projection built over them.
//
// The Registry also tracks active mounts (the local FUSE mount and NFS
// clients). Mount information is ephemeral and kept in-memory only.
//
// Example usage:
//
//	reg, _ := registry.New(store, source, fs)
//	fuseAdapter.SetRegistry(reg)
//	apiAdapter.SetRegistry(reg)
//
//	reg.RecordMount("fuse", "/mnt/plevy", time.Now().Unix())
type Registry struct {
	entries entry.Store
	source  content.Source
	fs      *projection.Filesystem

	mu     sync.RWMutex
	mounts map[string]*MountInfo // key: protocol + target
}

// MountInfo represents an active mount of the projection.
type MountInfo struct {
	Protocol  string // Adapter that serves the mount ("fuse", "nfs")
	Target    string // Mount point for FUSE, client address for NFS
	MountTime int64  // Unix timestamp when mounted
}

// New creates a registry over an already constructed set of resources.
//
// Returns an error if any resource is nil.
func New(entries entry.Store, source content.Source, fs *projection.Filesystem) (*Registry, error) {
	switch {
	case entries == nil:
		return nil, fmt.Errorf("cannot create registry without an entry store")
	case source == nil:
		return nil, fmt.Errorf("cannot create registry without a content source")
	case fs == nil:
		return nil, fmt.Errorf("cannot create registry without a projection filesystem")
	}

	return &Registry{
		entries: entries,
		source:  source,
		fs:      fs,
		mounts:  make(map[string]*MountInfo),
	}, nil
}

// Entries returns the entry store.
func (r *Registry) Entries() entry.Store {
	return r.entries
}

// Content returns the content source.
func (r *Registry) Content() content.Source {
	return r.source
}

// Filesystem returns the projection served by the filesystem adapters.
func (r *Registry) Filesystem() *projection.Filesystem {
	return r.fs
}

// Close closes the content source and the entry store. Adapters must be
// stopped first.
func (r *Registry) Close() error {
	var errs []error
	if err := r.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close content source: %w", err))
	}
	if err := r.entries.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close entry store: %w", err))
	}
	return errors.Join(errs...)
}

// ============================================================================
// Mount Tracking
// ============================================================================

func mountKey(protocol, target string) string {
	return protocol + "\x00" + target
}

// RecordMount registers an active mount. Recording the same protocol and
// target twice replaces the earlier record.
func (r *Registry) RecordMount(protocol, target string, mountTime int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mounts[mountKey(protocol, target)] = &MountInfo{
		Protocol:  protocol,
		Target:    target,
		MountTime: mountTime,
	}
}

// RemoveMount removes a mount record.
// Returns true if a mount was removed, false if no mount existed.
func (r *Registry) RemoveMount(protocol, target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := mountKey(protocol, target)
	if _, exists := r.mounts[key]; exists {
		delete(r.mounts, key)
		return true
	}
	return false
}

// RemoveAllMounts removes every mount record of one protocol and returns
// how many were removed.
func (r *Registry) RemoveAllMounts(protocol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for key, m := range r.mounts {
		if m.Protocol == protocol {
			delete(r.mounts, key)
			count++
		}
	}
	return count
}

// ListMounts returns all active mount records ordered by protocol and
// target. The returned slice is a copy and safe to modify.
func (r *Registry) ListMounts() []*MountInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mounts := make([]*MountInfo, 0, len(r.mounts))
	for _, mount := range r.mounts {
		m := *mount
		mounts = append(mounts, &m)
	}
	sort.Slice(mounts, func(i, j int) bool {
		if mounts[i].Protocol != mounts[j].Protocol {
			return mounts[i].Protocol < mounts[j].Protocol
		}
		return mounts[i].Target < mounts[j].Target
	})
	return mounts
}

// CountMounts returns the number of active mounts.
func (r *Registry) CountMounts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mounts)
}
