// Package projection exposes an entry store as a flat, read-only filesystem.
//
// The package is split along the four stages every request goes through:
//
//   - inode.go: entry ids <-> inode numbers, reserved root inode
//   - attr.go: attribute synthesis for the root and for entries
//   - dir.go: deterministic, offset-addressable directory listings
//   - fs.go: Lookup, GetAttr, Read and ReadDir over the above
//
// Operations return (result, error) and hold no state between calls;
// protocol adapters (FUSE, NFS) translate results into their own reply
// formats and map *Error to host error codes with Errno.
//
// Example:
//
//	fs, _ := projection.New(store, source, projection.Config{ResolveSize: true})
//	attrs, err := fs.Lookup(ctx, projection.RootInode, "movie.mkv")
//	data, err := fs.Read(ctx, attrs.Ino, 0, 4096)
package projection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/pkg/content"
	"github.com/marmos91/plevy/pkg/metrics"
	"github.com/marmos91/plevy/pkg/store/entry"
)

// Config configures a Filesystem.
type Config struct {
	// UID and GID own every node.
	UID uint32
	GID uint32

	// ResolveSize asks the content source for entry sizes. When false every
	// entry reports size 0 and getattr never touches the content source.
	ResolveSize bool
}

// Option customizes a Filesystem.
type Option func(*Filesystem)

// WithMetrics sets the metrics sink. The default records nothing.
func WithMetrics(m metrics.ProjectionMetrics) Option {
	return func(fs *Filesystem) {
		if m != nil {
			fs.metrics = m
		}
	}
}

// WithSizeResolver overrides the resolver used for entry sizes.
func WithSizeResolver(r SizeResolver) Option {
	return func(fs *Filesystem) {
		fs.attrs.Sizes = r
	}
}

// Filesystem serves filesystem operations from an entry store and a
// content source.
//
// Thread Safety: safe for concurrent use. Every call takes its own snapshot
// of the store; no lock is held across calls.
type Filesystem struct {
	entries entry.Store
	source  content.Source
	attrs   *Synthesizer
	metrics metrics.ProjectionMetrics
}

// New creates a Filesystem.
//
// Parameters:
//   - entries: store holding the entries to expose
//   - source: content source holding the entries' bytes
//   - cfg: ownership and size resolution settings
//
// Returns:
//   - *Filesystem: ready for use
//   - error: if entries or source is nil
func New(entries entry.Store, source content.Source, cfg Config, opts ...Option) (*Filesystem, error) {
	if entries == nil {
		return nil, fmt.Errorf("projection: entry store is required")
	}
	if source == nil {
		return nil, fmt.Errorf("projection: content source is required")
	}

	fs := &Filesystem{
		entries: entries,
		source:  source,
		attrs:   &Synthesizer{UID: cfg.UID, GID: cfg.GID},
		metrics: metrics.NewNoopProjectionMetrics(),
	}
	if cfg.ResolveSize {
		fs.attrs.Sizes = ContentSizer(source)
	}
	for _, opt := range opts {
		opt(fs)
	}
	fs.attrs.metrics = fs.metrics

	return fs, nil
}

// observe records an operation outcome. Use with a named error return:
//
//	defer fs.observe("getattr", time.Now(), &err)
func (fs *Filesystem) observe(op string, start time.Time, err *error) {
	fs.metrics.RecordOperation(op, time.Since(start), *err)
}

// Lookup resolves name inside parent.
//
// Only the root has children. The scan is linear in the number of entries;
// when several entries share a name the one with the lowest id wins.
func (fs *Filesystem) Lookup(ctx context.Context, parent Inode, name string) (attrs *Attributes, err error) {
	defer fs.observe("lookup", time.Now(), &err)

	if !IsRoot(parent) {
		return nil, notFound("lookup", parent, nil)
	}
	if name == "." || name == ".." {
		return fs.attrs.RootAttributes(), nil
	}

	snap, err := fs.snapshot(ctx, "lookup")
	if err != nil {
		return nil, err
	}

	rec, ok := snap.Find(name)
	if !ok {
		return nil, notFound("lookup", parent, fmt.Errorf("no entry named %q", name))
	}

	return fs.attrs.EntryAttributes(ctx, rec.ID, &rec.Entry), nil
}

// GetAttr returns the attributes of ino.
func (fs *Filesystem) GetAttr(ctx context.Context, ino Inode) (attrs *Attributes, err error) {
	defer fs.observe("getattr", time.Now(), &err)

	if IsRoot(ino) {
		return fs.attrs.RootAttributes(), nil
	}

	id, e, err := fs.resolve(ctx, "getattr", ino)
	if err != nil {
		return nil, err
	}
	return fs.attrs.EntryAttributes(ctx, id, e), nil
}

// Read returns up to size bytes of ino starting at off.
//
// The result is clipped to the content length; reading at or past the end
// returns an empty slice and no error.
func (fs *Filesystem) Read(ctx context.Context, ino Inode, off int64, size int) ([]byte, error) {
	if size <= 0 {
		// Still resolve ino so a bad inode fails the same way
		_, err := fs.ReadInto(ctx, ino, nil, off)
		return []byte{}, err
	}
	buf := make([]byte, size)
	n, err := fs.ReadInto(ctx, ino, buf, off)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// ReadInto reads into dest from ino at off and returns the number of bytes
// filled. n < len(dest) only at end of content.
func (fs *Filesystem) ReadInto(ctx context.Context, ino Inode, dest []byte, off int64) (n int, err error) {
	defer fs.observe("read", time.Now(), &err)

	if IsRoot(ino) {
		return 0, &Error{Code: ErrIsDir, Op: "read", Ino: ino}
	}
	if off < 0 {
		return 0, ioFailure("read", ino, content.ErrInvalidOffset)
	}

	_, e, err := fs.resolve(ctx, "read", ino)
	if err != nil {
		return 0, err
	}
	if len(dest) == 0 {
		return 0, nil
	}

	n, err = fs.source.ReadAt(ctx, refOf(e), dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, ioFailure("read", ino, err)
	}

	fs.metrics.RecordBytesRead(int64(n))
	return n, nil
}

// ReadDir lists ino starting after offset.
//
// Entries are handed to sink in cursor order until the listing ends or
// sink reports full; a nil sink takes everything. Records that cannot be
// listed are logged, counted and returned in Listing.Errors without failing
// the call.
//
// Returns:
//   - *Listing: the emitted entries and the skipped records
//   - error: ErrNotDir for a file inode, ErrNotFound for an unknown inode,
//     ErrIOFailure if the store could not be enumerated
func (fs *Filesystem) ReadDir(ctx context.Context, ino Inode, offset uint64, sink Sink) (listing *Listing, err error) {
	defer fs.observe("readdir", time.Now(), &err)

	snap, err := fs.dirSnapshot(ctx, "readdir", ino)
	if err != nil {
		return nil, err
	}

	entries, complete := snap.Emit(offset, sink)
	return &Listing{Entries: entries, Errors: snap.Errors(), Complete: complete}, nil
}

// PlusSink receives a directory entry together with its attributes.
type PlusSink func(DirEntry, *Attributes) bool

// ReadDirPlus is ReadDir with attributes for every emitted entry. The
// attributes are built from the same snapshot, so no per-entry store
// lookup is made.
func (fs *Filesystem) ReadDirPlus(ctx context.Context, ino Inode, offset uint64, sink PlusSink) (listing *Listing, err error) {
	defer fs.observe("readdirplus", time.Now(), &err)

	snap, err := fs.dirSnapshot(ctx, "readdirplus", ino)
	if err != nil {
		return nil, err
	}

	entries, complete := snap.Emit(offset, func(d DirEntry) bool {
		if sink == nil {
			return true
		}
		return sink(d, fs.attributesOf(ctx, snap, d))
	})
	return &Listing{Entries: entries, Errors: snap.Errors(), Complete: complete}, nil
}

// StatFS reports the number of listable entries.
func (fs *Filesystem) StatFS(ctx context.Context) (files uint64, err error) {
	defer fs.observe("statfs", time.Now(), &err)

	snap, err := fs.snapshot(ctx, "statfs")
	if err != nil {
		return 0, err
	}
	return snap.Len() - dotEntries, nil
}

func (fs *Filesystem) attributesOf(ctx context.Context, snap *Snapshot, d DirEntry) *Attributes {
	rec := snap.record(d.Cursor)
	if rec == nil {
		return fs.attrs.RootAttributes()
	}
	return fs.attrs.EntryAttributes(ctx, rec.ID, &rec.Entry)
}

// dirSnapshot validates that ino is a directory and snapshots it.
func (fs *Filesystem) dirSnapshot(ctx context.Context, op string, ino Inode) (*Snapshot, error) {
	if !IsRoot(ino) {
		id, ok := FromInode(ino)
		if !ok {
			return nil, notFound(op, ino, nil)
		}
		exists, err := fs.entries.Exists(ctx, id)
		if err != nil {
			// Still ENOENT to the host: only the root can be listed
			logger.Warn("Failed to check inode %d in %s: %v", ino, op, err)
			return nil, notFound(op, ino, err)
		}
		if exists {
			return nil, &Error{Code: ErrNotDir, Op: op, Ino: ino}
		}
		return nil, notFound(op, ino, nil)
	}

	snap, err := fs.snapshot(ctx, op)
	if err != nil {
		return nil, err
	}

	for _, e := range snap.Errors() {
		logger.Warn("Skipping entry %d in %s: %v", e.ID, op, e.Err)
		fs.metrics.RecordSkippedRecord(e.Reason())
	}
	return snap, nil
}

// snapshot enumerates the store. A failed enumeration is an I/O failure,
// never an empty listing.
func (fs *Filesystem) snapshot(ctx context.Context, op string) (*Snapshot, error) {
	records, err := fs.entries.List(ctx)
	if err != nil {
		return nil, ioFailure(op, RootInode, err)
	}
	return NewSnapshot(records), nil
}

// resolve fetches the entry behind a non-root inode.
func (fs *Filesystem) resolve(ctx context.Context, op string, ino Inode) (entry.ID, *entry.Entry, error) {
	id, ok := FromInode(ino)
	if !ok {
		return 0, nil, notFound(op, ino, nil)
	}

	e, err := fs.entries.Get(ctx, id)
	if err != nil {
		if entry.IsNotFound(err) {
			return 0, nil, notFound(op, ino, err)
		}
		return 0, nil, ioFailure(op, ino, err)
	}
	return id, e, nil
}
