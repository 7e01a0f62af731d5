package projection

import (
	"context"
	"time"

	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/pkg/content"
	"github.com/marmos91/plevy/pkg/metrics"
	"github.com/marmos91/plevy/pkg/store/entry"
)

// FileType distinguishes the two kinds of node the projection exposes.
type FileType uint8

const (
	// TypeDirectory is the root directory.
	TypeDirectory FileType = iota + 1

	// TypeRegular is an entry-backed file.
	TypeRegular
)

// Mode type bits, as in stat(2). Kept local so the package builds on every
// platform.
const (
	modeDir     = 0o040000
	modeRegular = 0o100000
)

// ModeBits returns the stat(2) file type bits for t.
func (t FileType) ModeBits() uint32 {
	if t == TypeDirectory {
		return modeDir
	}
	return modeRegular
}

func (t FileType) String() string {
	switch t {
	case TypeDirectory:
		return "directory"
	case TypeRegular:
		return "regular"
	default:
		return "unknown"
	}
}

const (
	rootPerm  = 0o555
	entryPerm = 0o444

	// BlockSize is the preferred I/O size reported to the host.
	BlockSize = 4096
)

// Attributes is the metadata reported for one node.
//
// No timestamps are tracked for entries or the root, so all three times are
// the Unix epoch.
type Attributes struct {
	Ino     Inode
	Type    FileType
	Mode    uint32 // permission bits only; combine with Type.ModeBits()
	Nlink   uint32
	Size    uint64
	Blocks  uint64 // 512-byte units
	Blksize uint32
	Uid     uint32
	Gid     uint32
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// FullMode returns the type and permission bits together.
func (a *Attributes) FullMode() uint32 {
	return a.Type.ModeBits() | a.Mode
}

// IsDir reports whether the node is a directory.
func (a *Attributes) IsDir() bool {
	return a.Type == TypeDirectory
}

// SizeResolver reports the byte length of an entry's content.
type SizeResolver interface {
	ResolveSize(ctx context.Context, e *entry.Entry) (uint64, error)
}

// SizeResolverFunc adapts a function to SizeResolver.
type SizeResolverFunc func(ctx context.Context, e *entry.Entry) (uint64, error)

func (f SizeResolverFunc) ResolveSize(ctx context.Context, e *entry.Entry) (uint64, error) {
	return f(ctx, e)
}

// ContentSizer resolves sizes through a content source.
func ContentSizer(src content.Source) SizeResolver {
	return SizeResolverFunc(func(ctx context.Context, e *entry.Entry) (uint64, error) {
		return src.Size(ctx, refOf(e))
	})
}

func refOf(e *entry.Entry) content.Ref {
	return content.Ref{SourceID: e.SourceID, Index: e.SourceIndex}
}

// Synthesizer builds Attributes for the root and for entries.
type Synthesizer struct {
	UID uint32
	GID uint32

	// Sizes is optional. Without it every entry reports size 0.
	Sizes SizeResolver

	metrics metrics.ProjectionMetrics
}

// RootAttributes returns the attributes of the root directory.
func (s *Synthesizer) RootAttributes() *Attributes {
	return &Attributes{
		Ino:     RootInode,
		Type:    TypeDirectory,
		Mode:    rootPerm,
		Nlink:   2,
		Blksize: BlockSize,
		Uid:     s.UID,
		Gid:     s.GID,
		Atime:   time.Unix(0, 0),
		Mtime:   time.Unix(0, 0),
		Ctime:   time.Unix(0, 0),
	}
}

// EntryAttributes returns the attributes of the file backing e.
//
// The size is 0 when no resolver is configured or resolution fails. Callers
// that need to tell the two apart must ask the content source themselves;
// a failed read is reported on the read path, not here.
func (s *Synthesizer) EntryAttributes(ctx context.Context, id entry.ID, e *entry.Entry) *Attributes {
	var size uint64
	if s.Sizes != nil {
		resolved, err := s.Sizes.ResolveSize(ctx, e)
		if err != nil {
			logger.Debug("Size of entry %d (%s) unavailable, reporting 0: %v", id, refOf(e), err)
			s.metricsOrNoop().RecordSizeFallback()
		} else {
			size = resolved
		}
	}

	return &Attributes{
		Ino:     ToInode(id),
		Type:    TypeRegular,
		Mode:    entryPerm,
		Nlink:   1,
		Size:    size,
		Blocks:  (size + 511) / 512,
		Blksize: BlockSize,
		Uid:     s.UID,
		Gid:     s.GID,
		Atime:   time.Unix(0, 0),
		Mtime:   time.Unix(0, 0),
		Ctime:   time.Unix(0, 0),
	}
}

func (s *Synthesizer) metricsOrNoop() metrics.ProjectionMetrics {
	if s.metrics == nil {
		return metrics.NewNoopProjectionMetrics()
	}
	return s.metrics
}
