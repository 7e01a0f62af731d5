package fuse

import (
	"context"
	"math"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/pkg/projection"
)

// rawFS answers kernel requests from a projection.Filesystem.
//
// It sits on the go-fuse raw API: node ids are projection inodes, so the
// kernel's lookup counts need no bookkeeping and Forget stays the embedded
// no-op. Everything not implemented here returns ENOSYS.
type rawFS struct {
	fuse.RawFileSystem

	fs           *projection.Filesystem
	base         context.Context
	entryTimeout time.Duration
	attrTimeout  time.Duration
}

func newRawFS(base context.Context, fs *projection.Filesystem, entryTimeout, attrTimeout time.Duration) *rawFS {
	return &rawFS{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		fs:            fs,
		base:          base,
		entryTimeout:  entryTimeout,
		attrTimeout:   attrTimeout,
	}
}

func (r *rawFS) String() string {
	return "plevy"
}

// requestContext derives a context for one request that is cancelled when
// the kernel interrupts the request or the adapter shuts down.
func (r *rawFS) requestContext(cancel <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, stop := context.WithCancel(r.base)
	if cancel != nil {
		go func() {
			select {
			case <-cancel:
				stop()
			case <-ctx.Done():
			}
		}()
	}
	return ctx, stop
}

// toStatus maps a projection error onto a FUSE status.
func toStatus(op string, ino uint64, err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	errno := projection.ErrnoOf(err)
	if errno == syscall.EIO {
		logger.Warn("%s: inode %d: %v", op, ino, err)
	} else {
		logger.Debug("%s: inode %d: %v", op, ino, err)
	}
	return fuse.Status(errno)
}

// fillAttr copies projection attributes into the wire struct.
func fillAttr(out *fuse.Attr, a *projection.Attributes) {
	out.Ino = uint64(a.Ino)
	out.Size = a.Size
	out.Blocks = a.Blocks
	out.Blksize = a.Blksize
	out.Mode = a.FullMode()
	out.Nlink = a.Nlink
	out.Owner = fuse.Owner{Uid: a.Uid, Gid: a.Gid}
	out.Atime, out.Atimensec = splitTime(a.Atime)
	out.Mtime, out.Mtimensec = splitTime(a.Mtime)
	out.Ctime, out.Ctimensec = splitTime(a.Ctime)
}

func splitTime(t time.Time) (uint64, uint32) {
	if t.Unix() < 0 {
		return 0, 0
	}
	return uint64(t.Unix()), uint32(t.Nanosecond())
}

func (r *rawFS) fillEntry(out *fuse.EntryOut, a *projection.Attributes) {
	out.NodeId = uint64(a.Ino)
	out.Generation = 1
	out.SetEntryTimeout(r.entryTimeout)
	out.SetAttrTimeout(r.attrTimeout)
	fillAttr(&out.Attr, a)
}

func (r *rawFS) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	ctx, stop := r.requestContext(cancel)
	defer stop()

	attrs, err := r.fs.Lookup(ctx, projection.Inode(header.NodeId), name)
	if err != nil {
		return toStatus("LOOKUP "+name, header.NodeId, err)
	}

	r.fillEntry(out, attrs)
	return fuse.OK
}

func (r *rawFS) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	ctx, stop := r.requestContext(cancel)
	defer stop()

	attrs, err := r.fs.GetAttr(ctx, projection.Inode(input.NodeId))
	if err != nil {
		return toStatus("GETATTR", input.NodeId, err)
	}

	out.SetTimeout(r.attrTimeout)
	fillAttr(&out.Attr, attrs)
	return fuse.OK
}

// writeFlags are the open flags a read-only mount refuses.
const writeFlags = syscall.O_WRONLY | syscall.O_RDWR | syscall.O_TRUNC | syscall.O_APPEND | syscall.O_CREAT

func (r *rawFS) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	if input.Flags&writeFlags != 0 {
		return fuse.EROFS
	}

	ctx, stop := r.requestContext(cancel)
	defer stop()

	attrs, err := r.fs.GetAttr(ctx, projection.Inode(input.NodeId))
	if err != nil {
		return toStatus("OPEN", input.NodeId, err)
	}
	if attrs.IsDir() {
		return fuse.Status(syscall.EISDIR)
	}

	// Entries are immutable, so the page cache never goes stale
	out.OpenFlags = fuse.FOPEN_KEEP_CACHE
	return fuse.OK
}

func (r *rawFS) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	ctx, stop := r.requestContext(cancel)
	defer stop()

	dest := buf
	if int(input.Size) < len(dest) {
		dest = dest[:input.Size]
	}

	off := int64(input.Offset)
	if input.Offset > math.MaxInt64 {
		// Past the end of any content: resolve the inode, read nothing
		dest, off = nil, 0
	}

	n, err := r.fs.ReadInto(ctx, projection.Inode(input.NodeId), dest, off)
	if err != nil {
		return nil, toStatus("READ", input.NodeId, err)
	}
	return fuse.ReadResultData(dest[:n]), fuse.OK
}

func (r *rawFS) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	ctx, stop := r.requestContext(cancel)
	defer stop()

	attrs, err := r.fs.GetAttr(ctx, projection.Inode(input.NodeId))
	if err != nil {
		return toStatus("OPENDIR", input.NodeId, err)
	}
	if !attrs.IsDir() {
		return fuse.ENOTDIR
	}
	return fuse.OK
}

func toDirEntry(d projection.DirEntry) fuse.DirEntry {
	return fuse.DirEntry{
		Mode: d.Type.ModeBits(),
		Name: d.Name,
		Ino:  uint64(d.Ino),
		Off:  d.Cursor,
	}
}

func (r *rawFS) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	ctx, stop := r.requestContext(cancel)
	defer stop()

	_, err := r.fs.ReadDir(ctx, projection.Inode(input.NodeId), input.Offset, func(d projection.DirEntry) bool {
		return out.AddDirEntry(toDirEntry(d))
	})
	return toStatus("READDIR", input.NodeId, err)
}

func (r *rawFS) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	ctx, stop := r.requestContext(cancel)
	defer stop()

	_, err := r.fs.ReadDirPlus(ctx, projection.Inode(input.NodeId), input.Offset, func(d projection.DirEntry, a *projection.Attributes) bool {
		entryOut := out.AddDirLookupEntry(toDirEntry(d))
		if entryOut == nil {
			return false
		}
		// A zero node id tells the kernel not to instantiate "." and ".."
		if d.Name != "." && d.Name != ".." {
			r.fillEntry(entryOut, a)
		}
		return true
	})
	return toStatus("READDIRPLUS", input.NodeId, err)
}

func (r *rawFS) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	ctx, stop := r.requestContext(cancel)
	defer stop()

	files, err := r.fs.StatFS(ctx)
	if err != nil {
		return toStatus("STATFS", input.NodeId, err)
	}

	out.Files = files
	out.Bsize = projection.BlockSize
	out.Frsize = projection.BlockSize
	out.NameLen = 255
	return fuse.OK
}
