package nfs

import (
	"context"
	"io"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	billy "github.com/go-git/go-billy/v5"
	nfsfile "github.com/willscott/go-nfs/file"

	"github.com/marmos91/plevy/pkg/projection"
)

// projectionFS adapts a projection.Filesystem to the path-based billy
// interface go-nfs consumes.
//
// Paths have at most one element below the root. Every mutating call fails
// with billy.ErrReadOnly.
type projectionFS struct {
	fs *projection.Filesystem

	// ctx bounds every projection call; it is cancelled on adapter shutdown.
	ctx context.Context
}

var _ billy.Filesystem = (*projectionFS)(nil)

func newProjectionFS(ctx context.Context, fs *projection.Filesystem) *projectionFS {
	return &projectionFS{fs: fs, ctx: ctx}
}

// resolve maps a billy path onto projection attributes.
func (b *projectionFS) resolve(op, filename string) (*projection.Attributes, string, error) {
	clean := strings.Trim(path.Clean("/"+filename), "/")
	if clean == "" {
		attrs, err := b.fs.GetAttr(b.ctx, projection.RootInode)
		if err != nil {
			return nil, "", toPathError(op, filename, err)
		}
		return attrs, "/", nil
	}
	if strings.Contains(clean, "/") {
		return nil, "", &os.PathError{Op: op, Path: filename, Err: os.ErrNotExist}
	}

	attrs, err := b.fs.Lookup(b.ctx, projection.RootInode, clean)
	if err != nil {
		return nil, "", toPathError(op, filename, err)
	}
	return attrs, clean, nil
}

// toPathError converts a projection error into an *os.PathError that
// go-nfs maps to an NFS status (os.IsNotExist -> NFS3ERR_NOENT).
func toPathError(op, name string, err error) error {
	if projection.IsNotFound(err) {
		return &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
	}
	return &os.PathError{Op: op, Path: name, Err: projection.ErrnoOf(err)}
}

func (b *projectionFS) Stat(filename string) (os.FileInfo, error) {
	attrs, name, err := b.resolve("stat", filename)
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: path.Base(name), attrs: attrs}, nil
}

// Lstat is Stat: the projection has no symlinks.
func (b *projectionFS) Lstat(filename string) (os.FileInfo, error) {
	return b.Stat(filename)
}

func (b *projectionFS) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *projectionFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, billy.ErrReadOnly
	}

	attrs, name, err := b.resolve("open", filename)
	if err != nil {
		return nil, err
	}
	if attrs.IsDir() {
		return nil, &os.PathError{Op: "open", Path: filename, Err: syscall.EISDIR}
	}
	return &file{fs: b, name: name, attrs: attrs}, nil
}

func (b *projectionFS) ReadDir(dirname string) ([]os.FileInfo, error) {
	attrs, _, err := b.resolve("readdir", dirname)
	if err != nil {
		return nil, err
	}

	var infos []os.FileInfo
	_, err = b.fs.ReadDirPlus(b.ctx, attrs.Ino, 0, func(d projection.DirEntry, a *projection.Attributes) bool {
		if d.Name == "." || d.Name == ".." {
			return true
		}
		infos = append(infos, &fileInfo{name: d.Name, attrs: a})
		return true
	})
	if err != nil {
		return nil, toPathError("readdir", dirname, err)
	}
	return infos, nil
}

func (b *projectionFS) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *projectionFS) Root() string {
	return "/"
}

func (b *projectionFS) Chroot(string) (billy.Filesystem, error) {
	return nil, billy.ErrNotSupported
}

func (b *projectionFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

func (b *projectionFS) Create(string) (billy.File, error)           { return nil, billy.ErrReadOnly }
func (b *projectionFS) Rename(string, string) error                 { return billy.ErrReadOnly }
func (b *projectionFS) Remove(string) error                         { return billy.ErrReadOnly }
func (b *projectionFS) TempFile(string, string) (billy.File, error) { return nil, billy.ErrReadOnly }
func (b *projectionFS) MkdirAll(string, os.FileMode) error          { return billy.ErrReadOnly }
func (b *projectionFS) Symlink(string, string) error                { return billy.ErrReadOnly }

func (b *projectionFS) Readlink(link string) (string, error) {
	return "", &os.PathError{Op: "readlink", Path: link, Err: os.ErrInvalid}
}

// file is an open entry. Reads go straight to the projection; there is no
// per-file buffering.
type file struct {
	fs     *projectionFS
	name   string
	attrs  *projection.Attributes
	offset int64
}

var _ billy.File = (*file)(nil)

func (f *file) Name() string {
	return f.name
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.fs.fs.ReadInto(f.fs.ctx, f.attrs.Ino, p, off)
	if err != nil {
		return n, toPathError("read", f.name, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		offset += int64(f.attrs.Size)
	default:
		return f.offset, os.ErrInvalid
	}
	if offset < 0 {
		return f.offset, os.ErrInvalid
	}
	f.offset = offset
	return f.offset, nil
}

func (f *file) Write([]byte) (int, error) { return 0, billy.ErrReadOnly }
func (f *file) Truncate(int64) error      { return billy.ErrReadOnly }
func (f *file) Close() error              { return nil }
func (f *file) Lock() error               { return nil }
func (f *file) Unlock() error             { return nil }

// fileInfo exposes projection attributes as os.FileInfo.
type fileInfo struct {
	name  string
	attrs *projection.Attributes
}

func (fi *fileInfo) Name() string {
	return fi.name
}

func (fi *fileInfo) Size() int64 {
	return int64(fi.attrs.Size)
}

func (fi *fileInfo) Mode() os.FileMode {
	mode := os.FileMode(fi.attrs.Mode)
	if fi.attrs.IsDir() {
		mode |= os.ModeDir
	}
	return mode
}

func (fi *fileInfo) ModTime() time.Time {
	return fi.attrs.Mtime
}

func (fi *fileInfo) IsDir() bool {
	return fi.attrs.IsDir()
}

// Sys returns the go-nfs file info. go-nfs only reads ids, link count and
// ownership from a *file.FileInfo.
func (fi *fileInfo) Sys() any {
	return &nfsfile.FileInfo{
		Nlink:  fi.attrs.Nlink,
		UID:    fi.attrs.Uid,
		GID:    fi.attrs.Gid,
		Fileid: uint64(fi.attrs.Ino),
	}
}
