package fuse

import (
	"context"
	"encoding/binary"
	"math"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/plevy/pkg/content"
	contentmemory "github.com/marmos91/plevy/pkg/content/memory"
	"github.com/marmos91/plevy/pkg/projection"
	"github.com/marmos91/plevy/pkg/registry"
	"github.com/marmos91/plevy/pkg/store/entry"
	entrymemory "github.com/marmos91/plevy/pkg/store/entry/memory"
)

type item struct {
	name string
	data []byte
}

func newTestRegistry(t *testing.T, items ...item) *registry.Registry {
	t.Helper()
	ctx := context.Background()

	entries, err := entrymemory.NewMemoryEntryStore(entrymemory.MemoryEntryStoreConfig{FirstID: 100})
	require.NoError(t, err)
	source := contentmemory.NewMemoryContentSource()
	for _, it := range items {
		_, err := entries.Add(ctx, entry.Entry{Name: it.name, SourceID: it.name})
		require.NoError(t, err)
		require.NoError(t, source.Put(content.Ref{SourceID: it.name}, it.data))
	}

	fs, err := projection.New(entries, source, projection.Config{UID: 1000, GID: 1000, ResolveSize: true})
	require.NoError(t, err)
	reg, err := registry.New(entries, source, fs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func newTestRawFS(t *testing.T, items ...item) *rawFS {
	reg := newTestRegistry(t, items...)
	return newRawFS(context.Background(), reg.Filesystem(), time.Second, 2*time.Second)
}

// dirent is one decoded entry of a READDIR reply.
type dirent struct {
	ino  uint64
	off  uint64
	typ  uint32
	name string
}

// parseDirents decodes the fuse_dirent records written into buf. The buffer
// starts zeroed, so the first record with an empty name ends the reply.
func parseDirents(buf []byte) []dirent {
	var out []dirent
	for len(buf) >= 24 {
		nameLen := binary.LittleEndian.Uint32(buf[16:])
		if nameLen == 0 {
			break
		}
		d := dirent{
			ino: binary.LittleEndian.Uint64(buf[0:]),
			off: binary.LittleEndian.Uint64(buf[8:]),
			typ: binary.LittleEndian.Uint32(buf[20:]),
		}
		d.name = string(buf[24 : 24+nameLen])
		out = append(out, d)

		recLen := (24 + int(nameLen) + 7) &^ 7
		buf = buf[recLen:]
	}
	return out
}

func readDir(t *testing.T, r *rawFS, offset uint64, size int) []dirent {
	t.Helper()
	buf := make([]byte, size)
	out := fuse.NewDirEntryList(buf, offset)
	status := r.ReadDir(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}, Offset: offset}, out)
	require.Equal(t, fuse.OK, status)
	return parseDirents(buf)
}

func TestRawFSLookup(t *testing.T) {
	r := newTestRawFS(t, item{"movie.mkv", []byte("0123456789")})

	var out fuse.EntryOut
	status := r.Lookup(nil, &fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}, "movie.mkv", &out)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, uint64(100), out.NodeId)
	assert.Equal(t, uint64(100), out.Attr.Ino)
	assert.Equal(t, uint64(10), out.Attr.Size)
	assert.Equal(t, uint32(syscall.S_IFREG|0o444), out.Attr.Mode)
	assert.Equal(t, uint32(1000), out.Attr.Uid)
	assert.Equal(t, uint64(1), out.EntryValid)
	assert.Equal(t, uint64(2), out.AttrValid)

	out = fuse.EntryOut{}
	status = r.Lookup(nil, &fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}, "missing.mkv", &out)
	assert.Equal(t, fuse.ENOENT, status)
	assert.Equal(t, uint64(0), out.NodeId)
	assert.Equal(t, uint64(0), out.EntryValid, "misses are not cached")

	status = r.Lookup(nil, &fuse.InHeader{NodeId: 100}, "movie.mkv", &fuse.EntryOut{})
	assert.Equal(t, fuse.ENOENT, status, "files have no children")
}

func TestRawFSLookupSeesNewEntries(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	r := newRawFS(ctx, reg.Filesystem(), time.Second, 2*time.Second)

	var out fuse.EntryOut
	status := r.Lookup(nil, &fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}, "late.mkv", &out)
	require.Equal(t, fuse.ENOENT, status)

	id, err := reg.Entries().Add(ctx, entry.Entry{Name: "late.mkv", SourceID: "late"})
	require.NoError(t, err)

	out = fuse.EntryOut{}
	status = r.Lookup(nil, &fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}, "late.mkv", &out)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, uint64(id), out.NodeId)
}

func TestRawFSGetAttr(t *testing.T) {
	r := newTestRawFS(t, item{"movie.mkv", []byte("abc")})

	var out fuse.AttrOut
	require.Equal(t, fuse.OK, r.GetAttr(nil, &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}}, &out))
	assert.Equal(t, uint32(syscall.S_IFDIR|0o555), out.Attr.Mode)
	assert.Equal(t, uint32(2), out.Attr.Nlink)
	assert.Equal(t, uint64(1), out.Attr.Ino)

	out = fuse.AttrOut{}
	require.Equal(t, fuse.OK, r.GetAttr(nil, &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: 100}}, &out))
	assert.Equal(t, uint64(3), out.Attr.Size)
	assert.Equal(t, uint32(projection.BlockSize), out.Attr.Blksize)

	assert.Equal(t, fuse.ENOENT, r.GetAttr(nil, &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: 999}}, &fuse.AttrOut{}))
}

func TestRawFSOpenAndRead(t *testing.T) {
	r := newTestRawFS(t, item{"movie.mkv", []byte("0123456789")})

	t.Run("ReadOnlyOpen", func(t *testing.T) {
		var out fuse.OpenOut
		status := r.Open(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: 100}, Flags: syscall.O_RDONLY}, &out)
		require.Equal(t, fuse.OK, status)
		assert.NotZero(t, out.OpenFlags&fuse.FOPEN_KEEP_CACHE)
	})

	t.Run("WriteOpenRefused", func(t *testing.T) {
		for _, flags := range []uint32{syscall.O_WRONLY, syscall.O_RDWR, syscall.O_RDONLY | syscall.O_TRUNC} {
			status := r.Open(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: 100}, Flags: flags}, &fuse.OpenOut{})
			assert.Equal(t, fuse.EROFS, status, "flags %#x", flags)
		}
	})

	t.Run("OpenDirectoryAsFile", func(t *testing.T) {
		status := r.Open(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}}, &fuse.OpenOut{})
		assert.Equal(t, fuse.Status(syscall.EISDIR), status)
	})

	t.Run("Read", func(t *testing.T) {
		buf := make([]byte, 4)
		res, status := r.Read(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: 100}, Offset: 2, Size: 4}, buf)
		require.Equal(t, fuse.OK, status)
		data, status := res.Bytes(make([]byte, 4))
		require.Equal(t, fuse.OK, status)
		assert.Equal(t, "2345", string(data))
	})

	t.Run("ReadClippedAtEnd", func(t *testing.T) {
		buf := make([]byte, 16)
		res, status := r.Read(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: 100}, Offset: 8, Size: 16}, buf)
		require.Equal(t, fuse.OK, status)
		data, _ := res.Bytes(make([]byte, 16))
		assert.Equal(t, "89", string(data))
	})

	t.Run("ReadPastEnd", func(t *testing.T) {
		buf := make([]byte, 16)
		res, status := r.Read(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: 100}, Offset: 100, Size: 16}, buf)
		require.Equal(t, fuse.OK, status)
		assert.Equal(t, 0, res.Size())
	})

	t.Run("ReadBeyondInt64Offset", func(t *testing.T) {
		for _, off := range []uint64{math.MaxInt64 + 1, math.MaxUint64} {
			res, status := r.Read(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: 100}, Offset: off, Size: 16}, make([]byte, 16))
			require.Equal(t, fuse.OK, status, "offset %d", off)
			assert.Equal(t, 0, res.Size(), "offset %d", off)
		}

		_, status := r.Read(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: 999}, Offset: math.MaxUint64, Size: 16}, make([]byte, 16))
		assert.Equal(t, fuse.ENOENT, status, "unknown inode still fails")
	})

	t.Run("ReadUnknownInode", func(t *testing.T) {
		_, status := r.Read(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: 999}, Size: 4}, make([]byte, 4))
		assert.Equal(t, fuse.ENOENT, status)
	})

	t.Run("CancelledRequest", func(t *testing.T) {
		cancel := make(chan struct{})
		close(cancel)
		_, status := r.Read(cancel, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: 100}, Size: 4}, make([]byte, 4))
		// The projection may finish before the interrupt lands
		assert.Contains(t, []fuse.Status{fuse.OK, fuse.EINTR}, status)
	})
}

func TestRawFSOpenDir(t *testing.T) {
	r := newTestRawFS(t, item{"movie.mkv", nil})

	assert.Equal(t, fuse.OK, r.OpenDir(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}}, &fuse.OpenOut{}))
	assert.Equal(t, fuse.ENOTDIR, r.OpenDir(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: 100}}, &fuse.OpenOut{}))
	assert.Equal(t, fuse.ENOENT, r.OpenDir(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: 999}}, &fuse.OpenOut{}))
}

func TestRawFSReadDir(t *testing.T) {
	r := newTestRawFS(t,
		item{"movie.mkv", []byte("m")},
		item{"song.flac", []byte("s")},
		item{"notes.txt", []byte("n")},
	)

	t.Run("FullListing", func(t *testing.T) {
		got := readDir(t, r, 0, 4096)
		require.Len(t, got, 5)

		assert.Equal(t, ".", got[0].name)
		assert.Equal(t, "..", got[1].name)
		assert.Equal(t, uint64(1), got[0].ino)
		assert.Equal(t, uint64(1), got[1].ino)

		names := []string{got[2].name, got[3].name, got[4].name}
		assert.Equal(t, []string{"movie.mkv", "song.flac", "notes.txt"}, names)
		assert.Equal(t, uint64(100), got[2].ino)
		assert.Equal(t, uint64(102), got[4].ino)

		for i, d := range got {
			assert.Equal(t, uint64(i+1), d.off, "entry %q", d.name)
		}
		assert.Equal(t, uint32(syscall.S_IFDIR>>12), got[0].typ)
		assert.Equal(t, uint32(syscall.S_IFREG>>12), got[2].typ)
	})

	t.Run("ResumeFromCookie", func(t *testing.T) {
		got := readDir(t, r, 3, 4096)
		require.Len(t, got, 2)
		assert.Equal(t, "song.flac", got[0].name)
		assert.Equal(t, uint64(4), got[0].off)
	})

	t.Run("SmallBufferPaginates", func(t *testing.T) {
		var names []string
		var offset uint64
		for range 10 {
			page := readDir(t, r, offset, 64)
			if len(page) == 0 {
				break
			}
			for _, d := range page {
				names = append(names, d.name)
			}
			offset = page[len(page)-1].off
		}
		assert.Equal(t, []string{".", "..", "movie.mkv", "song.flac", "notes.txt"}, names)
	})

	t.Run("PastEnd", func(t *testing.T) {
		assert.Empty(t, readDir(t, r, 5, 4096))
	})

	t.Run("NotADirectory", func(t *testing.T) {
		out := fuse.NewDirEntryList(make([]byte, 4096), 0)
		status := r.ReadDir(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: 100}}, out)
		assert.Equal(t, fuse.ENOENT, status)
	})
}

func TestRawFSReadDirPlus(t *testing.T) {
	r := newTestRawFS(t, item{"movie.mkv", []byte("m")}, item{"song.flac", []byte("s")})

	out := fuse.NewDirEntryList(make([]byte, 8192), 0)
	status := r.ReadDirPlus(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}}, out)
	assert.Equal(t, fuse.OK, status)

	// A buffer too small for even one entry is not an error
	out = fuse.NewDirEntryList(make([]byte, 8), 0)
	status = r.ReadDirPlus(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}}, out)
	assert.Equal(t, fuse.OK, status)
}

func TestRawFSStatFs(t *testing.T) {
	r := newTestRawFS(t, item{"a", nil}, item{"b", nil})

	var out fuse.StatfsOut
	require.Equal(t, fuse.OK, r.StatFs(nil, &fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}, &out))
	assert.Equal(t, uint64(2), out.Files)
	assert.Equal(t, uint32(255), out.NameLen)
	assert.Equal(t, uint32(projection.BlockSize), out.Bsize)
}

func TestRawFSMutationsUnsupported(t *testing.T) {
	r := newTestRawFS(t)

	status := r.Mkdir(nil, &fuse.MkdirIn{InHeader: fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}}, "dir", &fuse.EntryOut{})
	assert.Equal(t, fuse.ENOSYS, status)
	assert.Equal(t, "plevy", r.String())
}
