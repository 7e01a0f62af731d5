package registry

import (
	"context"
	"testing"

	contentmemory "github.com/marmos91/plevy/pkg/content/memory"
	"github.com/marmos91/plevy/pkg/projection"
	"github.com/marmos91/plevy/pkg/store/entry"
	entrymemory "github.com/marmos91/plevy/pkg/store/entry/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	entries, err := entrymemory.NewMemoryEntryStore(entrymemory.MemoryEntryStoreConfig{})
	require.NoError(t, err)
	source := contentmemory.NewMemoryContentSource()
	fs, err := projection.New(entries, source, projection.Config{})
	require.NoError(t, err)

	reg, err := New(entries, source, fs)
	require.NoError(t, err)
	return reg
}

func TestNewRejectsMissingResources(t *testing.T) {
	entries, err := entrymemory.NewMemoryEntryStore(entrymemory.MemoryEntryStoreConfig{})
	require.NoError(t, err)
	source := contentmemory.NewMemoryContentSource()
	fs, err := projection.New(entries, source, projection.Config{})
	require.NoError(t, err)

	_, err = New(nil, source, fs)
	assert.Error(t, err)
	_, err = New(entries, nil, fs)
	assert.Error(t, err)
	_, err = New(entries, source, nil)
	assert.Error(t, err)
}

func TestMountTracking(t *testing.T) {
	reg := newTestRegistry(t)

	reg.RecordMount("nfs", "10.0.0.2:800", 100)
	reg.RecordMount("fuse", "/mnt/plevy", 50)
	reg.RecordMount("nfs", "10.0.0.3:801", 200)
	reg.RecordMount("nfs", "10.0.0.2:800", 300)

	mounts := reg.ListMounts()
	require.Len(t, mounts, 3)
	assert.Equal(t, "fuse", mounts[0].Protocol)
	assert.Equal(t, "10.0.0.2:800", mounts[1].Target)
	assert.Equal(t, int64(300), mounts[1].MountTime)

	// Returned records are copies
	mounts[0].Target = "changed"
	assert.Equal(t, "/mnt/plevy", reg.ListMounts()[0].Target)

	assert.True(t, reg.RemoveMount("fuse", "/mnt/plevy"))
	assert.False(t, reg.RemoveMount("fuse", "/mnt/plevy"))
	assert.Equal(t, 2, reg.RemoveAllMounts("nfs"))
	assert.Equal(t, 0, reg.CountMounts())
}

func TestCloseClosesResources(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Entries().Add(ctx, entry.Entry{Name: "a.mkv", SourceID: "a"})
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	_, err = reg.Entries().List(ctx)
	assert.ErrorIs(t, err, entry.ErrClosed)
}
