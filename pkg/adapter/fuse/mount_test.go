package fuse

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMounts = `sysfs /sys sysfs rw,nosuid,nodev,noexec,relatime 0 0
proc /proc proc rw,nosuid,nodev,noexec,relatime 0 0
plevy /mnt/plevy fuse.plevy ro,nosuid,nodev,relatime,user_id=1000,group_id=1000 0 0
plevy /home/user/My\040Media fuse.plevy ro,nosuid,nodev 0 0
`

func TestMountedAt(t *testing.T) {
	tests := []struct {
		target string
		want   bool
	}{
		{"/mnt/plevy", true},
		{"/home/user/My Media", true},
		{"/mnt", false},
		{"/mnt/plevy/sub", false},
		{`/home/user/My\040Media`, false},
	}

	for _, tt := range tests {
		got, err := mountedAt(strings.NewReader(sampleMounts), tt.target)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "target %q", tt.target)
	}
}

func TestUnescapeMountPath(t *testing.T) {
	assert.Equal(t, "/plain", unescapeMountPath("/plain"))
	assert.Equal(t, "/a b", unescapeMountPath(`/a\040b`))
	assert.Equal(t, "/tab\there", unescapeMountPath(`/tab\011here`))
	assert.Equal(t, `/back\slash`, unescapeMountPath(`/back\134slash`))
	assert.Equal(t, `/trailing\04`, unescapeMountPath(`/trailing\04`), "short escapes are kept")
}

func TestPrepareMountPoint(t *testing.T) {
	saved := procMounts
	t.Cleanup(func() { procMounts = saved })

	table := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(table, []byte(sampleMounts), 0o644))
	procMounts = table

	t.Run("CreatesMissingDirectory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "mnt")
		require.NoError(t, prepareMountPoint(dir))

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("AcceptsExistingDirectory", func(t *testing.T) {
		assert.NoError(t, prepareMountPoint(t.TempDir()))
	})

	t.Run("RejectsFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o644))

		err := prepareMountPoint(file)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})
}
