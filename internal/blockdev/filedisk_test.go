package blockdev

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarkarsachib/devine-kernel/internal/common"
)

func testImage(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "disk.img")
}

func TestCreateFileDisk(t *testing.T) {
	t.Parallel()

	t.Run("creates sized image", func(t *testing.T) {
		t.Parallel()
		path := testImage(t)

		d, err := CreateFileDisk(path, 1024, 32)
		require.NoError(t, err)
		defer d.Close()

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, int64(32*1024), info.Size())
		assert.Equal(t, uint64(32), d.NumBlocks())
	})

	t.Run("rejects bad geometry", func(t *testing.T) {
		t.Parallel()
		_, err := CreateFileDisk(testImage(t), 0, 32)
		assert.ErrorIs(t, err, common.ErrInvalidArgument)
	})
}

func TestFileDiskReadWrite(t *testing.T) {
	t.Parallel()

	path := testImage(t)
	d, err := CreateFileDisk(path, 512, 8)
	require.NoError(t, err)
	defer d.Close()

	src := bytes.Repeat([]byte{0x42}, 512)
	require.NoError(t, d.WriteBlock(5, src))

	got := make([]byte, 512)
	require.NoError(t, d.ReadBlock(5, got))
	assert.Equal(t, src, got)

	assert.ErrorIs(t, d.WriteBlock(8, src), common.ErrInvalidArgument)
	assert.ErrorIs(t, d.ReadBlock(0, make([]byte, 100)), common.ErrInvalidArgument)
}

func TestOpenFileDisk(t *testing.T) {
	t.Parallel()

	t.Run("reopen sees written data", func(t *testing.T) {
		t.Parallel()
		path := testImage(t)

		d, err := CreateFileDisk(path, 512, 8)
		require.NoError(t, err)
		src := bytes.Repeat([]byte{0x17}, 512)
		require.NoError(t, d.WriteBlock(2, src))
		require.NoError(t, d.Close())

		d2, err := OpenFileDisk(path, 512, false)
		require.NoError(t, err)
		defer d2.Close()

		assert.Equal(t, uint64(8), d2.NumBlocks())
		got := make([]byte, 512)
		require.NoError(t, d2.ReadBlock(2, got))
		assert.Equal(t, src, got)
	})

	t.Run("missing image", func(t *testing.T) {
		t.Parallel()
		_, err := OpenFileDisk(filepath.Join(t.TempDir(), "nope.img"), 512, false)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("size not a multiple of block size", func(t *testing.T) {
		t.Parallel()
		path := testImage(t)
		require.NoError(t, os.WriteFile(path, make([]byte, 700), 0644))

		_, err := OpenFileDisk(path, 512, false)
		assert.ErrorIs(t, err, common.ErrInvalidArgument)
	})
}

func TestFileDiskReadOnly(t *testing.T) {
	t.Parallel()

	path := testImage(t)
	d, err := CreateFileDisk(path, 512, 4)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	ro, err := OpenFileDisk(path, 512, true)
	require.NoError(t, err)
	defer ro.Close()

	buf := make([]byte, 512)
	require.NoError(t, ro.ReadBlock(0, buf))
	assert.ErrorIs(t, ro.WriteBlock(0, buf), common.ErrPermission)
}

func TestFileDiskLocking(t *testing.T) {
	t.Parallel()

	t.Run("second writer is refused", func(t *testing.T) {
		t.Parallel()
		path := testImage(t)

		d, err := CreateFileDisk(path, 512, 4)
		require.NoError(t, err)
		defer d.Close()

		_, err = OpenFileDisk(path, 512, false)
		assert.ErrorIs(t, err, common.ErrBusy)
	})

	t.Run("readers share the lock", func(t *testing.T) {
		t.Parallel()
		path := testImage(t)

		d, err := CreateFileDisk(path, 512, 4)
		require.NoError(t, err)
		require.NoError(t, d.Close())

		r1, err := OpenFileDisk(path, 512, true)
		require.NoError(t, err)
		defer r1.Close()

		r2, err := OpenFileDisk(path, 512, true)
		require.NoError(t, err)
		defer r2.Close()
	})

	t.Run("close releases the lock", func(t *testing.T) {
		t.Parallel()
		path := testImage(t)

		d, err := CreateFileDisk(path, 512, 4)
		require.NoError(t, err)
		require.NoError(t, d.Close())

		d2, err := OpenFileDisk(path, 512, false)
		require.NoError(t, err)
		require.NoError(t, d2.Close())
	})
}
