package blockcache

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarkarsachib/devine-kernel/internal/blockdev"
	"github.com/sarkarsachib/devine-kernel/internal/common"
)

var errInjected = errors.New("injected device failure")

// recordingDevice wraps a MemDisk, counting device I/O and optionally
// failing selected blocks.
type recordingDevice struct {
	mem       *blockdev.MemDisk
	reads     int
	writes    int
	failRead  map[uint64]bool
	failWrite map[uint64]bool
}

func newRecordingDevice(t *testing.T, blockSize uint32, numBlocks uint64) *recordingDevice {
	t.Helper()
	mem, err := blockdev.NewMemDisk(blockSize, numBlocks)
	require.NoError(t, err)
	return &recordingDevice{
		mem:       mem,
		failRead:  make(map[uint64]bool),
		failWrite: make(map[uint64]bool),
	}
}

func (d *recordingDevice) ReadBlock(num uint64, dst []byte) error {
	d.reads++
	if d.failRead[num] {
		return fmt.Errorf("read block %d: %w", num, errInjected)
	}
	return d.mem.ReadBlock(num, dst)
}

func (d *recordingDevice) WriteBlock(num uint64, src []byte) error {
	d.writes++
	if d.failWrite[num] {
		return fmt.Errorf("write block %d: %w", num, errInjected)
	}
	return d.mem.WriteBlock(num, src)
}

func (d *recordingDevice) BlockSize() uint32 { return d.mem.BlockSize() }
func (d *recordingDevice) NumBlocks() uint64 { return d.mem.NumBlocks() }

func payload(b byte, size uint32) []byte {
	return bytes.Repeat([]byte{b}, int(size))
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("rejects nil device", func(t *testing.T) {
		t.Parallel()
		_, err := New(nil, 4)
		assert.ErrorIs(t, err, common.ErrInvalidArgument)
	})

	t.Run("rejects non-positive slot count", func(t *testing.T) {
		t.Parallel()
		dev := newRecordingDevice(t, 512, 16)
		_, err := New(dev, 0)
		assert.ErrorIs(t, err, common.ErrInvalidArgument)
	})

	t.Run("adopts device block size", func(t *testing.T) {
		t.Parallel()
		dev := newRecordingDevice(t, 2048, 16)
		c, err := New(dev, 4)
		require.NoError(t, err)
		assert.Equal(t, uint32(2048), c.BlockSize())
		assert.Equal(t, uint64(16), c.NumBlocks())
	})
}

func TestReadWriteRoundTrip(t *testing.T) {
	t.Parallel()

	dev := newRecordingDevice(t, 512, 64)
	c, err := New(dev, 8)
	require.NoError(t, err)

	p := payload(0xAB, 512)
	require.NoError(t, c.Write(7, p))
	assert.Equal(t, 0, dev.writes, "write-back cache must not touch the device on Write")

	got := make([]byte, 512)
	require.NoError(t, c.Read(7, got))
	assert.Equal(t, p, got)
	assert.Equal(t, 0, dev.reads, "cached block must not be re-read from the device")
}

func TestWriteBackBeforeReuse(t *testing.T) {
	t.Parallel()

	const slots = 8
	dev := newRecordingDevice(t, 512, 64)
	c, err := New(dev, slots)
	require.NoError(t, err)

	// Fill every slot with a distinct dirty block, then add one more.
	for b := uint64(0); b < slots; b++ {
		require.NoError(t, c.Write(b, payload(byte(b+1), 512)))
	}
	require.NoError(t, c.Write(slots, payload(0x99, 512)))

	// Block 0 was the LRU victim; its payload must already be on the device.
	got := make([]byte, 512)
	require.NoError(t, dev.mem.ReadBlock(0, got))
	assert.Equal(t, payload(1, 512), got)

	// The rest are still only in the cache.
	require.NoError(t, dev.mem.ReadBlock(1, got))
	assert.Equal(t, make([]byte, 512), got)
}

func TestLRUOrdering(t *testing.T) {
	t.Parallel()

	const slots = 4
	dev := newRecordingDevice(t, 512, 64)
	for b := uint64(1); b <= 5; b++ {
		require.NoError(t, dev.mem.WriteBlock(b, payload(byte(b), 512)))
	}
	c, err := New(dev, slots)
	require.NoError(t, err)

	buf := make([]byte, 512)
	for b := uint64(1); b <= slots; b++ {
		require.NoError(t, c.Read(b, buf))
	}
	require.NoError(t, c.Read(1, buf)) // block 1 becomes most recently used
	require.NoError(t, c.Read(5, buf)) // forces one eviction

	// Block 2 was the true LRU victim: re-reading 1 must hit, re-reading 2
	// must go back to the device.
	readsBefore := dev.reads
	require.NoError(t, c.Read(1, buf))
	assert.Equal(t, readsBefore, dev.reads, "block 1 should still be cached")
	require.NoError(t, c.Read(2, buf))
	assert.Equal(t, readsBefore+1, dev.reads, "block 2 should have been evicted")
}

func TestStats(t *testing.T) {
	t.Parallel()

	dev := newRecordingDevice(t, 512, 64)
	c, err := New(dev, 4)
	require.NoError(t, err)

	buf := make([]byte, 512)
	require.NoError(t, c.Read(3, buf))
	require.NoError(t, c.Read(3, buf))
	require.NoError(t, c.Read(4, buf))

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(2), misses)

	// Writes do not count toward read hit/miss statistics.
	require.NoError(t, c.Write(5, buf))
	hits, misses = c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(2), misses)
}

func TestFlush(t *testing.T) {
	t.Parallel()

	t.Run("writes all dirty blocks once", func(t *testing.T) {
		t.Parallel()
		dev := newRecordingDevice(t, 512, 64)
		c, err := New(dev, 8)
		require.NoError(t, err)

		for b := uint64(0); b < 3; b++ {
			require.NoError(t, c.Write(b, payload(byte(b+1), 512)))
		}
		require.NoError(t, c.Flush())
		assert.Equal(t, 3, dev.writes)

		got := make([]byte, 512)
		require.NoError(t, dev.mem.ReadBlock(2, got))
		assert.Equal(t, payload(3, 512), got)

		// Nothing dirty remains.
		require.NoError(t, c.Flush())
		assert.Equal(t, 3, dev.writes)
	})

	t.Run("continues past failures and keeps failed blocks dirty", func(t *testing.T) {
		t.Parallel()
		dev := newRecordingDevice(t, 512, 64)
		c, err := New(dev, 8)
		require.NoError(t, err)

		for b := uint64(0); b < 3; b++ {
			require.NoError(t, c.Write(b, payload(byte(b+1), 512)))
		}
		dev.failWrite[1] = true

		err = c.Flush()
		require.ErrorIs(t, err, errInjected)
		assert.Equal(t, 3, dev.writes, "flush must attempt every dirty block")

		// Blocks 0 and 2 reached the device despite the failure.
		got := make([]byte, 512)
		require.NoError(t, dev.mem.ReadBlock(0, got))
		assert.Equal(t, payload(1, 512), got)
		require.NoError(t, dev.mem.ReadBlock(2, got))
		assert.Equal(t, payload(3, 512), got)

		// A retried flush picks up only the failed block.
		dev.failWrite[1] = false
		require.NoError(t, c.Flush())
		require.NoError(t, dev.mem.ReadBlock(1, got))
		assert.Equal(t, payload(2, 512), got)
	})
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	t.Run("flushes then drops the block", func(t *testing.T) {
		t.Parallel()
		dev := newRecordingDevice(t, 512, 64)
		c, err := New(dev, 4)
		require.NoError(t, err)

		p := payload(0x5A, 512)
		require.NoError(t, c.Write(9, p))
		require.NoError(t, c.Invalidate(9))

		got := make([]byte, 512)
		require.NoError(t, dev.mem.ReadBlock(9, got))
		assert.Equal(t, p, got)

		// The next read goes back to the device.
		readsBefore := dev.reads
		require.NoError(t, c.Read(9, got))
		assert.Equal(t, readsBefore+1, dev.reads)
	})

	t.Run("absent block is a no-op", func(t *testing.T) {
		t.Parallel()
		dev := newRecordingDevice(t, 512, 64)
		c, err := New(dev, 4)
		require.NoError(t, err)
		require.NoError(t, c.Invalidate(42))
	})

	t.Run("write-back failure keeps the block cached", func(t *testing.T) {
		t.Parallel()
		dev := newRecordingDevice(t, 512, 64)
		c, err := New(dev, 4)
		require.NoError(t, err)

		require.NoError(t, c.Write(9, payload(0x5A, 512)))
		dev.failWrite[9] = true
		require.ErrorIs(t, c.Invalidate(9), errInjected)

		// Still cached: a read hits without device I/O.
		readsBefore := dev.reads
		got := make([]byte, 512)
		require.NoError(t, c.Read(9, got))
		assert.Equal(t, payload(0x5A, 512), got)
		assert.Equal(t, readsBefore, dev.reads)
	})
}

func TestEvictionWriteBackFailure(t *testing.T) {
	t.Parallel()

	dev := newRecordingDevice(t, 512, 64)
	c, err := New(dev, 1)
	require.NoError(t, err)

	require.NoError(t, c.Write(1, payload(0x11, 512)))
	dev.failWrite[1] = true

	// Evicting the dirty block fails, so the new block cannot be installed.
	buf := make([]byte, 512)
	require.ErrorIs(t, c.Read(2, buf), errInjected)

	// The dirty payload survived the failed eviction.
	dev.failWrite[1] = false
	require.NoError(t, c.Read(2, buf))
	got := make([]byte, 512)
	require.NoError(t, dev.mem.ReadBlock(1, got))
	assert.Equal(t, payload(0x11, 512), got)
}

func TestDeviceReadError(t *testing.T) {
	t.Parallel()

	dev := newRecordingDevice(t, 512, 64)
	c, err := New(dev, 4)
	require.NoError(t, err)

	buf := make([]byte, 512)
	require.NoError(t, c.Read(1, buf))

	dev.failRead[5] = true
	require.ErrorIs(t, c.Read(5, buf), errInjected)

	// Earlier cached blocks are untouched by the failed miss.
	readsBefore := dev.reads
	require.NoError(t, c.Read(1, buf))
	assert.Equal(t, readsBefore, dev.reads)

	// The failed block is retried on the next access.
	dev.failRead[5] = false
	require.NoError(t, c.Read(5, buf))
}

func TestBufferValidation(t *testing.T) {
	t.Parallel()

	dev := newRecordingDevice(t, 512, 64)
	c, err := New(dev, 4)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Read(0, make([]byte, 100)), common.ErrInvalidArgument)
	assert.ErrorIs(t, c.Write(0, make([]byte, 1024)), common.ErrInvalidArgument)
}

func TestClose(t *testing.T) {
	t.Parallel()

	dev := newRecordingDevice(t, 512, 64)
	c, err := New(dev, 4)
	require.NoError(t, err)

	p := payload(0x77, 512)
	require.NoError(t, c.Write(3, p))
	require.NoError(t, c.Close())

	got := make([]byte, 512)
	require.NoError(t, dev.mem.ReadBlock(3, got))
	assert.Equal(t, p, got)
}
