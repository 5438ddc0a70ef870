// Copyright 2025 DevineFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ext2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarkarsachib/devine-kernel/internal/common"
)

func TestFindFirstZeroBit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, findFirstZeroBit([]byte{0x00}))
	assert.Equal(t, 1, findFirstZeroBit([]byte{0x01}))
	assert.Equal(t, 8, findFirstZeroBit([]byte{0xFF, 0x00}))
	assert.Equal(t, 12, findFirstZeroBit([]byte{0xFF, 0x0F}))
	assert.Equal(t, -1, findFirstZeroBit([]byte{0xFF, 0xFF}))
	assert.Equal(t, -1, findFirstZeroBit(nil))
}

func TestAllocBlockFirstFit(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	// Metadata and the root directory occupy blocks 1 through 21.
	b1, err := fs.AllocBlock()
	require.NoError(t, err)
	assert.Equal(t, uint32(22), b1)
	b2, err := fs.AllocBlock()
	require.NoError(t, err)
	assert.Equal(t, uint32(23), b2)
	assert.True(t, fs.Dirty())
}

func TestAllocBlockReusesFreed(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	a, err := fs.AllocBlock()
	require.NoError(t, err)
	_, err = fs.AllocBlock()
	require.NoError(t, err)

	require.NoError(t, fs.FreeBlock(a))
	again, err := fs.AllocBlock()
	require.NoError(t, err)
	assert.Equal(t, a, again, "first fit returns the lowest free block")
}

func TestAllocInodeFirstFit(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	ino, err := fs.AllocInode()
	require.NoError(t, err)
	assert.Equal(t, fs.Superblock().FirstIno, ino)
	next, err := fs.AllocInode()
	require.NoError(t, err)
	assert.Equal(t, ino+1, next)
}

func TestFreeValidation(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	require.ErrorIs(t, fs.FreeBlock(0), common.ErrInvalidArgument)
	require.ErrorIs(t, fs.FreeBlock(fs.Superblock().BlocksCount), common.ErrInvalidArgument)
	require.ErrorIs(t, fs.FreeInode(0), common.ErrInvalidArgument)
	require.ErrorIs(t, fs.FreeInode(fs.Superblock().InodesCount+1), common.ErrInvalidArgument)
}

func TestDoubleFreeTolerated(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	block, err := fs.AllocBlock()
	require.NoError(t, err)
	require.NoError(t, fs.FreeBlock(block))
	// Freeing an already free block is logged, not failed.
	require.NoError(t, fs.FreeBlock(block))

	ino, err := fs.AllocInode()
	require.NoError(t, err)
	require.NoError(t, fs.FreeInode(ino))
	require.NoError(t, fs.FreeInode(ino))
}

func TestBlockExhaustion(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	total := fs.Superblock().FreeBlocksCount
	seen := make(map[uint32]bool, total)
	for i := uint32(0); i < total; i++ {
		block, err := fs.AllocBlock()
		require.NoError(t, err)
		require.False(t, seen[block], "block %d allocated twice", block)
		require.GreaterOrEqual(t, block, fs.Superblock().FirstDataBlock)
		require.Less(t, block, fs.Superblock().BlocksCount)
		seen[block] = true
	}
	assert.Equal(t, uint32(0), fs.Superblock().FreeBlocksCount)
	_, err := fs.AllocBlock()
	require.ErrorIs(t, err, common.ErrNoSpace)
}

func TestInodeExhaustion(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	total := fs.Superblock().FreeInodesCount
	for i := uint32(0); i < total; i++ {
		ino, err := fs.AllocInode()
		require.NoError(t, err)
		require.Greater(t, ino, uint32(reservedInodes))
		require.LessOrEqual(t, ino, fs.Superblock().InodesCount)
	}
	_, err := fs.AllocInode()
	require.ErrorIs(t, err, common.ErrNoSpace)
}

func TestAllocSpillsToSecondGroup(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 16)
	group0 := uint32(fs.GroupDescs()[0].FreeBlocksCount)
	for i := uint32(0); i < group0; i++ {
		_, err := fs.AllocBlock()
		require.NoError(t, err)
	}
	assert.Equal(t, uint16(0), fs.GroupDescs()[0].FreeBlocksCount)

	// Group 1 starts at 8193; its bitmaps and inode table come first.
	block, err := fs.AllocBlock()
	require.NoError(t, err)
	assert.Equal(t, uint32(8211), block)
	assert.Equal(t, uint16(8172), fs.GroupDescs()[1].FreeBlocksCount)
}

func TestStaleFreeCountSkipsFullGroup(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	// Force a full bitmap while the descriptor still claims free blocks.
	buf := make([]byte, fs.blockSize)
	require.NoError(t, fs.readBlock(fs.groups[0].BlockBitmap, buf))
	for i := range buf {
		buf[i] = 0xFF
	}
	require.NoError(t, fs.writeBlock(fs.groups[0].BlockBitmap, buf))
	fs.groups[0].FreeBlocksCount = 7

	_, err := fs.AllocBlock()
	require.ErrorIs(t, err, common.ErrNoSpace)
}

func TestBitmapPolarity(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 4)
	blocks := make([]uint32, 0, 5)
	for i := 0; i < 5; i++ {
		b, err := fs.AllocBlock()
		require.NoError(t, err)
		blocks = append(blocks, b)
	}
	require.NoError(t, fs.FreeBlock(blocks[1]))
	require.NoError(t, fs.FreeBlock(blocks[3]))
	ino, err := fs.AllocInode()
	require.NoError(t, err)
	_, err = fs.AllocInode()
	require.NoError(t, err)
	require.NoError(t, fs.FreeInode(ino))

	freeBlocks, freeInodes := countBitmapZeros(t, fs)
	assert.Equal(t, fs.Superblock().FreeBlocksCount, freeBlocks)
	assert.Equal(t, fs.Superblock().FreeInodesCount, freeInodes)
}
