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
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarkarsachib/devine-kernel/internal/common"
)

func TestLookup(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	ino, err := fs.Lookup(RootIno, ".")
	require.NoError(t, err)
	assert.Equal(t, uint32(RootIno), ino)

	ino, err = fs.Lookup(RootIno, "..")
	require.NoError(t, err)
	assert.Equal(t, uint32(RootIno), ino)

	_, err = fs.Lookup(RootIno, "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestLookupInNonDirectory(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	ino, err := fs.Create(RootIno, "plain.txt", 0644)
	require.NoError(t, err)
	_, err = fs.Lookup(ino, "anything")
	require.ErrorIs(t, err, common.ErrNotDir)
}

func TestCreateFile(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	ino, err := fs.Create(RootIno, "notes.txt", 0644)
	require.NoError(t, err)
	assert.Equal(t, fs.Superblock().FirstIno, ino)

	in, err := fs.ReadInode(ino)
	require.NoError(t, err)
	assert.Equal(t, uint16(ModeRegular|0644), in.Mode)
	assert.Equal(t, uint16(1), in.LinksCount)
	assert.Equal(t, uint32(0), in.Size)
	assert.NotZero(t, in.Mtime)

	got, err := fs.Lookup(RootIno, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, ino, got)

	entry, err := fs.ReadDir(RootIno, 2)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", entry.Name)
	assert.Equal(t, ino, entry.Ino)
	assert.Equal(t, uint8(FileTypeRegular), entry.FileType)
}

func TestCreateDuplicateAppendsEntry(t *testing.T) {
	t.Parallel()

	// The engine does not police duplicate names; higher layers check
	// existence first. Lookup resolves to the earliest record.
	fs, _, _ := newTestFS(t, 1)
	first, err := fs.Create(RootIno, "same", 0644)
	require.NoError(t, err)
	second, err := fs.Create(RootIno, "same", 0644)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	got, err := fs.Lookup(RootIno, "same")
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestMkdir(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	ino, err := fs.Mkdir(RootIno, "etc", 0755)
	require.NoError(t, err)

	in, err := fs.ReadInode(ino)
	require.NoError(t, err)
	assert.True(t, in.IsDir())
	assert.Equal(t, uint16(ModeDirectory|0755), in.Mode)
	assert.Equal(t, uint16(2), in.LinksCount)
	assert.Equal(t, fs.BlockSize(), in.Size)
	assert.Equal(t, uint32(2), in.Blocks)

	dot, err := fs.ReadDir(ino, 0)
	require.NoError(t, err)
	assert.Equal(t, ".", dot.Name)
	assert.Equal(t, ino, dot.Ino)
	dotdot, err := fs.ReadDir(ino, 1)
	require.NoError(t, err)
	assert.Equal(t, "..", dotdot.Name)
	assert.Equal(t, uint32(RootIno), dotdot.Ino)

	root, err := fs.ReadInode(RootIno)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), root.LinksCount, "the child's .. adds a link")
}

func TestMkdirNested(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	a, err := fs.Mkdir(RootIno, "var", 0755)
	require.NoError(t, err)
	b, err := fs.Mkdir(a, "log", 0755)
	require.NoError(t, err)
	f, err := fs.Create(b, "boot.log", 0644)
	require.NoError(t, err)

	got, err := fs.Lookup(RootIno, "var")
	require.NoError(t, err)
	assert.Equal(t, a, got)
	got, err = fs.Lookup(a, "log")
	require.NoError(t, err)
	assert.Equal(t, b, got)
	got, err = fs.Lookup(b, "boot.log")
	require.NoError(t, err)
	assert.Equal(t, f, got)
	got, err = fs.Lookup(b, "..")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	in, err := fs.ReadInode(a)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), in.LinksCount)
}

func TestReadDirIndexing(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	names := []string{"alpha", "beta", "gamma"}
	for _, name := range names {
		_, err := fs.Create(RootIno, name, 0644)
		require.NoError(t, err)
	}

	want := append([]string{".", ".."}, names...)
	for i, name := range want {
		entry, err := fs.ReadDir(RootIno, i)
		require.NoError(t, err)
		assert.Equal(t, name, entry.Name, "index %d", i)
	}

	_, err := fs.ReadDir(RootIno, len(want))
	require.ErrorIs(t, err, common.ErrNotFound)
	_, err = fs.ReadDir(RootIno, -1)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestReadDirOnFile(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	ino, err := fs.Create(RootIno, "f", 0644)
	require.NoError(t, err)
	_, err = fs.ReadDir(ino, 0)
	require.ErrorIs(t, err, common.ErrNotDir)
}

func TestDirentPacking(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	for _, name := range []string{"a", "bb", "ccc", "dddd"} {
		_, err := fs.Create(RootIno, name, 0644)
		require.NoError(t, err)
	}

	root, err := fs.ReadInode(RootIno)
	require.NoError(t, err)
	buf := make([]byte, fs.blockSize)
	require.NoError(t, fs.readBlock(root.Block[0], buf))

	var off, sum uint32
	for off < fs.blockSize {
		recLen := uint32(binary.LittleEndian.Uint16(buf[off+4:]))
		nameLen := int(buf[off+6])
		require.NotZero(t, recLen, "no terminator inside a packed block")
		require.GreaterOrEqual(t, recLen, direntRecLen(nameLen), "record covers its name")
		require.Zero(t, recLen%4, "records stay 4-byte aligned")
		sum += recLen
		off += recLen
	}
	assert.Equal(t, fs.blockSize, sum, "record lengths tile the block exactly")
}

func TestDirectoryGrowsBeyondOneBlock(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	const count = 70
	inos := make(map[string]uint32, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("file-%03d", i)
		ino, err := fs.Create(RootIno, name, 0644)
		require.NoError(t, err)
		inos[name] = ino
	}

	root, err := fs.ReadInode(RootIno)
	require.NoError(t, err)
	assert.Greater(t, root.Size, fs.BlockSize(), "the directory outgrew its first block")
	assert.NotZero(t, root.Block[1], "a second data block was appended")

	for name, want := range inos {
		got, err := fs.Lookup(RootIno, name)
		require.NoError(t, err)
		assert.Equal(t, want, got, "entry %s", name)
	}

	seen := 0
	for i := 0; ; i++ {
		if _, err := fs.ReadDir(RootIno, i); err != nil {
			require.ErrorIs(t, err, common.ErrNotFound)
			break
		}
		seen++
	}
	assert.Equal(t, count+2, seen)
}

func TestCreateFailsWhenDirectoryCannotGrow(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	// Drain every free block so directory extension cannot allocate.
	for {
		if _, err := fs.AllocBlock(); err != nil {
			require.ErrorIs(t, err, common.ErrNoSpace)
			break
		}
	}

	// Entry splits inside the existing root block need no allocation.
	const fits = 62
	for i := 0; i < fits; i++ {
		_, err := fs.Create(RootIno, fmt.Sprintf("file-%03d", i), 0644)
		require.NoError(t, err)
	}
	freeInodes := fs.Superblock().FreeInodesCount

	_, err := fs.Create(RootIno, "one-too-many", 0644)
	require.ErrorIs(t, err, common.ErrNoSpace)
	assert.Equal(t, freeInodes, fs.Superblock().FreeInodesCount, "the staged inode was rolled back")

	_, err = fs.Mkdir(RootIno, "dir-too-many", 0755)
	require.ErrorIs(t, err, common.ErrNoSpace)
	assert.Equal(t, freeInodes, fs.Superblock().FreeInodesCount)
}

func TestAddDirEntryNameValidation(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	require.ErrorIs(t, fs.AddDirEntry(RootIno, "", 12, FileTypeRegular), common.ErrInvalidArgument)
	require.ErrorIs(t, fs.AddDirEntry(RootIno, strings.Repeat("n", 256), 12, FileTypeRegular), common.ErrInvalidArgument)

	longest := strings.Repeat("n", MaxNameLen)
	require.NoError(t, fs.AddDirEntry(RootIno, longest, 12, FileTypeRegular))
	ino, err := fs.Lookup(RootIno, longest)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), ino)
}

func TestUnlinkFreesResources(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	freeBlocks := fs.Superblock().FreeBlocksCount
	freeInodes := fs.Superblock().FreeInodesCount

	ino, err := fs.Create(RootIno, "victim.txt", 0644)
	require.NoError(t, err)
	in, err := fs.ReadInode(ino)
	require.NoError(t, err)
	_, err = fs.WriteFile(in, 0, make([]byte, 2000))
	require.NoError(t, err)
	require.NoError(t, fs.WriteInode(ino, in))
	assert.Equal(t, freeBlocks-2, fs.Superblock().FreeBlocksCount)
	assert.Equal(t, freeInodes-1, fs.Superblock().FreeInodesCount)

	require.NoError(t, fs.Unlink(RootIno, "victim.txt"))
	assert.Equal(t, freeBlocks, fs.Superblock().FreeBlocksCount)
	assert.Equal(t, freeInodes, fs.Superblock().FreeInodesCount)

	// The record survives the unlink: the name still lists and resolves
	// until its slot is reused.
	got, err := fs.Lookup(RootIno, "victim.txt")
	require.NoError(t, err)
	assert.Equal(t, ino, got)
	entry, err := fs.ReadDir(RootIno, 2)
	require.NoError(t, err)
	assert.Equal(t, "victim.txt", entry.Name)
}

func TestUnlinkHonorsLinkCount(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	ino, err := fs.Create(RootIno, "one", 0644)
	require.NoError(t, err)
	require.NoError(t, fs.AddDirEntry(RootIno, "two", ino, FileTypeRegular))
	in, err := fs.ReadInode(ino)
	require.NoError(t, err)
	in.LinksCount = 2
	require.NoError(t, fs.WriteInode(ino, in))
	freeInodes := fs.Superblock().FreeInodesCount

	require.NoError(t, fs.Unlink(RootIno, "one"))
	assert.Equal(t, freeInodes, fs.Superblock().FreeInodesCount)
	in, err = fs.ReadInode(ino)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), in.LinksCount)

	require.NoError(t, fs.Unlink(RootIno, "two"))
	assert.Equal(t, freeInodes+1, fs.Superblock().FreeInodesCount)
}

func TestUnlinkMissing(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	require.ErrorIs(t, fs.Unlink(RootIno, "ghost"), common.ErrNotFound)
}

func TestRemoveDirEntryMergesIntoPredecessor(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	aa, err := fs.Create(RootIno, "aa", 0644)
	require.NoError(t, err)
	_, err = fs.Create(RootIno, "bb", 0644)
	require.NoError(t, err)
	cc, err := fs.Create(RootIno, "cc", 0644)
	require.NoError(t, err)

	require.NoError(t, fs.RemoveDirEntry(RootIno, "bb"))
	_, err = fs.Lookup(RootIno, "bb")
	require.ErrorIs(t, err, common.ErrNotFound)

	got, err := fs.Lookup(RootIno, "aa")
	require.NoError(t, err)
	assert.Equal(t, aa, got)
	got, err = fs.Lookup(RootIno, "cc")
	require.NoError(t, err)
	assert.Equal(t, cc, got)
	entry, err := fs.ReadDir(RootIno, 3)
	require.NoError(t, err)
	assert.Equal(t, "cc", entry.Name, "the walk steps over the merged record")

	// The predecessor absorbed the cleared record, so the block still
	// tiles exactly.
	root, err := fs.ReadInode(RootIno)
	require.NoError(t, err)
	buf := make([]byte, fs.blockSize)
	require.NoError(t, fs.readBlock(root.Block[0], buf))
	var off, sum uint32
	for off < fs.blockSize {
		recLen := uint32(binary.LittleEndian.Uint16(buf[off+4:]))
		require.NotZero(t, recLen)
		sum += recLen
		off += recLen
	}
	assert.Equal(t, fs.blockSize, sum)

	// The freed slack hosts the next entry in place of the removed one.
	_, err = fs.Create(RootIno, "dd", 0644)
	require.NoError(t, err)
	entry, err = fs.ReadDir(RootIno, 3)
	require.NoError(t, err)
	assert.Equal(t, "dd", entry.Name)
	entry, err = fs.ReadDir(RootIno, 4)
	require.NoError(t, err)
	assert.Equal(t, "cc", entry.Name)
}

func TestRemoveDirEntryLeadingRecord(t *testing.T) {
	t.Parallel()

	// A record at the head of its block has no predecessor to absorb it,
	// so the slot is marked unused in place and reclaimed by later inserts.
	fs, _, _ := newTestFS(t, 1)
	dir, err := fs.Mkdir(RootIno, "spool", 0755)
	require.NoError(t, err)

	require.NoError(t, fs.RemoveDirEntry(dir, "."))
	entry, err := fs.ReadDir(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, "..", entry.Name)

	require.NoError(t, fs.AddDirEntry(dir, "x", 12, FileTypeRegular))
	entry, err = fs.ReadDir(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, "x", entry.Name, "the cleared slot leads the block again")
}

func TestRemoveDirEntryErrors(t *testing.T) {
	t.Parallel()

	fs, _, _ := newTestFS(t, 1)
	require.ErrorIs(t, fs.RemoveDirEntry(RootIno, "ghost"), common.ErrNotFound)

	ino, err := fs.Create(RootIno, "f", 0644)
	require.NoError(t, err)
	require.ErrorIs(t, fs.RemoveDirEntry(ino, "x"), common.ErrNotDir)
}
