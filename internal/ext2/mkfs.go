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
	"fmt"
	"math"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sarkarsachib/devine-kernel/internal/blockdev"
	"github.com/sarkarsachib/devine-kernel/internal/common"
)

// reservedInodes is the count of low inode numbers never handed out; the
// first usable inode is reservedInodes+1.
const reservedInodes = 10

// FormatOptions tune image creation. Zero values pick the defaults.
type FormatOptions struct {
	// BlocksPerGroup defaults to eight times the block size, one bitmap
	// block per group.
	BlocksPerGroup uint32
	// InodesPerGroup defaults to 128.
	InodesPerGroup uint32
	// VolumeName is truncated to 16 bytes.
	VolumeName string
}

func (o *FormatOptions) applyDefaults(blockSize uint32) {
	if o.BlocksPerGroup == 0 {
		o.BlocksPerGroup = blockSize * 8
	}
	if o.InodesPerGroup == 0 {
		o.InodesPerGroup = 128
	}
}

// Format writes a fresh filesystem onto the device: superblock, group
// descriptors, per-group bitmaps and inode tables, and an empty root
// directory. Existing content is not zeroed beyond the metadata blocks.
func Format(dev blockdev.Device, opts FormatOptions) error {
	if dev == nil {
		return fmt.Errorf("nil device: %w", common.ErrInvalidArgument)
	}
	bs := dev.BlockSize()
	var logBlockSize uint32
	switch bs {
	case 1024:
		logBlockSize = 0
	case 2048:
		logBlockSize = 1
	case 4096:
		logBlockSize = 2
	default:
		return fmt.Errorf("block size %d: %w", bs, common.ErrInvalidArgument)
	}
	if dev.NumBlocks() > math.MaxUint32 {
		return fmt.Errorf("device exceeds 2^32 blocks: %w", common.ErrInvalidArgument)
	}
	total := uint32(dev.NumBlocks())
	opts.applyDefaults(bs)
	bpg := opts.BlocksPerGroup
	ipg := opts.InodesPerGroup
	if bpg > bs*8 {
		return fmt.Errorf("blocks per group %d exceeds bitmap capacity %d: %w", bpg, bs*8, common.ErrInvalidArgument)
	}
	if ipg > bs*8 {
		return fmt.Errorf("inodes per group %d exceeds bitmap capacity %d: %w", ipg, bs*8, common.ErrInvalidArgument)
	}
	if ipg <= reservedInodes {
		return fmt.Errorf("inodes per group %d leaves no usable inodes: %w", ipg, common.ErrInvalidArgument)
	}

	var firstData uint32
	if bs == 1024 {
		firstData = 1
	}
	groups := (total + bpg - 1) / bpg
	descBlocks := (groups*groupDescSize + bs - 1) / bs
	tableBlocks := (ipg*defaultInodeSize + bs - 1) / bs

	now := nowTimestamp()
	sb := &Superblock{
		InodesCount:    ipg * groups,
		BlocksCount:    total,
		FirstDataBlock: firstData,
		LogBlockSize:   logBlockSize,
		LogFragSize:    logBlockSize,
		BlocksPerGroup: bpg,
		FragsPerGroup:  bpg,
		InodesPerGroup: ipg,
		Wtime:          now,
		MaxMntCount:    20,
		Magic:          Magic,
		State:          1,
		Errors:         1,
		Lastcheck:      now,
		FirstIno:       reservedInodes + 1,
		InodeSize:      defaultInodeSize,
	}
	id := uuid.New()
	copy(sb.UUID[:], id[:])
	copy(sb.VolumeName[:], opts.VolumeName)

	descs := make([]GroupDesc, groups)
	type groupLayout struct {
		blockBitmap uint32
		inodeBitmap uint32
		inodeTable  uint32
		consumed    uint32 // metadata blocks at the start of the group, root block included
		usable      uint32 // blocks of this group that exist on the device
	}
	layouts := make([]groupLayout, groups)
	for g := uint32(0); g < groups; g++ {
		start := uint64(firstData) + uint64(g)*uint64(bpg)
		end := uint64(firstData) + uint64(g+1)*uint64(bpg)
		if end > uint64(total) {
			end = uint64(total)
		}
		if end <= start {
			return fmt.Errorf("group %d has no blocks on a %d block device: %w", g, total, common.ErrInvalidArgument)
		}
		usable := uint32(end - start)
		var l groupLayout
		l.usable = usable
		if g == 0 {
			// Superblock block, descriptor table, bitmaps, inode table,
			// then the root directory's data block.
			l.blockBitmap = firstData + 1 + descBlocks
			l.inodeBitmap = l.blockBitmap + 1
			l.inodeTable = l.inodeBitmap + 1
			l.consumed = 1 + descBlocks + 2 + tableBlocks + 1
		} else {
			base := uint32(start)
			l.blockBitmap = base
			l.inodeBitmap = base + 1
			l.inodeTable = base + 2
			l.consumed = 2 + tableBlocks
		}
		if l.consumed > usable {
			return fmt.Errorf("group %d needs %d metadata blocks but spans only %d: %w",
				g, l.consumed, usable, common.ErrInvalidArgument)
		}
		layouts[g] = l

		freeInodes := ipg
		if g == 0 {
			freeInodes -= reservedInodes
		}
		descs[g] = GroupDesc{
			BlockBitmap:     l.blockBitmap,
			InodeBitmap:     l.inodeBitmap,
			InodeTable:      l.inodeTable,
			FreeBlocksCount: uint16(usable - l.consumed),
			FreeInodesCount: uint16(freeInodes),
		}
		sb.FreeBlocksCount += uint32(usable - l.consumed)
		sb.FreeInodesCount += freeInodes
	}
	descs[0].UsedDirsCount = 1
	rootBlock := layouts[0].inodeTable + tableBlocks

	// Superblock, preserving nothing: a format starts from a clean slate.
	sbBlock, sbOff := superblockBlock(bs)
	buf := make([]byte, bs)
	copy(buf[sbOff:], sb.encode())
	if err := dev.WriteBlock(uint64(sbBlock), buf); err != nil {
		return fmt.Errorf("write superblock: %w", err)
	}

	// Descriptor table.
	perBlock := bs / groupDescSize
	for start := uint32(0); start < groups; start += perBlock {
		buf = make([]byte, bs)
		n := groups - start
		if n > perBlock {
			n = perBlock
		}
		for i := uint32(0); i < n; i++ {
			encodeGroupDesc(buf[i*groupDescSize:], descs[start+i])
		}
		if err := dev.WriteBlock(uint64(groupDescBlock(bs)+start/perBlock), buf); err != nil {
			return fmt.Errorf("write group descriptors: %w", err)
		}
	}

	for g := uint32(0); g < groups; g++ {
		l := layouts[g]

		bitmap := make([]byte, bs)
		for bit := uint32(0); bit < l.consumed; bit++ {
			setBit(bitmap, bit)
		}
		for bit := l.usable; bit < bs*8; bit++ {
			setBit(bitmap, bit)
		}
		if err := dev.WriteBlock(uint64(l.blockBitmap), bitmap); err != nil {
			return fmt.Errorf("write block bitmap of group %d: %w", g, err)
		}

		bitmap = make([]byte, bs)
		if g == 0 {
			for bit := uint32(0); bit < reservedInodes; bit++ {
				setBit(bitmap, bit)
			}
		}
		for bit := ipg; bit < bs*8; bit++ {
			setBit(bitmap, bit)
		}
		if err := dev.WriteBlock(uint64(l.inodeBitmap), bitmap); err != nil {
			return fmt.Errorf("write inode bitmap of group %d: %w", g, err)
		}

		for t := uint32(0); t < tableBlocks; t++ {
			table := make([]byte, bs)
			if g == 0 && t == 0 {
				root := &Inode{
					Mode:       ModeDirectory | 0755,
					Size:       bs,
					Atime:      now,
					Ctime:      now,
					Mtime:      now,
					LinksCount: 2,
					Blocks:     bs / sectorSize,
				}
				root.Block[0] = rootBlock
				encodeInode(table[(RootIno-1)*defaultInodeSize:], root)
			}
			if err := dev.WriteBlock(uint64(l.inodeTable+t), table); err != nil {
				return fmt.Errorf("write inode table of group %d: %w", g, err)
			}
		}
	}

	// Root directory content: "." and "..", both pointing at the root.
	buf = make([]byte, bs)
	dotLen := direntRecLen(len("."))
	encodeDirent(buf, RootIno, uint16(dotLen), FileTypeDirectory, ".")
	encodeDirent(buf[dotLen:], RootIno, uint16(bs-dotLen), FileTypeDirectory, "..")
	if err := dev.WriteBlock(uint64(rootBlock), buf); err != nil {
		return fmt.Errorf("write root directory: %w", err)
	}

	log.Infof("[Ext2] formatted: %d blocks of %d bytes, %d groups, %d inodes, label %q",
		total, bs, groups, sb.InodesCount, opts.VolumeName)
	return nil
}
