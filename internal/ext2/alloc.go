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

	log "github.com/sirupsen/logrus"

	"github.com/sarkarsachib/devine-kernel/internal/common"
)

// findFirstZeroBit scans a bitmap LSB-first within each byte and returns
// the index of the first clear bit, or -1 when every bit is set.
func findFirstZeroBit(bitmap []byte) int {
	for i, b := range bitmap {
		if b == 0xFF {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) == 0 {
				return i*8 + bit
			}
		}
	}
	return -1
}

func testBit(bitmap []byte, bit uint32) bool {
	return bitmap[bit/8]&(1<<(bit%8)) != 0
}

func setBit(bitmap []byte, bit uint32) {
	bitmap[bit/8] |= 1 << (bit % 8)
}

func clearBit(bitmap []byte, bit uint32) {
	bitmap[bit/8] &^= 1 << (bit % 8)
}

// AllocBlock claims the first free block, scanning groups in ascending
// order. Groups whose descriptor reports no free blocks are skipped, and a
// bitmap hit beyond the group's capacity is treated as a stale count.
func (fs *Filesystem) AllocBlock() (uint32, error) {
	if err := fs.ensureMounted(); err != nil {
		return 0, err
	}
	buf := make([]byte, fs.blockSize)
	for g := range fs.groups {
		if fs.groups[g].FreeBlocksCount == 0 {
			continue
		}
		bitmapBlock := fs.groups[g].BlockBitmap
		if err := fs.readBlock(bitmapBlock, buf); err != nil {
			return 0, fmt.Errorf("read block bitmap of group %d: %w", g, err)
		}
		bit := findFirstZeroBit(buf)
		if bit < 0 || uint32(bit) >= fs.sb.BlocksPerGroup {
			continue
		}
		setBit(buf, uint32(bit))
		if err := fs.writeBlock(bitmapBlock, buf); err != nil {
			return 0, fmt.Errorf("write block bitmap of group %d: %w", g, err)
		}
		fs.groups[g].FreeBlocksCount--
		fs.sb.FreeBlocksCount--
		fs.dirty = true
		block := fs.sb.FirstDataBlock + uint32(g)*fs.sb.BlocksPerGroup + uint32(bit)
		log.Debugf("[Ext2] allocated block %d (group %d bit %d)", block, g, bit)
		return block, nil
	}
	return 0, fmt.Errorf("no free blocks: %w", common.ErrNoSpace)
}

// FreeBlock releases a block back to its group's bitmap. Freeing a block
// that is already free is logged and otherwise ignored.
func (fs *Filesystem) FreeBlock(block uint32) error {
	if err := fs.ensureMounted(); err != nil {
		return err
	}
	if block < fs.sb.FirstDataBlock || block >= fs.sb.BlocksCount {
		return fmt.Errorf("block %d out of range: %w", block, common.ErrInvalidArgument)
	}
	g := (block - fs.sb.FirstDataBlock) / fs.sb.BlocksPerGroup
	if g >= uint32(len(fs.groups)) {
		return fmt.Errorf("block %d maps to missing group %d: %w", block, g, common.ErrInvalidArgument)
	}
	bit := (block - fs.sb.FirstDataBlock) % fs.sb.BlocksPerGroup
	bitmapBlock := fs.groups[g].BlockBitmap
	buf := make([]byte, fs.blockSize)
	if err := fs.readBlock(bitmapBlock, buf); err != nil {
		return fmt.Errorf("read block bitmap of group %d: %w", g, err)
	}
	if !testBit(buf, bit) {
		log.Warnf("[Ext2] freeing already free block %d", block)
	}
	clearBit(buf, bit)
	if err := fs.writeBlock(bitmapBlock, buf); err != nil {
		return fmt.Errorf("write block bitmap of group %d: %w", g, err)
	}
	fs.groups[g].FreeBlocksCount++
	fs.sb.FreeBlocksCount++
	fs.dirty = true
	return nil
}

// AllocInode claims the first free inode and returns its 1-based number.
func (fs *Filesystem) AllocInode() (uint32, error) {
	if err := fs.ensureMounted(); err != nil {
		return 0, err
	}
	buf := make([]byte, fs.blockSize)
	for g := range fs.groups {
		if fs.groups[g].FreeInodesCount == 0 {
			continue
		}
		bitmapBlock := fs.groups[g].InodeBitmap
		if err := fs.readBlock(bitmapBlock, buf); err != nil {
			return 0, fmt.Errorf("read inode bitmap of group %d: %w", g, err)
		}
		bit := findFirstZeroBit(buf)
		if bit < 0 || uint32(bit) >= fs.sb.InodesPerGroup {
			continue
		}
		setBit(buf, uint32(bit))
		if err := fs.writeBlock(bitmapBlock, buf); err != nil {
			return 0, fmt.Errorf("write inode bitmap of group %d: %w", g, err)
		}
		fs.groups[g].FreeInodesCount--
		fs.sb.FreeInodesCount--
		fs.dirty = true
		ino := uint32(g)*fs.sb.InodesPerGroup + uint32(bit) + 1
		log.Debugf("[Ext2] allocated inode %d (group %d bit %d)", ino, g, bit)
		return ino, nil
	}
	return 0, fmt.Errorf("no free inodes: %w", common.ErrNoSpace)
}

// FreeInode releases an inode number back to its group's bitmap.
func (fs *Filesystem) FreeInode(ino uint32) error {
	if err := fs.ensureMounted(); err != nil {
		return err
	}
	if ino == 0 || ino > fs.sb.InodesCount {
		return fmt.Errorf("inode %d out of range: %w", ino, common.ErrInvalidArgument)
	}
	g := (ino - 1) / fs.sb.InodesPerGroup
	if g >= uint32(len(fs.groups)) {
		return fmt.Errorf("inode %d maps to missing group %d: %w", ino, g, common.ErrInvalidArgument)
	}
	bit := (ino - 1) % fs.sb.InodesPerGroup
	bitmapBlock := fs.groups[g].InodeBitmap
	buf := make([]byte, fs.blockSize)
	if err := fs.readBlock(bitmapBlock, buf); err != nil {
		return fmt.Errorf("read inode bitmap of group %d: %w", g, err)
	}
	if !testBit(buf, bit) {
		log.Warnf("[Ext2] freeing already free inode %d", ino)
	}
	clearBit(buf, bit)
	if err := fs.writeBlock(bitmapBlock, buf); err != nil {
		return fmt.Errorf("write inode bitmap of group %d: %w", g, err)
	}
	fs.groups[g].FreeInodesCount++
	fs.sb.FreeInodesCount++
	fs.dirty = true
	return nil
}
