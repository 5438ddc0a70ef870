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

	"github.com/sarkarsachib/devine-kernel/internal/blockcache"
)

// groupDescSize is the on-disk size of one block group descriptor.
const groupDescSize = 32

// GroupDesc describes one block group: where its bitmaps and inode table
// live and how much of it is free.
type GroupDesc struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
}

func decodeGroupDesc(b []byte) GroupDesc {
	le := binary.LittleEndian
	return GroupDesc{
		BlockBitmap:     le.Uint32(b[0:]),
		InodeBitmap:     le.Uint32(b[4:]),
		InodeTable:      le.Uint32(b[8:]),
		FreeBlocksCount: le.Uint16(b[12:]),
		FreeInodesCount: le.Uint16(b[14:]),
		UsedDirsCount:   le.Uint16(b[16:]),
	}
}

func encodeGroupDesc(dst []byte, g GroupDesc) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:], g.BlockBitmap)
	le.PutUint32(dst[4:], g.InodeBitmap)
	le.PutUint32(dst[8:], g.InodeTable)
	le.PutUint16(dst[12:], g.FreeBlocksCount)
	le.PutUint16(dst[14:], g.FreeInodesCount)
	le.PutUint16(dst[16:], g.UsedDirsCount)
}

// groupCount returns the number of block groups the superblock implies.
func groupCount(sb *Superblock) uint32 {
	return (sb.BlocksCount + sb.BlocksPerGroup - 1) / sb.BlocksPerGroup
}

// groupDescBlock returns the first block of the descriptor table, which
// starts in the block after the one holding the superblock.
func groupDescBlock(blockSize uint32) uint32 {
	block, _ := superblockBlock(blockSize)
	return block + 1
}

// loadGroupDescs reads the full descriptor table through the cache.
func loadGroupDescs(cache *blockcache.Cache, sb *Superblock) ([]GroupDesc, error) {
	bs := cache.BlockSize()
	count := groupCount(sb)
	perBlock := bs / groupDescSize
	descs := make([]GroupDesc, 0, count)
	buf := make([]byte, bs)
	block := groupDescBlock(bs)
	for uint32(len(descs)) < count {
		if err := cache.Read(uint64(block), buf); err != nil {
			return nil, fmt.Errorf("read group descriptors: %w", err)
		}
		n := count - uint32(len(descs))
		if n > perBlock {
			n = perBlock
		}
		for i := uint32(0); i < n; i++ {
			descs = append(descs, decodeGroupDesc(buf[i*groupDescSize:]))
		}
		block++
	}
	return descs, nil
}

// storeGroupDescs writes the full descriptor table back through the cache.
func storeGroupDescs(cache *blockcache.Cache, descs []GroupDesc) error {
	bs := cache.BlockSize()
	perBlock := bs / groupDescSize
	block := groupDescBlock(bs)
	for start := uint32(0); start < uint32(len(descs)); start += perBlock {
		buf := make([]byte, bs)
		n := uint32(len(descs)) - start
		if n > perBlock {
			n = perBlock
		}
		for i := uint32(0); i < n; i++ {
			encodeGroupDesc(buf[i*groupDescSize:], descs[start+i])
		}
		if err := cache.Write(uint64(block), buf); err != nil {
			return fmt.Errorf("write group descriptors: %w", err)
		}
		block++
	}
	return nil
}
