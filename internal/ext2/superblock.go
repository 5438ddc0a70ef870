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
	"io"

	"github.com/sarkarsachib/devine-kernel/internal/blockcache"
	"github.com/sarkarsachib/devine-kernel/internal/common"
)

const (
	// Magic identifies an ext2 superblock (s_magic).
	Magic = 0xEF53
	// SuperblockOffset is the byte offset of the superblock in the image,
	// regardless of block size.
	SuperblockOffset = 1024
	// superblockSize is the on-disk size of the superblock structure.
	superblockSize = 1024
)

// Superblock is the global filesystem geometry, decoded from the 1024-byte
// on-disk structure. Unrecognized regions are carried through raw so that a
// store writes back exactly what was read, with only the named fields
// updated.
type Superblock struct {
	InodesCount     uint32
	BlocksCount     uint32
	RBlocksCount    uint32
	FreeBlocksCount uint32
	FreeInodesCount uint32
	FirstDataBlock  uint32
	LogBlockSize    uint32
	LogFragSize     uint32
	BlocksPerGroup  uint32
	FragsPerGroup   uint32
	InodesPerGroup  uint32
	Mtime           uint32
	Wtime           uint32
	MntCount        uint16
	MaxMntCount     uint16
	Magic           uint16
	State           uint16
	Errors          uint16
	MinorRevLevel   uint16
	Lastcheck       uint32
	Checkinterval   uint32
	CreatorOS       uint32
	RevLevel        uint32
	DefResuid       uint16
	DefResgid       uint16
	FirstIno        uint32
	InodeSize       uint16
	BlockGroupNr    uint16
	FeatureCompat   uint32
	FeatureIncompat uint32
	FeatureROCompat uint32
	UUID            [16]byte
	VolumeName      [16]byte

	raw [superblockSize]byte
}

func decodeSuperblock(b []byte) *Superblock {
	sb := &Superblock{}
	copy(sb.raw[:], b)
	le := binary.LittleEndian
	sb.InodesCount = le.Uint32(b[0:])
	sb.BlocksCount = le.Uint32(b[4:])
	sb.RBlocksCount = le.Uint32(b[8:])
	sb.FreeBlocksCount = le.Uint32(b[12:])
	sb.FreeInodesCount = le.Uint32(b[16:])
	sb.FirstDataBlock = le.Uint32(b[20:])
	sb.LogBlockSize = le.Uint32(b[24:])
	sb.LogFragSize = le.Uint32(b[28:])
	sb.BlocksPerGroup = le.Uint32(b[32:])
	sb.FragsPerGroup = le.Uint32(b[36:])
	sb.InodesPerGroup = le.Uint32(b[40:])
	sb.Mtime = le.Uint32(b[44:])
	sb.Wtime = le.Uint32(b[48:])
	sb.MntCount = le.Uint16(b[52:])
	sb.MaxMntCount = le.Uint16(b[54:])
	sb.Magic = le.Uint16(b[56:])
	sb.State = le.Uint16(b[58:])
	sb.Errors = le.Uint16(b[60:])
	sb.MinorRevLevel = le.Uint16(b[62:])
	sb.Lastcheck = le.Uint32(b[64:])
	sb.Checkinterval = le.Uint32(b[68:])
	sb.CreatorOS = le.Uint32(b[72:])
	sb.RevLevel = le.Uint32(b[76:])
	sb.DefResuid = le.Uint16(b[80:])
	sb.DefResgid = le.Uint16(b[82:])
	sb.FirstIno = le.Uint32(b[84:])
	sb.InodeSize = le.Uint16(b[88:])
	sb.BlockGroupNr = le.Uint16(b[90:])
	sb.FeatureCompat = le.Uint32(b[92:])
	sb.FeatureIncompat = le.Uint32(b[96:])
	sb.FeatureROCompat = le.Uint32(b[100:])
	copy(sb.UUID[:], b[104:120])
	copy(sb.VolumeName[:], b[120:136])
	return sb
}

func (sb *Superblock) encode() []byte {
	b := make([]byte, superblockSize)
	copy(b, sb.raw[:])
	le := binary.LittleEndian
	le.PutUint32(b[0:], sb.InodesCount)
	le.PutUint32(b[4:], sb.BlocksCount)
	le.PutUint32(b[8:], sb.RBlocksCount)
	le.PutUint32(b[12:], sb.FreeBlocksCount)
	le.PutUint32(b[16:], sb.FreeInodesCount)
	le.PutUint32(b[20:], sb.FirstDataBlock)
	le.PutUint32(b[24:], sb.LogBlockSize)
	le.PutUint32(b[28:], sb.LogFragSize)
	le.PutUint32(b[32:], sb.BlocksPerGroup)
	le.PutUint32(b[36:], sb.FragsPerGroup)
	le.PutUint32(b[40:], sb.InodesPerGroup)
	le.PutUint32(b[44:], sb.Mtime)
	le.PutUint32(b[48:], sb.Wtime)
	le.PutUint16(b[52:], sb.MntCount)
	le.PutUint16(b[54:], sb.MaxMntCount)
	le.PutUint16(b[56:], sb.Magic)
	le.PutUint16(b[58:], sb.State)
	le.PutUint16(b[60:], sb.Errors)
	le.PutUint16(b[62:], sb.MinorRevLevel)
	le.PutUint32(b[64:], sb.Lastcheck)
	le.PutUint32(b[68:], sb.Checkinterval)
	le.PutUint32(b[72:], sb.CreatorOS)
	le.PutUint32(b[76:], sb.RevLevel)
	le.PutUint16(b[80:], sb.DefResuid)
	le.PutUint16(b[82:], sb.DefResgid)
	le.PutUint32(b[84:], sb.FirstIno)
	le.PutUint16(b[88:], sb.InodeSize)
	le.PutUint16(b[90:], sb.BlockGroupNr)
	le.PutUint32(b[92:], sb.FeatureCompat)
	le.PutUint32(b[96:], sb.FeatureIncompat)
	le.PutUint32(b[100:], sb.FeatureROCompat)
	copy(b[104:120], sb.UUID[:])
	copy(b[120:136], sb.VolumeName[:])
	return b
}

// Validate checks the invariants a mountable superblock must satisfy.
func (sb *Superblock) Validate() error {
	if sb.Magic != Magic {
		return fmt.Errorf("bad magic 0x%04X: %w", sb.Magic, common.ErrCorrupted)
	}
	if sb.InodesCount == 0 || sb.BlocksCount == 0 {
		return fmt.Errorf("zero inode or block count: %w", common.ErrCorrupted)
	}
	if sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0 {
		return fmt.Errorf("zero blocks or inodes per group: %w", common.ErrCorrupted)
	}
	return nil
}

// BlockSize derives the filesystem block size from the stored shift.
func (sb *Superblock) BlockSize() uint32 {
	return 1024 << sb.LogBlockSize
}

// VolumeLabel returns the volume name with trailing NULs stripped.
func (sb *Superblock) VolumeLabel() string {
	n := 0
	for n < len(sb.VolumeName) && sb.VolumeName[n] != 0 {
		n++
	}
	return string(sb.VolumeName[:n])
}

// superblockBlock returns the device block holding byte offset 1024 and the
// superblock's offset inside it.
func superblockBlock(blockSize uint32) (block uint32, offset uint32) {
	return SuperblockOffset / blockSize, SuperblockOffset % blockSize
}

// loadSuperblock reads and decodes the superblock through the cache. The
// cache block size must be at least 1024 so the structure fits one block.
func loadSuperblock(cache *blockcache.Cache) (*Superblock, error) {
	bs := cache.BlockSize()
	if bs < superblockSize {
		return nil, fmt.Errorf("device block size %d is below the superblock size: %w", bs, common.ErrUnsupported)
	}
	block, offset := superblockBlock(bs)
	buf := make([]byte, bs)
	if err := cache.Read(uint64(block), buf); err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	return decodeSuperblock(buf[offset : offset+superblockSize]), nil
}

// Probe decodes and validates the superblock straight from an image,
// before any device or cache exists. Tools use it to learn the geometry
// they need to open the image properly.
func Probe(r io.ReaderAt) (*Superblock, error) {
	buf := make([]byte, superblockSize)
	if _, err := r.ReadAt(buf, SuperblockOffset); err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	sb := decodeSuperblock(buf)
	if err := sb.Validate(); err != nil {
		return nil, err
	}
	return sb, nil
}

// storeSuperblock writes the superblock back to its fixed location,
// preserving the rest of the containing block.
func storeSuperblock(cache *blockcache.Cache, sb *Superblock) error {
	bs := cache.BlockSize()
	block, offset := superblockBlock(bs)
	buf := make([]byte, bs)
	if err := cache.Read(uint64(block), buf); err != nil {
		return fmt.Errorf("read superblock block: %w", err)
	}
	copy(buf[offset:offset+superblockSize], sb.encode())
	if err := cache.Write(uint64(block), buf); err != nil {
		return fmt.Errorf("write superblock: %w", err)
	}
	return nil
}
