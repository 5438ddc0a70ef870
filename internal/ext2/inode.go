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

	log "github.com/sirupsen/logrus"

	"github.com/sarkarsachib/devine-kernel/internal/common"
)

const (
	// RootIno is the inode number of the root directory.
	RootIno = 2
	// defaultInodeSize is the on-disk inode size for revision 0 images.
	defaultInodeSize = 128
	// inodeBlockSlots is the length of the i_block array.
	inodeBlockSlots = 15
	// singleIndirectSlot and doubleIndirectSlot index the indirect
	// pointers inside i_block; slots below directBlocks map directly.
	directBlocks       = 12
	singleIndirectSlot = 12
	doubleIndirectSlot = 13
	tripleIndirectSlot = 14
)

// Inode mode bits (i_mode). The high nibble selects the file format.
const (
	ModeTypeMask  = 0xF000
	ModeSocket    = 0xC000
	ModeSymlink   = 0xA000
	ModeRegular   = 0x8000
	ModeBlockDev  = 0x6000
	ModeDirectory = 0x4000
	ModeCharDev   = 0x2000
	ModeFIFO      = 0x1000
	ModePermMask  = 0x0FFF
)

// Inode mirrors the 128-byte on-disk inode.
type Inode struct {
	Mode       uint16
	UID        uint16
	Size       uint32
	Atime      uint32
	Ctime      uint32
	Mtime      uint32
	Dtime      uint32
	GID        uint16
	LinksCount uint16
	Blocks     uint32
	Flags      uint32
	OSD1       uint32
	Block      [inodeBlockSlots]uint32
	Generation uint32
	FileACL    uint32
	DirACL     uint32
	Faddr      uint32
	OSD2       [12]byte
}

// IsDir reports whether the inode describes a directory.
func (in *Inode) IsDir() bool {
	return in.Mode&ModeTypeMask == ModeDirectory
}

// IsRegular reports whether the inode describes a regular file.
func (in *Inode) IsRegular() bool {
	return in.Mode&ModeTypeMask == ModeRegular
}

// IsSymlink reports whether the inode describes a symbolic link.
func (in *Inode) IsSymlink() bool {
	return in.Mode&ModeTypeMask == ModeSymlink
}

func decodeInode(b []byte) *Inode {
	le := binary.LittleEndian
	in := &Inode{
		Mode:       le.Uint16(b[0:]),
		UID:        le.Uint16(b[2:]),
		Size:       le.Uint32(b[4:]),
		Atime:      le.Uint32(b[8:]),
		Ctime:      le.Uint32(b[12:]),
		Mtime:      le.Uint32(b[16:]),
		Dtime:      le.Uint32(b[20:]),
		GID:        le.Uint16(b[24:]),
		LinksCount: le.Uint16(b[26:]),
		Blocks:     le.Uint32(b[28:]),
		Flags:      le.Uint32(b[32:]),
		OSD1:       le.Uint32(b[36:]),
		Generation: le.Uint32(b[100:]),
		FileACL:    le.Uint32(b[104:]),
		DirACL:     le.Uint32(b[108:]),
		Faddr:      le.Uint32(b[112:]),
	}
	for i := 0; i < inodeBlockSlots; i++ {
		in.Block[i] = le.Uint32(b[40+4*i:])
	}
	copy(in.OSD2[:], b[116:128])
	return in
}

func encodeInode(dst []byte, in *Inode) {
	le := binary.LittleEndian
	le.PutUint16(dst[0:], in.Mode)
	le.PutUint16(dst[2:], in.UID)
	le.PutUint32(dst[4:], in.Size)
	le.PutUint32(dst[8:], in.Atime)
	le.PutUint32(dst[12:], in.Ctime)
	le.PutUint32(dst[16:], in.Mtime)
	le.PutUint32(dst[20:], in.Dtime)
	le.PutUint16(dst[24:], in.GID)
	le.PutUint16(dst[26:], in.LinksCount)
	le.PutUint32(dst[28:], in.Blocks)
	le.PutUint32(dst[32:], in.Flags)
	le.PutUint32(dst[36:], in.OSD1)
	for i := 0; i < inodeBlockSlots; i++ {
		le.PutUint32(dst[40+4*i:], in.Block[i])
	}
	le.PutUint32(dst[100:], in.Generation)
	le.PutUint32(dst[104:], in.FileACL)
	le.PutUint32(dst[108:], in.DirACL)
	le.PutUint32(dst[112:], in.Faddr)
	copy(dst[116:128], in.OSD2[:])
}

// inodeSize returns the per-inode table slot size, honoring the revision 0
// convention where s_inode_size may be zero.
func (fs *Filesystem) inodeSize() uint32 {
	if fs.sb.InodeSize != 0 {
		return uint32(fs.sb.InodeSize)
	}
	return defaultInodeSize
}

// locateInode maps an inode number to the table block holding it and the
// byte offset inside that block. Inode numbers are 1-based.
func (fs *Filesystem) locateInode(ino uint32) (block uint32, offset uint32, err error) {
	if ino == 0 || ino > fs.sb.InodesCount {
		return 0, 0, fmt.Errorf("inode %d out of range: %w", ino, common.ErrInvalidArgument)
	}
	group := (ino - 1) / fs.sb.InodesPerGroup
	if group >= uint32(len(fs.groups)) {
		return 0, 0, fmt.Errorf("inode %d maps to missing group %d: %w", ino, group, common.ErrCorrupted)
	}
	index := (ino - 1) % fs.sb.InodesPerGroup
	perBlock := fs.blockSize / fs.inodeSize()
	block = fs.groups[group].InodeTable + index/perBlock
	offset = (index % perBlock) * fs.inodeSize()
	return block, offset, nil
}

// ReadInode loads an inode from the inode table.
func (fs *Filesystem) ReadInode(ino uint32) (*Inode, error) {
	if err := fs.ensureMounted(); err != nil {
		return nil, err
	}
	block, offset, err := fs.locateInode(ino)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, fs.blockSize)
	if err := fs.readBlock(block, buf); err != nil {
		return nil, fmt.Errorf("read inode %d: %w", ino, err)
	}
	return decodeInode(buf[offset : offset+defaultInodeSize]), nil
}

// WriteInode stores an inode into the inode table and marks the filesystem
// dirty.
func (fs *Filesystem) WriteInode(ino uint32, in *Inode) error {
	if err := fs.ensureMounted(); err != nil {
		return err
	}
	if in == nil {
		return fmt.Errorf("nil inode: %w", common.ErrInvalidArgument)
	}
	block, offset, err := fs.locateInode(ino)
	if err != nil {
		return err
	}
	buf := make([]byte, fs.blockSize)
	if err := fs.readBlock(block, buf); err != nil {
		return fmt.Errorf("read inode table block %d: %w", block, err)
	}
	encodeInode(buf[offset:offset+defaultInodeSize], in)
	if err := fs.writeBlock(block, buf); err != nil {
		return fmt.Errorf("write inode %d: %w", ino, err)
	}
	fs.dirty = true
	return nil
}

// BlockAt resolves a logical file block to a physical block number. A zero
// result means a hole: the block was never allocated and reads as zeros.
func (fs *Filesystem) BlockAt(in *Inode, logical uint32) (uint32, error) {
	if err := fs.ensureMounted(); err != nil {
		return 0, err
	}
	ptrsPerBlock := fs.blockSize / 4
	if logical < directBlocks {
		return in.Block[logical], nil
	}
	logical -= directBlocks
	if logical < ptrsPerBlock {
		indirect := in.Block[singleIndirectSlot]
		if indirect == 0 {
			return 0, nil
		}
		return fs.readBlockPtr(indirect, logical)
	}
	logical -= ptrsPerBlock
	if logical < ptrsPerBlock*ptrsPerBlock {
		double := in.Block[doubleIndirectSlot]
		if double == 0 {
			return 0, nil
		}
		indirect, err := fs.readBlockPtr(double, logical/ptrsPerBlock)
		if err != nil {
			return 0, err
		}
		if indirect == 0 {
			return 0, nil
		}
		return fs.readBlockPtr(indirect, logical%ptrsPerBlock)
	}
	return 0, fmt.Errorf("triple indirect blocks: %w", common.ErrUnsupported)
}

// SetBlockAt records a physical block for a logical file block. Direct
// slots are assigned in place; the single indirect range allocates and
// zeroes the indirect block on first use.
func (fs *Filesystem) SetBlockAt(in *Inode, logical, phys uint32) error {
	if err := fs.ensureMounted(); err != nil {
		return err
	}
	ptrsPerBlock := fs.blockSize / 4
	if logical < directBlocks {
		in.Block[logical] = phys
		return nil
	}
	logical -= directBlocks
	if logical >= ptrsPerBlock {
		return fmt.Errorf("block mapping beyond single indirect range: %w", common.ErrUnsupported)
	}
	indirect := in.Block[singleIndirectSlot]
	if indirect == 0 {
		allocated, err := fs.AllocBlock()
		if err != nil {
			return fmt.Errorf("allocate indirect block: %w", err)
		}
		zero := make([]byte, fs.blockSize)
		if err := fs.writeBlock(allocated, zero); err != nil {
			return fmt.Errorf("zero indirect block %d: %w", allocated, err)
		}
		in.Block[singleIndirectSlot] = allocated
		indirect = allocated
		log.Debugf("[Ext2] allocated indirect block %d", allocated)
	}
	buf := make([]byte, fs.blockSize)
	if err := fs.readBlock(indirect, buf); err != nil {
		return fmt.Errorf("read indirect block %d: %w", indirect, err)
	}
	binary.LittleEndian.PutUint32(buf[logical*4:], phys)
	if err := fs.writeBlock(indirect, buf); err != nil {
		return fmt.Errorf("write indirect block %d: %w", indirect, err)
	}
	return nil
}

// readBlockPtr reads the index-th u32 block pointer out of an indirect
// block.
func (fs *Filesystem) readBlockPtr(block, index uint32) (uint32, error) {
	buf := make([]byte, fs.blockSize)
	if err := fs.readBlock(block, buf); err != nil {
		return 0, fmt.Errorf("read indirect block %d: %w", block, err)
	}
	return binary.LittleEndian.Uint32(buf[index*4:]), nil
}
