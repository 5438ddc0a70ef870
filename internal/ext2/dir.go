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

// Directory entry file type tags, stored in each record.
const (
	FileTypeUnknown   = 0
	FileTypeRegular   = 1
	FileTypeDirectory = 2
	FileTypeCharDev   = 3
	FileTypeBlockDev  = 4
	FileTypeFIFO      = 5
	FileTypeSocket    = 6
	FileTypeSymlink   = 7
)

const (
	// MaxNameLen is the longest directory entry name.
	MaxNameLen = 255
	// direntHeaderLen covers inode, rec_len, name_len and file_type.
	direntHeaderLen = 8
)

// DirEntry is a directory record as returned by ReadDir.
type DirEntry struct {
	Ino      uint32
	FileType uint8
	Name     string
}

// direntRecLen returns the 4-byte aligned record length for a name.
func direntRecLen(nameLen int) uint32 {
	return uint32(direntHeaderLen+nameLen+3) &^ 3
}

func encodeDirent(b []byte, ino uint32, recLen uint16, fileType uint8, name string) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], ino)
	le.PutUint16(b[4:], recLen)
	b[6] = uint8(len(name))
	b[7] = fileType
	copy(b[direntHeaderLen:], name)
}

// Lookup resolves a name inside a directory to an inode number.
func (fs *Filesystem) Lookup(parent uint32, name string) (uint32, error) {
	if err := fs.ensureMounted(); err != nil {
		return 0, err
	}
	dir, err := fs.ReadInode(parent)
	if err != nil {
		return 0, err
	}
	if !dir.IsDir() {
		return 0, fmt.Errorf("inode %d: %w", parent, common.ErrNotDir)
	}
	buf := make([]byte, fs.blockSize)
	numBlocks := (dir.Size + fs.blockSize - 1) / fs.blockSize
	for i := uint32(0); i < numBlocks; i++ {
		block, err := fs.BlockAt(dir, i)
		if err != nil || block == 0 {
			continue
		}
		if err := fs.readBlock(block, buf); err != nil {
			continue
		}
		off := uint32(0)
		for off+direntHeaderLen <= fs.blockSize {
			ino := binary.LittleEndian.Uint32(buf[off:])
			recLen := uint32(binary.LittleEndian.Uint16(buf[off+4:]))
			nameLen := uint32(buf[off+6])
			if recLen == 0 {
				break
			}
			end := off + direntHeaderLen + nameLen
			if end > fs.blockSize {
				return 0, fmt.Errorf("entry overruns directory block %d: %w", block, common.ErrCorrupted)
			}
			if ino != 0 && int(nameLen) == len(name) && string(buf[off+direntHeaderLen:end]) == name {
				return ino, nil
			}
			off += recLen
		}
	}
	return 0, fmt.Errorf("%q in directory %d: %w", name, parent, common.ErrNotFound)
}

// ReadDir returns the index-th live entry of a directory, counting records
// whose inode number is non-zero in block order.
func (fs *Filesystem) ReadDir(dir uint32, index int) (*DirEntry, error) {
	if err := fs.ensureMounted(); err != nil {
		return nil, err
	}
	in, err := fs.ReadInode(dir)
	if err != nil {
		return nil, err
	}
	if !in.IsDir() {
		return nil, fmt.Errorf("inode %d: %w", dir, common.ErrNotDir)
	}
	buf := make([]byte, fs.blockSize)
	numBlocks := (in.Size + fs.blockSize - 1) / fs.blockSize
	current := 0
	for i := uint32(0); i < numBlocks; i++ {
		block, err := fs.BlockAt(in, i)
		if err != nil || block == 0 {
			continue
		}
		if err := fs.readBlock(block, buf); err != nil {
			continue
		}
		off := uint32(0)
		for off+direntHeaderLen <= fs.blockSize {
			ino := binary.LittleEndian.Uint32(buf[off:])
			recLen := uint32(binary.LittleEndian.Uint16(buf[off+4:]))
			nameLen := uint32(buf[off+6])
			fileType := buf[off+7]
			if recLen == 0 {
				break
			}
			end := off + direntHeaderLen + nameLen
			if end > fs.blockSize {
				return nil, fmt.Errorf("entry overruns directory block %d: %w", block, common.ErrCorrupted)
			}
			if ino != 0 {
				if current == index {
					return &DirEntry{
						Ino:      ino,
						FileType: fileType,
						Name:     string(buf[off+direntHeaderLen : end]),
					}, nil
				}
				current++
			}
			off += recLen
		}
	}
	return nil, fmt.Errorf("no entry %d in directory %d: %w", index, dir, common.ErrNotFound)
}

// AddDirEntry inserts a name into a directory. Each data block is scanned
// for a record with enough slack to split; when every block is packed a
// fresh block is allocated and the entry becomes its first record,
// spanning the whole block.
func (fs *Filesystem) AddDirEntry(parent uint32, name string, ino uint32, fileType uint8) error {
	if err := fs.ensureMounted(); err != nil {
		return err
	}
	if len(name) == 0 || len(name) > MaxNameLen {
		return fmt.Errorf("name length %d: %w", len(name), common.ErrInvalidArgument)
	}
	dir, err := fs.ReadInode(parent)
	if err != nil {
		return err
	}
	required := direntRecLen(len(name))
	buf := make([]byte, fs.blockSize)
	numBlocks := (dir.Size + fs.blockSize - 1) / fs.blockSize
	// One logical block past the current span extends the directory when
	// every existing block is packed.
	for i := uint32(0); i <= numBlocks; i++ {
		block, err := fs.BlockAt(dir, i)
		if err != nil {
			return err
		}
		if block == 0 {
			block, err = fs.AllocBlock()
			if err != nil {
				return fmt.Errorf("extend directory %d: %w", parent, err)
			}
			if err := fs.SetBlockAt(dir, i, block); err != nil {
				if ferr := fs.FreeBlock(block); ferr != nil {
					log.Warnf("[Ext2] failed to release block %d: %v", block, ferr)
				}
				return err
			}
			for j := range buf {
				buf[j] = 0
			}
		} else if err := fs.readBlock(block, buf); err != nil {
			return fmt.Errorf("read directory block %d: %w", block, err)
		}
		off := uint32(0)
		for off+direntHeaderLen <= fs.blockSize {
			entryIno := binary.LittleEndian.Uint32(buf[off:])
			recLen := uint32(binary.LittleEndian.Uint16(buf[off+4:]))
			nameLen := uint32(buf[off+6])
			if recLen == 0 {
				// Unused tail: the new entry claims the rest of the block.
				encodeDirent(buf[off:], ino, uint16(fs.blockSize-off), fileType, name)
				if err := fs.writeBlock(block, buf); err != nil {
					return fmt.Errorf("write directory block %d: %w", block, err)
				}
				fs.dirty = true
				if newSize := i*fs.blockSize + off + required; newSize > dir.Size {
					dir.Size = newSize
					if err := fs.WriteInode(parent, dir); err != nil {
						log.Warnf("[Ext2] failed to persist directory %d after extending: %v", parent, err)
					}
				}
				return nil
			}
			if entryIno == 0 && recLen >= required {
				// A cleared record with room is reclaimed in place.
				encodeDirent(buf[off:], ino, uint16(recLen), fileType, name)
				if err := fs.writeBlock(block, buf); err != nil {
					return fmt.Errorf("write directory block %d: %w", block, err)
				}
				fs.dirty = true
				return nil
			}
			if entryIno != 0 {
				actual := direntRecLen(int(nameLen))
				if recLen >= actual && recLen-actual >= required {
					encodeDirent(buf[off+actual:], ino, uint16(recLen-actual), fileType, name)
					binary.LittleEndian.PutUint16(buf[off+4:], uint16(actual))
					if err := fs.writeBlock(block, buf); err != nil {
						return fmt.Errorf("write directory block %d: %w", block, err)
					}
					fs.dirty = true
					return nil
				}
			}
			off += recLen
		}
	}
	return fmt.Errorf("directory %d: %w", parent, common.ErrNoSpace)
}

// Create allocates an inode for a regular file and links it under parent.
func (fs *Filesystem) Create(parent uint32, name string, mode uint16) (uint32, error) {
	if err := fs.ensureMounted(); err != nil {
		return 0, err
	}
	ino, err := fs.AllocInode()
	if err != nil {
		return 0, err
	}
	now := nowTimestamp()
	in := &Inode{
		Mode:       ModeRegular | (mode & ModePermMask),
		Atime:      now,
		Ctime:      now,
		Mtime:      now,
		LinksCount: 1,
	}
	if err := fs.WriteInode(ino, in); err != nil {
		fs.releaseInode(ino)
		return 0, err
	}
	if err := fs.AddDirEntry(parent, name, ino, FileTypeRegular); err != nil {
		fs.releaseInode(ino)
		return 0, err
	}
	log.Debugf("[Ext2] created file %q as inode %d", name, ino)
	return ino, nil
}

// Mkdir allocates an inode and a data block for a new directory, writes
// its "." and ".." records, and links it under parent.
func (fs *Filesystem) Mkdir(parent uint32, name string, mode uint16) (uint32, error) {
	if err := fs.ensureMounted(); err != nil {
		return 0, err
	}
	ino, err := fs.AllocInode()
	if err != nil {
		return 0, err
	}
	now := nowTimestamp()
	in := &Inode{
		Mode:       ModeDirectory | (mode & ModePermMask),
		Size:       fs.blockSize,
		Atime:      now,
		Ctime:      now,
		Mtime:      now,
		LinksCount: 2,
		Blocks:     fs.blockSize / sectorSize,
	}
	block, err := fs.AllocBlock()
	if err != nil {
		fs.releaseInode(ino)
		return 0, err
	}
	in.Block[0] = block

	dotLen := direntRecLen(len("."))
	buf := make([]byte, fs.blockSize)
	encodeDirent(buf, ino, uint16(dotLen), FileTypeDirectory, ".")
	encodeDirent(buf[dotLen:], parent, uint16(fs.blockSize-dotLen), FileTypeDirectory, "..")
	if err := fs.writeBlock(block, buf); err != nil {
		fs.releaseBlock(block)
		fs.releaseInode(ino)
		return 0, fmt.Errorf("write directory block %d: %w", block, err)
	}
	if err := fs.WriteInode(ino, in); err != nil {
		fs.releaseBlock(block)
		fs.releaseInode(ino)
		return 0, err
	}
	if err := fs.AddDirEntry(parent, name, ino, FileTypeDirectory); err != nil {
		fs.releaseBlock(block)
		fs.releaseInode(ino)
		return 0, err
	}
	// The ".." record gives the parent one more link.
	if pin, err := fs.ReadInode(parent); err == nil {
		pin.LinksCount++
		if err := fs.WriteInode(parent, pin); err != nil {
			log.Warnf("[Ext2] failed to bump link count of directory %d: %v", parent, err)
		}
	}
	log.Debugf("[Ext2] created directory %q as inode %d", name, ino)
	return ino, nil
}

// Unlink drops one link from the named inode. When the count reaches zero
// its top-level blocks and the inode itself are freed. The directory entry
// is not cleared, so the name remains visible in listings until its slot
// is reused.
func (fs *Filesystem) Unlink(parent uint32, name string) error {
	if err := fs.ensureMounted(); err != nil {
		return err
	}
	ino, err := fs.Lookup(parent, name)
	if err != nil {
		return err
	}
	in, err := fs.ReadInode(ino)
	if err != nil {
		return err
	}
	in.LinksCount--
	if in.LinksCount == 0 {
		for i := 0; i < inodeBlockSlots; i++ {
			if in.Block[i] == 0 {
				continue
			}
			if err := fs.FreeBlock(in.Block[i]); err != nil {
				log.Warnf("[Ext2] failed to free block %d of inode %d: %v", in.Block[i], ino, err)
			}
		}
		fs.releaseInode(ino)
		log.Debugf("[Ext2] unlinked %q, freed inode %d", name, ino)
		return nil
	}
	return fs.WriteInode(ino, in)
}

// RemoveDirEntry clears a name from its directory block. The freed space
// merges into the preceding record, or the record is marked unused when it
// leads its block. The inode the entry pointed at is left alone; callers
// pair this with Unlink.
func (fs *Filesystem) RemoveDirEntry(parent uint32, name string) error {
	if err := fs.ensureMounted(); err != nil {
		return err
	}
	dir, err := fs.ReadInode(parent)
	if err != nil {
		return err
	}
	if !dir.IsDir() {
		return fmt.Errorf("inode %d: %w", parent, common.ErrNotDir)
	}
	buf := make([]byte, fs.blockSize)
	numBlocks := (dir.Size + fs.blockSize - 1) / fs.blockSize
	for i := uint32(0); i < numBlocks; i++ {
		block, err := fs.BlockAt(dir, i)
		if err != nil || block == 0 {
			continue
		}
		if err := fs.readBlock(block, buf); err != nil {
			continue
		}
		off := uint32(0)
		prevOff := uint32(0)
		hasPrev := false
		for off+direntHeaderLen <= fs.blockSize {
			ino := binary.LittleEndian.Uint32(buf[off:])
			recLen := uint32(binary.LittleEndian.Uint16(buf[off+4:]))
			nameLen := uint32(buf[off+6])
			if recLen == 0 {
				break
			}
			end := off + direntHeaderLen + nameLen
			if end > fs.blockSize {
				return fmt.Errorf("entry overruns directory block %d: %w", block, common.ErrCorrupted)
			}
			if ino != 0 && int(nameLen) == len(name) && string(buf[off+direntHeaderLen:end]) == name {
				if hasPrev {
					prevLen := binary.LittleEndian.Uint16(buf[prevOff+4:])
					binary.LittleEndian.PutUint16(buf[prevOff+4:], prevLen+uint16(recLen))
				} else {
					binary.LittleEndian.PutUint32(buf[off:], 0)
				}
				if err := fs.writeBlock(block, buf); err != nil {
					return fmt.Errorf("write directory block %d: %w", block, err)
				}
				fs.dirty = true
				log.Debugf("[Ext2] cleared entry %q from directory %d", name, parent)
				return nil
			}
			prevOff = off
			hasPrev = true
			off += recLen
		}
	}
	return fmt.Errorf("%q in directory %d: %w", name, parent, common.ErrNotFound)
}

// releaseInode frees an inode on a rollback path, downgrading failures to
// a warning.
func (fs *Filesystem) releaseInode(ino uint32) {
	if err := fs.FreeInode(ino); err != nil {
		log.Warnf("[Ext2] failed to release inode %d: %v", ino, err)
	}
}

// releaseBlock frees a block on a rollback path, downgrading failures to a
// warning.
func (fs *Filesystem) releaseBlock(block uint32) {
	if err := fs.FreeBlock(block); err != nil {
		log.Warnf("[Ext2] failed to release block %d: %v", block, err)
	}
}
