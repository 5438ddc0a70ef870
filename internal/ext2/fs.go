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

// Package ext2 implements an ext2-compatible filesystem over a write-back
// block cache: superblock and group descriptor handling, bitmap
// allocators, inode and directory manipulation, and file I/O.
package ext2

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sarkarsachib/devine-kernel/internal/blockcache"
	"github.com/sarkarsachib/devine-kernel/internal/common"
)

// sectorSize is the unit of the inode's i_blocks field.
const sectorSize = 512

// Filesystem is a mounted ext2 instance layered over a block cache. It is
// not safe for concurrent use; callers serialize access.
type Filesystem struct {
	cache     *blockcache.Cache
	sb        *Superblock
	groups    []GroupDesc
	blockSize uint32
	dirty     bool
}

// Mount reads and validates the on-disk metadata and returns a ready
// filesystem. The filesystem block size recorded in the superblock must
// match the cache's block size.
func Mount(cache *blockcache.Cache) (*Filesystem, error) {
	if cache == nil {
		return nil, fmt.Errorf("nil cache: %w", common.ErrInvalidArgument)
	}
	sb, err := loadSuperblock(cache)
	if err != nil {
		return nil, err
	}
	if err := sb.Validate(); err != nil {
		return nil, err
	}
	blockSize := sb.BlockSize()
	if blockSize != cache.BlockSize() {
		return nil, fmt.Errorf("filesystem block size %d does not match device block size %d: %w",
			blockSize, cache.BlockSize(), common.ErrUnsupported)
	}
	groups, err := loadGroupDescs(cache, sb)
	if err != nil {
		return nil, err
	}
	fs := &Filesystem{cache: cache, sb: sb, groups: groups, blockSize: blockSize}
	log.Infof("[Ext2] mounted %q: %d blocks of %d bytes, %d groups, %d blocks free, %d inodes free",
		sb.VolumeLabel(), sb.BlocksCount, blockSize, len(groups), sb.FreeBlocksCount, sb.FreeInodesCount)
	return fs, nil
}

// Unmount syncs pending changes and releases the in-memory state. A
// failing sync is logged; unmount always completes.
func (fs *Filesystem) Unmount() error {
	if fs.sb == nil {
		return nil
	}
	if err := fs.Sync(); err != nil {
		log.Warnf("[Ext2] sync during unmount failed: %v", err)
	}
	fs.sb = nil
	fs.groups = nil
	log.Debugf("[Ext2] unmounted")
	return nil
}

// Sync writes the superblock and group descriptors and flushes the cache
// to the device. It is a no-op when nothing changed since the last sync;
// on failure the filesystem stays dirty so a later sync retries.
func (fs *Filesystem) Sync() error {
	if err := fs.ensureMounted(); err != nil {
		return err
	}
	if !fs.dirty {
		return nil
	}
	if err := storeSuperblock(fs.cache, fs.sb); err != nil {
		return err
	}
	if err := storeGroupDescs(fs.cache, fs.groups); err != nil {
		return err
	}
	if err := fs.cache.Flush(); err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}
	fs.dirty = false
	log.Debugf("[Ext2] synced metadata and flushed cache")
	return nil
}

// Superblock exposes the mounted superblock for inspection.
func (fs *Filesystem) Superblock() *Superblock {
	return fs.sb
}

// GroupDescs exposes the mounted group descriptors for inspection.
func (fs *Filesystem) GroupDescs() []GroupDesc {
	return fs.groups
}

// BlockSize returns the filesystem block size in bytes.
func (fs *Filesystem) BlockSize() uint32 {
	return fs.blockSize
}

// Dirty reports whether metadata changed since the last sync.
func (fs *Filesystem) Dirty() bool {
	return fs.dirty
}

func (fs *Filesystem) ensureMounted() error {
	if fs.sb == nil {
		return fmt.Errorf("filesystem not mounted: %w", common.ErrInvalidArgument)
	}
	return nil
}

func (fs *Filesystem) readBlock(block uint32, buf []byte) error {
	return fs.cache.Read(uint64(block), buf)
}

func (fs *Filesystem) writeBlock(block uint32, buf []byte) error {
	return fs.cache.Write(uint64(block), buf)
}

func nowTimestamp() uint32 {
	return uint32(time.Now().Unix())
}
