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

package blockdev

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"github.com/sarkarsachib/devine-kernel/internal/common"
)

// FileDisk is a Device backed by an image file on the host. An advisory
// lock next to the image enforces single-mounter use across processes:
// writers take the lock exclusively, read-only opens share it.
type FileDisk struct {
	path      string
	file      *os.File
	lock      *flock.Flock
	blockSize uint32
	numBlocks uint64
	readOnly  bool
}

// CreateFileDisk creates (or truncates) an image file sized for the given
// geometry and locks it exclusively.
func CreateFileDisk(path string, blockSize uint32, numBlocks uint64) (*FileDisk, error) {
	if blockSize == 0 || numBlocks == 0 {
		return nil, fmt.Errorf("image geometry %dx%d: %w", blockSize, numBlocks, common.ErrInvalidArgument)
	}
	lock, err := lockImage(path, false)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("create image %s: %w", path, err)
	}
	size := int64(blockSize) * int64(numBlocks)
	if err := file.Truncate(size); err != nil {
		file.Close()
		lock.Unlock()
		return nil, fmt.Errorf("size image %s to %d: %w", path, size, err)
	}
	log.Debugf("[BlockDev] created image %s: %d blocks of %d bytes", path, numBlocks, blockSize)
	return &FileDisk{
		path:      path,
		file:      file,
		lock:      lock,
		blockSize: blockSize,
		numBlocks: numBlocks,
	}, nil
}

// OpenFileDisk opens an existing image. The block count is derived from the
// file size, which must be a whole number of blocks.
func OpenFileDisk(path string, blockSize uint32, readOnly bool) (*FileDisk, error) {
	if blockSize == 0 {
		return nil, fmt.Errorf("zero block size: %w", common.ErrInvalidArgument)
	}
	lock, err := lockImage(path, readOnly)
	if err != nil {
		return nil, err
	}
	mode := os.O_RDWR
	if readOnly {
		mode = os.O_RDONLY
	}
	file, err := os.OpenFile(path, mode, 0)
	if err != nil {
		lock.Unlock()
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("image %s: %w", path, common.ErrNotFound)
		}
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		lock.Unlock()
		return nil, fmt.Errorf("stat image %s: %w", path, err)
	}
	if info.Size() == 0 || info.Size()%int64(blockSize) != 0 {
		file.Close()
		lock.Unlock()
		return nil, fmt.Errorf("image %s size %d is not a multiple of block size %d: %w",
			path, info.Size(), blockSize, common.ErrInvalidArgument)
	}
	log.Debugf("[BlockDev] opened image %s: %d blocks of %d bytes (readOnly=%v)",
		path, info.Size()/int64(blockSize), blockSize, readOnly)
	return &FileDisk{
		path:      path,
		file:      file,
		lock:      lock,
		blockSize: blockSize,
		numBlocks: uint64(info.Size()) / uint64(blockSize),
		readOnly:  readOnly,
	}, nil
}

func (d *FileDisk) ReadBlock(num uint64, dst []byte) error {
	if err := d.check(num, dst); err != nil {
		return err
	}
	if _, err := d.file.ReadAt(dst, int64(num)*int64(d.blockSize)); err != nil {
		return fmt.Errorf("%w: read block %d of %s: %v", common.ErrDevice, num, d.path, err)
	}
	return nil
}

func (d *FileDisk) WriteBlock(num uint64, src []byte) error {
	if d.readOnly {
		return fmt.Errorf("write block %d of read-only image %s: %w", num, d.path, common.ErrPermission)
	}
	if err := d.check(num, src); err != nil {
		return err
	}
	if _, err := d.file.WriteAt(src, int64(num)*int64(d.blockSize)); err != nil {
		return fmt.Errorf("%w: write block %d of %s: %v", common.ErrDevice, num, d.path, err)
	}
	return nil
}

func (d *FileDisk) BlockSize() uint32 { return d.blockSize }

func (d *FileDisk) NumBlocks() uint64 { return d.numBlocks }

// Path returns the image file path.
func (d *FileDisk) Path() string { return d.path }

// Close syncs the image file, closes it, and releases the advisory lock.
func (d *FileDisk) Close() error {
	var firstErr error
	if !d.readOnly {
		if err := d.file.Sync(); err != nil {
			firstErr = fmt.Errorf("sync image %s: %w", d.path, err)
		}
	}
	if err := d.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close image %s: %w", d.path, err)
	}
	if err := d.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("unlock image %s: %w", d.path, err)
	}
	return firstErr
}

func (d *FileDisk) check(num uint64, buf []byte) error {
	if num >= d.numBlocks {
		return fmt.Errorf("block %d beyond device end %d: %w", num, d.numBlocks, common.ErrInvalidArgument)
	}
	if uint32(len(buf)) != d.blockSize {
		return fmt.Errorf("buffer size %d, block size %d: %w", len(buf), d.blockSize, common.ErrInvalidArgument)
	}
	return nil
}

func lockImage(path string, shared bool) (*flock.Flock, error) {
	lock := flock.New(common.LockPath(path))
	var locked bool
	var err error
	if shared {
		locked, err = lock.TryRLock()
	} else {
		locked, err = lock.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock for %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("image %s is locked by another process: %w", path, common.ErrBusy)
	}
	return lock, nil
}
