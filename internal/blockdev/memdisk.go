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

	"github.com/sarkarsachib/devine-kernel/internal/common"
)

// MemDisk is a RAM-backed Device over one contiguous buffer. It is the
// fixture for tests and for scratch images that never touch the host disk.
type MemDisk struct {
	blockSize uint32
	numBlocks uint64
	data      []byte
}

// NewMemDisk allocates a zero-filled in-memory device.
func NewMemDisk(blockSize uint32, numBlocks uint64) (*MemDisk, error) {
	if blockSize == 0 || numBlocks == 0 {
		return nil, fmt.Errorf("memdisk geometry %dx%d: %w", blockSize, numBlocks, common.ErrInvalidArgument)
	}
	return &MemDisk{
		blockSize: blockSize,
		numBlocks: numBlocks,
		data:      make([]byte, uint64(blockSize)*numBlocks),
	}, nil
}

func (d *MemDisk) ReadBlock(num uint64, dst []byte) error {
	if err := d.check(num, dst); err != nil {
		return err
	}
	off := num * uint64(d.blockSize)
	copy(dst, d.data[off:off+uint64(d.blockSize)])
	return nil
}

func (d *MemDisk) WriteBlock(num uint64, src []byte) error {
	if err := d.check(num, src); err != nil {
		return err
	}
	off := num * uint64(d.blockSize)
	copy(d.data[off:off+uint64(d.blockSize)], src)
	return nil
}

func (d *MemDisk) BlockSize() uint32 { return d.blockSize }

func (d *MemDisk) NumBlocks() uint64 { return d.numBlocks }

func (d *MemDisk) check(num uint64, buf []byte) error {
	if num >= d.numBlocks {
		return fmt.Errorf("block %d beyond device end %d: %w", num, d.numBlocks, common.ErrInvalidArgument)
	}
	if uint32(len(buf)) != d.blockSize {
		return fmt.Errorf("buffer size %d, block size %d: %w", len(buf), d.blockSize, common.ErrInvalidArgument)
	}
	return nil
}
