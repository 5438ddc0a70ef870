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

	"github.com/sarkarsachib/devine-kernel/internal/common"
)

// ReadFile copies file content starting at byte offset off into p and
// returns the number of bytes read. Reads at or past end of file return
// zero. Unmapped blocks are holes and read as zeros.
func (fs *Filesystem) ReadFile(in *Inode, off uint64, p []byte) (int, error) {
	if err := fs.ensureMounted(); err != nil {
		return 0, err
	}
	if in == nil {
		return 0, fmt.Errorf("nil inode: %w", common.ErrInvalidArgument)
	}
	size := uint64(in.Size)
	if off >= size {
		return 0, nil
	}
	toRead := uint64(len(p))
	if off+toRead > size {
		toRead = size - off
	}
	bs := uint64(fs.blockSize)
	buf := make([]byte, fs.blockSize)
	var done uint64
	for done < toRead {
		logical := uint32((off + done) / bs)
		blockOff := (off + done) % bs
		chunk := bs - blockOff
		if chunk > toRead-done {
			chunk = toRead - done
		}
		block, err := fs.BlockAt(in, logical)
		if err != nil {
			return int(done), err
		}
		if block == 0 {
			clear(p[done : done+chunk])
		} else {
			if err := fs.readBlock(block, buf); err != nil {
				return int(done), fmt.Errorf("read block %d: %w", block, err)
			}
			copy(p[done:done+chunk], buf[blockOff:blockOff+chunk])
		}
		done += chunk
	}
	return int(done), nil
}

// WriteFile copies p into the file at byte offset off, allocating blocks
// on demand and growing the recorded size when the write extends the
// file. Partial blocks are read first so untouched bytes survive. The
// inode is modified in memory only; callers persist it with WriteInode.
func (fs *Filesystem) WriteFile(in *Inode, off uint64, p []byte) (int, error) {
	if err := fs.ensureMounted(); err != nil {
		return 0, err
	}
	if in == nil {
		return 0, fmt.Errorf("nil inode: %w", common.ErrInvalidArgument)
	}
	bs := uint64(fs.blockSize)
	buf := make([]byte, fs.blockSize)
	toWrite := uint64(len(p))
	var done uint64
	for done < toWrite {
		logical := uint32((off + done) / bs)
		blockOff := (off + done) % bs
		chunk := bs - blockOff
		if chunk > toWrite-done {
			chunk = toWrite - done
		}
		block, err := fs.BlockAt(in, logical)
		if err != nil {
			return int(done), err
		}
		if block == 0 {
			block, err = fs.AllocBlock()
			if err != nil {
				return int(done), err
			}
			if err := fs.SetBlockAt(in, logical, block); err != nil {
				fs.releaseBlock(block)
				return int(done), err
			}
			in.Blocks += fs.blockSize / sectorSize
		}
		if blockOff != 0 || chunk != bs {
			if err := fs.readBlock(block, buf); err != nil {
				return int(done), fmt.Errorf("read block %d: %w", block, err)
			}
		}
		copy(buf[blockOff:blockOff+chunk], p[done:done+chunk])
		if err := fs.writeBlock(block, buf); err != nil {
			return int(done), fmt.Errorf("write block %d: %w", block, err)
		}
		done += chunk
	}
	if end := off + toWrite; end > uint64(in.Size) {
		in.Size = uint32(end)
	}
	in.Mtime = nowTimestamp()
	fs.dirty = true
	return int(done), nil
}
