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

package vfs

import (
	"fmt"
	"io"
	"math"
	"os"

	billy "github.com/go-git/go-billy/v5"

	"github.com/sarkarsachib/devine-kernel/internal/common"
)

// File is an open handle on a regular file. It carries only the inode
// number and a cursor; the inode itself is re-read on every operation so
// handles opened on the same file never see stale sizes.
type File struct {
	fs     *FS
	name   string
	ino    uint32
	flag   int
	offset int64
	closed bool
}

// Name returns the path the file was opened with.
func (f *File) Name() string {
	return f.name
}

func (f *File) Read(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	n, err := f.readAtLocked(p, f.offset)
	f.offset += int64(n)
	return n, err
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	n, err := f.readAtLocked(p, off)
	// io.ReaderAt promises an error whenever fewer bytes come back.
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// readAtLocked reads at an absolute offset. The engine reports end of file
// as a zero-length read, which io.Reader consumers cannot make progress on,
// so it becomes io.EOF here.
func (f *File) readAtLocked(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, os.ErrInvalid
	}
	in, err := f.fs.engine.ReadInode(f.ino)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := f.fs.engine.ReadFile(in, uint64(off), p)
	if err != nil {
		return n, mapErr(err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *File) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return 0, os.ErrClosed
	}
	if err := f.fs.writable(); err != nil {
		return 0, err
	}
	if f.flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		return 0, os.ErrPermission
	}
	in, err := f.fs.engine.ReadInode(f.ino)
	if err != nil {
		return 0, mapErr(err)
	}
	n, werr := f.fs.engine.WriteFile(in, uint64(f.offset), p)
	// Partial writes still moved the size and mapped blocks; persist what
	// landed before reporting the failure.
	if n > 0 || werr == nil {
		if err := f.fs.engine.WriteInode(f.ino, in); err != nil {
			return n, mapErr(err)
		}
	}
	f.offset += int64(n)
	return n, mapErr(werr)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return 0, os.ErrClosed
	}
	pos := f.offset
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos += offset
	case io.SeekEnd:
		in, err := f.fs.engine.ReadInode(f.ino)
		if err != nil {
			return 0, mapErr(err)
		}
		pos = int64(in.Size) + offset
	default:
		return 0, os.ErrInvalid
	}
	if pos < 0 {
		return 0, os.ErrInvalid
	}
	f.offset = pos
	return pos, nil
}

// Close invalidates the handle. Writes persist as they happen, so there is
// nothing left to flush.
func (f *File) Close() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return os.ErrClosed
	}
	f.closed = true
	return nil
}

func (f *File) Lock() error   { return nil }
func (f *File) Unlock() error { return nil }

func (f *File) Truncate(size int64) error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return os.ErrClosed
	}
	if err := f.fs.writable(); err != nil {
		return err
	}
	if size < 0 {
		return os.ErrInvalid
	}
	if size > math.MaxUint32 {
		return fmt.Errorf("truncate to %d: %w", size, common.ErrUnsupported)
	}
	in, err := f.fs.engine.ReadInode(f.ino)
	if err != nil {
		return mapErr(err)
	}
	return f.fs.truncateLocked(f.ino, in, uint64(size))
}

var _ billy.File = (*File)(nil)
