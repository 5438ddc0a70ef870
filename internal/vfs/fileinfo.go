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
	"encoding/binary"
	"os"
	"time"

	nfsfile "github.com/willscott/go-nfs/file"

	"github.com/sarkarsachib/devine-kernel/internal/ext2"
)

// fastSymlinkMax is the longest target stored inside the inode's block
// pointer area instead of a data block.
const fastSymlinkMax = 60

// FileInfo implements os.FileInfo for a directory entry.
type FileInfo struct {
	name  string
	size  int64
	mode  os.FileMode
	mtime time.Time
	ino   uint32
	nlink uint32
	uid   uint32
	gid   uint32
}

// newFileInfo snapshots an inode into an os.FileInfo. Callers hold fs.mu.
func (fs *FS) newFileInfo(name string, ino uint32, in *ext2.Inode) *FileInfo {
	fi := &FileInfo{
		name:  name,
		size:  int64(in.Size),
		mode:  fileMode(in),
		mtime: time.Unix(int64(in.Mtime), 0),
		ino:   ino,
		nlink: uint32(in.LinksCount),
		uid:   uint32(in.UID),
		gid:   uint32(in.GID),
	}
	// Images formatted here carry no ownership; present the serving user
	// instead of uid 0 so NFS clients see their own files.
	if in.UID == 0 && in.GID == 0 {
		fi.uid, fi.gid = fs.uid, fs.gid
	}
	return fi
}

func fileMode(in *ext2.Inode) os.FileMode {
	mode := os.FileMode(in.Mode & ext2.ModePermMask & 0777)
	switch {
	case in.IsDir():
		mode |= os.ModeDir
	case in.IsSymlink():
		mode |= os.ModeSymlink
	}
	return mode
}

func (fi *FileInfo) Name() string       { return fi.name }
func (fi *FileInfo) Size() int64        { return fi.size }
func (fi *FileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *FileInfo) ModTime() time.Time { return fi.mtime }
func (fi *FileInfo) IsDir() bool        { return fi.mode.IsDir() }

// Ino returns the entry's inode number.
func (fi *FileInfo) Ino() uint32 { return fi.ino }

// Sys returns the go-nfs file metadata. go-nfs reads ownership and the file
// id through this concrete type; returning anything else loses the inode
// number and every entry collapses onto a synthetic id.
func (fi *FileInfo) Sys() interface{} {
	return &nfsfile.FileInfo{
		Nlink:  fi.nlink,
		UID:    fi.uid,
		GID:    fi.gid,
		Fileid: uint64(fi.ino),
	}
}

// packSymlinkTarget reassembles the raw bytes of the inode's block pointer
// area, where fast symlinks store their target.
func packSymlinkTarget(in *ext2.Inode) []byte {
	buf := make([]byte, len(in.Block)*4)
	for i, ptr := range in.Block {
		binary.LittleEndian.PutUint32(buf[i*4:], ptr)
	}
	return buf
}

var _ os.FileInfo = (*FileInfo)(nil)
