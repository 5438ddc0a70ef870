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

// Package vfs adapts an ext2 filesystem to the billy.Filesystem interface
// so it can be served over NFS or driven by path-based tooling. The engine
// underneath is not safe for concurrent use; a single mutex here serializes
// every engine call, making the adapter the concurrency boundary.
package vfs

import (
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"

	"github.com/sarkarsachib/devine-kernel/internal/cache"
	"github.com/sarkarsachib/devine-kernel/internal/common"
	"github.com/sarkarsachib/devine-kernel/internal/ext2"
)

// lookupCacheSize bounds the path resolution cache. NFS clients issue a
// LOOKUP storm per directory listing, so resolutions are worth keeping.
const lookupCacheSize = 4096

// FS implements billy.Filesystem over a mounted ext2 filesystem.
type FS struct {
	mu       sync.Mutex
	engine   *ext2.Filesystem
	lookups  *cache.LookupCache
	readOnly bool

	// Serving identity, captured once at construction.
	uid uint32
	gid uint32
}

// New wraps a mounted filesystem in a billy adapter.
func New(engine *ext2.Filesystem) *FS {
	return &FS{
		engine:  engine,
		lookups: cache.NewLookupCache(0, lookupCacheSize),
		uid:     uint32(os.Getuid()),
		gid:     uint32(os.Getgid()),
	}
}

// NewReadOnly wraps a mounted filesystem in an adapter that refuses every
// mutation and advertises no write capabilities.
func NewReadOnly(engine *ext2.Filesystem) *FS {
	fs := New(engine)
	fs.readOnly = true
	return fs
}

// resolve walks a path from the root inode, one directory entry at a time.
// Resolutions are cached by normalized path; only the inode number is
// cached, the inode itself is always re-read. Callers hold fs.mu.
func (fs *FS) resolve(name string) (uint32, *ext2.Inode, error) {
	norm := common.NormalizePath(name)
	if norm != "" {
		if ino, ok := fs.lookups.Get(norm); ok {
			in, err := fs.engine.ReadInode(ino)
			if err == nil {
				return ino, in, nil
			}
			fs.lookups.InvalidatePath(norm)
		}
	}

	ino := uint32(ext2.RootIno)
	in, err := fs.engine.ReadInode(ino)
	if err != nil {
		return 0, nil, mapErr(err)
	}
	for _, part := range common.SplitPath(name) {
		next, err := fs.engine.Lookup(ino, part)
		if err != nil {
			return 0, nil, mapErr(err)
		}
		ino = next
		in, err = fs.engine.ReadInode(ino)
		if err != nil {
			return 0, nil, mapErr(err)
		}
	}
	if norm != "" {
		fs.lookups.Set(norm, ino)
	}
	return ino, in, nil
}

// resolveParent resolves the directory that holds a path's final component.
// The root itself has no parent. Callers hold fs.mu.
func (fs *FS) resolveParent(name string) (uint32, string, error) {
	base := common.BaseName(name)
	if base == "" {
		return 0, "", os.ErrInvalid
	}
	parent, in, err := fs.resolve(common.ParentPath(name))
	if err != nil {
		return 0, "", err
	}
	if !in.IsDir() {
		return 0, "", mapErr(common.ErrNotDir)
	}
	return parent, base, nil
}

func (fs *FS) writable() error {
	if fs.readOnly {
		return os.ErrPermission
	}
	return nil
}

// Create opens a file for writing, creating or truncating it.
func (fs *FS) Create(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
}

// Open opens a file for reading.
func (fs *FS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

// OpenFile opens a file with POSIX-style flags. Directories cannot be
// opened as files; use ReadDir.
func (fs *FS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		if err := fs.writable(); err != nil {
			return nil, err
		}
	}

	ino, in, err := fs.resolve(filename)
	switch {
	case err == nil:
		if flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL {
			return nil, os.ErrExist
		}
		if in.IsDir() {
			return nil, mapErr(common.ErrIsDir)
		}
		if flag&os.O_TRUNC != 0 {
			if err := fs.truncateLocked(ino, in, 0); err != nil {
				return nil, err
			}
		}
	case os.IsNotExist(err) && flag&os.O_CREATE != 0:
		parent, base, perr := fs.resolveParent(filename)
		if perr != nil {
			return nil, perr
		}
		ino, err = fs.engine.Create(parent, base, uint16(perm.Perm()))
		if err != nil {
			return nil, mapErr(err)
		}
		in, err = fs.engine.ReadInode(ino)
		if err != nil {
			return nil, mapErr(err)
		}
	default:
		return nil, err
	}

	f := &File{fs: fs, name: filename, ino: ino, flag: flag}
	if flag&os.O_APPEND != 0 {
		f.offset = int64(in.Size)
	}
	return f, nil
}

// Stat returns file information for a path.
func (fs *FS) Stat(filename string) (os.FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, in, err := fs.resolve(filename)
	if err != nil {
		return nil, err
	}
	return fs.newFileInfo(path.Base(filename), ino, in), nil
}

// Lstat is identical to Stat: path resolution never follows symlinks, so
// there is no distinction to make.
func (fs *FS) Lstat(filename string) (os.FileInfo, error) {
	return fs.Stat(filename)
}

// Rename is not supported: directory entries carry no move operation.
func (fs *FS) Rename(oldpath, newpath string) error {
	return fmt.Errorf("rename %q: %w", oldpath, common.ErrUnsupported)
}

// Remove deletes a file or an empty directory.
func (fs *FS) Remove(filename string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable(); err != nil {
		return err
	}
	parent, base, err := fs.resolveParent(filename)
	if err != nil {
		return err
	}
	ino, in, err := fs.resolve(filename)
	if err != nil {
		return err
	}
	if ino == ext2.RootIno {
		return os.ErrInvalid
	}
	norm := common.NormalizePath(filename)
	if in.IsDir() {
		if err := fs.rmdirLocked(parent, base, ino, in); err != nil {
			return err
		}
		fs.lookups.InvalidatePath(norm)
		fs.lookups.InvalidatePrefix(norm)
		return nil
	}
	if err := fs.engine.Unlink(parent, base); err != nil {
		return mapErr(err)
	}
	fs.clearEntry(parent, base)
	fs.lookups.InvalidatePath(norm)
	return nil
}

// clearEntry drops the directory record for a name whose inode was already
// unlinked. The engine leaves the record behind, which would keep the name
// visible to Lookup and ReadDir, so the adapter clears it itself. Failure
// only costs a stale listing slot.
func (fs *FS) clearEntry(parent uint32, base string) {
	if err := fs.engine.RemoveDirEntry(parent, base); err != nil {
		log.Warnf("[VFS] clear entry %q in inode %d: %v", base, parent, err)
	}
}

// rmdirLocked removes an empty directory. The engine's unlink counts links
// one at a time and never touches the parent, so the adapter collapses the
// "." self-link first and gives back the link ".." held on the parent.
func (fs *FS) rmdirLocked(parent uint32, base string, ino uint32, in *ext2.Inode) error {
	if _, err := fs.engine.ReadDir(ino, 2); err == nil {
		return fmt.Errorf("remove %q: %w", base, common.ErrNotEmpty)
	} else if !isNotFound(err) {
		return mapErr(err)
	}

	in.LinksCount = 1
	if err := fs.engine.WriteInode(ino, in); err != nil {
		return mapErr(err)
	}
	if err := fs.engine.Unlink(parent, base); err != nil {
		return mapErr(err)
	}
	fs.clearEntry(parent, base)

	pin, err := fs.engine.ReadInode(parent)
	if err != nil {
		return mapErr(err)
	}
	if pin.LinksCount > 0 {
		pin.LinksCount--
	}
	if err := fs.engine.WriteInode(parent, pin); err != nil {
		return mapErr(err)
	}
	return nil
}

// Join joins path elements.
func (fs *FS) Join(elem ...string) string {
	return path.Join(elem...)
}

// TempFile is not supported.
func (fs *FS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, fmt.Errorf("temp files: %w", common.ErrUnsupported)
}

// ReadDir lists a directory, skipping "." and "..".
func (fs *FS) ReadDir(dirname string) ([]os.FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, in, err := fs.resolve(dirname)
	if err != nil {
		return nil, err
	}
	if !in.IsDir() {
		return nil, mapErr(common.ErrNotDir)
	}

	var result []os.FileInfo
	for i := 0; ; i++ {
		entry, err := fs.engine.ReadDir(ino, i)
		if isNotFound(err) {
			break
		}
		if err != nil {
			return nil, mapErr(err)
		}
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		child, err := fs.engine.ReadInode(entry.Ino)
		if err != nil {
			// A dangling entry whose inode fell out of range. Listable
			// names must stay statable, so skip it here.
			log.Debugf("[VFS] skipping entry %q in inode %d: %v", entry.Name, ino, err)
			continue
		}
		result = append(result, fs.newFileInfo(entry.Name, entry.Ino, child))
	}
	return result, nil
}

// MkdirAll creates a directory and any missing parents.
func (fs *FS) MkdirAll(filename string, perm os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable(); err != nil {
		return err
	}

	ino := uint32(ext2.RootIno)
	for _, part := range common.SplitPath(filename) {
		next, err := fs.engine.Lookup(ino, part)
		if err == nil {
			in, rerr := fs.engine.ReadInode(next)
			if rerr != nil {
				return mapErr(rerr)
			}
			if !in.IsDir() {
				return mapErr(common.ErrNotDir)
			}
			ino = next
			continue
		}
		if !isNotFound(err) {
			return mapErr(err)
		}
		next, err = fs.engine.Mkdir(ino, part, uint16(perm.Perm()))
		if err != nil {
			return mapErr(err)
		}
		ino = next
	}
	return nil
}

// Symlink is not supported: the engine has no symlink creation operation.
func (fs *FS) Symlink(target, link string) error {
	return fmt.Errorf("symlink %q: %w", link, common.ErrUnsupported)
}

// Readlink returns a symlink's target. Short targets live packed inside the
// inode's block pointer area; longer ones occupy a data block. Images
// written by other ext2 implementations use both forms.
func (fs *FS) Readlink(link string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, in, err := fs.resolve(link)
	if err != nil {
		return "", err
	}
	if !in.IsSymlink() {
		return "", os.ErrInvalid
	}
	if in.Blocks == 0 && in.Size < fastSymlinkMax {
		return string(packSymlinkTarget(in)[:in.Size]), nil
	}
	buf := make([]byte, in.Size)
	if _, err := fs.engine.ReadFile(in, 0, buf); err != nil {
		return "", mapErr(err)
	}
	return string(buf), nil
}

// Chroot is not supported.
func (fs *FS) Chroot(path string) (billy.Filesystem, error) {
	return nil, fmt.Errorf("chroot: %w", common.ErrUnsupported)
}

// Root returns the root path.
func (fs *FS) Root() string {
	return "/"
}

// Chmod replaces a path's permission bits.
func (fs *FS) Chmod(name string, mode os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable(); err != nil {
		return err
	}
	ino, in, err := fs.resolve(name)
	if err != nil {
		return err
	}
	in.Mode = in.Mode&^ext2.ModePermMask | uint16(mode.Perm())
	return mapErr(fs.engine.WriteInode(ino, in))
}

// Chown replaces a path's owner. Negative ids leave the field unchanged.
func (fs *FS) Chown(name string, uid, gid int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable(); err != nil {
		return err
	}
	ino, in, err := fs.resolve(name)
	if err != nil {
		return err
	}
	if uid >= 0 {
		in.UID = uint16(uid)
	}
	if gid >= 0 {
		in.GID = uint16(gid)
	}
	return mapErr(fs.engine.WriteInode(ino, in))
}

// Lchown is identical to Chown; path resolution never follows symlinks.
func (fs *FS) Lchown(name string, uid, gid int) error {
	return fs.Chown(name, uid, gid)
}

// Chtimes replaces a path's access and modification times.
func (fs *FS) Chtimes(name string, atime, mtime time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable(); err != nil {
		return err
	}
	ino, in, err := fs.resolve(name)
	if err != nil {
		return err
	}
	in.Atime = uint32(atime.Unix())
	in.Mtime = uint32(mtime.Unix())
	return mapErr(fs.engine.WriteInode(ino, in))
}

// Capabilities reports what the adapter supports. Read-only adapters
// advertise no write or truncate capability, which is how NFS consumers
// learn to fail mutations with a read-only status.
func (fs *FS) Capabilities() billy.Capability {
	caps := billy.ReadCapability | billy.SeekCapability
	if !fs.readOnly {
		caps |= billy.WriteCapability | billy.ReadAndWriteCapability | billy.TruncateCapability
	}
	return caps
}

// truncateLocked resizes a file. Shrinking to zero releases every mapped
// top-level block, mirroring what unlink releases; any other size only
// moves the size, leaving block mappings in place. Callers hold fs.mu.
func (fs *FS) truncateLocked(ino uint32, in *ext2.Inode, size uint64) error {
	if in.IsDir() {
		return mapErr(common.ErrIsDir)
	}
	if size == 0 && in.Size != 0 {
		for i, block := range in.Block {
			if block == 0 {
				continue
			}
			if err := fs.engine.FreeBlock(block); err != nil {
				log.Warnf("[VFS] truncate inode %d: free block %d: %v", ino, block, err)
			}
			in.Block[i] = 0
		}
		in.Blocks = 0
	}
	in.Size = uint32(size)
	in.Mtime = uint32(time.Now().Unix())
	return mapErr(fs.engine.WriteInode(ino, in))
}

var (
	_ billy.Filesystem = (*FS)(nil)
	_ billy.Change     = (*FS)(nil)
	_ billy.Capable    = (*FS)(nil)
)
