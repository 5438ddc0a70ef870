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

package commands

import (
	"fmt"
	"os"

	"github.com/sarkarsachib/devine-kernel/internal/blockcache"
	"github.com/sarkarsachib/devine-kernel/internal/blockdev"
	"github.com/sarkarsachib/devine-kernel/internal/ext2"
	"github.com/sarkarsachib/devine-kernel/internal/vfs"
)

// mountedImage bundles everything an open image needs torn down again.
type mountedImage struct {
	fs    *ext2.Filesystem
	cache *blockcache.Cache
	dev   *blockdev.FileDisk
}

// openImage probes an image for its geometry, then opens and mounts it.
// The probe happens on a plain read handle before the device takes the
// image lock.
func openImage(path string, slots int, readOnly bool) (*mountedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	sb, probeErr := ext2.Probe(f)
	f.Close()
	if probeErr != nil {
		return nil, fmt.Errorf("probe %s: %w", path, probeErr)
	}

	dev, err := blockdev.OpenFileDisk(path, sb.BlockSize(), readOnly)
	if err != nil {
		return nil, err
	}
	cache, err := blockcache.New(dev, slots)
	if err != nil {
		dev.Close()
		return nil, err
	}
	fs, err := ext2.Mount(cache)
	if err != nil {
		cache.Close()
		dev.Close()
		return nil, err
	}
	return &mountedImage{fs: fs, cache: cache, dev: dev}, nil
}

// close unmounts and releases the image. The first failure wins; later
// teardown still runs.
func (m *mountedImage) close() error {
	err := m.fs.Unmount()
	if cerr := m.cache.Close(); err == nil {
		err = cerr
	}
	if derr := m.dev.Close(); err == nil {
		err = derr
	}
	return err
}

// withImage mounts an image, runs fn, and tears the mount down again. This
// is the one-shot pattern every content command uses.
func withImage(path string, readOnly bool, fn func(*mountedImage) error) error {
	img, err := openImage(path, blockcache.DefaultSlots, readOnly)
	if err != nil {
		return err
	}
	if err := fn(img); err != nil {
		img.close()
		return err
	}
	return img.close()
}

// adapter returns a path-based view of the mounted image.
func (m *mountedImage) adapter(readOnly bool) *vfs.FS {
	if readOnly {
		return vfs.NewReadOnly(m.fs)
	}
	return vfs.New(m.fs)
}
