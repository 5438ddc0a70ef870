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

// Package blockdev defines the raw block device capability the storage
// engine runs on, plus the memory- and file-backed implementations.
package blockdev

// Device is a fixed-geometry array of blocks. All I/O is whole-block and
// synchronous; there is no partial or interrupted transfer path. Callers
// provide buffers of exactly BlockSize bytes.
type Device interface {
	// ReadBlock copies block num into dst. len(dst) must equal BlockSize.
	ReadBlock(num uint64, dst []byte) error
	// WriteBlock copies src into block num. len(src) must equal BlockSize.
	WriteBlock(num uint64, src []byte) error
	// BlockSize returns the block size in bytes.
	BlockSize() uint32
	// NumBlocks returns the total number of addressable blocks.
	NumBlocks() uint64
}
