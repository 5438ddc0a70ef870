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

// Package blockcache implements a fixed-capacity write-back LRU cache of
// device blocks. All filesystem I/O goes through it; dirty blocks reach the
// device on eviction, Flush, or Invalidate.
package blockcache

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sarkarsachib/devine-kernel/internal/blockdev"
	"github.com/sarkarsachib/devine-kernel/internal/common"
)

// DefaultSlots is the slot count used by the mount wiring.
const DefaultSlots = 256

// slot is one cache entry. Slots live in a fixed array; the LRU list is
// threaded through them by index, never by pointer.
type slot struct {
	num        uint64
	data       []byte
	valid      bool
	dirty      bool
	lastAccess uint64
	prev, next int // LRU links, -1 terminated
}

// Cache is a write-back block cache over one Device. A slot is on the LRU
// list iff it is valid; dirty implies valid; at most one slot holds a given
// block number. Not safe for concurrent use; callers serialize.
type Cache struct {
	dev       blockdev.Device
	blockSize uint32
	slots     []slot
	head      int // most recently used, -1 when empty
	tail      int // least recently used, next eviction candidate
	used      int // number of valid slots
	clock     uint64
	hits      uint64
	misses    uint64
}

// New creates a cache of numSlots entries sized to the device's block size.
func New(dev blockdev.Device, numSlots int) (*Cache, error) {
	if dev == nil {
		return nil, fmt.Errorf("nil device: %w", common.ErrInvalidArgument)
	}
	if numSlots <= 0 {
		return nil, fmt.Errorf("cache slot count %d: %w", numSlots, common.ErrInvalidArgument)
	}
	c := &Cache{
		dev:       dev,
		blockSize: dev.BlockSize(),
		slots:     make([]slot, numSlots),
		head:      -1,
		tail:      -1,
	}
	for i := range c.slots {
		c.slots[i].data = make([]byte, c.blockSize)
		c.slots[i].prev = -1
		c.slots[i].next = -1
	}
	log.Debugf("[Cache] created %d slots of %d bytes", numSlots, c.blockSize)
	return c, nil
}

// Read copies block num into dst, loading it from the device on a miss.
func (c *Cache) Read(num uint64, dst []byte) error {
	if err := c.checkBuf(dst); err != nil {
		return err
	}
	if i := c.find(num); i >= 0 {
		c.hits++
		copy(dst, c.slots[i].data)
		c.touch(i)
		return nil
	}
	c.misses++

	i := c.victim()
	if i < 0 {
		return fmt.Errorf("no evictable cache slot for block %d: %w", num, common.ErrBusy)
	}
	if err := c.evict(i); err != nil {
		return err
	}
	s := &c.slots[i]
	if err := c.dev.ReadBlock(num, s.data); err != nil {
		// Slot stays invalid; the next access retries the device.
		return err
	}
	s.num = num
	s.valid = true
	s.dirty = false
	c.used++
	c.touch(i)
	copy(dst, s.data)
	return nil
}

// Write installs src as the cached content of block num and marks it dirty.
// The device is not touched unless the write forces an eviction.
func (c *Cache) Write(num uint64, src []byte) error {
	if err := c.checkBuf(src); err != nil {
		return err
	}
	i := c.find(num)
	if i < 0 {
		i = c.victim()
		if i < 0 {
			return fmt.Errorf("no evictable cache slot for block %d: %w", num, common.ErrBusy)
		}
		if err := c.evict(i); err != nil {
			return err
		}
		c.slots[i].num = num
		c.slots[i].valid = true
		c.used++
	}
	s := &c.slots[i]
	copy(s.data, src)
	s.dirty = true
	c.touch(i)
	return nil
}

// Flush writes every dirty slot back to the device. It keeps going through
// all slots on failure and returns the first error; failed slots stay dirty
// so a retried flush picks them up again.
func (c *Cache) Flush() error {
	var firstErr error
	flushed := 0
	for i := range c.slots {
		s := &c.slots[i]
		if !s.valid || !s.dirty {
			continue
		}
		if err := c.dev.WriteBlock(s.num, s.data); err != nil {
			log.Warnf("[Cache] flush of block %d failed: %v", s.num, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("flush block %d: %w", s.num, err)
			}
			continue
		}
		s.dirty = false
		flushed++
	}
	log.Debugf("[Cache] flushed %d dirty blocks", flushed)
	return firstErr
}

// Invalidate drops block num from the cache, writing it back first when
// dirty. A write-back failure keeps the slot cached and returns the error.
func (c *Cache) Invalidate(num uint64) error {
	i := c.find(num)
	if i < 0 {
		return nil
	}
	s := &c.slots[i]
	if s.dirty {
		if err := c.dev.WriteBlock(s.num, s.data); err != nil {
			return fmt.Errorf("write back block %d: %w", s.num, err)
		}
		s.dirty = false
	}
	c.lruRemove(i)
	s.valid = false
	c.used--
	return nil
}

// Stats returns the read hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits, c.misses
}

// BlockSize returns the cached block size in bytes.
func (c *Cache) BlockSize() uint32 { return c.blockSize }

// NumBlocks returns the underlying device's block count.
func (c *Cache) NumBlocks() uint64 { return c.dev.NumBlocks() }

// Close flushes all dirty blocks. The cache stays usable afterwards.
func (c *Cache) Close() error {
	return c.Flush()
}

func (c *Cache) checkBuf(buf []byte) error {
	if uint32(len(buf)) != c.blockSize {
		return fmt.Errorf("buffer size %d, block size %d: %w", len(buf), c.blockSize, common.ErrInvalidArgument)
	}
	return nil
}

func (c *Cache) find(num uint64) int {
	for i := range c.slots {
		if c.slots[i].valid && c.slots[i].num == num {
			return i
		}
	}
	return -1
}

// victim picks the slot to receive a new block: an empty slot while the
// cache is warming up, the LRU tail once every slot is valid.
func (c *Cache) victim() int {
	if c.used < len(c.slots) {
		for i := range c.slots {
			if !c.slots[i].valid {
				return i
			}
		}
	}
	return c.tail
}

// evict makes slot i invalid, completing a synchronous write-back first if
// it holds dirty data. On write-back failure the slot is left untouched.
func (c *Cache) evict(i int) error {
	s := &c.slots[i]
	if s.valid && s.dirty {
		if err := c.dev.WriteBlock(s.num, s.data); err != nil {
			return fmt.Errorf("write back block %d: %w", s.num, err)
		}
		s.dirty = false
	}
	if s.valid {
		c.lruRemove(i)
		s.valid = false
		c.used--
	}
	return nil
}

// touch records an access: bump the clock and move slot i to the LRU head.
func (c *Cache) touch(i int) {
	c.clock++
	c.slots[i].lastAccess = c.clock
	c.lruRemove(i)
	c.lruPushFront(i)
}

func (c *Cache) lruRemove(i int) {
	s := &c.slots[i]
	if s.prev >= 0 {
		c.slots[s.prev].next = s.next
	} else if c.head == i {
		c.head = s.next
	}
	if s.next >= 0 {
		c.slots[s.next].prev = s.prev
	} else if c.tail == i {
		c.tail = s.prev
	}
	s.prev, s.next = -1, -1
}

func (c *Cache) lruPushFront(i int) {
	s := &c.slots[i]
	s.prev = -1
	s.next = c.head
	if c.head >= 0 {
		c.slots[c.head].prev = i
	} else {
		c.tail = i
	}
	c.head = i
}
