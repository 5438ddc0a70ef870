package cache

import (
	"strings"
	"sync"
	"time"
)

// LookupCache caches path-to-inode-number resolutions with optional
// TTL-based expiration. Supports fine-grained invalidation by path.
//
// Keys are rooted-relative normalized paths ("etc/motd"). Only the number
// is cached; callers re-read the inode itself, so attributes are never
// served stale.
//
// Thread-safe: uses RWMutex for concurrent access.
type LookupCache struct {
	mu      sync.RWMutex
	entries map[string]lookupEntry
	ttl     time.Duration
	maxSize int
}

type lookupEntry struct {
	ino     uint32
	expires time.Time
}

// NewLookupCache creates a new lookup cache.
// ttl: time-to-live for cached entries (use 0 for no expiration)
// maxSize: maximum number of entries (use 0 for unlimited)
func NewLookupCache(ttl time.Duration, maxSize int) *LookupCache {
	return &LookupCache{
		entries: make(map[string]lookupEntry, 256),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get retrieves the cached inode number for a path.
// Misses if not found, expired, or caching is disabled (DEVINEFS_CACHE=0).
func (c *LookupCache) Get(path string) (uint32, bool) {
	if Disabled {
		return 0, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[path]
	if !ok {
		return 0, false
	}
	if c.ttl > 0 && time.Now().After(entry.expires) {
		return 0, false
	}
	return entry.ino, true
}

// Set stores the inode number resolved for a path.
// No-op if caching is disabled (DEVINEFS_CACHE=0).
func (c *LookupCache) Set(path string, ino uint32) {
	if Disabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		// Don't add new entries when at capacity.
		// A more sophisticated implementation could use LRU eviction.
		if _, exists := c.entries[path]; !exists {
			return
		}
	}

	expires := time.Time{} // no expiration by default
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}

	c.entries[path] = lookupEntry{ino: ino, expires: expires}
}

// Invalidate clears all entries from the cache.
func (c *LookupCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		c.entries = make(map[string]lookupEntry, 256)
	}
}

// InvalidatePath removes a specific path from the cache.
func (c *LookupCache) InvalidatePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, path)
}

// InvalidatePrefix removes all paths under the given directory path.
// Used when a directory is removed.
func (c *LookupCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	for path := range c.entries {
		if strings.HasPrefix(path, prefix) {
			delete(c.entries, path)
		}
	}
}

// Size returns the current number of entries in the cache.
func (c *LookupCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// LookupCacheStats holds cache statistics.
type LookupCacheStats struct {
	Size    int
	MaxSize int
	TTL     time.Duration
}

// Stats returns current cache statistics.
func (c *LookupCache) Stats() LookupCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return LookupCacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		TTL:     c.ttl,
	}
}
