package common

import (
	"sync"
	"time"
)

type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryCacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// memoryCache is a mutex-guarded in-process CacheRepository. Expired entries
// are dropped lazily on read.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
}

// NewMemoryCache returns an empty in-memory CacheRepository.
func NewMemoryCache() CacheRepository {
	return &memoryCache{entries: make(map[string]memoryCacheEntry)}
}

func (c *memoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if entry.expired(time.Now()) {
		c.Delete(key)
		return nil, false
	}
	return entry.value, true
}

func (c *memoryCache) Set(key string, value []byte, expiration time.Duration) {
	entry := memoryCacheEntry{value: value}
	if expiration > 0 {
		entry.expiresAt = time.Now().Add(expiration)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *memoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]memoryCacheEntry)
	c.mu.Unlock()
}
