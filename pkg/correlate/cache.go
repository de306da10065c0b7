package correlate

import (
	"sync"
	"time"
)

// cacheEntry holds one cached payload with a timestamp for TTL expiration.
type cacheEntry struct {
	payload  any
	filledAt time.Time
}

// payloadCache is a thread-safe route cache with TTL expiration. Expired
// entries are cleaned up lazily on get; there is no background goroutine.
type payloadCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newPayloadCache(ttl time.Duration) *payloadCache {
	return &payloadCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

func (c *payloadCache) get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Since(entry.filledAt) > c.ttl {
		// Re-check under write lock: a concurrent set may have replaced
		// the entry with a fresh one between RUnlock and Lock.
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && time.Since(current.filledAt) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.payload, true
}

func (c *payloadCache) set(key string, payload any) {
	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		payload:  payload,
		filledAt: time.Now(),
	}
	c.mu.Unlock()
}
