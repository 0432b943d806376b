package cache

import (
	"strings"
	"sync"
	"time"
)

// localCache is the bounded in-process tier. Entries are evicted in insertion
// order once the capacity is reached, using a fixed ring of key slots so that
// eviction stays O(1). Strict LRU is deliberately not implemented.
//
// Invariant: len(entries) <= capacity at all times. Every live entry owns
// exactly one ring slot, recorded on the entry, so stale slot strings left
// behind by Delete can never evict a re-inserted key.
type localCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*localEntry
	ring     []string
	head     int
}

type localEntry struct {
	value     []byte
	expiresAt time.Time
	slot      int
}

func newLocalCache(capacity int) *localCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &localCache{
		capacity: capacity,
		entries:  make(map[string]*localEntry, capacity),
		ring:     make([]string, capacity),
	}
}

func (c *localCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (c *localCache) set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return
	}

	victim := c.ring[c.head]
	if victim != "" {
		if entry, ok := c.entries[victim]; ok && entry.slot == c.head {
			delete(c.entries, victim)
		}
	}
	c.ring[c.head] = key
	c.entries[key] = &localEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
		slot:      c.head,
	}
	c.head = (c.head + 1) % c.capacity
}

func (c *localCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *localCache) deletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *localCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*localEntry, c.capacity)
	c.ring = make([]string, c.capacity)
	c.head = 0
}

// sweep removes expired entries and reports how many were dropped.
func (c *localCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *localCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
