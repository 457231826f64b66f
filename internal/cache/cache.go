// Package cache provides a small in-memory TTL cache for hot dashboard reads
package cache

import (
	"sync"
	"time"
)

type item struct {
	data      interface{}
	expiresAt time.Time
}

// Cache is a simple in-memory cache with per-entry TTL
type Cache struct {
	items map[string]*item
	mutex sync.RWMutex
}

// New creates a new cache instance
func New() *Cache {
	return &Cache{
		items: make(map[string]*item),
	}
}

// Get retrieves an item from the cache
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mutex.RLock()
	it, exists := c.items[key]
	c.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Now().After(it.expiresAt) {
		c.Delete(key)
		return nil, false
	}

	return it.data, true
}

// Set stores an item in the cache with TTL
func (c *Cache) Set(key string, data interface{}, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = &item{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete removes an item from the cache
func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.items, key)
}

// InvalidatePrefix removes all entries whose key starts with prefix. Write
// paths call this so dashboard reads never serve stale conversations for
// longer than one request.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for key := range c.items {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.items, key)
		}
	}
}

// Clear removes all items from the cache
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.items = make(map[string]*item)
}
