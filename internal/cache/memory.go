package cache

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryCache is an in-process LRU cache with per-entry TTL.
type MemoryCache struct {
	lru *lru.Cache[string, memoryEntry]
}

// NewMemoryCache creates a MemoryCache holding up to size entries.
func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		size = 1024
	}
	l, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{lru: l}, nil
}

// Get retrieves a value, honoring expiry.
func (c *MemoryCache) Get(_ context.Context, key string, value any) error {
	entry, ok := c.lru.Get(key)
	if !ok {
		return ErrNotFound
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		c.lru.Remove(key)
		return ErrNotFound
	}
	return json.Unmarshal(entry.data, value)
}

// Set stores a value. A zero ttl means no expiry.
func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expires = time.Now().Add(ttl)
	}
	c.lru.Add(key, entry)
	return nil
}

// Delete removes a key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Close purges the cache.
func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
