// Package cache provides a small TTL cache. The policy service keeps
// parsed definitions in it so a hot instance does not re-parse its tree on
// every event.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/clearchain/policy-engine/common/logger"
)

// Cache is a key-value store with per-entry expiry
type Cache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Close() error
}

// MemoryCache is the in-process Cache implementation
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	log     *logger.Logger
	stop    chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	value     any
	expiresAt time.Time
}

// NewMemoryCache creates a cache and starts its expiry sweep
func NewMemoryCache(log *logger.Logger) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		log:     log,
		stop:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the live value for key, expiring it lazily if needed
func (c *MemoryCache) Get(ctx context.Context, key string) (any, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.Delete(ctx, key)
		return nil, false
	}
	return entry.value, true
}

// Set stores value under key for ttl
func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete removes key
func (c *MemoryCache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Close stops the expiry sweep
func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

func (c *MemoryCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
