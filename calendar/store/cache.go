package store

import (
	"sync"
	"time"

	"github.com/openledge/calstore/calendar"
)

// Cache is the shared read-through cache capability the store uses.
// Implementations are injected; in a cluster the entries live in a
// shared cache service and Remove is driven by invalidation messages.
type Cache interface {
	Get(key calendar.Key) (*calendar.Calendar, bool)
	Put(key calendar.Key, cal *calendar.Calendar)
	Remove(key calendar.Key)
	Close()
}

// CacheConfig holds configuration for the in-memory cache.
type CacheConfig struct {
	TTL             time.Duration // how long entries stay valid
	MaxEntries      int           // maximum number of entries before cleanup
	CleanupInterval time.Duration // how often to run cleanup
}

// DefaultCacheConfig provides sensible defaults for calendar caching.
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

type cacheEntry struct {
	cal        *calendar.Calendar
	expiresAt  time.Time
	accessedAt time.Time
}

// MemoryCache is the in-process Cache implementation: TTL expiry plus
// least-recently-accessed eviction once the entry limit is exceeded.
type MemoryCache struct {
	entries         map[calendar.Key]*cacheEntry
	mutex           sync.RWMutex
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// NewMemoryCache creates a cache with the given configuration and
// starts its cleanup goroutine.
func NewMemoryCache(config CacheConfig) *MemoryCache {
	if config.TTL <= 0 {
		config.TTL = DefaultCacheConfig.TTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultCacheConfig.MaxEntries
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCacheConfig.CleanupInterval
	}

	cache := &MemoryCache{
		entries:         make(map[calendar.Key]*cacheEntry),
		ttl:             config.TTL,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	go cache.cleanupLoop()
	return cache
}

// Get retrieves a cached calendar if present and not expired.
func (c *MemoryCache) Get(key calendar.Key) (*calendar.Calendar, bool) {
	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	now := time.Now()
	if now.After(entry.expiresAt) {
		c.mutex.Lock()
		delete(c.entries, key)
		c.mutex.Unlock()
		return nil, false
	}

	c.mutex.Lock()
	entry.accessedAt = now
	c.mutex.Unlock()

	return entry.cal, true
}

// Put stores a calendar.
func (c *MemoryCache) Put(key calendar.Key, cal *calendar.Calendar) {
	now := time.Now()
	entry := &cacheEntry{
		cal:        cal,
		expiresAt:  now.Add(c.ttl),
		accessedAt: now,
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = entry
	if len(c.entries) > c.maxEntries {
		c.cleanup()
	}
}

// Remove drops the entry for key, if any.
func (c *MemoryCache) Remove(key calendar.Key) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
}

// cleanup removes expired entries and the oldest entries if over limit.
// Caller holds the write lock.
func (c *MemoryCache) cleanup() {
	now := time.Now()

	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}

	if len(c.entries) > c.maxEntries {
		type keyAccess struct {
			key        calendar.Key
			accessedAt time.Time
		}
		var keyAccessList []keyAccess
		for key, entry := range c.entries {
			keyAccessList = append(keyAccessList, keyAccess{key: key, accessedAt: entry.accessedAt})
		}

		// Sort by access time, oldest first.
		for i := 0; i < len(keyAccessList)-1; i++ {
			for j := i + 1; j < len(keyAccessList); j++ {
				if keyAccessList[i].accessedAt.After(keyAccessList[j].accessedAt) {
					keyAccessList[i], keyAccessList[j] = keyAccessList[j], keyAccessList[i]
				}
			}
		}

		entriesToRemove := len(c.entries) - c.maxEntries
		for i := 0; i < entriesToRemove && i < len(keyAccessList); i++ {
			delete(c.entries, keyAccessList[i].key)
		}
	}
}

func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			c.cleanup()
			c.mutex.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache.
func (c *MemoryCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
	c.mutex.Lock()
	c.entries = make(map[calendar.Key]*cacheEntry)
	c.mutex.Unlock()
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entryCount := len(c.entries)
	expiredCount := 0
	now := time.Now()
	for _, entry := range c.entries {
		if now.After(entry.expiresAt) {
			expiredCount++
		}
	}

	return CacheStats{
		TotalEntries:   entryCount,
		ExpiredEntries: expiredCount,
		ActiveEntries:  entryCount - expiredCount,
	}
}

// CacheStats provides information about cache occupancy.
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
}
