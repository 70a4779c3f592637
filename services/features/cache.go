package features

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/callsight/rag-control-plane/models"
)

// CacheKey identifies one resolved (organization, feature) pair
type CacheKey struct {
	OrgID   uuid.UUID
	Feature models.Feature
}

// String returns a string representation of the cache key
func (k CacheKey) String() string {
	return k.OrgID.String() + ":" + string(k.Feature)
}

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	key        CacheKey
	resolution *Resolution
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// ResolutionCache is an in-memory LRU cache with TTL for resolved feature
// states. A toggle write invalidates the written feature across every cached
// organization, since any descendant scope may inherit the new value.
type ResolutionCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry // Key: CacheKey.String()
	lruList *list.List             // Doubly linked list for LRU tracking
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewResolutionCache creates a new ResolutionCache with specified max size and TTL
func NewResolutionCache(maxSize int, ttl time.Duration) *ResolutionCache {
	return &ResolutionCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a resolution from cache.
// Returns nil if not found or expired.
func (c *ResolutionCache) Get(key CacheKey) *Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := key.String()
	entry, exists := c.entries[keyStr]

	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(keyStr)
		}
		return nil
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.resolution
}

// Set stores a resolution in cache
func (c *ResolutionCache) Set(key CacheKey, resolution *Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := key.String()

	if entry, exists := c.entries[keyStr]; exists {
		entry.resolution = resolution
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		key:        key,
		resolution: resolution,
		insertedAt: time.Now(),
	}

	entry.element = c.lruList.PushFront(keyStr)
	c.entries[keyStr] = entry
}

// Invalidate removes a specific cache entry
func (c *ResolutionCache) Invalidate(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(key.String())
}

// InvalidateOrg removes all cache entries for an organization
func (c *ResolutionCache) InvalidateOrg(orgID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for keyStr, entry := range c.entries {
		if entry.key.OrgID == orgID {
			c.removeEntry(keyStr)
		}
	}
}

// InvalidateFeature removes cache entries for a feature across all
// organizations. Toggle writes use this: a parent's toggle changes the
// resolved state of every descendant, and the cache does not know the tree.
func (c *ResolutionCache) InvalidateFeature(feature models.Feature) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for keyStr, entry := range c.entries {
		if entry.key.Feature == feature {
			c.removeEntry(keyStr)
		}
	}
}

// Clear removes all entries from the cache
func (c *ResolutionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns cache statistics
func (c *ResolutionCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.calculateHitRate(),
	}
}

// calculateHitRate calculates the cache hit rate
func (c *ResolutionCache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *ResolutionCache) removeEntry(keyStr string) {
	if entry, exists := c.entries[keyStr]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, keyStr)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *ResolutionCache) evictLRU() {
	if c.lruList.Len() == 0 {
		return
	}

	backElement := c.lruList.Back()
	if backElement != nil {
		keyStr := backElement.Value.(string)
		c.lruList.Remove(backElement)
		delete(c.entries, keyStr)
	}
}

// CleanupExpired removes all expired entries.
// Should be called periodically in a background goroutine.
func (c *ResolutionCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiredKeys := make([]string, 0)

	for keyStr, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			expiredKeys = append(expiredKeys, keyStr)
		}
	}

	for _, keyStr := range expiredKeys {
		c.removeEntry(keyStr)
	}

	return len(expiredKeys)
}

// StartCleanupWorker starts a background worker to periodically clean up expired entries
func (c *ResolutionCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
