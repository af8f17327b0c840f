// Package cache provides cap-usage caching implementations for Tally.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opensource-finance/tally/internal/domain"
)

// usagePayload is the serialized form of a cached usage snapshot. The
// stamp records the generation the snapshot was computed at.
type usagePayload struct {
	Stamp   uint64            `json:"stamp"`
	Entries []domain.CapUsage `json:"entries"`
}

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the Community tier cache and as L1 in two-phase caching.
// Generation counters live outside the LRU and are never evicted:
// an evicted counter would reset to zero and let a stale snapshot
// look current again.
type LRUCache struct {
	mu          sync.RWMutex
	maxSize     int
	items       map[string]*list.Element
	order       *list.List
	generations map[string]uint64
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:     maxSize,
		items:       make(map[string]*list.Element),
		order:       list.New(),
		generations: make(map[string]uint64),
	}
}

// GetCapUsage returns the cached snapshot and its stamp, or nil
// entries when nothing usable is cached.
func (c *LRUCache) GetCapUsage(ctx context.Context, paymentMethodID string) ([]domain.CapUsage, uint64, error) {
	data := c.get("usage:" + paymentMethodID)
	if data == nil {
		return nil, 0, nil
	}

	var payload usagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, 0, err
	}
	return payload.Entries, payload.Stamp, nil
}

// SetCapUsage stores a snapshot computed at the given stamp.
func (c *LRUCache) SetCapUsage(ctx context.Context, paymentMethodID string, entries []domain.CapUsage, stamp uint64, ttl time.Duration) error {
	data, err := json.Marshal(usagePayload{Stamp: stamp, Entries: entries})
	if err != nil {
		return err
	}
	c.set("usage:"+paymentMethodID, data, ttl)
	return nil
}

// Generation returns the current stamp for a payment method.
func (c *LRUCache) Generation(ctx context.Context, paymentMethodID string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[paymentMethodID], nil
}

// BumpGeneration advances the stamp, invalidating cached snapshots
// computed at earlier stamps.
func (c *LRUCache) BumpGeneration(ctx context.Context, paymentMethodID string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[paymentMethodID]++
	return c.generations[paymentMethodID], nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.generations = make(map[string]uint64)
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) get(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil
	}

	// Move to front (most recently used)
	c.order.MoveToFront(elem)
	return entry.value
}

func (c *LRUCache) set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Update existing entry
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return
	}

	// Add new entry
	entry := &cacheEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	elem := c.order.PushFront(entry)
	c.items[key] = elem

	// Evict if over capacity
	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}

func (c *LRUCache) removeOldest() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}
