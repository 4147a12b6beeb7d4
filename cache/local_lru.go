package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// localCounters is the hit/miss/eviction bookkeeping shared by the built-in
// local caches.
type localCounters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func (c *localCounters) lookup(found bool) {
	if found {
		c.hits.Add(1)
		return
	}
	c.misses.Add(1)
}

func (c *localCounters) metrics(size int64) LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}

type lruFactory struct{ maxSize int }

// NewLRUCacheFactory returns a factory of LRU caches holding up to maxSize
// rows each.
func NewLRUCacheFactory(maxSize int) LocalCacheFactory {
	return lruFactory{maxSize: maxSize}
}

func (f lruFactory) Create() (LocalCache, error) {
	return NewLRUCache(f.maxSize)
}

// LRUCache keeps the most recently used rows of a table (golang-lru).
type LRUCache struct {
	rows    *lru.Cache[string, any]
	stats   localCounters
	maxSize int
	purging atomic.Bool
}

// NewLRUCache creates an LRU cache holding up to maxSize rows.
func NewLRUCache(maxSize int) (*LRUCache, error) {
	c := &LRUCache{maxSize: maxSize}
	rows, err := lru.NewWithEvict[string, any](maxSize, func(string, any) {
		// Purge calls back for every row; a clear is not an eviction.
		if !c.purging.Load() {
			c.stats.evictions.Add(1)
		}
	})
	if err != nil {
		return nil, err
	}
	c.rows = rows
	return c, nil
}

func (c *LRUCache) Get(key string) (any, bool) {
	v, ok := c.rows.Get(key)
	c.stats.lookup(ok)
	return v, ok
}

// Set always admits the row; cost is ignored.
func (c *LRUCache) Set(key string, value any, _ int64) bool {
	c.rows.Add(key, value)
	return true
}

func (c *LRUCache) Delete(key string) { c.rows.Remove(key) }

func (c *LRUCache) Clear() {
	c.purging.Store(true)
	defer c.purging.Store(false)
	c.rows.Purge()
}

func (c *LRUCache) Close() { c.Clear() }

// Len returns the number of cached rows.
func (c *LRUCache) Len() int { return c.rows.Len() }

// Metrics reports the configured capacity as Size.
func (c *LRUCache) Metrics() LocalCacheMetrics {
	return c.stats.metrics(int64(c.maxSize))
}
