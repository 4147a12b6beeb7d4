package cache

import (
	"github.com/dgraph-io/ristretto"
)

type lfuFactory struct{ config LocalCacheConfig }

// NewLFUCacheFactory returns a factory of ristretto caches built from config.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return lfuFactory{config: config}
}

func (f lfuFactory) Create() (LocalCache, error) {
	return NewLFUCache(f.config)
}

// LFUCache admits and evicts rows by access frequency (ristretto). Rows may be
// refused at Set; the store treats a refused row as not cached.
type LFUCache struct {
	rows  *ristretto.Cache
	stats localCounters
}

// NewLFUCache creates a ristretto-backed local cache.
func NewLFUCache(config LocalCacheConfig) (*LFUCache, error) {
	c := &LFUCache{}
	rows, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: config.IgnoreInternalCost,
		OnEvict: func(*ristretto.Item) {
			c.stats.evictions.Add(1)
		},
	})
	if err != nil {
		return nil, err
	}
	c.rows = rows
	return c, nil
}

func (c *LFUCache) Get(key string) (any, bool) {
	v, ok := c.rows.Get(key)
	c.stats.lookup(ok)
	return v, ok
}

// Set waits for ristretto's write buffer so an admitted row is visible to the
// next Get.
func (c *LFUCache) Set(key string, value any, cost int64) bool {
	ok := c.rows.Set(key, value, cost)
	c.rows.Wait()
	return ok
}

func (c *LFUCache) Delete(key string) { c.rows.Del(key) }

func (c *LFUCache) Clear() { c.rows.Clear() }

func (c *LFUCache) Close() { c.rows.Close() }

// Metrics reports the cost budget as Size.
func (c *LFUCache) Metrics() LocalCacheMetrics {
	return c.stats.metrics(c.rows.MaxCost())
}
