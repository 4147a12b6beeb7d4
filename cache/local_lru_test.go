package cache

import (
	"errors"
	"strconv"
	"testing"

	"github.com/huykn/mastersync/schema"
)

func usernameRow(name string) schema.Row {
	return schema.MustRow(schema.Usernames, map[string]any{"username": name, "package": "AAA"})
}

func TestLRUCacheNewRejectsBadSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := NewLRUCache(size); err == nil {
			t.Fatalf("Expected error for size %d", size)
		}
	}
}

func TestLRUCacheSetGetDelete(t *testing.T) {
	cache, err := NewLRUCache(100)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	if !cache.Set("alice", usernameRow("alice"), 1) {
		t.Fatal("Set should succeed")
	}
	v, found := cache.Get("alice")
	if !found {
		t.Fatal("Row should be found")
	}
	if v.(schema.Row).Key() != "alice" {
		t.Fatalf("Expected alice, got %s", v.(schema.Row).Key())
	}

	cache.Delete("alice")
	cache.Delete("nobody")
	if _, found := cache.Get("alice"); found {
		t.Fatal("Row should be deleted")
	}

	m := cache.Metrics()
	if m.Hits != 1 || m.Misses != 1 || m.Size != 100 {
		t.Fatalf("Unexpected metrics: %+v", m)
	}
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache, err := NewLRUCache(2)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	cache.Set("a", usernameRow("a"), 1)
	cache.Set("b", usernameRow("b"), 1)
	cache.Get("a")
	cache.Set("c", usernameRow("c"), 1)

	if _, found := cache.Get("b"); found {
		t.Fatal("b should have been evicted")
	}
	if _, found := cache.Get("a"); !found {
		t.Fatal("a was used recently and should remain")
	}
	if ev := cache.Metrics().Evictions; ev != 1 {
		t.Fatalf("Expected 1 eviction, got %d", ev)
	}
}

func TestLRUCacheClearIsNotEviction(t *testing.T) {
	cache, err := NewLRUCache(100)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	for i := 0; i < 10; i++ {
		k := strconv.Itoa(i)
		cache.Set(k, usernameRow(k), 1)
	}
	cache.Clear()
	if cache.Len() != 0 {
		t.Fatalf("Expected empty cache, got %d rows", cache.Len())
	}
	if ev := cache.Metrics().Evictions; ev != 0 {
		t.Fatalf("Clear should not count evictions, got %d", ev)
	}
}

func TestLocalCacheFactoryByPolicy(t *testing.T) {
	cfg := DefaultLocalCacheConfig()

	f, err := NewLocalCacheFactory(cfg)
	if err != nil {
		t.Fatalf("Factory failed: %v", err)
	}
	lc, err := f.Create()
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, ok := lc.(*LRUCache); !ok {
		t.Fatalf("Expected LRU by default, got %T", lc)
	}
	lc.Close()

	cfg.Policy = PolicyLFU
	f, _ = NewLocalCacheFactory(cfg)
	lc, err = f.Create()
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, ok := lc.(*LFUCache); !ok {
		t.Fatalf("Expected LFU, got %T", lc)
	}
	lc.Close()

	cfg.Policy = "fifo"
	if _, err := NewLocalCacheFactory(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
}
