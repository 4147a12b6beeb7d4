package cache

import (
	"testing"
)

func TestLFUCacheSetIsVisibleImmediately(t *testing.T) {
	cache, err := NewLFUCache(DefaultLocalCacheConfig())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	if !cache.Set("alice", usernameRow("alice"), 1) {
		t.Fatal("Set should be admitted")
	}
	if _, found := cache.Get("alice"); !found {
		t.Fatal("Row should be readable right after Set")
	}
}

func TestLFUCacheDeleteAndClear(t *testing.T) {
	cache, err := NewLFUCache(DefaultLocalCacheConfig())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	cache.Set("alice", usernameRow("alice"), 1)
	cache.Set("bob", usernameRow("bob"), 1)

	cache.Delete("alice")
	if _, found := cache.Get("alice"); found {
		t.Fatal("alice should be deleted")
	}

	cache.Clear()
	if _, found := cache.Get("bob"); found {
		t.Fatal("bob should be cleared")
	}
}

func TestLFUCacheMetrics(t *testing.T) {
	cfg := DefaultLocalCacheConfig()
	cache, err := NewLFUCache(cfg)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	cache.Set("alice", usernameRow("alice"), 1)
	cache.Get("alice")
	cache.Get("missing")

	m := cache.Metrics()
	if m.Hits != 1 || m.Misses != 1 {
		t.Fatalf("Unexpected metrics: %+v", m)
	}
	if m.Size != cfg.MaxCost {
		t.Fatalf("Expected size %d, got %d", cfg.MaxCost, m.Size)
	}
}
