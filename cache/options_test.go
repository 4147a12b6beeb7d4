package cache

import (
	"errors"
	"testing"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.LocalCacheConfig.Policy != PolicyLRU {
		t.Fatalf("Expected LRU default, got %q", opts.LocalCacheConfig.Policy)
	}
	if opts.LocalCacheConfig.MaxSize <= 0 {
		t.Fatal("MaxSize should be positive")
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("Default options should be valid: %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		valid  bool
	}{
		{"defaults", func(o *Options) {}, true},
		{"zero LRU size", func(o *Options) { o.LocalCacheConfig.MaxSize = 0 }, false},
		{"LFU", func(o *Options) { o.LocalCacheConfig.Policy = PolicyLFU }, true},
		{"LFU zero counters", func(o *Options) {
			o.LocalCacheConfig.Policy = PolicyLFU
			o.LocalCacheConfig.NumCounters = 0
		}, false},
		{"LFU zero cost", func(o *Options) {
			o.LocalCacheConfig.Policy = PolicyLFU
			o.LocalCacheConfig.MaxCost = 0
		}, false},
		{"negative fetch timeout", func(o *Options) { o.FetchTimeout = -1 }, false},
		{"unknown policy", func(o *Options) { o.LocalCacheConfig.Policy = "arc" }, false},
		{"custom factory skips config", func(o *Options) {
			o.LocalCacheConfig = LocalCacheConfig{}
			o.LocalCacheFactory = NewLRUCacheFactory(8)
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			if tt.valid && err != nil {
				t.Fatalf("Expected valid, got %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
