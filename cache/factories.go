package cache

import "fmt"

// NewLocalCacheFactory returns the factory for config.Policy.
func NewLocalCacheFactory(config LocalCacheConfig) (LocalCacheFactory, error) {
	switch config.Policy {
	case PolicyLRU, "":
		return NewLRUCacheFactory(config.MaxSize), nil
	case PolicyLFU:
		return NewLFUCacheFactory(config), nil
	}
	return nil, fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, config.Policy)
}
