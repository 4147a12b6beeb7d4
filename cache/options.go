package cache

import (
	"fmt"
	"time"

	"github.com/huykn/mastersync/types"
)

// Local cache policies.
const (
	PolicyLRU = "lru"
	PolicyLFU = "lfu"
)

// LocalCacheConfig configures the per-table local caches.
type LocalCacheConfig struct {
	// Policy selects the backend, PolicyLRU (default) or PolicyLFU.
	Policy string `toml:"policy"`

	// NumCounters is the number of counters for the cache (Ristretto only).
	// Recommended: 10 * MaxItems
	NumCounters int64 `toml:"num_counters"`

	// MaxCost is the maximum cost of items in the cache (Ristretto only).
	// Every row costs 1.
	MaxCost int64 `toml:"max_cost"`

	// BufferItems is the number of items to buffer before eviction (Ristretto only).
	// Recommended: 64
	BufferItems int64 `toml:"buffer_items"`

	// IgnoreInternalCost ignores the internal cost of items (Ristretto only).
	IgnoreInternalCost bool `toml:"ignore_internal_cost"`

	// MaxSize is the maximum number of rows per table (LRU only).
	MaxSize int `toml:"max_size"`
}

// Options configures a Store.
type Options struct {
	// LocalCacheConfig configures each table's local cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory creates each table's local cache.
	// If nil, it is chosen by LocalCacheConfig.Policy.
	LocalCacheFactory LocalCacheFactory

	// KnownTable reports whether a table id is part of the schema. Reads and
	// invalidations of other ids fail with protocol.ErrUnknownTable.
	// If nil, every id is accepted.
	KnownTable func(types.TableID) bool

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// FetchTimeout bounds one shared fetch. A fetch is not cancelled by the
	// callers waiting on it, so without a bound it runs until the fetcher
	// returns. Zero means no bound.
	FetchTimeout time.Duration

	// OnError is called when a fetch fails. The error is also returned to
	// every caller still waiting on that fetch.
	OnError func(error)
}

// DefaultOptions returns default store options.
func DefaultOptions() Options {
	return Options{
		LocalCacheConfig: DefaultLocalCacheConfig(),
	}
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		Policy:      PolicyLRU,
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
		MaxSize:     10000,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.FetchTimeout < 0 {
		return fmt.Errorf("%w: FetchTimeout must not be negative", ErrInvalidConfig)
	}
	if o.LocalCacheFactory != nil {
		return nil
	}
	c := o.LocalCacheConfig
	switch c.Policy {
	case PolicyLRU, "":
		if c.MaxSize <= 0 {
			return fmt.Errorf("%w: MaxSize must be positive", ErrInvalidConfig)
		}
	case PolicyLFU:
		if c.NumCounters <= 0 {
			return fmt.Errorf("%w: NumCounters must be positive", ErrInvalidConfig)
		}
		if c.MaxCost <= 0 {
			return fmt.Errorf("%w: MaxCost must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, c.Policy)
	}
	return nil
}

var (
	// ErrInvalidConfig is returned when options are invalid.
	ErrInvalidConfig = NewError("cache: invalid configuration")

	// ErrClosed is returned when operations are performed on a closed store.
	ErrClosed = NewError("cache: store is closed")
)

// NewError creates a new error with the given message.
func NewError(msg string) error {
	return &cacheError{msg: msg}
}

type cacheError struct {
	msg string
}

func (e *cacheError) Error() string {
	return e.msg
}
