package mastersync

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/huykn/mastersync/cache"
	"github.com/huykn/mastersync/protocol"
	"github.com/huykn/mastersync/session"
	"github.com/huykn/mastersync/storage"
)

// Config configures a session. It maps onto session.Options and can be read
// from TOML with LoadConfig and overlaid from the environment with ApplyEnv.
type Config struct {
	// Addr is the master's TCP address (e.g., "master.example:4585").
	Addr string `toml:"addr"`

	// Dialer replaces the TCP dialer, e.g. for tests. Not read from files.
	Dialer Dialer `toml:"-"`

	// MaxConnections bounds the pooled connections to the master.
	MaxConnections int `toml:"max_connections"`

	// Versions restricts the protocol versions offered, e.g. ["1.80.0"].
	// Empty offers every supported version.
	Versions []string `toml:"versions"`

	// ContextTimeout is the default bound on connecting and on waiting for
	// a pooled connection.
	ContextTimeout time.Duration `toml:"context_timeout"`

	// ListenInvalidations opens the master's invalidation stream.
	ListenInvalidations bool `toml:"listen_invalidations"`

	// StrictInvalidations ends the stream on a notice for an unknown table.
	StrictInvalidations bool `toml:"strict_invalidations"`

	// LocalCacheConfig configures each table's local cache.
	LocalCacheConfig LocalCacheConfig `toml:"local_cache"`

	// LocalCacheFactory overrides LocalCacheConfig.Policy.
	LocalCacheFactory LocalCacheFactory `toml:"-"`

	// Redis relays invalidations to other processes. Empty Addr disables it.
	Redis RedisConfig `toml:"redis"`

	// InvalidationChannel is the Redis pub/sub channel for relayed invalidations.
	InvalidationChannel string `toml:"invalidation_channel"`

	// SerializationFormat specifies how relayed invalidations are encoded
	// ("json" or "msgpack").
	SerializationFormat string `toml:"serialization_format"`

	// EnableMetrics registers a prometheus collector.
	EnableMetrics bool `toml:"enable_metrics"`

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger `toml:"-"`

	// DebugMode enables debug logging.
	DebugMode bool `toml:"debug"`

	// OnError is called when an error occurs in background operations.
	OnError func(error) `toml:"-"`
}

// DefaultConfig returns default session configuration. Addr is left empty.
func DefaultConfig() Config {
	return Config{
		MaxConnections:      4,
		ContextTimeout:      5 * time.Second,
		ListenInvalidations: true,
		LocalCacheConfig:    DefaultLocalCacheConfig(),
		InvalidationChannel: "mastersync:invalidate",
		SerializationFormat: "json",
		EnableMetrics:       false,
		Logger:              nil, // Will default to no-op in New()
		DebugMode:           false,
	}
}

// LoadConfig reads a TOML file over DefaultConfig. Keys absent from the file
// keep their defaults; durations are strings such as "5s".
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("mastersync: load config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays MASTERSYNC_* environment variables onto cfg. Values that
// do not parse are reported and leave the field unchanged.
func ApplyEnv(cfg *Config) error {
	var bad []string
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				bad = append(bad, name)
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				bad = append(bad, name)
				return
			}
			*dst = b
		}
	}

	str("MASTERSYNC_ADDR", &cfg.Addr)
	num("MASTERSYNC_MAX_CONNECTIONS", &cfg.MaxConnections)
	flag("MASTERSYNC_DEBUG", &cfg.DebugMode)
	flag("MASTERSYNC_LISTEN_INVALIDATIONS", &cfg.ListenInvalidations)
	str("MASTERSYNC_REDIS_ADDR", &cfg.Redis.Addr)
	str("MASTERSYNC_REDIS_PASSWORD", &cfg.Redis.Password)
	num("MASTERSYNC_REDIS_DB", &cfg.Redis.DB)
	str("MASTERSYNC_INVALIDATION_CHANNEL", &cfg.InvalidationChannel)
	str("MASTERSYNC_SERIALIZATION_FORMAT", &cfg.SerializationFormat)
	flag("MASTERSYNC_ENABLE_METRICS", &cfg.EnableMetrics)
	str("MASTERSYNC_LOCAL_CACHE_POLICY", &cfg.LocalCacheConfig.Policy)
	num("MASTERSYNC_LOCAL_CACHE_MAX_SIZE", &cfg.LocalCacheConfig.MaxSize)

	if v, ok := os.LookupEnv("MASTERSYNC_CONTEXT_TIMEOUT"); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ContextTimeout = d
		} else {
			bad = append(bad, "MASTERSYNC_CONTEXT_TIMEOUT")
		}
	}

	if len(bad) > 0 {
		return fmt.Errorf("%w: cannot parse %v", ErrInvalidConfig, bad)
	}
	return nil
}

// Options converts cfg to session options.
func (cfg Config) Options() (session.Options, error) {
	versions := make([]protocol.Version, 0, len(cfg.Versions))
	for _, s := range cfg.Versions {
		v, err := protocol.Lookup(s)
		if err != nil {
			return session.Options{}, fmt.Errorf("%w: versions: %v", ErrInvalidConfig, err)
		}
		versions = append(versions, v)
	}

	return session.Options{
		Addr:                cfg.Addr,
		Dialer:              cfg.Dialer,
		MaxConnections:      cfg.MaxConnections,
		Versions:            versions,
		Limits:              protocol.DefaultLimits(),
		ContextTimeout:      cfg.ContextTimeout,
		LocalCacheConfig:    cfg.LocalCacheConfig,
		LocalCacheFactory:   cfg.LocalCacheFactory,
		ListenInvalidations: cfg.ListenInvalidations,
		StrictInvalidations: cfg.StrictInvalidations,
		Redis:               cfg.Redis,
		InvalidationChannel: cfg.InvalidationChannel,
		SerializationFormat: cfg.SerializationFormat,
		EnableMetrics:       cfg.EnableMetrics,
		Logger:              cfg.Logger,
		DebugMode:           cfg.DebugMode,
		OnError:             cfg.OnError,
	}, nil
}

// New connects a session to the master described by cfg.
// This is the root-level initialization function that allows users to import from the root package.
func New(cfg Config) (*Session, error) {
	return NewContext(context.Background(), cfg)
}

// NewContext is New with a caller context for the initial connection.
func NewContext(ctx context.Context, cfg Config) (*Session, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	return session.New(ctx, opts)
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}

// RedisConfig is an alias for storage.RedisConfig.
type RedisConfig = storage.RedisConfig
