package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/huykn/mastersync/cache"
	"github.com/huykn/mastersync/dispatch"
	"github.com/huykn/mastersync/logging"
	"github.com/huykn/mastersync/protocol"
	"github.com/huykn/mastersync/schema"
	"github.com/huykn/mastersync/storage"
)

var (
	// ErrInvalidConfig is returned when options are invalid.
	ErrInvalidConfig = errors.New("session: invalid configuration")

	// ErrClosed is returned by a closed session.
	ErrClosed = errors.New("session: closed")

	// ErrEmptyRow is returned by Update for a zero Row.
	ErrEmptyRow = errors.New("session: empty row")
)

// Options configures a Session.
type Options struct {
	// Addr is the master's TCP address. Ignored when Dialer is set.
	Addr string

	// Dialer opens raw connections to the master. Defaults to TCP to Addr.
	Dialer dispatch.Dialer

	// MaxConnections bounds the pooled connections. The invalidation stream
	// holds one more.
	MaxConnections int

	// Versions offered during the handshake. Defaults to every supported version.
	Versions []protocol.Version

	// Limits bounds decoded strings and response chunks.
	Limits protocol.Limits

	// ContextTimeout bounds connecting and waiting for a pooled connection
	// when the caller's context has no deadline. Zero disables it.
	ContextTimeout time.Duration

	// Registry holds the table schemas. Defaults to schema.DefaultRegistry().
	Registry *schema.Registry

	// LocalCacheConfig configures each table's local cache.
	LocalCacheConfig cache.LocalCacheConfig

	// LocalCacheFactory overrides LocalCacheConfig.Policy.
	LocalCacheFactory cache.LocalCacheFactory

	// ListenInvalidations opens the master's invalidation stream. Without it
	// cached rows are only refreshed by Invalidate, the Redis relay or
	// ClearCache.
	ListenInvalidations bool

	// StrictInvalidations ends the invalidation stream on a notice for a
	// table missing from Registry. By default such a notice is reported
	// through OnError and the stream keeps running.
	StrictInvalidations bool

	// Redis relays invalidations to other processes on InvalidationChannel.
	// An empty Addr disables the relay.
	Redis               storage.RedisConfig
	InvalidationChannel string
	SerializationFormat string

	// EnableMetrics registers a prometheus collector on MetricsRegisterer
	// (prometheus.DefaultRegisterer when nil).
	EnableMetrics     bool
	MetricsRegisterer prometheus.Registerer

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger logging.Logger

	// DebugMode enables debug logging in every component.
	DebugMode bool

	// OnError receives failures of background work: a broken invalidation
	// stream, invalidations for unknown tables, relay errors and failed row
	// fetches, which may outlive the callers waiting on them.
	OnError func(error)
}

// DefaultOptions returns default session options.
func DefaultOptions() Options {
	return Options{
		MaxConnections:      4,
		Versions:            protocol.Versions(),
		Limits:              protocol.DefaultLimits(),
		ContextTimeout:      5 * time.Second,
		LocalCacheConfig:    cache.DefaultLocalCacheConfig(),
		ListenInvalidations: true,
		InvalidationChannel: "mastersync:invalidate",
		SerializationFormat: "json",
	}
}

// Validate validates the options and fills unset defaults.
func (o *Options) Validate() error {
	if o.Dialer == nil {
		if o.Addr == "" {
			return fmt.Errorf("%w: Addr or Dialer is required", ErrInvalidConfig)
		}
		o.Dialer = tcpDialer(o.Addr)
	}
	if o.MaxConnections <= 0 {
		return fmt.Errorf("%w: MaxConnections must be positive", ErrInvalidConfig)
	}
	if o.ContextTimeout < 0 {
		return fmt.Errorf("%w: ContextTimeout must not be negative", ErrInvalidConfig)
	}
	if o.Registry == nil {
		o.Registry = schema.DefaultRegistry()
	}
	if o.Redis.Addr != "" {
		if o.InvalidationChannel == "" {
			return fmt.Errorf("%w: InvalidationChannel is required with Redis", ErrInvalidConfig)
		}
		if _, err := storage.GetSerializer(o.SerializationFormat); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if o.LocalCacheFactory == nil && o.LocalCacheConfig == (cache.LocalCacheConfig{}) {
		o.LocalCacheConfig = cache.DefaultLocalCacheConfig()
	}
	o.Logger = logging.OrNoOp(o.Logger)
	return nil
}

func (o Options) dispatchOptions() dispatch.Options {
	return dispatch.Options{
		MaxConnections: o.MaxConnections,
		Versions:       o.Versions,
		Limits:         o.Limits,
		Logger:         o.Logger,
		DebugMode:      o.DebugMode,
	}
}

func (o Options) cacheOptions() cache.Options {
	return cache.Options{
		LocalCacheConfig:  o.LocalCacheConfig,
		LocalCacheFactory: o.LocalCacheFactory,
		KnownTable:        o.Registry.Known,
		FetchTimeout:      o.ContextTimeout,
		Logger:            o.Logger,
		DebugMode:         o.DebugMode,
		OnError:           o.OnError,
	}
}

func tcpDialer(addr string) dispatch.Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}
