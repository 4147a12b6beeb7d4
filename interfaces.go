package mastersync

import (
	"github.com/huykn/mastersync/cache"
	"github.com/huykn/mastersync/dispatch"
	"github.com/huykn/mastersync/listeners"
	"github.com/huykn/mastersync/logging"
	"github.com/huykn/mastersync/namedlock"
	"github.com/huykn/mastersync/schema"
	"github.com/huykn/mastersync/session"
	"github.com/huykn/mastersync/types"
)

// Session is an alias for session.Session.
type Session = session.Session

// Stats is an alias for session.Stats.
type Stats = session.Stats

// Logger is an alias for logging.Logger.
type Logger = logging.Logger

// Dialer is an alias for dispatch.Dialer.
type Dialer = dispatch.Dialer

// Row is an alias for schema.Row.
type Row = schema.Row

// TableID is an alias for types.TableID.
type TableID = types.TableID

// Invalidation is an alias for types.Invalidation.
type Invalidation = types.Invalidation

// Listener is an alias for listeners.Listener.
type Listener = listeners.Listener

// Guard is an alias for namedlock.Guard.
type Guard = namedlock.Guard

// LocalCache is an alias for cache.LocalCache.
type LocalCache = cache.LocalCache

// LocalCacheMetrics is an alias for cache.LocalCacheMetrics.
type LocalCacheMetrics = cache.LocalCacheMetrics

// LocalCacheFactory is an alias for cache.LocalCacheFactory.
type LocalCacheFactory = cache.LocalCacheFactory

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig
