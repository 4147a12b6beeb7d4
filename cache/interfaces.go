package cache

import (
	"context"

	"github.com/huykn/mastersync/logging"
	"github.com/huykn/mastersync/schema"
	"github.com/huykn/mastersync/types"
)

// Logger is the logging interface used by the store.
type Logger = logging.Logger

// Fetcher loads rows from the master server. The store calls it on a miss and
// never writes rows by any other path.
type Fetcher interface {
	// FetchRow loads one row. A missing row is (zero, false, nil).
	FetchRow(ctx context.Context, table types.TableID, key string) (schema.Row, bool, error)

	// FetchTable loads every row of a table.
	FetchTable(ctx context.Context, table types.TableID) ([]schema.Row, error)
}

// LocalCache holds the rows of one table in process memory.
type LocalCache interface {
	// Get retrieves a value from the local cache.
	Get(key string) (any, bool)

	// Set stores a value in the local cache. A false return means the value
	// was not admitted.
	Set(key string, value any, cost int64) bool

	// Delete removes a value from the local cache.
	Delete(key string)

	// Clear removes all values from the local cache.
	Clear()

	// Close closes the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory creates the local cache of each table.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create() (LocalCache, error)
}

// Stats represents store statistics.
type Stats struct {
	Hits          int64
	Misses        int64
	RowFetches    int64
	SharedFetches int64
	TableFetches  int64
	SnapshotHits  int64
	Invalidations int64
	// StalePopulates counts fetch results dropped because the table was
	// invalidated while the fetch was in flight.
	StalePopulates int64
	Evictions      int64
	Tables         int64
}
