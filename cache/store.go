// Package cache keeps a lazily populated, in-memory mirror of server tables.
//
// Rows enter the store only through a fetch after a miss, and leave it only
// through invalidation, an explicit clear or Close. Writers never update the
// store; their change becomes visible after the server's invalidation is
// consumed and the row is fetched again.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"

	"github.com/huykn/mastersync/logging"
	"github.com/huykn/mastersync/protocol"
	"github.com/huykn/mastersync/schema"
	"github.com/huykn/mastersync/types"
)

// Store is the cached table store of one session.
type Store struct {
	fetcher Fetcher
	factory LocalCacheFactory
	options Options
	logger  Logger
	tables  *xsync.MapOf[types.TableID, *tableStore]
	closed  int32
	stats   counters
}

// tableStore holds one table. mu orders populates against invalidations;
// epoch counts invalidations so a fetch that raced one is not installed.
type tableStore struct {
	id       types.TableID
	mu       sync.Mutex
	local    LocalCache
	snapshot []schema.Row
	complete bool
	epoch    uint64
	flights  singleflight.Group
}

type counters struct {
	hits           atomic.Int64
	misses         atomic.Int64
	rowFetches     atomic.Int64
	sharedFetches  atomic.Int64
	tableFetches   atomic.Int64
	snapshotHits   atomic.Int64
	invalidations  atomic.Int64
	stalePopulates atomic.Int64
}

type lookup struct {
	row   schema.Row
	found bool
}

// New creates a store loading rows through fetcher.
func New(fetcher Fetcher, opts Options) (*Store, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: nil fetcher", ErrInvalidConfig)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	factory := opts.LocalCacheFactory
	if factory == nil {
		f, err := NewLocalCacheFactory(opts.LocalCacheConfig)
		if err != nil {
			return nil, err
		}
		factory = f
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Store{
		fetcher: fetcher,
		factory: factory,
		options: opts,
		logger:  opts.Logger,
		tables:  xsync.NewMapOf[types.TableID, *tableStore](),
	}, nil
}

func (s *Store) known(table types.TableID) error {
	if s.options.KnownTable != nil && !s.options.KnownTable(table) {
		return fmt.Errorf("%w: %d", protocol.ErrUnknownTable, table)
	}
	return nil
}

// table returns the store of table, creating it on first use.
func (s *Store) table(table types.TableID) (*tableStore, error) {
	if atomic.LoadInt32(&s.closed) != 0 {
		return nil, ErrClosed
	}
	if err := s.known(table); err != nil {
		return nil, err
	}
	if ts, ok := s.tables.Load(table); ok {
		return ts, nil
	}
	local, err := s.factory.Create()
	if err != nil {
		return nil, fmt.Errorf("cache: create local cache for table %d: %w", table, err)
	}
	ts, loaded := s.tables.LoadOrStore(table, &tableStore{id: table, local: local})
	if loaded {
		local.Close()
	} else if s.options.DebugMode {
		s.logger.Debug("Store: table created", "table", table.String())
	}
	return ts, nil
}

// Get returns the row of table with key, fetching it on a miss. Concurrent
// misses on one key share a single fetch. A row the server does not have is
// (zero, false, nil) and is not cached.
func (s *Store) Get(ctx context.Context, table types.TableID, key string) (schema.Row, bool, error) {
	ts, err := s.table(table)
	if err != nil {
		return schema.Row{}, false, err
	}

	ts.mu.Lock()
	if v, ok := ts.local.Get(key); ok {
		ts.mu.Unlock()
		s.stats.hits.Add(1)
		return v.(schema.Row), true, nil
	}
	epoch := ts.epoch
	ts.mu.Unlock()
	s.stats.misses.Add(1)

	if s.options.DebugMode {
		s.logger.Debug("Get: miss, fetching", "table", table.String(), "key", key)
	}

	flight := "r/" + strconv.FormatUint(epoch, 10) + "/" + key
	v, err := s.share(ctx, ts, flight, func(fctx context.Context) (any, error) {
		s.stats.rowFetches.Add(1)
		row, found, err := s.fetcher.FetchRow(fctx, table, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return lookup{}, nil
		}
		s.populate(ts, epoch, func() { ts.local.Set(key, row, 1) })
		return lookup{row: row, found: true}, nil
	})
	if err != nil {
		return schema.Row{}, false, err
	}
	l := v.(lookup)
	return l.row, l.found, nil
}

// All returns every row of table. The listing is fetched once and reused until
// the table is invalidated; its rows are also cached by key.
func (s *Store) All(ctx context.Context, table types.TableID) ([]schema.Row, error) {
	ts, err := s.table(table)
	if err != nil {
		return nil, err
	}

	ts.mu.Lock()
	if ts.complete {
		rows := append([]schema.Row(nil), ts.snapshot...)
		ts.mu.Unlock()
		s.stats.snapshotHits.Add(1)
		return rows, nil
	}
	epoch := ts.epoch
	ts.mu.Unlock()

	flight := "t/" + strconv.FormatUint(epoch, 10)
	v, err := s.share(ctx, ts, flight, func(fctx context.Context) (any, error) {
		s.stats.tableFetches.Add(1)
		rows, err := s.fetcher.FetchTable(fctx, table)
		if err != nil {
			return nil, err
		}
		s.populate(ts, epoch, func() {
			ts.snapshot = rows
			ts.complete = true
			for _, r := range rows {
				ts.local.Set(r.Key(), r, 1)
			}
		})
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]schema.Row(nil), v.([]schema.Row)...), nil
}

// share runs fetch once for every caller asking for flight. The fetch is
// detached from the callers' cancellation and bounded by FetchTimeout instead,
// so one caller giving up does not fail the others; each caller stops waiting
// when its own ctx is done.
func (s *Store) share(ctx context.Context, ts *tableStore, flight string, fetch func(context.Context) (any, error)) (any, error) {
	var led atomic.Bool
	ch := ts.flights.DoChan(flight, func() (any, error) {
		led.Store(true)
		fctx, cancel := s.fetchContext(ctx)
		defer cancel()
		v, err := fetch(fctx)
		if err != nil {
			s.logger.Warn("Store: fetch failed", "table", ts.id.String(), "error", err)
			if s.options.OnError != nil {
				s.options.OnError(err)
			}
		}
		return v, err
	})

	select {
	case res := <-ch:
		if !led.Load() {
			s.stats.sharedFetches.Add(1)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.options.FetchTimeout > 0 {
		return context.WithTimeout(ctx, s.options.FetchTimeout)
	}
	return context.WithCancel(ctx)
}

// populate runs install unless the table was invalidated after epoch was read.
func (s *Store) populate(ts *tableStore, epoch uint64, install func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.epoch != epoch {
		s.stats.stalePopulates.Add(1)
		if s.options.DebugMode {
			s.logger.Debug("Store: dropped fetch raced by invalidation", "table", ts.id.String())
		}
		return
	}
	install()
}

// Invalidate consumes one invalidation: the scoped key, or every row of the
// table when the notice is unscoped, is dropped along with the table listing.
// Nothing is fetched until the next read.
func (s *Store) Invalidate(inv types.Invalidation) error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return ErrClosed
	}
	if err := s.known(inv.Table); err != nil {
		return err
	}
	if inv.Action != types.Invalidate && inv.Action != types.Clear {
		return fmt.Errorf("cache: unknown invalidation action %q", inv.Action)
	}
	s.stats.invalidations.Add(1)

	ts, ok := s.tables.Load(inv.Table)
	if !ok {
		return nil
	}
	ts.mu.Lock()
	if inv.Scoped() {
		ts.local.Delete(inv.Key)
	} else {
		ts.local.Clear()
	}
	ts.snapshot = nil
	ts.complete = false
	ts.epoch++
	ts.mu.Unlock()

	if s.options.DebugMode {
		s.logger.Debug("Store: invalidated", "table", inv.Table.String(), "key", inv.Key, "action", string(inv.Action))
	}
	return nil
}

// Clear drops every cached row of every table.
func (s *Store) Clear() {
	s.tables.Range(func(_ types.TableID, ts *tableStore) bool {
		ts.mu.Lock()
		ts.local.Clear()
		ts.snapshot = nil
		ts.complete = false
		ts.epoch++
		ts.mu.Unlock()
		return true
	})
	if s.options.DebugMode {
		s.logger.Debug("Store: cleared")
	}
}

// Close releases the local caches. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.tables.Range(func(id types.TableID, ts *tableStore) bool {
		ts.mu.Lock()
		ts.local.Close()
		ts.snapshot = nil
		ts.complete = false
		ts.mu.Unlock()
		return true
	})
	s.tables.Clear()
	return nil
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	st := Stats{
		Hits:           s.stats.hits.Load(),
		Misses:         s.stats.misses.Load(),
		RowFetches:     s.stats.rowFetches.Load(),
		SharedFetches:  s.stats.sharedFetches.Load(),
		TableFetches:   s.stats.tableFetches.Load(),
		SnapshotHits:   s.stats.snapshotHits.Load(),
		Invalidations:  s.stats.invalidations.Load(),
		StalePopulates: s.stats.stalePopulates.Load(),
	}
	s.tables.Range(func(_ types.TableID, ts *tableStore) bool {
		st.Tables++
		st.Evictions += ts.local.Metrics().Evictions
		return true
	})
	return st
}
