// Package session connects to a master server and wires the client runtime
// together: the request dispatcher, the cached table store, the table
// listener registry, the named lock registry and the invalidation channels.
//
// Reads go through the cache. Writes go straight to the master and never
// touch the cache; a written row becomes visible to reads once the master's
// invalidation for it has been consumed. Between the end of Update and that
// moment a read may still return the old row.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/huykn/mastersync/cache"
	"github.com/huykn/mastersync/dispatch"
	"github.com/huykn/mastersync/listeners"
	"github.com/huykn/mastersync/logging"
	"github.com/huykn/mastersync/namedlock"
	"github.com/huykn/mastersync/protocol"
	"github.com/huykn/mastersync/schema"
	"github.com/huykn/mastersync/storage"
	cachesync "github.com/huykn/mastersync/sync"
	"github.com/huykn/mastersync/types"
)

// Session is one client's connection state with a master.
type Session struct {
	id        string
	opts      Options
	logger    logging.Logger
	version   protocol.Version
	reg       *schema.Registry
	disp      *dispatch.Dispatcher
	store     *cache.Store
	listeners *listeners.Registry
	locks     *namedlock.Registry

	stream      *cachesync.StreamListener
	relay       *cachesync.PubSubSynchronizer
	redisClient *redis.Client
	collector   *Collector

	closed        atomic.Bool
	fromMaster    atomic.Int64
	fromRelay     atomic.Int64
	relayed       atomic.Int64
	unknownTables atomic.Int64
}

// Stats is a snapshot of every component's counters.
type Stats struct {
	Dispatch      dispatch.Stats
	Cache         cache.Stats
	Listeners     listeners.Stats
	HeldLocks     int
	FromMaster    int64
	FromRelay     int64
	Relayed       int64
	UnknownTables int64
}

// New connects to the master and starts the session. The first connection
// fixes the protocol version for the life of the session.
func New(ctx context.Context, opts Options) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("session: generate id: %w", err)
	}
	s := &Session{
		id:     id.String(),
		opts:   opts,
		logger: opts.Logger,
		reg:    opts.Registry,
		locks:  namedlock.New(),
		listeners: listeners.New(listeners.Options{
			Logger:    opts.Logger,
			DebugMode: opts.DebugMode,
		}),
	}

	s.disp, err = dispatch.New(opts.Dialer, opts.dispatchOptions())
	if err != nil {
		return nil, err
	}
	cctx, cancel := s.bound(ctx)
	s.version, err = s.disp.Connect(cctx)
	cancel()
	if err != nil {
		s.disp.Close()
		return nil, err
	}

	s.store, err = cache.New(&fetcher{d: s.disp, reg: s.reg}, opts.cacheOptions())
	if err != nil {
		s.disp.Close()
		return nil, err
	}

	if err := s.startInvalidations(ctx); err != nil {
		s.Close()
		return nil, err
	}

	if opts.EnableMetrics {
		s.collector = NewCollector(s)
		if err := s.registerer().Register(s.collector); err != nil {
			s.collector = nil
			s.Close()
			return nil, fmt.Errorf("session: register metrics: %w", err)
		}
	}

	s.logger.Info("Session: connected", "id", s.id, "version", s.version.String())
	return s, nil
}

func (s *Session) startInvalidations(ctx context.Context) error {
	if s.opts.Redis.Addr != "" {
		client, err := storage.NewRedisClient(ctx, s.opts.Redis)
		if err != nil {
			return fmt.Errorf("session: connect redis: %w", err)
		}
		s.redisClient = client
		serializer, _ := storage.GetSerializer(s.opts.SerializationFormat)
		s.relay = cachesync.NewPubSubSynchronizer(client, s.opts.InvalidationChannel, s.id, serializer, s.logger)
		s.relay.OnInvalidate(func(inv types.Invalidation) {
			s.fromRelay.Add(1)
			s.handleInvalidation(inv, false)
		})
		if err := s.relay.Subscribe(ctx); err != nil {
			return fmt.Errorf("session: subscribe %s: %w", s.opts.InvalidationChannel, err)
		}
	}

	if s.opts.ListenInvalidations {
		streamOpts := cachesync.StreamOptions{
			Logger:    s.logger,
			DebugMode: s.opts.DebugMode,
			OnError:   s.reportError,
		}
		if s.opts.StrictInvalidations {
			streamOpts.Registry = s.reg
		}
		s.stream = cachesync.NewStreamListener(s.disp, streamOpts)
		s.stream.OnInvalidate(func(inv types.Invalidation) {
			s.fromMaster.Add(1)
			s.handleInvalidation(inv, true)
		})
		if err := s.stream.Subscribe(ctx); err != nil {
			return err
		}
	}
	return nil
}

// handleInvalidation marks the rows stale, then tells the table's listeners.
// Notices from the master are passed on to the relay.
func (s *Session) handleInvalidation(inv types.Invalidation, fromMaster bool) {
	if err := s.store.Invalidate(inv); err != nil {
		if errors.Is(err, cache.ErrClosed) {
			return
		}
		if errors.Is(err, protocol.ErrUnknownTable) {
			s.unknownTables.Add(1)
		}
		s.logger.Error("Session: invalidation rejected", "table", inv.Table.String(), "key", inv.Key, "error", err)
		s.reportError(err)
		return
	}
	s.listeners.Notify(inv.Table)

	if fromMaster && s.relay != nil {
		ctx, cancel := s.bound(context.Background())
		defer cancel()
		if err := s.relay.Publish(ctx, inv); err != nil {
			s.logger.Warn("Session: relay publish failed", "table", inv.Table.String(), "error", err)
			s.reportError(err)
			return
		}
		s.relayed.Add(1)
	}
}

func (s *Session) reportError(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

// bound applies ContextTimeout to contexts without a deadline.
func (s *Session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.ContextTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opts.ContextTimeout)
}

func (s *Session) check() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ID returns the session's instance id, stamped on relayed invalidations.
func (s *Session) ID() string { return s.id }

// Version returns the negotiated protocol version.
func (s *Session) Version() protocol.Version { return s.version }

// Registry returns the table schemas.
func (s *Session) Registry() *schema.Registry { return s.reg }

// Dispatcher returns the request dispatcher for commands the session does
// not wrap.
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.disp }

// Locks returns the session's named locks.
func (s *Session) Locks() *namedlock.Registry { return s.locks }

// Get returns one row, from the cache when it is current.
func (s *Session) Get(ctx context.Context, table types.TableID, key string) (schema.Row, bool, error) {
	if err := s.check(); err != nil {
		return schema.Row{}, false, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.Get(ctx, table, key)
}

// Rows returns every row of table in the order the master listed them.
func (s *Session) Rows(ctx context.Context, table types.TableID) ([]schema.Row, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.All(ctx, table)
}

// Prefetch loads the given tables concurrently, at most MaxConnections at
// a time.
func (s *Session) Prefetch(ctx context.Context, tables ...types.TableID) error {
	if err := s.check(); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConnections)
	for _, table := range tables {
		table := table
		g.Go(func() error {
			_, err := s.Rows(ctx, table)
			return err
		})
	}
	return g.Wait()
}

// Update sends row to the master. after, when set, runs once the response
// has been read and the connection released, and only on success. The cache
// is not touched.
func (s *Session) Update(ctx context.Context, row schema.Row, after func()) error {
	if err := s.check(); err != nil {
		return err
	}
	if row.IsZero() {
		return ErrEmptyRow
	}
	if _, err := s.reg.Lookup(row.Table()); err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.disp.Update(ctx, protocol.CmdUpdate, func(e *protocol.Encoder) error {
		if err := schema.WriteTableID(e, row.Table()); err != nil {
			return err
		}
		return schema.WriteRow(e, row)
	}, after)
}

// Invalidate asks the master to announce key of table as changed.
func (s *Session) Invalidate(ctx context.Context, table types.TableID, key string) error {
	return s.invalidate(ctx, types.KeyInvalidation(table, key))
}

// InvalidateTable asks the master to announce every row of table as changed.
func (s *Session) InvalidateTable(ctx context.Context, table types.TableID) error {
	return s.invalidate(ctx, types.TableInvalidation(table))
}

func (s *Session) invalidate(ctx context.Context, inv types.Invalidation) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.reg.Lookup(inv.Table); err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.disp.Update(ctx, protocol.CmdInvalidate, func(e *protocol.Encoder) error {
		return schema.WriteInvalidation(e, inv)
	}, nil)
}

// ReadFile streams a file from the master into w and returns its size.
func (s *Session) ReadFile(ctx context.Context, path string, w io.Writer) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.disp.Stream(ctx, protocol.CmdGetFile, func(e *protocol.Encoder) error {
		return e.WriteString(path)
	}, w)
}

// Ping makes one round trip.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.disp.Update(ctx, protocol.CmdPing, nil, nil)
}

// AddTableListener calls fn after table changes, at most once per delay
// window.
func (s *Session) AddTableListener(table types.TableID, delay time.Duration, fn listeners.Listener) (*listeners.Handle, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if _, err := s.reg.Lookup(table); err != nil {
		return nil, err
	}
	return s.listeners.Add(table, delay, fn)
}

// RemoveTableListener unsubscribes h.
func (s *Session) RemoveTableListener(h *listeners.Handle) bool {
	return s.listeners.Remove(h)
}

// ClearCache drops every cached row.
func (s *Session) ClearCache() {
	s.store.Clear()
}

// Stats returns the current counters.
func (s *Session) Stats() Stats {
	return Stats{
		Dispatch:      s.disp.Stats(),
		Cache:         s.store.Stats(),
		Listeners:     s.listeners.Stats(),
		HeldLocks:     s.locks.Len(),
		FromMaster:    s.fromMaster.Load(),
		FromRelay:     s.fromRelay.Load(),
		Relayed:       s.relayed.Load(),
		UnknownTables: s.unknownTables.Load(),
	}
}

// Close stops the invalidation channels, drops the cache and closes every
// connection.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if s.collector != nil {
		s.registerer().Unregister(s.collector)
	}
	if s.stream != nil {
		errs = append(errs, s.stream.Close())
	}
	if s.relay != nil {
		errs = append(errs, s.relay.Close())
	}
	if s.redisClient != nil {
		errs = append(errs, s.redisClient.Close())
	}
	s.listeners.Close()
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	errs = append(errs, s.disp.Close())

	s.logger.Info("Session: closed", "id", s.id)
	return errors.Join(errs...)
}
