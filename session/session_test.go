package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huykn/mastersync/internal/mastertest"
	"github.com/huykn/mastersync/namedlock"
	"github.com/huykn/mastersync/protocol"
	"github.com/huykn/mastersync/schema"
	"github.com/huykn/mastersync/types"
)

func newSession(t *testing.T, srv *mastertest.Server, mutate func(*Options)) *Session {
	t.Helper()
	opts := DefaultOptions()
	opts.Dialer = srv.Dial
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func waitStream(t *testing.T, srv *mastertest.Server) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.Listeners() == 1 }, time.Second, 5*time.Millisecond)
}

func account(id int, user, shell string) schema.Row {
	return schema.MustRow(schema.LinuxServerAccounts, map[string]any{
		"id":         id,
		"username":   user,
		"server":     1,
		"uid":        1000 + id,
		"home":       "/home/" + user,
		"shell":      shell,
		"created":    time.UnixMilli(1_700_000_000_000),
		"sftp_umask": int64(0o027),
	})
}

func shellOf(r schema.Row) string {
	s, _ := r.String("shell")
	return s
}

func TestGetCachesUntilInvalidated(t *testing.T) {
	srv := mastertest.New()
	defer srv.Close()
	srv.Put(account(1, "alice", "/bin/bash"))
	s := newSession(t, srv, nil)

	for i := 0; i < 3; i++ {
		row, found, err := s.Get(context.Background(), schema.TableLinuxServerAccounts, "1")
		require.NoError(t, err)
		require.True(t, found)
		user, _ := row.String("username")
		assert.Equal(t, "alice", user)
	}
	assert.Equal(t, 1, srv.RowFetches(schema.TableLinuxServerAccounts, "1"))

	_, found, err := s.Get(context.Background(), schema.TableLinuxServerAccounts, "404")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStalenessWindow(t *testing.T) {
	srv := mastertest.New()
	defer srv.Close()
	srv.Put(account(1, "alice", "/bin/bash"))
	s := newSession(t, srv, nil)
	waitStream(t, srv)

	ctx := context.Background()
	row, _, err := s.Get(ctx, schema.TableLinuxServerAccounts, "1")
	require.NoError(t, err)
	require.Equal(t, "/bin/bash", shellOf(row))

	srv.HoldInvalidations()
	updated, err := row.With("shell", "/bin/zsh")
	require.NoError(t, err)
	afterRan := false
	require.NoError(t, s.Update(ctx, updated, func() { afterRan = true }))
	assert.True(t, afterRan)

	// The write has not been announced yet; the old row may still be served.
	row, _, err = s.Get(ctx, schema.TableLinuxServerAccounts, "1")
	require.NoError(t, err)
	assert.Equal(t, "/bin/bash", shellOf(row))

	srv.ReleaseInvalidations()
	require.Eventually(t, func() bool {
		r, _, err := s.Get(ctx, schema.TableLinuxServerAccounts, "1")
		return err == nil && shellOf(r) == "/bin/zsh"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, srv.RowFetches(schema.TableLinuxServerAccounts, "1"))
	assert.EqualValues(t, 1, s.Stats().FromMaster)
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	srv := mastertest.New()
	defer srv.Close()
	srv.Put(account(1, "alice", "/bin/bash"))
	srv.SetFetchDelay(50 * time.Millisecond)
	s := newSession(t, srv, func(o *Options) { o.ListenInvalidations = false })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, found, err := s.Get(context.Background(), schema.TableLinuxServerAccounts, "1")
			assert.NoError(t, err)
			assert.True(t, found)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, srv.RowFetches(schema.TableLinuxServerAccounts, "1"))
	assert.EqualValues(t, 9, s.Stats().Cache.SharedFetches)
}

func TestUnknownTableInvalidationIsReported(t *testing.T) {
	srv := mastertest.New()
	defer srv.Close()
	srv.Put(account(1, "alice", "/bin/bash"))

	errs := make(chan error, 4)
	s := newSession(t, srv, func(o *Options) { o.OnError = func(err error) { errs <- err } })
	waitStream(t, srv)

	srv.Invalidate(types.TableInvalidation(99))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, protocol.ErrUnknownTable)
	case <-time.After(time.Second):
		t.Fatal("unknown table not reported")
	}
	assert.EqualValues(t, 1, s.Stats().UnknownTables)

	// The stream survives and keeps invalidating known tables.
	ctx := context.Background()
	_, _, err := s.Get(ctx, schema.TableLinuxServerAccounts, "1")
	require.NoError(t, err)
	srv.Put(account(1, "alice", "/bin/sh"))
	srv.Invalidate(types.KeyInvalidation(schema.TableLinuxServerAccounts, "1"))
	require.Eventually(t, func() bool {
		r, _, err := s.Get(ctx, schema.TableLinuxServerAccounts, "1")
		return err == nil && shellOf(r) == "/bin/sh"
	}, time.Second, 5*time.Millisecond)

	_, _, err = s.Get(ctx, 99, "1")
	assert.ErrorIs(t, err, protocol.ErrUnknownTable)
}

func TestStrictInvalidationsEndStreamOnUnknownTable(t *testing.T) {
	srv := mastertest.New()
	defer srv.Close()

	errs := make(chan error, 4)
	s := newSession(t, srv, func(o *Options) {
		o.StrictInvalidations = true
		o.OnError = func(err error) { errs <- err }
	})
	waitStream(t, srv)

	srv.Invalidate(types.TableInvalidation(99))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, protocol.ErrUnknownTable)
	case <-time.After(time.Second):
		t.Fatal("unknown table not reported")
	}
	// The stream ended before the notice reached the store.
	assert.EqualValues(t, 0, s.Stats().UnknownTables)
	assert.EqualValues(t, 0, s.Stats().FromMaster)
}

func TestOlderSessionDoesNotSeeNewerColumns(t *testing.T) {
	srv := mastertest.New()
	defer srv.Close()
	srv.Put(account(1, "alice", "/bin/bash"))

	older := newSession(t, srv, func(o *Options) {
		o.Versions = []protocol.Version{protocol.V1_62}
		o.ListenInvalidations = false
	})
	require.Equal(t, protocol.V1_62, older.Version())
	row, found, err := older.Get(context.Background(), schema.TableLinuxServerAccounts, "1")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, row.Has("sftp_umask"))
	assert.Nil(t, row.NullInt("sftp_umask"))

	current := newSession(t, srv, func(o *Options) { o.ListenInvalidations = false })
	row, _, err = current.Get(context.Background(), schema.TableLinuxServerAccounts, "1")
	require.NoError(t, err)
	require.NotNil(t, row.NullInt("sftp_umask"))
	assert.EqualValues(t, 0o027, *row.NullInt("sftp_umask"))

	// Writing through the older session keeps the column it cannot see.
	renamed, err := func() (schema.Row, error) {
		r, _, err := older.Get(context.Background(), schema.TableLinuxServerAccounts, "1")
		if err != nil {
			return schema.Row{}, err
		}
		return r.With("home", "/srv/alice")
	}()
	require.NoError(t, err)
	require.NoError(t, older.Update(context.Background(), renamed, nil))
	stored, _ := srv.Row(schema.TableLinuxServerAccounts, "1")
	assert.EqualValues(t, 0o027, *stored.NullInt("sftp_umask"))
}

func TestVersionMismatchIsHardError(t *testing.T) {
	srv := mastertest.New()
	defer srv.Close()
	srv.Put(account(1, "alice", "/bin/bash"))
	srv.Put(account(2, "bob", "/bin/bash"))
	s := newSession(t, srv, func(o *Options) { o.ListenInvalidations = false })
	require.Equal(t, protocol.Current, s.Version())

	// Keep the only connection busy so the next read has to dial.
	srv.SetFetchDelay(200 * time.Millisecond)
	srv.SetVersions(protocol.V1_62)
	busy := make(chan error, 1)
	go func() {
		_, _, err := s.Get(context.Background(), schema.TableLinuxServerAccounts, "1")
		busy <- err
	}()
	time.Sleep(50 * time.Millisecond)

	_, _, err := s.Get(context.Background(), schema.TableLinuxServerAccounts, "2")
	assert.ErrorIs(t, err, protocol.ErrVersionMismatch)
	assert.NoError(t, <-busy)
	assert.Equal(t, protocol.Current, s.Version())
}

func TestListenerFiresOnInvalidation(t *testing.T) {
	srv := mastertest.New()
	defer srv.Close()
	s := newSession(t, srv, nil)
	waitStream(t, srv)

	got := make(chan types.TableID, 4)
	h, err := s.AddTableListener(schema.TableHttpdSites, 20*time.Millisecond, func(table types.TableID) { got <- table })
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.InvalidateTable(context.Background(), schema.TableHttpdSites))
	}
	select {
	case table := <-got:
		assert.Equal(t, schema.TableHttpdSites, table)
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}
	assert.True(t, s.RemoveTableListener(h))

	_, err = s.AddTableListener(99, 0, func(types.TableID) {})
	assert.ErrorIs(t, err, protocol.ErrUnknownTable)
}

func TestRowsAndPrefetch(t *testing.T) {
	srv := mastertest.New()
	defer srv.Close()
	srv.Put(account(2, "bob", "/bin/bash"))
	srv.Put(account(1, "alice", "/bin/bash"))
	s := newSession(t, srv, func(o *Options) { o.ListenInvalidations = false })

	ctx := context.Background()
	require.NoError(t, s.Prefetch(ctx, schema.TableLinuxServerAccounts, schema.TableHttpdSites))
	rows, err := s.Rows(ctx, schema.TableLinuxServerAccounts)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0].Key())
	assert.Equal(t, "2", rows[1].Key())
	assert.Equal(t, 1, srv.TableFetches(schema.TableLinuxServerAccounts))

	_, found, err := s.Get(ctx, schema.TableLinuxServerAccounts, "2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0, srv.RowFetches(schema.TableLinuxServerAccounts, "2"))

	assert.Error(t, s.Prefetch(ctx, schema.TableAccounts, 99))
}

func TestReadFileAndPing(t *testing.T) {
	srv := mastertest.New(mastertest.WithChunkSize(4))
	defer srv.Close()
	srv.SetFile("/etc/motd", []byte("welcome to web1\n"))
	s := newSession(t, srv, func(o *Options) { o.ListenInvalidations = false })

	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	var buf bytes.Buffer
	n, err := s.ReadFile(ctx, "/etc/motd", &buf)
	require.NoError(t, err)
	assert.EqualValues(t, 16, n)
	assert.Equal(t, "welcome to web1\n", buf.String())

	_, err = s.ReadFile(ctx, "/nope", &buf)
	var rerr *protocol.RemoteError
	require.True(t, errors.As(err, &rerr))
	assert.EqualValues(t, protocol.CodeNotFound, rerr.Code)
}

func TestUpdateRejectsBadRows(t *testing.T) {
	srv := mastertest.New()
	defer srv.Close()
	s := newSession(t, srv, func(o *Options) { o.ListenInvalidations = false })

	assert.ErrorIs(t, s.Update(context.Background(), schema.Row{}, nil), ErrEmptyRow)

	srv.FailNext(protocol.CodeValidation, "uid taken")
	ran := false
	err := s.Update(context.Background(), account(1, "alice", "/bin/bash"), func() { ran = true })
	var rerr *protocol.RemoteError
	require.True(t, errors.As(err, &rerr))
	assert.False(t, ran)
}

func TestLocksAreSessionScoped(t *testing.T) {
	srv := mastertest.New()
	defer srv.Close()
	a := newSession(t, srv, func(o *Options) { o.ListenInvalidations = false })
	b := newSession(t, srv, func(o *Options) { o.ListenInvalidations = false })

	g, err := a.Locks().Acquire("crontab:alice", 0)
	require.NoError(t, err)
	defer g.Release()

	_, err = a.Locks().Acquire("crontab:alice", 10*time.Millisecond)
	assert.ErrorIs(t, err, namedlock.ErrTimeout)

	g2, err := b.Locks().Acquire("crontab:alice", 0)
	require.NoError(t, err)
	g2.Release()
	assert.Equal(t, 1, a.Stats().HeldLocks)
}

func TestMetricsCollector(t *testing.T) {
	srv := mastertest.New()
	defer srv.Close()
	srv.Put(account(1, "alice", "/bin/bash"))
	reg := prometheus.NewRegistry()
	s := newSession(t, srv, func(o *Options) {
		o.ListenInvalidations = false
		o.EnableMetrics = true
		o.MetricsRegisterer = reg
	})

	_, _, err := s.Get(context.Background(), schema.TableLinuxServerAccounts, "1")
	require.NoError(t, err)
	_, _, err = s.Get(context.Background(), schema.TableLinuxServerAccounts, "1")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(collectorMetric(s.collector, s.collector.hits)))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectorMetric(s.collector, s.collector.rowFetches)))
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Greater(t, n, 10)

	require.NoError(t, s.Close())
	n, err = testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// collectorMetric narrows c to the single metric described by d.
func collectorMetric(c *Collector, d *prometheus.Desc) prometheus.Collector {
	return singleMetric{c: c, d: d}
}

type singleMetric struct {
	c *Collector
	d *prometheus.Desc
}

func (m singleMetric) Describe(ch chan<- *prometheus.Desc) { ch <- m.d }

func (m singleMetric) Collect(ch chan<- prometheus.Metric) {
	all := make(chan prometheus.Metric, 64)
	m.c.Collect(all)
	close(all)
	for metric := range all {
		if metric.Desc() == m.d {
			ch <- metric
		}
	}
}

func TestClosedSession(t *testing.T) {
	srv := mastertest.New()
	defer srv.Close()
	s := newSession(t, srv, nil)
	waitStream(t, srv)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, _, err := s.Get(context.Background(), schema.TableAccounts, "1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Ping(context.Background()), ErrClosed)
	assert.Equal(t, 1, srv.Commands(protocol.CmdListenCaches))
}

func TestOptionsValidate(t *testing.T) {
	opts := DefaultOptions()
	assert.ErrorIs(t, opts.Validate(), ErrInvalidConfig)

	opts.Addr = "master.example:4585"
	require.NoError(t, opts.Validate())
	assert.NotNil(t, opts.Dialer)
	assert.NotNil(t, opts.Registry)

	opts.MaxConnections = 0
	assert.ErrorIs(t, opts.Validate(), ErrInvalidConfig)

	opts = DefaultOptions()
	opts.Addr = "x:1"
	opts.Redis.Addr = "localhost:6379"
	opts.SerializationFormat = "gob"
	assert.ErrorIs(t, opts.Validate(), ErrInvalidConfig)
}

func TestNewFailsWithoutCommonVersion(t *testing.T) {
	srv := mastertest.New(mastertest.WithVersions(protocol.V1_0))
	defer srv.Close()

	opts := DefaultOptions()
	opts.Dialer = srv.Dial
	opts.Versions = []protocol.Version{protocol.V1_83}
	_, err := New(context.Background(), opts)
	assert.ErrorIs(t, err, protocol.ErrUnsupportedVersion)
}
