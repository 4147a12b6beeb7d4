// Package listeners lets code react to "this table may have changed" without
// being flooded by bursts of invalidations. Each subscription coalesces the
// notices of one table into at most one callback per delay window.
package listeners

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/huykn/mastersync/logging"
	"github.com/huykn/mastersync/types"
)

var (
	ErrClosed      = errors.New("listeners: registry closed")
	ErrNilListener = errors.New("listeners: nil listener")
)

// Listener is told which table changed. It is never told how, nor how many
// invalidations were folded into the call.
type Listener func(table types.TableID)

// Handle identifies one subscription. Its window state is guarded by the
// table's event lock.
type Handle struct {
	table types.TableID
	delay time.Duration
	fn    Listener

	pending bool
	timer   *time.Timer
	removed bool
}

// Table returns the subscribed table.
func (h *Handle) Table() types.TableID { return h.table }

// Delay returns the coalescing window.
func (h *Handle) Delay() time.Duration { return h.delay }

// Options configures a Registry.
type Options struct {
	Logger    logging.Logger
	DebugMode bool
}

// Stats counts registry activity.
type Stats struct {
	Notifications int64
	Fired         int64
	Coalesced     int64
	Panics        int64
}

// Registry holds the subscriptions of one session.
type Registry struct {
	tables *xsync.MapOf[types.TableID, *tableListeners]
	logger logging.Logger
	debug  bool
	closed atomic.Bool

	notifications atomic.Int64
	fired         atomic.Int64
	coalesced     atomic.Int64
	panics        atomic.Int64
}

// tableListeners is the event lock of one table and the entries it guards.
type tableListeners struct {
	mu      sync.Mutex
	entries []*Handle
}

// New creates an empty Registry.
func New(opts Options) *Registry {
	return &Registry{
		tables: xsync.NewMapOf[types.TableID, *tableListeners](),
		logger: logging.OrNoOp(opts.Logger),
		debug:  opts.DebugMode,
	}
}

// Add subscribes fn to table. A zero delay fires on every notice, on the
// notifying goroutine; negative delays count as zero.
func (r *Registry) Add(table types.TableID, delay time.Duration, fn Listener) (*Handle, error) {
	if fn == nil {
		return nil, ErrNilListener
	}
	if r.closed.Load() {
		return nil, ErrClosed
	}
	h := &Handle{table: table, delay: max(delay, 0), fn: fn}
	tl, _ := r.tables.LoadOrCompute(table, func() *tableListeners { return &tableListeners{} })

	tl.mu.Lock()
	tl.entries = append(tl.entries, h)
	tl.mu.Unlock()

	if r.debug {
		r.logger.Debug("Listeners: added", "table", table.String(), "delay", h.delay.String())
	}
	return h, nil
}

// Remove unsubscribes h and cancels its pending window. It reports whether h
// was subscribed.
func (r *Registry) Remove(h *Handle) bool {
	if h == nil {
		return false
	}
	tl, ok := r.tables.Load(h.table)
	if !ok {
		return false
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for i, e := range tl.entries {
		if e == h {
			tl.entries = append(tl.entries[:i], tl.entries[i+1:]...)
			h.cancel()
			return true
		}
	}
	return false
}

// Len returns the number of subscriptions on table.
func (r *Registry) Len(table types.TableID) int {
	tl, ok := r.tables.Load(table)
	if !ok {
		return 0
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.entries)
}

// Notify records that table may have changed. Idle subscriptions open a window
// of their delay; pending ones keep the window they have. Zero-delay
// subscriptions run before Notify returns, after the event lock is released.
func (r *Registry) Notify(table types.TableID) {
	if r.closed.Load() {
		return
	}
	r.notifications.Add(1)
	tl, ok := r.tables.Load(table)
	if !ok {
		return
	}

	var now []*Handle
	tl.mu.Lock()
	for _, h := range tl.entries {
		h := h
		switch {
		case h.delay == 0:
			now = append(now, h)
		case h.pending:
			r.coalesced.Add(1)
		default:
			h.pending = true
			h.timer = time.AfterFunc(h.delay, func() { r.expire(tl, h) })
		}
	}
	tl.mu.Unlock()

	for _, h := range now {
		r.fire(h)
	}
}

func (r *Registry) expire(tl *tableListeners, h *Handle) {
	tl.mu.Lock()
	if !h.pending || h.removed {
		tl.mu.Unlock()
		return
	}
	h.pending = false
	h.timer = nil
	tl.mu.Unlock()

	r.fire(h)
}

func (r *Registry) fire(h *Handle) {
	defer func() {
		if v := recover(); v != nil {
			r.panics.Add(1)
			r.logger.Error("Listeners: listener panicked", "table", h.table.String(), "panic", v)
		}
	}()
	r.fired.Add(1)
	if r.debug {
		r.logger.Debug("Listeners: firing", "table", h.table.String())
	}
	h.fn(h.table)
}

// cancel stops h's window. The caller holds the event lock.
func (h *Handle) cancel() {
	h.removed = true
	h.pending = false
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// Stats returns a snapshot of the counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Notifications: r.notifications.Load(),
		Fired:         r.fired.Load(),
		Coalesced:     r.coalesced.Load(),
		Panics:        r.panics.Load(),
	}
}

// Close drops every subscription; pending windows never fire.
func (r *Registry) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.tables.Range(func(_ types.TableID, tl *tableListeners) bool {
		tl.mu.Lock()
		for _, h := range tl.entries {
			h.cancel()
		}
		tl.entries = nil
		tl.mu.Unlock()
		return true
	})
}
