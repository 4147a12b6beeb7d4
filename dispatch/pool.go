package dispatch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/huykn/mastersync/logging"
	"github.com/huykn/mastersync/protocol"
)

// Dialer opens a new byte stream to the master server.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Pool hands out at most MaxConnections connections, dialing lazily. Every
// connection of a pool must negotiate the same version: the first handshake
// fixes it and a later connection that disagrees fails with
// protocol.ErrVersionMismatch.
type Pool struct {
	dial    Dialer
	offered []protocol.Version
	limits  protocol.Limits
	logger  logging.Logger
	debug   bool

	slots  chan struct{}
	nextID atomic.Uint64
	dials  atomic.Int64
	drops  atomic.Int64

	mu      sync.Mutex
	idle    []*Conn
	version protocol.Version
	fixed   bool
	closed  bool
}

// NewPool returns a pool over dial. opts must be validated.
func NewPool(dial Dialer, opts Options) *Pool {
	return &Pool{
		dial:    dial,
		offered: opts.Versions,
		limits:  opts.Limits,
		logger:  opts.Logger,
		debug:   opts.DebugMode,
		slots:   make(chan struct{}, opts.MaxConnections),
	}
}

// Get waits for a free slot and returns an idle or newly dialed connection.
// ctx bounds the wait and the dial.
func (p *Pool) Get(ctx context.Context) (*Conn, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, ErrClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.Dial(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return c, nil
}

// Put returns c to the pool. Broken connections are closed and dropped.
func (p *Pool) Put(c *Conn) {
	defer func() { <-p.slots }()

	p.mu.Lock()
	if c.broken || p.closed {
		p.mu.Unlock()
		p.discard(c)
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// Dial opens and negotiates a connection outside the pool's slots. The caller
// owns it and must close it.
func (p *Pool) Dial(ctx context.Context) (*Conn, error) {
	rw, err := p.dial(ctx)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	c, err := Handshake(rw, p.offered, p.limits)
	if err != nil {
		rw.Close()
		return nil, err
	}
	c.id = p.nextID.Add(1)
	p.dials.Add(1)

	p.mu.Lock()
	switch {
	case !p.fixed:
		p.version, p.fixed = c.version, true
	case p.version != c.version:
		want := p.version
		p.mu.Unlock()
		c.Close()
		return nil, fmt.Errorf("%w: connection %d negotiated %s, session uses %s", protocol.ErrVersionMismatch, c.id, c.version, want)
	}
	p.mu.Unlock()

	if p.debug {
		p.logger.Debug("Pool: connection established", "conn", c.id, "version", c.version.String())
	}
	return c, nil
}

func (p *Pool) discard(c *Conn) {
	p.drops.Add(1)
	if err := c.Close(); err != nil && p.debug {
		p.logger.Debug("Pool: close failed", "conn", c.id, "error", err)
	}
	if p.debug {
		p.logger.Debug("Pool: connection discarded", "conn", c.id)
	}
}

// Version returns the session version once a connection has fixed it.
func (p *Pool) Version() (protocol.Version, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version, p.fixed
}

// Idle returns the number of idle connections.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close closes idle connections. Connections in use are closed when returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var first error
	for _, c := range idle {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
