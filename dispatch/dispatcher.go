// Package dispatch turns typed calls into single round trips with the master
// server. A request holds one pooled connection exclusively from the moment
// its command is written until the terminating DONE or ERROR status is read;
// there is no pipelining.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/huykn/mastersync/logging"
	"github.com/huykn/mastersync/protocol"
)

// Args writes the arguments of a request after its command id.
type Args func(e *protocol.Encoder) error

// Dispatcher issues requests over a connection pool.
type Dispatcher struct {
	pool   *Pool
	opts   Options
	logger logging.Logger
	closed atomic.Bool
	stats  counters
}

// handler consumes a response. A nil chunk func makes any NEXT status a
// protocol error. done runs once DONE is read, before the connection is
// released. With abort set, the first chunk error ends the request and the
// connection; otherwise remaining chunks are drained so the connection stays
// usable.
type handler struct {
	chunk func(sc *scratch, v protocol.Version, payload []byte) error
	done  func(sc *scratch, v protocol.Version) error
	abort bool
}

// New returns a Dispatcher dialing through dial. No connection is opened until
// the first request or Connect.
func New(dial Dialer, opts Options) (*Dispatcher, error) {
	if dial == nil {
		return nil, fmt.Errorf("%w: nil dialer", ErrInvalidConfig)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{
		pool:   NewPool(dial, opts),
		opts:   opts,
		logger: opts.Logger,
	}, nil
}

// Connect opens the first connection, fixing the session version.
func (d *Dispatcher) Connect(ctx context.Context) (protocol.Version, error) {
	c, err := d.pool.Get(ctx)
	if err != nil {
		return protocol.Version{}, err
	}
	v := c.version
	d.pool.Put(c)
	return v, nil
}

// Version returns the session version, or the zero Version before Connect.
func (d *Dispatcher) Version() protocol.Version {
	v, _ := d.pool.Version()
	return v
}

// Pool exposes the connection pool.
func (d *Dispatcher) Pool() *Pool {
	return d.pool
}

// Update sends a write-only request. The server answers with DONE or ERROR.
// after, when set, runs on the calling goroutine once the response has been
// consumed and the connection and buffers have been released.
func (d *Dispatcher) Update(ctx context.Context, cmd protocol.CommandID, args Args, after func()) error {
	if err := d.do(ctx, cmd, args, handler{}, &d.stats.updates); err != nil {
		return err
	}
	if after != nil {
		after()
	}
	return nil
}

// Result sends a request and decodes its value. NEXT payloads are assembled in
// order and read decodes the whole body at the session version.
func Result[T any](ctx context.Context, d *Dispatcher, cmd protocol.CommandID, args Args, read func(dec *protocol.Decoder) (T, error)) (T, error) {
	var out T
	err := d.do(ctx, cmd, args, handler{
		chunk: func(sc *scratch, _ protocol.Version, payload []byte) error {
			sc.body = append(sc.body, payload...)
			return nil
		},
		done: func(sc *scratch, v protocol.Version) error {
			dec := sc.decoder(sc.body, v)
			val, err := read(dec)
			if err != nil {
				return err
			}
			if dec.More() {
				return fmt.Errorf("%w: trailing bytes in %s result", protocol.ErrFraming, cmd)
			}
			out = val
			return nil
		},
	}, &d.stats.results)
	return out, err
}

// Stream copies every NEXT payload to sink and returns the bytes copied. A
// sink error is returned after the rest of the response is drained.
func (d *Dispatcher) Stream(ctx context.Context, cmd protocol.CommandID, args Args, sink io.Writer) (int64, error) {
	var n int64
	err := d.do(ctx, cmd, args, handler{
		chunk: func(_ *scratch, _ protocol.Version, payload []byte) error {
			w, err := sink.Write(payload)
			n += int64(w)
			return err
		},
	}, &d.stats.streams)
	d.stats.bytesStreamed.Add(n)
	return n, err
}

// Each decodes every NEXT payload as one record. The first error from fn is
// returned once the response is drained; fn is not called again after it.
func (d *Dispatcher) Each(ctx context.Context, cmd protocol.CommandID, args Args, fn func(dec *protocol.Decoder) error) error {
	return d.do(ctx, cmd, args, handler{chunk: eachRecord(fn)}, &d.stats.results)
}

// Subscribe runs a long-lived streaming request on a dedicated connection
// outside the pool. It returns when the server ends the stream, fn fails, the
// connection fails or ctx is done; the connection is closed in every case.
func (d *Dispatcher) Subscribe(ctx context.Context, cmd protocol.CommandID, args Args, fn func(dec *protocol.Decoder) error) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.stats.subscriptions.Add(1)
	c, err := d.pool.Dial(ctx)
	if err != nil {
		d.count(err)
		return err
	}
	stop := context.AfterFunc(ctx, func() { c.rw.Close() })
	defer stop()

	sc := getScratch(c.version, d.opts.Limits)
	err = d.exchange(c, sc, cmd, args, handler{chunk: eachRecord(fn), abort: true})
	putScratch(sc)
	c.Close()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	d.count(err)
	return err
}

func eachRecord(fn func(dec *protocol.Decoder) error) func(*scratch, protocol.Version, []byte) error {
	return func(sc *scratch, v protocol.Version, payload []byte) error {
		dec := sc.decoder(payload, v)
		if err := fn(dec); err != nil {
			return err
		}
		if dec.More() {
			return fmt.Errorf("%w: trailing bytes in record", protocol.ErrFraming)
		}
		return nil
	}
}

func (d *Dispatcher) do(ctx context.Context, cmd protocol.CommandID, args Args, h handler, kind *atomic.Int64) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.stats.requests.Add(1)
	kind.Add(1)

	c, err := d.pool.Get(ctx)
	if err != nil {
		d.count(err)
		return err
	}
	if d.opts.DebugMode {
		d.logger.Debug("Dispatch: request", "command", cmd.String(), "conn", c.id)
	}

	sc := getScratch(c.version, d.opts.Limits)
	err = d.exchange(c, sc, cmd, args, h)
	if err == nil && h.done != nil {
		err = h.done(sc, c.version)
	}
	if protocol.IsProtocolError(err) {
		c.broken = true
	}
	d.pool.Put(c)
	putScratch(sc)

	d.count(err)
	if err != nil && d.opts.DebugMode {
		d.logger.Debug("Dispatch: request failed", "command", cmd.String(), "error", err)
	}
	return err
}

// exchange writes one request on c and reads its response.
func (d *Dispatcher) exchange(c *Conn, sc *scratch, cmd protocol.CommandID, args Args, h handler) error {
	if err := protocol.WriteCommand(sc.enc, cmd); err != nil {
		return err
	}
	if args != nil {
		if err := args(sc.enc); err != nil {
			return fmt.Errorf("encode %s: %w", cmd, err)
		}
	}
	if err := sc.enc.Flush(); err != nil {
		return err
	}

	op := cmd.String()
	if _, err := c.enc.Write(sc.req.Bytes()); err != nil {
		c.broken = true
		return classify("write "+op, err)
	}
	if err := c.enc.Flush(); err != nil {
		c.broken = true
		return classify("write "+op, err)
	}

	var herr error
	for {
		st, err := protocol.ReadStatus(c.dec)
		if err != nil {
			c.broken = true
			return classify("read "+op, err)
		}
		switch st {
		case protocol.StatusDone:
			return herr
		case protocol.StatusError:
			rerr, err := protocol.ReadRemoteError(c.dec)
			if err != nil {
				c.broken = true
				return classify("read "+op, err)
			}
			return rerr
		case protocol.StatusNext:
			if h.chunk == nil {
				c.broken = true
				return fmt.Errorf("%w: %s response carries data", protocol.ErrUnexpectedStatus, op)
			}
			sc.chunk, err = protocol.ReadChunkInto(c.dec, sc.chunk[:0])
			if err != nil {
				c.broken = true
				return classify("read "+op, err)
			}
			if herr != nil {
				continue
			}
			if herr = h.chunk(sc, c.version, sc.chunk); herr != nil && h.abort {
				c.broken = true
				return herr
			}
		}
	}
}

func (d *Dispatcher) count(err error) {
	switch {
	case err == nil:
	case IsRemoteError(err):
		d.stats.remoteErrors.Add(1)
	case IsTransportError(err):
		d.stats.transportErrors.Add(1)
	case protocol.IsProtocolError(err), errors.Is(err, protocol.ErrTooLarge):
		d.stats.protocolErrors.Add(1)
	}
}

// Close closes idle connections and fails later requests with ErrClosed.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.pool.Close()
}
