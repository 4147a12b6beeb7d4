package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huykn/mastersync/dispatch"
	"github.com/huykn/mastersync/logging"
	"github.com/huykn/mastersync/protocol"
	"github.com/huykn/mastersync/schema"
	"github.com/huykn/mastersync/types"
)

// Streamer is the part of *dispatch.Dispatcher the stream listener uses.
type Streamer interface {
	Subscribe(ctx context.Context, cmd protocol.CommandID, args dispatch.Args, fn func(dec *protocol.Decoder) error) error
	Update(ctx context.Context, cmd protocol.CommandID, args dispatch.Args, after func()) error
}

// StreamOptions configures a StreamListener.
type StreamOptions struct {
	Logger    logging.Logger
	DebugMode bool

	// OnError receives the error that ended the stream. Closing the
	// listener is not reported.
	OnError func(err error)

	// Now stamps DeliveredAt. Defaults to time.Now.
	Now func() time.Time

	// Registry, when set, makes a notice for a table it does not know end
	// the stream with protocol.ErrUnknownTable. When nil every table id is
	// delivered and the consumer decides.
	Registry *schema.Registry
}

// StreamListener receives the invalidations the master pushes on a
// ListenCaches stream. The stream holds its own connection, outside the
// dispatcher's pool, until Close or until it fails; it is not reopened.
type StreamListener struct {
	streamer  Streamer
	opts      StreamOptions
	logger    logging.Logger
	callbacks callbacks

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	done   chan struct{}

	delivered atomic.Int64
}

// NewStreamListener creates a listener over s.
func NewStreamListener(s Streamer, opts StreamOptions) *StreamListener {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &StreamListener{
		streamer: s,
		opts:     opts,
		logger:   logging.OrNoOp(opts.Logger),
		done:     make(chan struct{}),
	}
}

// Subscribe opens the stream in the background. The stream keeps ctx's values
// but not its cancellation; it runs until Close.
func (sl *StreamListener) Subscribe(ctx context.Context) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.closed {
		return ErrClosed
	}
	if sl.cancel != nil {
		return ErrSubscribed
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sl.cancel = cancel
	go sl.run(ctx)
	return nil
}

func (sl *StreamListener) run(ctx context.Context) {
	defer close(sl.done)

	if sl.opts.DebugMode {
		sl.logger.Debug("Stream: listening for invalidations")
	}
	err := sl.streamer.Subscribe(ctx, protocol.CmdListenCaches, nil, func(dec *protocol.Decoder) error {
		inv, err := schema.ReadInvalidation(dec, sl.opts.Registry)
		if err != nil {
			return err
		}
		inv.DeliveredAt = sl.opts.Now()
		sl.delivered.Add(1)
		if sl.opts.DebugMode {
			sl.logger.Debug("Stream: invalidation", "table", inv.Table.String(), "key", inv.Key, "action", string(inv.Action))
		}
		sl.callbacks.deliver(inv)
		return nil
	})

	switch {
	case errors.Is(err, context.Canceled):
		return
	case err == nil:
		err = ErrStreamEnded
		sl.logger.Warn("Stream: server ended invalidation stream")
	default:
		sl.logger.Error("Stream: invalidation stream failed", "error", err)
	}
	if sl.opts.OnError != nil {
		sl.opts.OnError(err)
	}
}

// Publish asks the master to invalidate inv; the master fans the notice out
// to every listening client, this one included.
func (sl *StreamListener) Publish(ctx context.Context, inv types.Invalidation) error {
	return sl.streamer.Update(ctx, protocol.CmdInvalidate, func(e *protocol.Encoder) error {
		return schema.WriteInvalidation(e, inv)
	}, nil)
}

// OnInvalidate registers a callback for pushed tokens.
func (sl *StreamListener) OnInvalidate(callback func(inv types.Invalidation)) {
	sl.callbacks.add(callback)
}

// Delivered counts tokens handed to callbacks.
func (sl *StreamListener) Delivered() int64 {
	return sl.delivered.Load()
}

// Done is closed once the stream has ended.
func (sl *StreamListener) Done() <-chan struct{} {
	return sl.done
}

// Close ends the stream and waits for its goroutine.
func (sl *StreamListener) Close() error {
	sl.mu.Lock()
	if sl.closed {
		sl.mu.Unlock()
		return nil
	}
	sl.closed = true
	cancel := sl.cancel
	sl.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-sl.done
	return nil
}
