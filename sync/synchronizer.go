// Package sync delivers invalidation tokens to the cached table store. The
// master pushes them over a dedicated stream connection; processes sharing
// one master may also relay them to each other through Redis pub/sub.
package sync

import (
	"context"
	"errors"
	"sync"

	"github.com/huykn/mastersync/types"
)

var (
	// ErrClosed is returned by a synchronizer after Close.
	ErrClosed = errors.New("sync: synchronizer closed")
	// ErrSubscribed is returned when Subscribe is called twice.
	ErrSubscribed = errors.New("sync: already subscribed")
	// ErrStreamEnded is reported when the master finishes the invalidation
	// stream. Cached rows can no longer be trusted to be current.
	ErrStreamEnded = errors.New("sync: invalidation stream ended by server")
)

// Synchronizer is one source of invalidation tokens.
type Synchronizer interface {
	// Subscribe starts delivering tokens to the registered callbacks.
	Subscribe(ctx context.Context) error

	// Publish sends a token through the channel.
	Publish(ctx context.Context, inv types.Invalidation) error

	// OnInvalidate registers a callback. Callbacks run on the delivering
	// goroutine in registration order.
	OnInvalidate(callback func(inv types.Invalidation))

	// Close stops delivery and waits for the delivering goroutine.
	Close() error
}

type callbacks struct {
	mu  sync.RWMutex
	fns []func(inv types.Invalidation)
}

func (c *callbacks) add(fn func(inv types.Invalidation)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

func (c *callbacks) deliver(inv types.Invalidation) {
	c.mu.RLock()
	fns := c.fns
	c.mu.RUnlock()

	for _, fn := range fns {
		fn(inv)
	}
}
