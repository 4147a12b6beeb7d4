package sync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/huykn/mastersync/types"
)

// MemorySynchronizer fans tokens out to callbacks in-process. Publish
// delivers synchronously.
type MemorySynchronizer struct {
	callbacks callbacks
	closed    atomic.Bool
}

// NewMemorySynchronizer creates an in-process synchronizer.
func NewMemorySynchronizer() *MemorySynchronizer {
	return &MemorySynchronizer{}
}

// Subscribe is a no-op; delivery starts with the first Publish.
func (ms *MemorySynchronizer) Subscribe(ctx context.Context) error {
	if ms.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Publish delivers inv to every callback before returning.
func (ms *MemorySynchronizer) Publish(ctx context.Context, inv types.Invalidation) error {
	if ms.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if inv.DeliveredAt.IsZero() {
		inv.DeliveredAt = time.Now()
	}
	ms.callbacks.deliver(inv)
	return nil
}

// OnInvalidate registers a callback.
func (ms *MemorySynchronizer) OnInvalidate(callback func(inv types.Invalidation)) {
	ms.callbacks.add(callback)
}

// Close makes later calls fail with ErrClosed.
func (ms *MemorySynchronizer) Close() error {
	ms.closed.Store(true)
	return nil
}
