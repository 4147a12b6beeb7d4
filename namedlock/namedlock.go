// Package namedlock grants exclusive, time-bounded access to named external
// resources, one holder per name. A Registry is owned by a session; there is
// no process-wide state.
package namedlock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout matches every *TimeoutError.
var ErrTimeout = errors.New("namedlock: timed out")

// TimeoutError is returned when a key stays held past the caller's budget.
type TimeoutError struct {
	Key     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("namedlock: timed out after %s waiting for %q", e.Timeout, e.Key)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Temporary reports true; the caller may try again.
func (e *TimeoutError) Temporary() bool { return true }

// Registry maps names to holders. Waiters for any key share one condition and
// re-check their key on every wake-up, so there is no FIFO order.
type Registry struct {
	mu   sync.Mutex
	cond *sync.Cond
	held map[string]struct{}
	now  func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	r := &Registry{held: make(map[string]struct{}), now: time.Now}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Guard is proof of holding a key.
type Guard struct {
	r    *Registry
	key  string
	once sync.Once
}

// Key returns the held name.
func (g *Guard) Key() string { return g.key }

// Release frees the key and wakes every waiter. Calls after the first do
// nothing.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.r.mu.Lock()
		delete(g.r.held, g.key)
		g.r.cond.Broadcast()
		g.r.mu.Unlock()
	})
}

// Acquire blocks until key is free or timeout has passed since the call.
// A non-positive timeout only tries once.
func (r *Registry) Acquire(key string, timeout time.Duration) (*Guard, error) {
	deadline := r.now().Add(timeout)

	r.mu.Lock()
	defer r.mu.Unlock()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if _, busy := r.held[key]; !busy {
			r.held[key] = struct{}{}
			return &Guard{r: r, key: key}, nil
		}
		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			return nil, &TimeoutError{Key: key, Timeout: timeout}
		}
		if timer == nil {
			timer = time.AfterFunc(remaining, func() {
				r.mu.Lock()
				r.cond.Broadcast()
				r.mu.Unlock()
			})
		}
		r.cond.Wait()
	}
}

// Do runs fn while holding key. The key is released however fn exits,
// panics included.
func (r *Registry) Do(key string, timeout time.Duration, fn func() error) error {
	g, err := r.Acquire(key, timeout)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// Held reports whether key currently has a holder.
func (r *Registry) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[key]
	return ok
}

// Len returns the number of held keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}
