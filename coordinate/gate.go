// Package coordinate provides the cluster-coordination capabilities
// the store depends on: named mutual-exclusion zones and a cache
// invalidation broadcast. The interfaces are the contract; the local
// implementations stand in for a cluster coordinator on a single node
// and in tests.
package coordinate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a named lock cannot be acquired in
// time. It is transient; callers may retry.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// DefaultLockTimeout bounds Acquire when no timeout is configured.
const DefaultLockTimeout = 10 * time.Second

// Guard represents one held lock.
type Guard interface {
	// Release gives the lock up. Safe to call more than once.
	Release()
}

// Gate hands out named exclusive locks. The contract is at most one
// holder per key at a time, cluster-wide in intent: an implementation
// backed by a coordination service must block (or time out) a second
// node contending for the same key.
type Gate interface {
	Acquire(ctx context.Context, key string) (Guard, error)
	// WithLock runs fn while holding the lock for key.
	WithLock(ctx context.Context, key string, fn func() error) error
}

// LocalGate is an in-process Gate: per-key semaphores with a bounded
// wait. Suitable for single-node deployments and tests.
type LocalGate struct {
	mu      sync.Mutex
	locks   map[string]*localLock
	timeout time.Duration
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalGate creates a gate. A non-positive timeout falls back to
// DefaultLockTimeout.
func NewLocalGate(timeout time.Duration) *LocalGate {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &LocalGate{locks: make(map[string]*localLock), timeout: timeout}
}

// Acquire blocks until the lock for key is free, the context is done,
// or the configured timeout elapses.
func (g *LocalGate) Acquire(ctx context.Context, key string) (Guard, error) {
	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &localLock{ch: make(chan struct{}, 1)}
		g.locks[key] = l
	}
	l.refs++
	g.mu.Unlock()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
		return &localGuard{gate: g, key: key, lock: l}, nil
	case <-ctx.Done():
		g.drop(key, l)
		return nil, fmt.Errorf("acquiring lock %s: %w", key, ctx.Err())
	case <-timer.C:
		g.drop(key, l)
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}
}

// WithLock runs fn under the lock for key.
func (g *LocalGate) WithLock(ctx context.Context, key string, fn func() error) error {
	guard, err := g.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer guard.Release()
	return fn()
}

// drop releases the interest count taken in Acquire; the last waiter
// out removes the per-key state.
func (g *LocalGate) drop(key string, l *localLock) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(g.locks, key)
	}
}

type localGuard struct {
	gate *LocalGate
	key  string
	lock *localLock
	once sync.Once
}

func (lg *localGuard) Release() {
	lg.once.Do(func() {
		<-lg.lock.ch
		lg.gate.drop(lg.key, lg.lock)
	})
}
