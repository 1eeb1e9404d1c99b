package coordinate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGate_MutualExclusion(t *testing.T) {
	gate := NewLocalGate(5 * time.Second)
	ctx := context.Background()

	var mu sync.Mutex
	var active, maxActive int

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := gate.WithLock(ctx, "user/alice", func() error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "at most one holder per key")
}

func TestLocalGate_DifferentKeysDoNotContend(t *testing.T) {
	gate := NewLocalGate(100 * time.Millisecond)
	ctx := context.Background()

	guard, err := gate.Acquire(ctx, "user/alice")
	require.NoError(t, err)
	defer guard.Release()

	other, err := gate.Acquire(ctx, "user/ben")
	require.NoError(t, err, "a held lock on one key must not block another key")
	other.Release()
}

func TestLocalGate_Timeout(t *testing.T) {
	gate := NewLocalGate(50 * time.Millisecond)
	ctx := context.Background()

	guard, err := gate.Acquire(ctx, "user/alice")
	require.NoError(t, err)

	_, err = gate.Acquire(ctx, "user/alice")
	assert.ErrorIs(t, err, ErrLockTimeout)

	guard.Release()

	// Free again after release.
	again, err := gate.Acquire(ctx, "user/alice")
	require.NoError(t, err)
	again.Release()
}

func TestLocalGate_ContextCancellation(t *testing.T) {
	gate := NewLocalGate(time.Minute)

	guard, err := gate.Acquire(context.Background(), "user/alice")
	require.NoError(t, err)
	defer guard.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = gate.Acquire(ctx, "user/alice")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGuard_ReleaseIsIdempotent(t *testing.T) {
	gate := NewLocalGate(50 * time.Millisecond)
	ctx := context.Background()

	guard, err := gate.Acquire(ctx, "user/alice")
	require.NoError(t, err)

	guard.Release()
	assert.NotPanics(t, func() { guard.Release() })

	// The double release must not have freed a slot twice.
	g2, err := gate.Acquire(ctx, "user/alice")
	require.NoError(t, err)
	_, err = gate.Acquire(ctx, "user/alice")
	assert.ErrorIs(t, err, ErrLockTimeout)
	g2.Release()
}

func TestWithLock_PropagatesError(t *testing.T) {
	gate := NewLocalGate(time.Second)

	wantErr := assert.AnError
	err := gate.WithLock(context.Background(), "user/alice", func() error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	// And the lock is free afterwards.
	guard, err := gate.Acquire(context.Background(), "user/alice")
	require.NoError(t, err)
	guard.Release()
}
