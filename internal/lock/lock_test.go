package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/approvalq/internal/config"
	"github.com/tOgg1/approvalq/internal/testutil"
)

func TestLocalTryLock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	lease, err := l.TryLock(ctx, "prod")
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "prod")
	assert.True(t, errors.Is(err, ErrHeld))

	other, err := l.TryLock(ctx, "dev")
	require.NoError(t, err, "keys are independent")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx), "double release is harmless")

	again, err := l.TryLock(ctx, "prod")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalSingleWinner(t *testing.T) {
	l := NewLocal()
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.TryLock(context.Background(), "prod"); err == nil {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestNewSelectsBackend(t *testing.T) {
	locker, err := New(context.Background(), config.LockConfig{Backend: "local"})
	require.NoError(t, err)
	_, ok := locker.(*Local)
	assert.True(t, ok)

	_, err = New(context.Background(), config.LockConfig{Backend: "etcd"})
	assert.Error(t, err)
}

func TestRedisTryLock(t *testing.T) {
	addr := testutil.RequireRedis(t)
	ctx := context.Background()

	a, err := NewRedis(ctx, RedisOptions{Addr: addr, TTL: 2 * time.Second})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedis(ctx, RedisOptions{Addr: addr, TTL: 2 * time.Second})
	require.NoError(t, err)
	defer b.Close()

	key := "test-" + time.Now().Format("150405.000000000")
	lease, err := a.TryLock(ctx, key)
	require.NoError(t, err)

	_, err = b.TryLock(ctx, key)
	assert.True(t, errors.Is(err, ErrHeld))

	require.NoError(t, lease.Release(ctx))
	assert.True(t, errors.Is(lease.Release(ctx), ErrNotOwner))

	lease, err = b.TryLock(ctx, key)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}

type countingLease struct {
	ttl       time.Duration
	failAfter int32
	refreshes atomic.Int32
}

func (l *countingLease) Release(context.Context) error { return nil }

func (l *countingLease) TTL() time.Duration { return l.ttl }

func (l *countingLease) Refresh(context.Context) error {
	if l.refreshes.Add(1) > l.failAfter {
		return ErrNotOwner
	}
	return nil
}

func TestKeepCancelsWhenRefreshFails(t *testing.T) {
	lease := &countingLease{ttl: 30 * time.Millisecond, failAfter: 2}
	ctx, stop := Keep(context.Background(), lease)
	defer stop()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after refresh failure")
	}
	assert.ErrorIs(t, context.Cause(ctx), ErrLost)
	assert.ErrorIs(t, context.Cause(ctx), ErrNotOwner)
	assert.Equal(t, int32(3), lease.refreshes.Load())
}

func TestKeepStopsRefreshing(t *testing.T) {
	lease := &countingLease{ttl: 30 * time.Millisecond, failAfter: 1 << 20}
	ctx, stop := Keep(context.Background(), lease)
	time.Sleep(50 * time.Millisecond)
	stop()
	stop()

	n := lease.refreshes.Load()
	assert.Positive(t, n)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, lease.refreshes.Load())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.NotErrorIs(t, context.Cause(ctx), ErrLost)
}

func TestKeepWithoutTTLNeverRefreshes(t *testing.T) {
	lease, err := NewLocal().TryLock(context.Background(), "prod")
	require.NoError(t, err)

	ctx, stop := Keep(context.Background(), lease)
	assert.NoError(t, ctx.Err())
	stop()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestRedisRefreshOutlivesTTL(t *testing.T) {
	addr := testutil.RequireRedis(t)
	ctx := context.Background()

	a, err := NewRedis(ctx, RedisOptions{Addr: addr, TTL: 300 * time.Millisecond})
	require.NoError(t, err)
	defer a.Close()

	key := "refresh-" + time.Now().Format("150405.000000000")
	lease, err := a.TryLock(ctx, key)
	require.NoError(t, err)

	held, stop := Keep(ctx, lease)
	time.Sleep(time.Second)
	_, err = a.TryLock(ctx, key)
	assert.ErrorIs(t, err, ErrHeld, "refreshed lease must still be held past its TTL")
	assert.NoError(t, held.Err())
	stop()

	require.NoError(t, lease.Release(ctx))
	assert.ErrorIs(t, lease.Refresh(ctx), ErrNotOwner)
}
