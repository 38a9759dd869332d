// Package lock provides the single-writer lock each instance sweep holds.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tOgg1/approvalq/internal/config"
)

// ErrHeld is returned by TryLock when another holder owns the key.
var ErrHeld = errors.New("lock is held")

// ErrLost is the cancellation cause set by Keep when a refresh fails.
var ErrLost = errors.New("lock lease lost")

// Lease is an acquired lock.
type Lease interface {
	Release(ctx context.Context) error

	// Refresh extends the lease by its TTL. It fails with ErrNotOwner once
	// the lease has expired or been taken over.
	Refresh(ctx context.Context) error

	// TTL is how long the lease lasts without a refresh. Zero never expires.
	TTL() time.Duration
}

// Keep refreshes lease every third of its TTL until stop is called.
// The returned context is cancelled with an ErrLost cause as soon as a
// refresh fails, so work guarded by the lease stops before another holder
// can start.
func Keep(ctx context.Context, lease Lease) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	ttl := lease.TTL()
	if ttl <= 0 {
		return ctx, func() { cancel(nil) }
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lease.Refresh(ctx); err != nil {
					cancel(fmt.Errorf("%w: %w", ErrLost, err))
					return
				}
			}
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			cancel(nil)
		})
	}
}

// Locker hands out non-blocking leases by key.
type Locker interface {
	// TryLock acquires key or returns ErrHeld immediately.
	TryLock(ctx context.Context, key string) (Lease, error)
	Close() error
}

// New builds the locker selected by cfg.
func New(ctx context.Context, cfg config.LockConfig) (Locker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "local":
		return NewLocal(), nil
	case "redis":
		return NewRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// Local is an in-process keyed mutex.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// TryLock implements Locker.
func (l *Local) TryLock(_ context.Context, key string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}
	l.held[key] = struct{}{}
	return &localLease{owner: l, key: key}, nil
}

// Close implements Locker.
func (l *Local) Close() error { return nil }

type localLease struct {
	owner *Local
	key   string
	once  sync.Once
}

// Refresh is a no-op; local leases do not expire.
func (ll *localLease) Refresh(context.Context) error { return nil }

func (ll *localLease) TTL() time.Duration { return 0 }

func (ll *localLease) Release(context.Context) error {
	ll.once.Do(func() {
		ll.owner.mu.Lock()
		delete(ll.owner.held, ll.key)
		ll.owner.mu.Unlock()
	})
	return nil
}

// DefaultTTL bounds how long a crashed holder can block an instance.
const DefaultTTL = 5 * time.Minute
