package testutil

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tOgg1/approvalq/internal/db"
	"github.com/tOgg1/approvalq/internal/instance"
	"github.com/tOgg1/approvalq/internal/models"
)

// NewRegistry opens a migrated temp-file store for each name.
func NewRegistry(t *testing.T, names ...string) *instance.Registry {
	t.Helper()
	reg := instance.NewRegistry()
	dir := t.TempDir()
	for _, name := range names {
		store, err := db.Open(db.Config{Path: filepath.Join(dir, name, "queue.db")})
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		if _, err := store.Migrate(context.Background()); err != nil {
			t.Fatalf("migrate %s: %v", name, err)
		}
		if err := reg.Add(name, store); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Provider is a recording email provider.
type Provider struct {
	mu          sync.Mutex
	sent        []models.Notification
	validateErr error
	failures    map[string]int
	calls       int
	delay       time.Duration
}

// NewProvider returns a provider that accepts everything.
func NewProvider() *Provider {
	return &Provider{failures: make(map[string]int)}
}

// SetValidateError makes ValidateConfig fail with err.
func (p *Provider) SetValidateError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validateErr = err
}

// FailFor makes the next n sends to recipientID fail.
func (p *Provider) FailFor(recipientID string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[recipientID] = n
}

// SetDelay makes every send take d, or until its context is done.
func (p *Provider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// CanSend implements notify.Provider.
func (p *Provider) CanSend(channel models.Channel) bool {
	return channel == models.ChannelEmail
}

// ValidateConfig implements notify.Provider.
func (p *Provider) ValidateConfig() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validateErr
}

// Send implements notify.Provider.
func (p *Provider) Send(ctx context.Context, n *models.Notification) error {
	p.mu.Lock()
	delay := p.delay
	p.calls++
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", models.ErrDeliveryFailure, ctx.Err())
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.validateErr != nil {
		return p.validateErr
	}
	if !p.CanSend(n.Channel) {
		return models.ErrChannelMismatch
	}
	if remaining := p.failures[n.RecipientID]; remaining > 0 {
		p.failures[n.RecipientID] = remaining - 1
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailure, errors.New("connection reset"))
	}
	p.sent = append(p.sent, *n)
	return nil
}

// Sent returns a copy of delivered notifications.
func (p *Provider) Sent() []models.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Notification, len(p.sent))
	copy(out, p.sent)
	return out
}

// Calls returns the number of Send calls, including failures.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
