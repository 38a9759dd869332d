// Package instance tracks the tenant instances the engine serves and their
// opened queue stores.
package instance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/approvalq/internal/config"
	"github.com/tOgg1/approvalq/internal/db"
	"github.com/tOgg1/approvalq/internal/logging"
	"github.com/tOgg1/approvalq/internal/models"
)

const (
	defaultOpenTimeout = 10 * time.Second
	defaultRetryAfter  = 30 * time.Second
)

// Instance is one tenant with its own store.
type Instance struct {
	Name    string
	DB      *db.DB
	Pending *db.PendingRepository
}

// pendingOpen is a configured instance whose store is not open yet.
type pendingOpen struct {
	cfg         db.Config
	lastErr     error
	lastAttempt time.Time
	opening     bool
}

// Registry maps instance names to their stores.
// Configured stores that fail to open are retried on later lookups and do
// not affect the other instances.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*Instance
	unopened  map[string]*pendingOpen
	order     []string
	opts      OpenOptions
	logger    zerolog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]*Instance),
		unopened:  make(map[string]*pendingOpen),
		logger:    logging.Component("instance"),
	}
}

// OpenOptions controls how stores are prepared.
type OpenOptions struct {
	// Migrate applies pending migrations after opening.
	Migrate bool

	// OpenTimeout bounds one open attempt. Defaults to 10s.
	OpenTimeout time.Duration

	// RetryAfter is the minimum gap between attempts on a failed store.
	// Defaults to 30s; negative retries on every lookup.
	RetryAfter time.Duration

	// Now is the clock used for retry gating.
	Now func() time.Time
}

func (o OpenOptions) withDefaults() OpenOptions {
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = defaultOpenTimeout
	}
	if o.RetryAfter == 0 {
		o.RetryAfter = defaultRetryAfter
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Open registers every configured instance and tries to open each store.
// A store that fails is logged and left unavailable; Get retries it later.
func Open(ctx context.Context, cfg *config.Config, opts OpenOptions) (*Registry, error) {
	reg := NewRegistry()
	reg.opts = opts.withDefaults()

	for _, inst := range cfg.Instances {
		driver := inst.Driver
		if driver == "" {
			driver = cfg.Database.Driver
		}
		if err := reg.Configure(inst.Name, db.Config{
			Driver:         driver,
			Path:           cfg.InstanceDatabasePath(inst),
			DSN:            inst.DSN,
			MaxConnections: cfg.Database.MaxConnections,
			BusyTimeoutMs:  cfg.Database.BusyTimeoutMs,
		}); err != nil {
			_ = reg.Close()
			return nil, err
		}
	}

	for _, name := range reg.Names() {
		// Failures are logged by open and retried on a later Get.
		_, _ = reg.open(ctx, name)
	}
	return reg, nil
}

// Configure registers name with a store that is opened on first use.
func (r *Registry) Configure(name string, cfg db.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.known(name) {
		return fmt.Errorf("instance %q already registered", name)
	}
	r.unopened[name] = &pendingOpen{cfg: cfg}
	r.order = append(r.order, name)
	return nil
}

// Add registers an opened store under name.
func (r *Registry) Add(name string, store *db.DB) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.known(name) {
		return fmt.Errorf("instance %q already registered", name)
	}
	r.instances[name] = newInstance(name, store)
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) known(name string) bool {
	_, opened := r.instances[name]
	_, pending := r.unopened[name]
	return opened || pending
}

func newInstance(name string, store *db.DB) *Instance {
	return &Instance{
		Name:    name,
		DB:      store,
		Pending: db.NewPendingRepository(store),
	}
}

// Get returns the named instance. Unconfigured names wrap
// models.ErrUnknownInstance; stores that cannot be opened wrap
// models.ErrInstanceUnavailable.
func (r *Registry) Get(name string) (*Instance, error) {
	return r.open(context.Background(), name)
}

func (r *Registry) open(ctx context.Context, name string) (*Instance, error) {
	opts := r.opts.withDefaults()

	r.mu.Lock()
	if inst, ok := r.instances[name]; ok {
		r.mu.Unlock()
		return inst, nil
	}
	pending, ok := r.unopened[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownInstance, name)
	}
	now := opts.Now()
	if pending.opening || (pending.lastErr != nil && opts.RetryAfter > 0 && now.Sub(pending.lastAttempt) < opts.RetryAfter) {
		err := pending.lastErr
		r.mu.Unlock()
		if err == nil {
			err = errors.New("store is opening")
		}
		return nil, fmt.Errorf("%w: %s: %w", models.ErrInstanceUnavailable, name, err)
	}
	pending.opening = true
	cfg := pending.cfg
	r.mu.Unlock()

	store, err := r.connect(ctx, name, cfg, opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	pending.opening = false
	pending.lastAttempt = now
	pending.lastErr = err
	if err != nil {
		r.logger.Warn().Err(err).Str("instance", name).Msg("instance store unavailable")
		return nil, fmt.Errorf("%w: %s: %w", models.ErrInstanceUnavailable, name, err)
	}
	if _, stillConfigured := r.unopened[name]; !stillConfigured {
		// Closed while connecting.
		_ = store.Close()
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownInstance, name)
	}
	delete(r.unopened, name)
	inst := newInstance(name, store)
	r.instances[name] = inst
	return inst, nil
}

func (r *Registry) connect(ctx context.Context, name string, cfg db.Config, opts OpenOptions) (*db.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.OpenTimeout)
	defer cancel()

	r.logger.Debug().
		Str("instance", name).
		Str("driver", cfg.Driver).
		Str("store", logging.RedactDSN(storeLocation(cfg))).
		Msg("opening instance store")

	store, err := db.OpenContext(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if opts.Migrate {
		applied, err := store.Migrate(ctx)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		if applied > 0 {
			r.logger.Info().Str("instance", name).Int("applied", applied).Msg("migrations applied")
		}
	}
	return store, nil
}

// Store returns the named instance's database.
func (r *Registry) Store(name string) (*db.DB, error) {
	inst, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return inst.DB, nil
}

// Names returns instance names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Sorted returns instance names alphabetically.
func (r *Registry) Sorted() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}

// Close closes every open store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, name := range r.order {
		inst, ok := r.instances[name]
		if !ok {
			continue
		}
		if err := inst.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", name, err))
		}
	}
	r.instances = make(map[string]*Instance)
	r.unopened = make(map[string]*pendingOpen)
	r.order = nil
	return errors.Join(errs...)
}

func storeLocation(cfg db.Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return cfg.Path
}
