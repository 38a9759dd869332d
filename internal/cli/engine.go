package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/tOgg1/approvalq/internal/config"
	"github.com/tOgg1/approvalq/internal/digest"
	"github.com/tOgg1/approvalq/internal/directory"
	"github.com/tOgg1/approvalq/internal/enqueue"
	"github.com/tOgg1/approvalq/internal/instance"
	"github.com/tOgg1/approvalq/internal/lock"
	"github.com/tOgg1/approvalq/internal/notify"
	"github.com/tOgg1/approvalq/internal/preferences"
	"github.com/tOgg1/approvalq/internal/sweep"
)

// engine is the wired set of services one command needs.
type engine struct {
	cfg       *config.Config
	registry  *instance.Registry
	directory directory.Directory
	prefs     *preferences.Resolver
	enqueue   *enqueue.Service
	sweeper   *sweep.Sweeper
	provider  notify.Provider
	locker    lock.Locker
}

// openRegistry registers every configured instance. Stores that cannot be
// opened are reported per instance rather than failing the command.
var openRegistry = func(ctx context.Context, cfg *config.Config, migrate bool) (*instance.Registry, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return instance.Open(ctx, cfg, instance.OpenOptions{Migrate: migrate})
}

func buildEngine(ctx context.Context) (*engine, error) {
	cfg := GetConfig()
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}

	registry, err := openRegistry(ctx, cfg, true)
	if err != nil {
		return nil, err
	}

	locker, err := lock.New(ctx, cfg.Lock)
	if err != nil {
		_ = registry.Close()
		return nil, err
	}

	dir := directory.NewSQLDirectory(registry)
	prefs := preferences.NewResolver(dir, cfg.Digest.DefaultDelayMinutes)
	provider := notify.New(cfg.Email, notify.WithConsoleOutput(stderr()))
	renderer := digest.NewRenderer(digest.Options{
		Store:          digest.NewDirStore(cfg.Digest.TemplateDir),
		CurrencySymbol: cfg.Digest.CurrencySymbol,
	})

	return &engine{
		cfg:       cfg,
		registry:  registry,
		directory: dir,
		prefs:     prefs,
		enqueue:   enqueue.NewService(registry, dir, prefs),
		sweeper: sweep.New(registry, dir, prefs, renderer, provider, sweep.Options{
			LinkBase:           cfg.Digest.LinkBase,
			BatchWarnThreshold: cfg.Digest.BatchWarnThreshold,
			MaxConcurrent:      cfg.Scheduler.MaxConcurrentInstances,
			Locker:             locker,
		}),
		provider: provider,
		locker:   locker,
	}, nil
}

func (e *engine) Close() error {
	return errors.Join(e.locker.Close(), e.registry.Close())
}

// resolveInstance picks the --instance flag, then the saved context.
func resolveInstance() (string, error) {
	if name := strings.TrimSpace(instanceFlag); name != "" {
		return name, nil
	}
	ctx, err := loadContext()
	if err != nil {
		return "", err
	}
	if !ctx.IsEmpty() {
		return ctx.Instance, nil
	}
	return "", &PreflightError{
		Message:  "no instance selected",
		Hint:     "Pass --instance or select one with the use command",
		NextStep: "approvalq use prod",
	}
}
