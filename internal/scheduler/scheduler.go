// Package scheduler drives periodic collation sweeps.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tOgg1/approvalq/internal/logging"
	"github.com/tOgg1/approvalq/internal/sweep"
)

// Runner runs one pass over every instance.
type Runner interface {
	RunAll(ctx context.Context) []sweep.Report
}

// Scheduler runs sweeps on a fixed interval. Overlapping ticks are skipped
// while a previous pass is still running.
type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entry   cron.EntryID
	started bool
}

// New creates a scheduler that sweeps every interval.
func New(runner Runner, interval time.Duration) *Scheduler {
	logger := logging.Component("scheduler")
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		), cron.WithLogger(cl)),
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Start schedules the sweep job. ctx bounds every pass it starts.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if s.interval < time.Second {
		return fmt.Errorf("sweep interval %s is below one second", s.interval)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	entry, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.RunOnce(s.ctx)
	})
	if err != nil {
		s.cancel()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.entry = entry
	s.started = true
	s.cron.Start()

	s.logger.Info().Dur("interval", s.interval).Msg("sweep scheduler started")
	return nil
}

// Stop cancels running passes and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("sweep scheduler stopped")
}

// Next returns when the next sweep is due, or zero when not started.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// RunOnce runs a single pass and logs a summary.
func (s *Scheduler) RunOnce(ctx context.Context) []sweep.Report {
	reports := s.runner.RunAll(ctx)

	sent, failed := 0, 0
	for _, r := range reports {
		sent += r.Sent
		if r.Failed() {
			failed++
			s.logger.Warn().Str("instance", r.Instance).Str("error", r.Error).Msg("instance pass failed")
		}
	}
	s.logger.Debug().
		Int("instances", len(reports)).
		Int("rows_sent", sent).
		Int("failed_instances", failed).
		Msg("scheduled sweep finished")
	return reports
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
