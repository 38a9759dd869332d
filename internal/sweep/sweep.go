// Package sweep runs the collation pass: due queue rows are grouped per
// recipient, rendered into one digest and dispatched, and marked sent only
// after the provider accepts the digest.
package sweep

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/approvalq/internal/digest"
	"github.com/tOgg1/approvalq/internal/directory"
	"github.com/tOgg1/approvalq/internal/instance"
	"github.com/tOgg1/approvalq/internal/lock"
	"github.com/tOgg1/approvalq/internal/logging"
	"github.com/tOgg1/approvalq/internal/metrics"
	"github.com/tOgg1/approvalq/internal/models"
	"github.com/tOgg1/approvalq/internal/notify"
	"github.com/tOgg1/approvalq/internal/preferences"
)

// Result is the outcome of one recipient's digest.
type Result string

const (
	ResultSent    Result = "sent"
	ResultFailed  Result = "failed"
	ResultSkipped Result = "skipped"
)

// DigestReport describes one recipient's digest in a pass.
type DigestReport struct {
	RecipientID string `json:"recipient_id"`
	Rows        int    `json:"rows"`
	Subject     string `json:"subject,omitempty"`
	Result      Result `json:"result"`
	Error       string `json:"error,omitempty"`

	err error
}

// Err returns the failure behind a failed or skipped digest.
func (d DigestReport) Err() error { return d.err }

// Report summarizes one instance pass.
type Report struct {
	Instance string         `json:"instance"`
	Cutoff   time.Time      `json:"cutoff"`
	Window   time.Duration  `json:"window"`
	Due      int            `json:"due"`
	Sent     int            `json:"sent"`
	Locked   bool           `json:"locked,omitempty"`
	Digests  []DigestReport `json:"digests,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Failed reports whether the pass or any digest in it failed.
func (r Report) Failed() bool {
	if r.Error != "" {
		return true
	}
	for _, d := range r.Digests {
		if d.Result == ResultFailed {
			return true
		}
	}
	return false
}

// Instances resolves configured instances.
type Instances interface {
	Get(name string) (*instance.Instance, error)
	Sorted() []string
}

// Options configures a Sweeper.
type Options struct {
	// LinkBase prefixes deep links in digests.
	LinkBase string

	// BatchWarnThreshold logs a warning when one digest collects more rows.
	// Zero disables the warning.
	BatchWarnThreshold int

	// MaxConcurrent bounds parallel instance passes in RunAll.
	MaxConcurrent int

	// Locker serializes passes per instance. Defaults to an in-process lock.
	Locker lock.Locker

	// Clock overrides time.Now.
	Clock func() time.Time
}

const (
	markAttempts = 3
	markBackoff  = 50 * time.Millisecond
	markTimeout  = 30 * time.Second
)

// Sweeper runs collation passes.
type Sweeper struct {
	instances Instances
	dir       directory.Directory
	prefs     *preferences.Resolver
	renderer  *digest.Renderer
	provider  notify.Provider
	opts      Options
	logger    zerolog.Logger
}

// New creates a sweeper.
func New(instances Instances, dir directory.Directory, prefs *preferences.Resolver, renderer *digest.Renderer, provider notify.Provider, opts Options) *Sweeper {
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Sweeper{
		instances: instances,
		dir:       dir,
		prefs:     prefs,
		renderer:  renderer,
		provider:  provider,
		opts:      opts,
		logger:    logging.Component("sweep"),
	}
}

// RunAll runs one pass per instance, concurrently up to MaxConcurrent.
// A failing instance does not stop the others. Reports follow instance order.
func (s *Sweeper) RunAll(ctx context.Context) []Report {
	names := s.instances.Sorted()
	reports := make([]Report, len(names))

	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrent)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			reports[i], _ = s.Run(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// Run performs one collation pass for the named instance.
//
// The returned error covers failures of the whole pass: unknown instance,
// provider configuration, or reading the queue. Per-recipient failures are
// recorded in the report and leave the recipient's rows pending.
func (s *Sweeper) Run(ctx context.Context, name string) (Report, error) {
	started := time.Now()
	report := Report{Instance: name}
	logger := logging.WithInstance(s.logger, name)

	fail := func(status string, err error) (Report, error) {
		if cause := context.Cause(ctx); errors.Is(cause, lock.ErrLost) && !errors.Is(err, lock.ErrLost) {
			err = fmt.Errorf("%w: %w", cause, err)
		}
		report.Error = logging.Redact(err.Error())
		metrics.RecordSweep(name, status, started)
		logger.Error().Err(err).Msg("sweep aborted")
		return report, err
	}

	inst, err := s.instances.Get(name)
	if errors.Is(err, models.ErrInstanceUnavailable) {
		return fail("unavailable", err)
	}
	if err != nil {
		return fail("error", err)
	}

	lease, err := s.opts.Locker.TryLock(ctx, name)
	if errors.Is(err, lock.ErrHeld) {
		report.Locked = true
		metrics.RecordSweep(name, "locked", started)
		logger.Debug().Msg("another pass holds the instance lock")
		return report, nil
	}
	if err != nil {
		return fail("error", fmt.Errorf("acquire instance lock: %w", err))
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("failed to release instance lock")
		}
	}()
	// The pass stops once the lease can no longer be refreshed.
	ctx, stopKeep := lock.Keep(ctx, lease)
	defer stopKeep()

	window, err := s.prefs.DelayWindow(ctx, name)
	if err != nil {
		return fail("error", err)
	}
	report.Window = window
	report.Cutoff = s.opts.Clock().UTC().Add(-window)

	due, err := inst.Pending.ListDue(ctx, name, report.Cutoff)
	if err != nil {
		return fail("error", fmt.Errorf("%w: %w", models.ErrPersistence, err))
	}
	report.Due = len(due)
	if len(due) == 0 {
		s.recordPending(ctx, inst, logger)
		metrics.RecordSweep(name, "idle", started)
		return report, nil
	}

	// Nothing is sent when the provider cannot send.
	if err := s.provider.ValidateConfig(); err != nil {
		if !errors.Is(err, models.ErrConfiguration) {
			err = fmt.Errorf("%w: %w", models.ErrConfiguration, err)
		}
		return fail("config_error", err)
	}

	order, byRecipient := partition(due)
	for _, recipientID := range order {
		if ctx.Err() != nil {
			return fail("error", context.Cause(ctx))
		}
		d := s.dispatch(ctx, inst, recipientID, byRecipient[recipientID], logger)
		if d.Result == ResultSent {
			report.Sent += d.Rows
		}
		report.Digests = append(report.Digests, d)
	}

	s.recordPending(ctx, inst, logger)
	status := "ok"
	if report.Failed() {
		status = "partial"
	}
	metrics.RecordSweep(name, status, started)
	logger.Info().
		Int("due", report.Due).
		Int("sent", report.Sent).
		Int("digests", len(report.Digests)).
		Dur("window", window).
		Msg("sweep finished")
	return report, nil
}

func (s *Sweeper) dispatch(ctx context.Context, inst *instance.Instance, recipientID string, rows []*models.PendingApprovalNotification, logger zerolog.Logger) DigestReport {
	logger = logger.With().Str("recipient_id", recipientID).Logger()
	report := DigestReport{RecipientID: recipientID}

	finish := func(result Result, err error) DigestReport {
		report.Result = result
		if err != nil {
			report.err = err
			report.Error = logging.Redact(err.Error())
		}
		metrics.RecordDigest(inst.Name, string(result), report.Rows)
		return report
	}

	buckets, unknown := digest.Group(rows)
	for _, row := range unknown {
		logger.Warn().Str("row_id", row.ID).Str("approval_type", string(row.ApprovalType)).Msg("queue row has unknown approval type, leaving it pending")
	}
	for _, b := range buckets {
		report.Rows += len(b.Rows)
	}
	if report.Rows == 0 {
		return finish(ResultSkipped, models.ErrUnknownApprovalType)
	}
	if s.opts.BatchWarnThreshold > 0 && report.Rows > s.opts.BatchWarnThreshold {
		logger.Warn().Int("rows", report.Rows).Int("threshold", s.opts.BatchWarnThreshold).Msg("digest batch is growing, recipient may be unreachable")
	}

	recipient, err := s.dir.Recipient(ctx, inst.Name, recipientID)
	if err != nil || !recipient.Deliverable() {
		if err == nil || !errors.Is(err, models.ErrRecipientUnavailable) {
			err = fmt.Errorf("%w: recipient %s", models.ErrRecipientUnavailable, recipientID)
		}
		logger.Warn().Err(err).Int("rows", report.Rows).Msg("skipping digest")
		return finish(ResultSkipped, err)
	}

	rendered := s.renderer.Render(buckets, *recipient, inst.Name, s.opts.LinkBase)
	report.Subject = rendered.Subject

	notification := &models.Notification{
		Channel:     models.ChannelEmail,
		RecipientID: recipientID,
		Recipient:   *recipient,
		Subject:     rendered.Subject,
		Message:     rendered.Text,
		HTMLMessage: rendered.HTML,
		Template:    rendered.Template,
		Priority:    models.PriorityMedium,
		Instance:    inst.Name,
		Context:     map[string]any{"total_count": report.Rows},
	}
	if err := s.provider.Send(ctx, notification); err != nil {
		logger.Warn().Err(err).Int("rows", report.Rows).Msg("digest delivery failed, rows stay pending")
		return finish(ResultFailed, err)
	}

	ids := make([]string, 0, report.Rows)
	for _, b := range buckets {
		for _, row := range b.Rows {
			ids = append(ids, row.ID)
		}
	}
	sentAt := s.opts.Clock().UTC()
	// Delivered rows are marked even if the pass was cancelled mid-send.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	var marked int64
	err = inst.DB.TransactionWithRetry(markCtx, markAttempts, markBackoff, func(tx *sql.Tx) error {
		n, err := inst.Pending.MarkSentTx(markCtx, tx, ids, sentAt)
		marked = n
		return err
	})
	if err != nil {
		// Delivered but not marked: the rows go out again next pass.
		err = fmt.Errorf("%w: mark sent: %w", models.ErrPersistence, err)
		logger.Error().Err(err).Int("rows", report.Rows).Msg("digest sent but rows not marked")
		return finish(ResultFailed, err)
	}
	if int(marked) != len(ids) {
		logger.Warn().Int64("marked", marked).Int("rows", len(ids)).Msg("some rows were already marked sent")
	}

	logger.Info().Int("rows", report.Rows).Str("subject", rendered.Subject).Msg("digest sent")
	return finish(ResultSent, nil)
}

func (s *Sweeper) recordPending(ctx context.Context, inst *instance.Instance, logger zerolog.Logger) {
	n, err := inst.Pending.CountUnsent(ctx, inst.Name)
	if err != nil {
		logger.Debug().Err(err).Msg("failed to count pending rows")
		return
	}
	metrics.SetPending(inst.Name, n)
}

// partition groups rows by recipient, keeping first-seen recipient order.
func partition(rows []*models.PendingApprovalNotification) ([]string, map[string][]*models.PendingApprovalNotification) {
	var order []string
	byRecipient := make(map[string][]*models.PendingApprovalNotification)
	for _, row := range rows {
		if _, ok := byRecipient[row.RecipientID]; !ok {
			order = append(order, row.RecipientID)
		}
		byRecipient[row.RecipientID] = append(byRecipient[row.RecipientID], row)
	}
	return order, byRecipient
}
