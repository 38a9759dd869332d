package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/approvalq/internal/db"
	"github.com/tOgg1/approvalq/internal/digest"
	"github.com/tOgg1/approvalq/internal/directory"
	"github.com/tOgg1/approvalq/internal/enqueue"
	"github.com/tOgg1/approvalq/internal/instance"
	"github.com/tOgg1/approvalq/internal/lock"
	"github.com/tOgg1/approvalq/internal/models"
	"github.com/tOgg1/approvalq/internal/preferences"
	"github.com/tOgg1/approvalq/internal/testutil"
)

var t0 = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

type fixture struct {
	reg      *instance.Registry
	dir      *directory.Memory
	clock    *testutil.Clock
	provider *testutil.Provider
	enqueue  *enqueue.Service
	sweeper  *Sweeper
}

func newFixture(t *testing.T, locker lock.Locker) *fixture {
	t.Helper()
	reg := testutil.NewRegistry(t, "prod", "dev")
	dir := directory.NewMemory()
	dir.AddUser("prod", models.Recipient{ID: "1", Address: "one@example.com", DisplayName: "Uma"}, true)
	dir.AddUser("dev", models.Recipient{ID: "1", Address: "dev-one@example.com"}, true)

	clock := testutil.NewClock(t0)
	prefs := preferences.NewResolver(dir, models.DefaultDelayMinutes)
	provider := testutil.NewProvider()
	return &fixture{
		reg:      reg,
		dir:      dir,
		clock:    clock,
		provider: provider,
		enqueue:  enqueue.NewService(reg, dir, prefs, enqueue.WithClock(clock.Now)),
		sweeper: New(reg, dir, prefs, digest.NewRenderer(digest.Options{}), provider, Options{
			LinkBase:      "https://lending.example.com",
			MaxConcurrent: 2,
			Locker:        locker,
			Clock:         clock.Now,
		}),
	}
}

func (f *fixture) raise(t *testing.T, instanceName string, approvalType models.ApprovalType, itemID string) {
	t.Helper()
	details := json.RawMessage(fmt.Sprintf(`{"loan_name":"Loan %[1]s","tracker_name":"Tracker %[1]s","amount":"1000"}`, itemID))
	outcomes, err := f.enqueue.Enqueue(context.Background(), instanceName, approvalType, itemID, details)
	require.NoError(t, err)
	require.NotEmpty(t, outcomes)
}

func (f *fixture) unsent(t *testing.T, instanceName string) int {
	t.Helper()
	inst, err := f.reg.Get(instanceName)
	require.NoError(t, err)
	n, err := inst.Pending.CountUnsent(context.Background(), instanceName)
	require.NoError(t, err)
	return n
}

func TestRunHonoursDelayWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.raise(t, "prod", models.ApprovalTypePayment, "1")

	f.clock.Set(t0.Add(5*time.Minute - time.Second))
	report, err := f.sweeper.Run(ctx, "prod")
	require.NoError(t, err)
	assert.Zero(t, report.Due)
	assert.Empty(t, f.provider.Sent())

	f.clock.Set(t0.Add(5*time.Minute + time.Second))
	report, err = f.sweeper.Run(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Due)
	assert.Equal(t, 1, report.Sent)
	require.Len(t, f.provider.Sent(), 1)
	assert.Equal(t, "Approval Required: 1 Payment", f.provider.Sent()[0].Subject)
	assert.Zero(t, f.unsent(t, "prod"))
}

func TestRunUsesAdministratorDelayWindow(t *testing.T) {
	f := newFixture(t, nil)
	f.dir.SetPreference("prod", models.NotificationPreference{
		RecipientID: "1",
		Enabled:     true,
		Settings:    map[string]any{models.DelayMinutesKey: float64(15)},
	})
	f.raise(t, "prod", models.ApprovalTypePayment, "1")

	f.clock.Set(t0.Add(10 * time.Minute))
	report, err := f.sweeper.Run(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, report.Window)
	assert.Zero(t, report.Due)
}

func TestRunCollatesEverythingIntoOneDigest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		f.raise(t, "prod", models.ApprovalTypePayment, id)
	}
	for _, id := range []string{"10", "11"} {
		f.raise(t, "prod", models.ApprovalTypeTrackerEntry, id)
	}

	f.clock.Set(t0.Add(6 * time.Minute))
	report, err := f.sweeper.Run(ctx, "prod")
	require.NoError(t, err)
	require.Len(t, report.Digests, 1)
	assert.Equal(t, ResultSent, report.Digests[0].Result)
	assert.Equal(t, 5, report.Digests[0].Rows)

	sent := f.provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "5 Approvals Required: 3 Payments and 2 Tracker Entries", sent[0].Subject)
	assert.Equal(t, "one@example.com", sent[0].Recipient.Address)
	assert.Contains(t, sent[0].HTMLMessage, "https://lending.example.com/prod/admin/payments")
	assert.Contains(t, sent[0].Message, "Tracker 10")
	assert.Equal(t, 5, sent[0].Context["total_count"])

	inst, err := f.reg.Get("prod")
	require.NoError(t, err)
	var sentAt *time.Time
	for _, typ := range []models.ApprovalType{models.ApprovalTypePayment, models.ApprovalTypeTrackerEntry} {
		for _, id := range []string{"1", "2", "3", "10", "11"} {
			rows, err := inst.Pending.ListByItem(ctx, "prod", typ, id)
			require.NoError(t, err)
			for _, row := range rows {
				require.True(t, row.IsSent)
				require.NotNil(t, row.SentAt)
				if sentAt == nil {
					sentAt = row.SentAt
				}
				assert.True(t, sentAt.Equal(*row.SentAt))
			}
		}
	}
	require.NotNil(t, sentAt)
}

func TestRunConcreteScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.raise(t, "prod", models.ApprovalTypePayment, "1")
	f.clock.Set(t0.Add(time.Minute))
	f.raise(t, "prod", models.ApprovalTypePayment, "2")

	f.clock.Set(t0.Add(4 * time.Minute))
	report, err := f.sweeper.Run(ctx, "prod")
	require.NoError(t, err)
	assert.Zero(t, report.Due)

	f.clock.Set(t0.Add(6 * time.Minute))
	report, err = f.sweeper.Run(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Due)

	sent := f.provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, 2, sent[0].Context["total_count"])
	assert.Equal(t, "Approvals Required: 2 Payments", sent[0].Subject)
	assert.Zero(t, f.unsent(t, "prod"))
}

func TestRunInvalidConfigMarksNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.raise(t, "prod", models.ApprovalTypePayment, "1")
	f.provider.SetValidateError(fmt.Errorf("%w: notifications disabled", models.ErrConfiguration))

	f.clock.Set(t0.Add(10 * time.Minute))
	report, err := f.sweeper.Run(context.Background(), "prod")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.True(t, report.Failed())
	assert.Zero(t, f.provider.Calls())
	assert.Equal(t, 1, f.unsent(t, "prod"))
}

func TestRunDeliveryFailureRetriesWithGrowingBatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.raise(t, "prod", models.ApprovalTypePayment, "1")
	f.provider.FailFor("1", 1)

	f.clock.Set(t0.Add(6 * time.Minute))
	report, err := f.sweeper.Run(ctx, "prod")
	require.NoError(t, err)
	require.Len(t, report.Digests, 1)
	assert.Equal(t, ResultFailed, report.Digests[0].Result)
	assert.ErrorIs(t, report.Digests[0].Err(), models.ErrDeliveryFailure)
	assert.True(t, report.Failed())
	assert.Equal(t, 1, f.unsent(t, "prod"))

	f.raise(t, "prod", models.ApprovalTypeTrackerEntry, "5")
	f.clock.Advance(6 * time.Minute)
	report, err = f.sweeper.Run(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)

	sent := f.provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "2 Approvals Required: 1 Payment and 1 Tracker Entry", sent[0].Subject)
	assert.Zero(t, f.unsent(t, "prod"))
}

func TestRunSkipsRecipientWithoutAddress(t *testing.T) {
	f := newFixture(t, nil)
	f.raise(t, "prod", models.ApprovalTypePayment, "1")
	f.dir.AddUser("prod", models.Recipient{ID: "1"}, true)

	f.clock.Set(t0.Add(6 * time.Minute))
	report, err := f.sweeper.Run(context.Background(), "prod")
	require.NoError(t, err)
	require.Len(t, report.Digests, 1)
	assert.Equal(t, ResultSkipped, report.Digests[0].Result)
	assert.ErrorIs(t, report.Digests[0].Err(), models.ErrRecipientUnavailable)
	assert.Equal(t, 1, f.unsent(t, "prod"))
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	locker := lock.NewLocal()
	f := newFixture(t, locker)
	ctx := context.Background()
	f.raise(t, "prod", models.ApprovalTypePayment, "1")

	lease, err := locker.TryLock(ctx, "prod")
	require.NoError(t, err)

	f.clock.Set(t0.Add(6 * time.Minute))
	report, err := f.sweeper.Run(ctx, "prod")
	require.NoError(t, err)
	assert.True(t, report.Locked)
	assert.Empty(t, f.provider.Sent())

	require.NoError(t, lease.Release(ctx))
	report, err = f.sweeper.Run(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
}

func TestRunAllIsolatesInstances(t *testing.T) {
	f := newFixture(t, nil)
	f.raise(t, "prod", models.ApprovalTypePayment, "1")
	f.raise(t, "dev", models.ApprovalTypePayment, "1")

	store, err := f.reg.Store("prod")
	require.NoError(t, err)
	_, err = store.ExecContext(context.Background(), `DROP TABLE pending_approval_notification`)
	require.NoError(t, err)

	f.clock.Set(t0.Add(6 * time.Minute))
	reports := f.sweeper.RunAll(context.Background())
	require.Len(t, reports, 2)

	byName := map[string]Report{}
	for _, r := range reports {
		byName[r.Instance] = r
	}
	assert.NotEmpty(t, byName["prod"].Error)
	assert.Equal(t, 1, byName["dev"].Sent)

	sent := f.provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "dev", sent[0].Instance)
}

func TestRunAllContinuesPastUnreachableInstance(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.reg.Configure("staging", db.Config{
		Driver: "pgx",
		DSN:    "postgres://approvalq@127.0.0.1:1/approvalq?connect_timeout=1&sslmode=disable",
	}))
	f.raise(t, "prod", models.ApprovalTypePayment, "1")

	f.clock.Set(t0.Add(6 * time.Minute))
	reports := f.sweeper.RunAll(context.Background())
	require.Len(t, reports, 3)

	byName := map[string]Report{}
	for _, r := range reports {
		byName[r.Instance] = r
	}
	assert.Contains(t, byName["staging"].Error, "unavailable")
	assert.Equal(t, 1, byName["prod"].Sent)
	assert.Zero(t, f.unsent(t, "prod"))

	_, err := f.sweeper.Run(context.Background(), "staging")
	assert.ErrorIs(t, err, models.ErrInstanceUnavailable)
}

// expiringLocker hands out leases with a short TTL whose refresh
// either succeeds or reports the lease as taken over.
type expiringLocker struct {
	ttl       time.Duration
	lost      bool
	refreshes atomic.Int32
}

func (l *expiringLocker) TryLock(context.Context, string) (lock.Lease, error) {
	return &expiringLease{owner: l}, nil
}

func (l *expiringLocker) Close() error { return nil }

type expiringLease struct {
	owner *expiringLocker
}

func (l *expiringLease) Release(context.Context) error { return nil }

func (l *expiringLease) TTL() time.Duration { return l.owner.ttl }

func (l *expiringLease) Refresh(context.Context) error {
	l.owner.refreshes.Add(1)
	if l.owner.lost {
		return lock.ErrNotOwner
	}
	return nil
}

func TestRunStopsWhenLeaseIsLost(t *testing.T) {
	locker := &expiringLocker{ttl: 150 * time.Millisecond, lost: true}
	f := newFixture(t, locker)
	f.dir.AddUser("prod", models.Recipient{ID: "2", Address: "two@example.com"}, true)
	f.raise(t, "prod", models.ApprovalTypePayment, "1")
	f.provider.SetDelay(2 * time.Second)

	f.clock.Set(t0.Add(6 * time.Minute))
	report, err := f.sweeper.Run(context.Background(), "prod")
	require.Error(t, err)
	assert.ErrorIs(t, err, lock.ErrLost)
	assert.True(t, report.Failed())
	assert.Empty(t, f.provider.Sent())
	assert.LessOrEqual(t, f.provider.Calls(), 1, "no digest starts after the lease is lost")
	assert.Equal(t, 2, f.unsent(t, "prod"))
}

func TestRunRefreshesLeaseDuringSlowPass(t *testing.T) {
	locker := &expiringLocker{ttl: 30 * time.Millisecond}
	f := newFixture(t, locker)
	f.dir.AddUser("prod", models.Recipient{ID: "2", Address: "two@example.com"}, true)
	f.raise(t, "prod", models.ApprovalTypePayment, "1")
	f.provider.SetDelay(60 * time.Millisecond)

	f.clock.Set(t0.Add(6 * time.Minute))
	report, err := f.sweeper.Run(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)
	assert.Len(t, f.provider.Sent(), 2)
	assert.Positive(t, locker.refreshes.Load())
}

func TestPartitionKeepsFirstSeenOrder(t *testing.T) {
	rows := []*models.PendingApprovalNotification{
		{ID: "a", RecipientID: "2"},
		{ID: "b", RecipientID: "1"},
		{ID: "c", RecipientID: "2"},
	}
	order, byRecipient := partition(rows)
	assert.Equal(t, []string{"2", "1"}, order)
	assert.Len(t, byRecipient["2"], 2)
}
