package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/approvalq/internal/sweep"
)

type fakeRunner struct {
	calls   atomic.Int32
	block   chan struct{}
	reports []sweep.Report
}

func (f *fakeRunner) RunAll(ctx context.Context) []sweep.Report {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	return f.reports
}

func TestRunOnceReturnsReports(t *testing.T) {
	runner := &fakeRunner{reports: []sweep.Report{
		{Instance: "prod", Sent: 3},
		{Instance: "dev", Error: "boom"},
	}}
	s := New(runner, time.Minute)

	reports := s.RunOnce(context.Background())
	require.Len(t, reports, 2)
	assert.Equal(t, int32(1), runner.calls.Load())
	assert.True(t, reports[1].Failed())
}

func TestStartRejectsTinyInterval(t *testing.T) {
	s := New(&fakeRunner{}, 10*time.Millisecond)
	assert.Error(t, s.Start(context.Background()))
}

func TestStartStop(t *testing.T) {
	s := New(&fakeRunner{}, time.Hour)
	assert.True(t, s.Next().IsZero())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	next := s.Next()
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, 5*time.Second)

	s.Stop()
	s.Stop()
	assert.True(t, s.Next().IsZero())
}

func TestScheduledPassRunsAndStopCancels(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := New(runner, time.Second)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return runner.calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the running pass")
	}
}

func TestCronLogger(t *testing.T) {
	var buf testWriter
	l := cronLogger{logger: zerolog.New(&buf)}
	l.Error(errors.New("bad"), "job failed", "entry", 1)
	assert.Contains(t, buf.String(), `"error":"bad"`)
	assert.Contains(t, buf.String(), `"entry":1`)
}

type testWriter struct{ data []byte }

func (w *testWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *testWriter) String() string { return string(w.data) }
