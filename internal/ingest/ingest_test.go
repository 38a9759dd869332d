package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/approvalq/internal/config"
	"github.com/tOgg1/approvalq/internal/enqueue"
	"github.com/tOgg1/approvalq/internal/models"
)

type call struct {
	instance     string
	approvalType models.ApprovalType
	itemID       string
	details      string
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, instance string, approvalType models.ApprovalType, itemID string, details json.RawMessage) ([]enqueue.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{instance, approvalType, itemID, string(details)})
	if f.err != nil {
		return nil, f.err
	}
	return []enqueue.Outcome{{RecipientID: "1", Status: enqueue.StatusQueued}}, nil
}

func TestHandleQueuesEvent(t *testing.T) {
	fake := &fakeEnqueuer{}
	h := NewHandler(fake)

	err := h.Handle(context.Background(), []byte(`{"instance":"prod","approval_type":" Payment ","item_id":"42","item_details":{"amount":"10"}}`))
	require.NoError(t, err)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, call{"prod", models.ApprovalTypePayment, "42", `{"amount":"10"}`}, fake.calls[0])
}

func TestHandleDropsPermanentFailures(t *testing.T) {
	tests := []struct {
		name  string
		value string
		err   error
	}{
		{"undecodable", `{not json`, nil},
		{"unknown type", `{"instance":"prod","approval_type":"loan","item_id":"1"}`, fmt.Errorf("%w: loan", models.ErrUnknownApprovalType)},
		{"unknown instance", `{"instance":"qa","approval_type":"payment","item_id":"1"}`, fmt.Errorf("%w: qa", models.ErrUnknownInstance)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeEnqueuer{err: tt.err})
			assert.NoError(t, h.Handle(context.Background(), []byte(tt.value)))
		})
	}
}

func TestHandleRetriesPersistenceFailure(t *testing.T) {
	h := NewHandler(&fakeEnqueuer{err: fmt.Errorf("%w: disk full", models.ErrPersistence)})
	err := h.Handle(context.Background(), []byte(`{"instance":"prod","approval_type":"payment","item_id":"1"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetry))
	assert.True(t, errors.Is(err, models.ErrPersistence))
}

func TestHandleRetriesUnavailableInstance(t *testing.T) {
	h := NewHandler(&fakeEnqueuer{err: fmt.Errorf("%w: staging: connection refused", models.ErrInstanceUnavailable)})
	err := h.Handle(context.Background(), []byte(`{"instance":"staging","approval_type":"payment","item_id":"1"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetry), "an unreachable store is not a reason to drop the event")
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, m.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "approval-events" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func claimOf(values ...string) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(values))
	for i, v := range values {
		ch <- &sarama.ConsumerMessage{Topic: "approval-events", Offset: int64(i), Value: []byte(v)}
	}
	close(ch)
	return &fakeClaim{messages: ch}
}

func TestConsumeClaimMarksOnlyHandledMessages(t *testing.T) {
	fake := &fakeEnqueuer{}
	h := &groupHandler{handler: NewHandler(fake)}
	sess := &fakeSession{ctx: context.Background()}

	claim := claimOf(
		`{"instance":"prod","approval_type":"payment","item_id":"1"}`,
		`garbage`,
		`{"instance":"prod","approval_type":"tracker_entry","item_id":"2"}`,
	)
	require.NoError(t, h.ConsumeClaim(sess, claim))
	assert.Equal(t, []int64{0, 1, 2}, sess.marked)
	assert.Len(t, fake.calls, 2)
}

func TestConsumeClaimStopsOnFailure(t *testing.T) {
	fake := &fakeEnqueuer{err: models.ErrPersistence}
	h := &groupHandler{handler: NewHandler(fake)}
	sess := &fakeSession{ctx: context.Background()}

	err := h.ConsumeClaim(sess, claimOf(
		`{"instance":"prod","approval_type":"payment","item_id":"1"}`,
		`{"instance":"prod","approval_type":"payment","item_id":"2"}`,
	))
	require.ErrorIs(t, err, ErrRetry)
	assert.Empty(t, sess.marked)
	assert.Len(t, fake.calls, 1)
}

func TestNewConsumerValidatesConfig(t *testing.T) {
	_, err := NewConsumer(config.KafkaConfig{}, NewHandler(&fakeEnqueuer{}))
	assert.Error(t, err)

	_, err = NewConsumer(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, NewHandler(&fakeEnqueuer{}))
	assert.Error(t, err)
}
