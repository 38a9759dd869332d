// Package ingest consumes approval events from Kafka and queues them.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tOgg1/approvalq/internal/enqueue"
	"github.com/tOgg1/approvalq/internal/logging"
	"github.com/tOgg1/approvalq/internal/metrics"
	"github.com/tOgg1/approvalq/internal/models"
)

// Event is the message payload on the approval topic.
type Event struct {
	Instance     string          `json:"instance"`
	ApprovalType string          `json:"approval_type"`
	ItemID       string          `json:"item_id"`
	ItemDetails  json.RawMessage `json:"item_details,omitempty"`
}

// Enqueuer queues approval events.
type Enqueuer interface {
	Enqueue(ctx context.Context, instance string, approvalType models.ApprovalType, itemID string, details json.RawMessage) ([]enqueue.Outcome, error)
}

// ErrRetry marks a message whose enqueue failed and must be redelivered.
var ErrRetry = errors.New("enqueue failed, message will be redelivered")

// Handler turns messages into enqueue calls.
type Handler struct {
	enqueuer Enqueuer
	logger   zerolog.Logger
}

// NewHandler creates a message handler.
func NewHandler(enqueuer Enqueuer) *Handler {
	return &Handler{enqueuer: enqueuer, logger: logging.Component("ingest")}
}

// Handle processes one message value. It returns an error wrapping ErrRetry
// only when the message should not be committed. Messages that can never
// succeed are logged and dropped.
func (h *Handler) Handle(ctx context.Context, value []byte) error {
	var event Event
	decoder := json.NewDecoder(bytes.NewReader(value))
	if err := decoder.Decode(&event); err != nil {
		metrics.RecordIngest("invalid")
		h.logger.Warn().Err(err).Int("bytes", len(value)).Msg("dropping undecodable message")
		return nil
	}

	approvalType := models.ApprovalType(strings.ToLower(strings.TrimSpace(event.ApprovalType)))
	logger := h.logger.With().
		Str("instance", event.Instance).
		Str("approval_type", string(approvalType)).
		Str("item_id", event.ItemID).
		Logger()

	outcomes, err := h.enqueuer.Enqueue(ctx, strings.TrimSpace(event.Instance), approvalType, strings.TrimSpace(event.ItemID), event.ItemDetails)
	if err != nil {
		if permanent(err) {
			metrics.RecordIngest("rejected")
			logger.Warn().Err(err).Msg("dropping message that cannot be queued")
			return nil
		}
		metrics.RecordIngest("failed")
		logger.Error().Err(err).Msg("enqueue failed")
		return fmt.Errorf("%w: %w", ErrRetry, err)
	}

	metrics.RecordIngest("queued")
	logger.Debug().Int("recipients", len(outcomes)).Msg("message queued")
	return nil
}

func permanent(err error) bool {
	var validation *models.ValidationErrors
	return errors.As(err, &validation) ||
		errors.Is(err, models.ErrUnknownApprovalType) ||
		errors.Is(err, models.ErrUnknownInstance)
}
