// Package enqueue records approval events as pending digest rows, one per
// eligible administrator.
package enqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/approvalq/internal/db"
	"github.com/tOgg1/approvalq/internal/directory"
	"github.com/tOgg1/approvalq/internal/instance"
	"github.com/tOgg1/approvalq/internal/logging"
	"github.com/tOgg1/approvalq/internal/metrics"
	"github.com/tOgg1/approvalq/internal/models"
	"github.com/tOgg1/approvalq/internal/preferences"
)

// Status is the per-recipient result of an enqueue.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusAlreadyQueued Status = "already_queued"
	StatusFailed        Status = "failed"
)

// Outcome reports what happened for one recipient.
type Outcome struct {
	RecipientID string `json:"recipient_id"`
	Status      Status `json:"status"`

	// RowID is the pending row now holding the event, when known.
	RowID string `json:"row_id,omitempty"`
}

// Instances resolves instance names.
type Instances interface {
	Get(name string) (*instance.Instance, error)
}

const (
	txAttempts = 8
	txBackoff  = 20 * time.Millisecond
)

// Service queues approval events.
type Service struct {
	instances Instances
	dir       directory.Directory
	prefs     *preferences.Resolver
	now       func() time.Time
	logger    zerolog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an enqueue service.
func NewService(instances Instances, dir directory.Directory, prefs *preferences.Resolver, opts ...Option) *Service {
	s := &Service{
		instances: instances,
		dir:       dir,
		prefs:     prefs,
		now:       time.Now,
		logger:    logging.Component("enqueue"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue queues one approval event for every eligible administrator of
// instanceName. It never dispatches.
//
// Recipients filtered out by preference or lacking an address get no
// outcome. When persistence fails nothing is written, every eligible
// recipient is reported failed and the error wraps models.ErrPersistence.
func (s *Service) Enqueue(ctx context.Context, instanceName string, approvalType models.ApprovalType, itemID string, details json.RawMessage) ([]Outcome, error) {
	validation := &models.ValidationErrors{}
	if _, ok := models.LookupCategory(approvalType); !ok {
		validation.Add("approval_type", fmt.Errorf("%w: %q", models.ErrUnknownApprovalType, approvalType))
	}
	if itemID == "" {
		validation.AddMessage("item_id", "item id is required")
	}
	if len(details) > 0 && !json.Valid(details) {
		validation.AddMessage("item_details", "item details must be valid JSON")
	}
	if err := validation.Err(); err != nil {
		return nil, err
	}

	inst, err := s.instances.Get(instanceName)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With().
		Str("instance", instanceName).
		Str("approval_type", string(approvalType)).
		Str("item_id", itemID).
		Logger()

	// Directory reads stay outside the queue transaction.
	recipients, err := s.eligible(ctx, instanceName, approvalType, logger)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		logger.Debug().Msg("no eligible recipients")
		return []Outcome{}, nil
	}

	createdAt := s.now().UTC()
	var outcomes []Outcome
	err = inst.DB.TransactionWithRetry(ctx, txAttempts, txBackoff, func(tx *sql.Tx) error {
		outcomes = outcomes[:0]
		for _, recipientID := range recipients {
			outcome, err := s.queueOne(ctx, tx, inst.Pending, &models.PendingApprovalNotification{
				Instance:     instanceName,
				RecipientID:  recipientID,
				ApprovalType: approvalType,
				ItemID:       itemID,
				ItemDetails:  details,
				CreatedAt:    createdAt,
			})
			if err != nil {
				return fmt.Errorf("recipient %s: %w", recipientID, err)
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		failed := make([]Outcome, 0, len(recipients))
		for _, recipientID := range recipients {
			failed = append(failed, Outcome{RecipientID: recipientID, Status: StatusFailed})
			metrics.RecordEnqueueOutcome(instanceName, string(approvalType), string(StatusFailed))
		}
		logger.Error().Err(err).Int("recipients", len(recipients)).Msg("enqueue rolled back")
		return failed, fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}

	queued := 0
	for _, o := range outcomes {
		if o.Status == StatusQueued {
			queued++
		}
		metrics.RecordEnqueueOutcome(instanceName, string(approvalType), string(o.Status))
	}
	logger.Info().
		Int("recipients", len(outcomes)).
		Int("queued", queued).
		Int("already_queued", len(outcomes)-queued).
		Msg("approval event queued")
	return outcomes, nil
}

// queueOne reports the unsent row already holding the tuple, or inserts one.
// A concurrent insert that wins the unique index also reads as already queued.
func (s *Service) queueOne(ctx context.Context, tx *sql.Tx, repo *db.PendingRepository, row *models.PendingApprovalNotification) (Outcome, error) {
	existing, err := repo.FindUnsentTx(ctx, tx, row.DedupKey())
	switch {
	case err == nil:
		return Outcome{RecipientID: row.RecipientID, Status: StatusAlreadyQueued, RowID: existing.ID}, nil
	case !errors.Is(err, db.ErrPendingNotFound):
		return Outcome{}, err
	}

	inserted, err := repo.CreateTx(ctx, tx, row)
	if err != nil {
		return Outcome{}, err
	}
	if inserted {
		return Outcome{RecipientID: row.RecipientID, Status: StatusQueued, RowID: row.ID}, nil
	}
	return Outcome{RecipientID: row.RecipientID, Status: StatusAlreadyQueued}, nil
}

func (s *Service) eligible(ctx context.Context, instanceName string, approvalType models.ApprovalType, logger zerolog.Logger) ([]string, error) {
	admins, err := s.dir.Admins(ctx, instanceName)
	if err != nil {
		return nil, fmt.Errorf("list administrators: %w", err)
	}

	recipients := make([]string, 0, len(admins))
	for _, id := range admins {
		decision, err := s.prefs.Resolve(ctx, instanceName, id, approvalType)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed() {
			logger.Debug().Str("recipient_id", id).Bool("enabled", decision.Enabled).Msg("recipient opted out")
			continue
		}

		recipient, err := s.dir.Recipient(ctx, instanceName, id)
		if err != nil && !errors.Is(err, models.ErrRecipientUnavailable) {
			return nil, fmt.Errorf("resolve recipient %s: %w", id, err)
		}
		if !recipient.Deliverable() {
			logger.Warn().Str("recipient_id", id).Msg("recipient has no address, skipping")
			continue
		}
		recipients = append(recipients, id)
	}
	return recipients, nil
}
