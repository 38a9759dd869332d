package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tOgg1/approvalq/internal/models"
)

// Pending repository errors.
var (
	ErrPendingNotFound = errors.New("pending approval notification not found")
)

const pendingColumns = `
	id, instance_name, recipient_id, approval_type, item_id,
	item_details, created_at, sent_at, is_sent`

// PendingRepository handles persistence of the approval notification queue.
type PendingRepository struct {
	db *DB
}

// NewPendingRepository creates a new PendingRepository.
func NewPendingRepository(db *DB) *PendingRepository {
	return &PendingRepository{db: db}
}

// FindUnsentTx looks up the unsent row for key inside tx.
// Returns ErrPendingNotFound when the tuple has nothing pending.
func (r *PendingRepository) FindUnsentTx(ctx context.Context, tx *sql.Tx, key models.DedupKey) (*models.PendingApprovalNotification, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction is required")
	}

	row := tx.QueryRowContext(ctx, r.db.Rebind(`
		SELECT`+pendingColumns+`
		FROM pending_approval_notification
		WHERE instance_name = ? AND recipient_id = ? AND approval_type = ? AND item_id = ? AND is_sent = ?
		LIMIT 1
	`), key.Instance, key.RecipientID, string(key.ApprovalType), key.ItemID, false)

	pending, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPendingNotFound
	}
	return pending, err
}

// CreateTx inserts a new unsent row inside tx.
// It reports false when a concurrent writer already holds the unsent slot for
// the same tuple; the partial unique index turns that race into a no-op.
func (r *PendingRepository) CreateTx(ctx context.Context, tx *sql.Tx, pending *models.PendingApprovalNotification) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}
	if err := pending.Validate(); err != nil {
		return false, err
	}

	if pending.ID == "" {
		pending.ID = uuid.New().String()
	}
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = time.Now().UTC()
	}
	details := string(pending.ItemDetails)
	if details == "" {
		details = "{}"
	}
	pending.IsSent = false
	pending.SentAt = nil

	result, err := tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO pending_approval_notification (
			id, instance_name, recipient_id, approval_type, item_id,
			item_details, created_at, sent_at, is_sent
		) VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT DO NOTHING
	`),
		pending.ID,
		pending.Instance,
		pending.RecipientID,
		string(pending.ApprovalType),
		pending.ItemID,
		details,
		formatTime(pending.CreatedAt),
		false,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert pending approval notification: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// ListDue returns unsent rows for instance created at or before cutoff, oldest first.
func (r *PendingRepository) ListDue(ctx context.Context, instance string, cutoff time.Time) ([]*models.PendingApprovalNotification, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT`+pendingColumns+`
		FROM pending_approval_notification
		WHERE instance_name = ? AND is_sent = ? AND created_at <= ?
		ORDER BY created_at, id
	`), instance, false, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query due notifications: %w", err)
	}
	defer rows.Close()

	return scanPendingRows(rows)
}

// ListUnsent returns every unsent row for instance, oldest first.
func (r *PendingRepository) ListUnsent(ctx context.Context, instance string) ([]*models.PendingApprovalNotification, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT`+pendingColumns+`
		FROM pending_approval_notification
		WHERE instance_name = ? AND is_sent = ?
		ORDER BY created_at, id
	`), instance, false)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsent notifications: %w", err)
	}
	defer rows.Close()

	return scanPendingRows(rows)
}

// ListByItem returns all rows, sent or not, for one item in instance.
func (r *PendingRepository) ListByItem(ctx context.Context, instance string, approvalType models.ApprovalType, itemID string) ([]*models.PendingApprovalNotification, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT`+pendingColumns+`
		FROM pending_approval_notification
		WHERE instance_name = ? AND approval_type = ? AND item_id = ?
		ORDER BY created_at, id
	`), instance, string(approvalType), itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query item notifications: %w", err)
	}
	defer rows.Close()

	return scanPendingRows(rows)
}

// Get fetches one row by id.
func (r *PendingRepository) Get(ctx context.Context, id string) (*models.PendingApprovalNotification, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT`+pendingColumns+`
		FROM pending_approval_notification
		WHERE id = ?
	`), id)

	pending, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPendingNotFound
	}
	return pending, err
}

// CountUnsent returns the number of unsent rows for instance.
func (r *PendingRepository) CountUnsent(ctx context.Context, instance string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT COUNT(*) FROM pending_approval_notification
		WHERE instance_name = ? AND is_sent = ?
	`), instance, false).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unsent notifications: %w", err)
	}
	return count, nil
}

// MarkSentTx flips the given rows to sent with one shared sentAt inside tx.
// Rows that are already sent are left untouched; the count of rows changed is returned.
func (r *PendingRepository) MarkSentTx(ctx context.Context, tx *sql.Tx, ids []string, sentAt time.Time) (int64, error) {
	if tx == nil {
		return 0, fmt.Errorf("transaction is required")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+3)
	args = append(args, true, formatTime(sentAt))
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, false)

	result, err := tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE pending_approval_notification
		SET is_sent = ?, sent_at = ?
		WHERE id IN (`+placeholders+`) AND is_sent = ?
	`), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications sent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// MarkSent runs MarkSentTx in its own retrying transaction.
func (r *PendingRepository) MarkSent(ctx context.Context, ids []string, sentAt time.Time) (int64, error) {
	var affected int64
	err := r.db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
		n, err := r.MarkSentTx(ctx, tx, ids, sentAt)
		if err != nil {
			return err
		}
		affected = n
		return nil
	})
	return affected, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingRows(rows *sql.Rows) ([]*models.PendingApprovalNotification, error) {
	var result []*models.PendingApprovalNotification
	for rows.Next() {
		pending, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pending)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending notifications: %w", err)
	}
	return result, nil
}

func scanPending(scanner rowScanner) (*models.PendingApprovalNotification, error) {
	var pending models.PendingApprovalNotification
	var approvalType string
	var details sql.NullString
	var createdAt string
	var sentAt sql.NullString

	if err := scanner.Scan(
		&pending.ID,
		&pending.Instance,
		&pending.RecipientID,
		&approvalType,
		&pending.ItemID,
		&details,
		&createdAt,
		&sentAt,
		&pending.IsSent,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pending notification: %w", err)
	}

	pending.ApprovalType = models.ApprovalType(approvalType)
	if details.Valid && details.String != "" {
		pending.ItemDetails = json.RawMessage(details.String)
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	pending.CreatedAt = created

	if sentAt.Valid && sentAt.String != "" {
		parsed, err := parseTime(sentAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse sent_at: %w", err)
		}
		pending.SentAt = &parsed
	}

	return &pending, nil
}
