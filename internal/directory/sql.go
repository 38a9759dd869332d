package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tOgg1/approvalq/internal/db"
	"github.com/tOgg1/approvalq/internal/models"
)

// Stores resolves an instance name to its database.
type Stores interface {
	Store(instance string) (*db.DB, error)
}

// SQLDirectory reads the host application's "user" and
// notification_preference tables in each instance store.
type SQLDirectory struct {
	stores Stores
}

// NewSQLDirectory creates a directory over the given stores.
func NewSQLDirectory(stores Stores) *SQLDirectory {
	return &SQLDirectory{stores: stores}
}

// Admins implements Directory.
func (d *SQLDirectory) Admins(ctx context.Context, instance string) ([]string, error) {
	store, err := d.stores.Store(instance)
	if err != nil {
		return nil, err
	}

	rows, err := store.QueryContext(ctx, store.Rebind(`
		SELECT CAST(id AS TEXT) FROM "user"
		WHERE is_admin = ?
		ORDER BY id
	`), true)
	if err != nil {
		return nil, fmt.Errorf("failed to query administrators: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan administrator: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating administrators: %w", err)
	}
	return ids, nil
}

// Preference implements Directory.
func (d *SQLDirectory) Preference(ctx context.Context, instance, recipientID string, channel models.Channel) (*models.NotificationPreference, error) {
	store, err := d.stores.Store(instance)
	if err != nil {
		return nil, err
	}

	var enabled bool
	var raw sql.NullString
	err = store.QueryRowContext(ctx, store.Rebind(`
		SELECT enabled, preferences FROM notification_preference
		WHERE CAST(user_id AS TEXT) = ? AND channel = ?
		LIMIT 1
	`), recipientID, string(channel)).Scan(&enabled, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notification preference: %w", err)
	}

	settings, err := models.ParsePreferenceSettings([]byte(raw.String))
	if err != nil {
		// A corrupt blob falls back to defaults rather than blocking delivery.
		settings = map[string]any{}
	}

	return &models.NotificationPreference{
		RecipientID: recipientID,
		Channel:     channel,
		Enabled:     enabled,
		Settings:    settings,
	}, nil
}

// Recipient implements Directory.
func (d *SQLDirectory) Recipient(ctx context.Context, instance, recipientID string) (*models.Recipient, error) {
	store, err := d.stores.Store(instance)
	if err != nil {
		return nil, err
	}

	var username string
	var email sql.NullString
	err = store.QueryRowContext(ctx, store.Rebind(`
		SELECT username, email FROM "user"
		WHERE CAST(id AS TEXT) = ?
	`), recipientID).Scan(&username, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s not found", models.ErrRecipientUnavailable, recipientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query recipient: %w", err)
	}

	return &models.Recipient{
		ID:          recipientID,
		Address:     email.String,
		DisplayName: username,
	}, nil
}
