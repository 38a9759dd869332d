// Package directory looks up administrators, their addresses and their
// notification preferences. The engine only ever reads through it.
package directory

import (
	"context"

	"github.com/tOgg1/approvalq/internal/models"
)

// Directory is the read-only view of recipients and preferences.
type Directory interface {
	// Admins lists administrator ids for instance in a stable order.
	Admins(ctx context.Context, instance string) ([]string, error)

	// Preference returns the stored preference for the recipient and channel,
	// or nil when there is no record.
	Preference(ctx context.Context, instance, recipientID string, channel models.Channel) (*models.NotificationPreference, error)

	// Recipient resolves the recipient's address and display name.
	// An unknown recipient yields an error wrapping models.ErrRecipientUnavailable.
	Recipient(ctx context.Context, instance, recipientID string) (*models.Recipient, error)
}
