package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ApprovalType identifies the category of business event that needs sign-off.
type ApprovalType string

const (
	ApprovalTypePayment      ApprovalType = "payment"
	ApprovalTypeTrackerEntry ApprovalType = "tracker_entry"
)

// ParseApprovalType normalizes s and checks it against the category registry.
func ParseApprovalType(s string) (ApprovalType, error) {
	t := ApprovalType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := LookupCategory(t); !ok {
		return "", ErrUnknownApprovalType
	}
	return t, nil
}

// PendingApprovalNotification is one queued approval event awaiting a batched send.
type PendingApprovalNotification struct {
	// ID is the unique identifier for the queue row.
	ID string `json:"id"`

	// Instance is the tenant instance the event was raised in.
	Instance string `json:"instance"`

	// RecipientID references the administrator who will receive the digest.
	RecipientID string `json:"recipient_id"`

	// ApprovalType categorizes the event.
	ApprovalType ApprovalType `json:"approval_type"`

	// ItemID identifies the record that needs approval.
	ItemID string `json:"item_id"`

	// ItemDetails is the payload captured at enqueue time. It is never re-fetched.
	ItemDetails json.RawMessage `json:"item_details"`

	// CreatedAt is when the row was queued.
	CreatedAt time.Time `json:"created_at"`

	// IsSent is set once the row has been included in a delivered digest.
	IsSent bool `json:"is_sent"`

	// SentAt is when the digest containing this row was delivered.
	SentAt *time.Time `json:"sent_at,omitempty"`
}

// DedupKey returns the tuple that must be unique among unsent rows.
func (p *PendingApprovalNotification) DedupKey() DedupKey {
	return DedupKey{
		Instance:     p.Instance,
		RecipientID:  p.RecipientID,
		ApprovalType: p.ApprovalType,
		ItemID:       p.ItemID,
	}
}

// Validate checks the fields required before a row can be persisted.
func (p *PendingApprovalNotification) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(p.Instance) == "" {
		validation.AddMessage("instance", "instance is required")
	}
	if strings.TrimSpace(p.RecipientID) == "" {
		validation.AddMessage("recipient_id", "recipient id is required")
	}
	if _, ok := LookupCategory(p.ApprovalType); !ok {
		validation.Add("approval_type", ErrUnknownApprovalType)
	}
	if strings.TrimSpace(p.ItemID) == "" {
		validation.AddMessage("item_id", "item id is required")
	}
	if len(p.ItemDetails) > 0 && !json.Valid(p.ItemDetails) {
		validation.AddMessage("item_details", "item details must be valid JSON")
	}
	return validation.Err()
}

// DedupKey is the (instance, recipient, approval type, item) tuple.
type DedupKey struct {
	Instance     string
	RecipientID  string
	ApprovalType ApprovalType
	ItemID       string
}
