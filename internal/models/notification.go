package models

import "strings"

// Channel is a delivery channel for notifications.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelSlack Channel = "slack"
	ChannelPush  Channel = "push"
)

// ParseChannel converts a string to a known Channel.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelEmail, ChannelSMS, ChannelSlack, ChannelPush:
		return c, nil
	default:
		return "", ErrChannelUnsupported
	}
}

// Priority ranks a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Recipient is a resolved notification target.
type Recipient struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
}

// Deliverable reports whether the recipient has an address to send to.
func (r *Recipient) Deliverable() bool {
	return r != nil && strings.TrimSpace(r.Address) != ""
}

// Name returns the display name, falling back to the id.
func (r *Recipient) Name() string {
	if r == nil {
		return ""
	}
	if strings.TrimSpace(r.DisplayName) != "" {
		return r.DisplayName
	}
	return r.ID
}

// Notification is the unit handed to a channel provider.
// It is built fresh for every dispatch attempt and never persisted.
type Notification struct {
	Channel     Channel
	RecipientID string
	Recipient   Recipient
	Subject     string

	// Message is the plain-text body.
	Message string

	// HTMLMessage is the rich body. Providers fall back to wrapping Message.
	HTMLMessage string

	// Template names the template the body was rendered from, if any.
	Template string

	Context  map[string]any
	Priority Priority
	Instance string
}
