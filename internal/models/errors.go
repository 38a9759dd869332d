package models

import "errors"

// Engine error taxonomy. Callers match these with errors.Is.
var (
	// ErrConfiguration means a provider is disabled or missing required settings.
	ErrConfiguration = errors.New("notification provider not configured")

	// ErrRecipientUnavailable means the recipient has no deliverable address.
	ErrRecipientUnavailable = errors.New("recipient has no deliverable address")

	// ErrDeliveryFailure is a recoverable transport failure.
	ErrDeliveryFailure = errors.New("notification delivery failed")

	// ErrPersistence is a failed transactional commit or query.
	ErrPersistence = errors.New("queue persistence failed")

	// ErrChannelMismatch means a notification was handed to a provider for another channel.
	ErrChannelMismatch = errors.New("provider cannot send on this channel")

	// ErrChannelUnsupported means no provider exists for a channel.
	ErrChannelUnsupported = errors.New("unsupported notification channel")

	// ErrUnknownApprovalType means the approval type is not in the category registry.
	ErrUnknownApprovalType = errors.New("unknown approval type")

	// ErrUnknownInstance means the tenant instance is not configured.
	ErrUnknownInstance = errors.New("unknown instance")

	// ErrInstanceUnavailable means the instance is configured but its store cannot be opened.
	ErrInstanceUnavailable = errors.New("instance store unavailable")
)
