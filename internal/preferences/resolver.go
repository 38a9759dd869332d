// Package preferences turns stored notification preferences into the
// decisions the engine needs, applying defaults where records are missing.
package preferences

import (
	"context"
	"fmt"
	"time"

	"github.com/tOgg1/approvalq/internal/directory"
	"github.com/tOgg1/approvalq/internal/models"
)

// Decision is the effective preference for one recipient and category.
type Decision struct {
	// Found reports whether a preference record existed.
	Found bool

	// Enabled is the channel's global toggle.
	Enabled bool

	// CategoryEnabled is the toggle for the approval category.
	CategoryEnabled bool

	// DelayMinutes is the recipient's delay window.
	DelayMinutes int
}

// Allowed reports whether the recipient should receive the category.
func (d Decision) Allowed() bool {
	return d.Enabled && d.CategoryEnabled
}

// Resolver reads preferences through a directory.
type Resolver struct {
	dir          directory.Directory
	channel      models.Channel
	defaultDelay int
}

// NewResolver creates a resolver for the email channel.
// A negative defaultDelay falls back to models.DefaultDelayMinutes.
func NewResolver(dir directory.Directory, defaultDelay int) *Resolver {
	if defaultDelay < 0 {
		defaultDelay = models.DefaultDelayMinutes
	}
	return &Resolver{dir: dir, channel: models.ChannelEmail, defaultDelay: defaultDelay}
}

// Resolve returns the effective decision for recipientID and approvalType.
func (r *Resolver) Resolve(ctx context.Context, instance, recipientID string, approvalType models.ApprovalType) (Decision, error) {
	category, ok := models.LookupCategory(approvalType)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", models.ErrUnknownApprovalType, approvalType)
	}

	pref, err := r.dir.Preference(ctx, instance, recipientID, r.channel)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve preference for %s: %w", recipientID, err)
	}
	if pref == nil {
		return Decision{
			Enabled:         true,
			CategoryEnabled: true,
			DelayMinutes:    r.defaultDelay,
		}, nil
	}

	return Decision{
		Found:           true,
		Enabled:         pref.Enabled,
		CategoryEnabled: pref.Toggle(category.PreferenceKey),
		DelayMinutes:    pref.DelayMinutes(r.defaultDelay),
	}, nil
}

// DelayWindow returns the instance's batching window. The first
// administrator with a preference record supplies it; with none the
// default applies.
func (r *Resolver) DelayWindow(ctx context.Context, instance string) (time.Duration, error) {
	admins, err := r.dir.Admins(ctx, instance)
	if err != nil {
		return 0, fmt.Errorf("list administrators: %w", err)
	}

	for _, id := range admins {
		pref, err := r.dir.Preference(ctx, instance, id, r.channel)
		if err != nil {
			return 0, fmt.Errorf("resolve preference for %s: %w", id, err)
		}
		if pref != nil {
			return pref.DelayWindow(time.Duration(r.defaultDelay) * time.Minute), nil
		}
	}
	return time.Duration(r.defaultDelay) * time.Minute, nil
}
