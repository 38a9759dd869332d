// Package notify delivers rendered notifications over a channel.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tOgg1/approvalq/internal/config"
	"github.com/tOgg1/approvalq/internal/models"
)

// Provider sends notifications on one channel.
type Provider interface {
	// CanSend reports whether the provider handles channel.
	CanSend(channel models.Channel) bool

	// ValidateConfig returns an error wrapping models.ErrConfiguration when
	// the provider cannot send.
	ValidateConfig() error

	// Send delivers n. Transport failures wrap models.ErrDeliveryFailure.
	Send(ctx context.Context, n *models.Notification) error
}

// Option customizes providers built by New.
type Option func(*options)

type options struct {
	consoleOut io.Writer
}

// WithConsoleOutput sets where the console provider writes.
func WithConsoleOutput(w io.Writer) Option {
	return func(o *options) { o.consoleOut = w }
}

// New picks the email provider for cfg: the console provider in offline mode
// or outside production without transport credentials, SMTP otherwise.
func New(cfg config.EmailConfig, opts ...Option) Provider {
	o := options{consoleOut: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	if UseConsole(cfg) {
		return NewConsoleProvider(cfg, o.consoleOut)
	}
	return NewSMTPProvider(cfg)
}

// UseConsole reports whether cfg selects offline delivery.
func UseConsole(cfg config.EmailConfig) bool {
	if cfg.OfflineMode {
		return true
	}
	return !cfg.IsProduction() && strings.TrimSpace(cfg.TransportUser) == ""
}

// ForChannel returns the provider for channel.
func ForChannel(channel models.Channel, cfg config.EmailConfig, opts ...Option) (Provider, error) {
	switch channel {
	case models.ChannelEmail:
		return New(cfg, opts...), nil
	case models.ChannelSMS:
		return NewSMSProvider(), nil
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrChannelUnsupported, channel)
	}
}

func checkChannel(p Provider, n *models.Notification) error {
	if n == nil {
		return fmt.Errorf("notification is required")
	}
	if !p.CanSend(n.Channel) {
		return fmt.Errorf("%w: %s", models.ErrChannelMismatch, n.Channel)
	}
	return nil
}
