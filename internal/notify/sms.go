package notify

import (
	"context"
	"fmt"

	"github.com/tOgg1/approvalq/internal/models"
)

// SMSProvider reserves the SMS channel. It has no transport and never validates.
type SMSProvider struct{}

// NewSMSProvider returns the SMS provider.
func NewSMSProvider() *SMSProvider {
	return &SMSProvider{}
}

// CanSend implements Provider.
func (p *SMSProvider) CanSend(channel models.Channel) bool {
	return channel == models.ChannelSMS
}

// ValidateConfig implements Provider.
func (p *SMSProvider) ValidateConfig() error {
	return fmt.Errorf("%w: sms delivery has no transport", models.ErrConfiguration)
}

// Send implements Provider.
func (p *SMSProvider) Send(_ context.Context, n *models.Notification) error {
	if err := checkChannel(p, n); err != nil {
		return err
	}
	return p.ValidateConfig()
}
