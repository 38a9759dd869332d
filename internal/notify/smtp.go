package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/approvalq/internal/config"
	"github.com/tOgg1/approvalq/internal/logging"
	"github.com/tOgg1/approvalq/internal/models"
)

const implicitTLSPort = 465

// SMTPProvider sends email through an SMTP relay.
type SMTPProvider struct {
	cfg       config.EmailConfig
	tlsConfig *tls.Config
	now       func() time.Time
	logger    zerolog.Logger
}

// NewSMTPProvider creates an SMTP provider.
func NewSMTPProvider(cfg config.EmailConfig) *SMTPProvider {
	return &SMTPProvider{
		cfg:    cfg,
		now:    time.Now,
		logger: logging.Component("notify.smtp"),
	}
}

// CanSend implements Provider.
func (p *SMTPProvider) CanSend(channel models.Channel) bool {
	return channel == models.ChannelEmail
}

// ValidateConfig implements Provider.
func (p *SMTPProvider) ValidateConfig() error {
	if !p.cfg.NotificationsEnabled {
		return fmt.Errorf("%w: notifications are disabled", models.ErrConfiguration)
	}

	var missing []string
	if strings.TrimSpace(p.cfg.TransportHost) == "" {
		missing = append(missing, "transport_host")
	}
	if p.cfg.TransportPort <= 0 {
		missing = append(missing, "transport_port")
	}
	if strings.TrimSpace(p.cfg.TransportUser) == "" {
		missing = append(missing, "transport_user")
	}
	if p.cfg.TransportSecret == "" {
		missing = append(missing, "transport_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", models.ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// Send implements Provider.
func (p *SMTPProvider) Send(ctx context.Context, n *models.Notification) error {
	if err := checkChannel(p, n); err != nil {
		return err
	}
	if err := p.ValidateConfig(); err != nil {
		return err
	}
	if !n.Recipient.Deliverable() {
		return fmt.Errorf("%w: %s", models.ErrRecipientUnavailable, n.RecipientID)
	}

	from := mail.Address{Name: p.cfg.FromDisplayName, Address: p.cfg.Sender()}
	to := mail.Address{Name: n.Recipient.DisplayName, Address: n.Recipient.Address}
	msg, err := buildMessage(envelope{
		From:    from,
		To:      to,
		Subject: n.Subject,
		Text:    n.Message,
		HTML:    n.HTMLMessage,
		Date:    p.now(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailure, err)
	}

	if p.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.SendTimeout)
		defer cancel()
	}

	if err := p.deliver(ctx, from.Address, to.Address, msg); err != nil {
		p.logger.Warn().Err(err).
			Str("instance", n.Instance).
			Str("recipient_id", n.RecipientID).
			Msg("smtp delivery failed")
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailure, err)
	}

	p.logger.Info().
		Str("instance", n.Instance).
		Str("recipient_id", n.RecipientID).
		Str("subject", n.Subject).
		Msg("email sent")
	return nil
}

func (p *SMTPProvider) deliver(ctx context.Context, from, to string, msg []byte) error {
	host := p.cfg.TransportHost
	addr := net.JoinHostPort(host, strconv.Itoa(p.cfg.TransportPort))
	tlsConfig := p.clientTLSConfig()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// Abort the dialogue when ctx ends without a deadline of its own.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if p.cfg.TransportPort == implicitTLSPort {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if p.cfg.UseEncryption && p.cfg.TransportPort != implicitTLSPort {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return fmt.Errorf("server does not support STARTTLS")
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	// Configured credentials are always used; never fall back to an
	// unauthenticated send.
	if p.cfg.TransportUser != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return errors.New("server does not offer AUTH for the configured credentials")
		}
		auth := smtp.PlainAuth("", p.cfg.TransportUser, p.cfg.TransportSecret, host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	return client.Quit()
}

func (p *SMTPProvider) clientTLSConfig() *tls.Config {
	if p.tlsConfig != nil {
		return p.tlsConfig
	}
	return &tls.Config{ServerName: p.cfg.TransportHost, MinVersion: tls.VersionTLS12}
}
