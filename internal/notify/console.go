package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/tOgg1/approvalq/internal/config"
	"github.com/tOgg1/approvalq/internal/logging"
	"github.com/tOgg1/approvalq/internal/models"
	"golang.org/x/term"
)

// ConsoleProvider prints emails instead of sending them. It is the offline
// transport for development and test instances.
type ConsoleProvider struct {
	cfg    config.EmailConfig
	mu     sync.Mutex
	out    io.Writer
	styled bool
	width  int
	logger zerolog.Logger
}

// NewConsoleProvider creates a console provider writing to out.
// Styling is only applied when out is a terminal.
func NewConsoleProvider(cfg config.EmailConfig, out io.Writer) *ConsoleProvider {
	if out == nil {
		out = os.Stdout
	}
	p := &ConsoleProvider{
		cfg:    cfg,
		out:    out,
		width:  72,
		logger: logging.Component("notify.console"),
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.styled = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
			p.width = min(w-4, 100)
		}
	}
	return p
}

// CanSend implements Provider.
func (p *ConsoleProvider) CanSend(channel models.Channel) bool {
	return channel == models.ChannelEmail
}

// ValidateConfig implements Provider.
func (p *ConsoleProvider) ValidateConfig() error {
	if !p.cfg.NotificationsEnabled {
		return fmt.Errorf("%w: notifications are disabled", models.ErrConfiguration)
	}
	if p.cfg.IsProduction() {
		return fmt.Errorf("%w: console delivery is not allowed in production", models.ErrConfiguration)
	}
	return nil
}

// Send implements Provider.
func (p *ConsoleProvider) Send(_ context.Context, n *models.Notification) error {
	if err := checkChannel(p, n); err != nil {
		return err
	}
	if err := p.ValidateConfig(); err != nil {
		return err
	}
	if !n.Recipient.Deliverable() {
		return fmt.Errorf("%w: %s", models.ErrRecipientUnavailable, n.RecipientID)
	}

	rendered := p.render(n)

	p.mu.Lock()
	_, err := io.WriteString(p.out, rendered)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailure, err)
	}

	p.logger.Info().
		Str("instance", n.Instance).
		Str("recipient_id", n.RecipientID).
		Str("to", n.Recipient.Address).
		Str("subject", n.Subject).
		Msg("email printed to console")
	return nil
}

func (p *ConsoleProvider) render(n *models.Notification) string {
	from := p.cfg.Sender()
	if from == "" {
		from = "(unset)"
	}
	headers := []string{
		"To:      " + n.Recipient.Address,
		"From:    " + strings.TrimSpace(p.cfg.FromDisplayName+" <"+from+">"),
		"Subject: " + n.Subject,
	}
	body := strings.TrimRight(n.Message, "\n")

	if !p.styled {
		rule := strings.Repeat("=", p.width)
		return fmt.Sprintf("%s\nEMAIL (offline)\n%s\n%s\n%s\n%s\n\n",
			rule, strings.Join(headers, "\n"), strings.Repeat("-", p.width), body, rule)
	}

	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render("EMAIL (offline)")
	header := lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render(strings.Join(headers, "\n"))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 1).
		Width(p.width)
	return box.Render(lipgloss.JoinVertical(lipgloss.Left, title, header, "", body)) + "\n"
}
