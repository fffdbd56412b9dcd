package notify

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

// Sender hands one rendered email to a delivery provider.
type Sender interface {
	Name() string
	Deliver(ctx context.Context, email Email) error
}

// Email is a rendered booking notification.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailbox is the From identity the clinic mails as.
type Mailbox struct {
	Address string
	Name    string
}

func (m Mailbox) withDefaults() Mailbox {
	m.Address = strings.TrimSpace(m.Address)
	if strings.TrimSpace(m.Name) == "" {
		m.Name = defaultFromName
	}
	return m
}

// String renders the mailbox as an RFC 5322 address, quoting the display
// name when needed.
func (m Mailbox) String() string {
	return (&mail.Address{Name: m.Name, Address: m.Address}).String()
}

// LogSender records emails in the log instead of delivering them. The
// Notifier falls back to it when no provider is configured.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (*LogSender) Name() string { return "log" }

func (s *LogSender) Deliver(_ context.Context, email Email) error {
	s.logger.Info("email not delivered, no provider configured", "to", email.To, "subject", email.Subject)
	return nil
}

func deliveryError(provider string, err error) error {
	return fmt.Errorf("notify: %s delivery: %w", provider, err)
}
