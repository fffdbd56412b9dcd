package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

type sendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGrid delivers through the SendGrid v3 mail API.
type SendGrid struct {
	client sendGridClient
	from   Mailbox
	logger *logging.Logger
}

// NewSendGrid returns nil when apiKey or the from address is empty so
// callers can skip the provider.
func NewSendGrid(apiKey string, from Mailbox, logger *logging.Logger) *SendGrid {
	from = from.withDefaults()
	if strings.TrimSpace(apiKey) == "" || from.Address == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGrid{client: sendgrid.NewSendClient(apiKey), from: from, logger: logger}
}

func (*SendGrid) Name() string { return "sendgrid" }

func (s *SendGrid) Deliver(ctx context.Context, email Email) error {
	if s == nil || s.client == nil {
		return deliveryError("sendgrid", errors.New("client not configured"))
	}
	html := email.HTML
	if html == "" {
		html = email.Text
	}
	msg := mail.NewSingleEmail(
		mail.NewEmail(s.from.Name, s.from.Address),
		email.Subject,
		mail.NewEmail("", email.To),
		email.Text,
		html,
	)
	// Booking mail is transactional; keep SendGrid from rewriting links.
	msg.SetTrackingSettings(mail.NewTrackingSettings().
		SetClickTracking(mail.NewClickTrackingSetting().SetEnable(false)))

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return deliveryError("sendgrid", err)
	}
	if resp.StatusCode >= 300 {
		s.logger.Warn("sendgrid rejected email", "status", resp.StatusCode, "body", resp.Body, "to", email.To)
		return deliveryError("sendgrid", fmt.Errorf("status %d", resp.StatusCode))
	}
	s.logger.Debug("email accepted by sendgrid", "to", email.To, "status", resp.StatusCode)
	return nil
}
