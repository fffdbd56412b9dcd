package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

const defaultFromName = "Clinic Front Desk"

// Notifier delivers booking emails to patients and the clinic. Senders are
// tried in order until one accepts the message.
type Notifier struct {
	senders []Sender
	logger  *logging.Logger
}

// NewNotifier builds a notifier over the given senders. Callers must not pass
// typed nil senders; constructors in this package return nil when unconfigured.
func NewNotifier(logger *logging.Logger, senders ...Sender) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	n := &Notifier{logger: logger}
	for _, s := range senders {
		if s != nil {
			n.senders = append(n.senders, s)
		}
	}
	if len(n.senders) == 0 {
		n.senders = []Sender{NewLogSender(logger)}
	}
	return n
}

func (n *Notifier) Notify(ctx context.Context, recipient, subject, body string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return errors.New("notify: recipient required")
	}
	email := Email{
		To:      recipient,
		Subject: subject,
		Text:    body,
		HTML:    renderHTML(body),
	}

	var lastErr error
	for _, s := range n.senders {
		if err := s.Deliver(ctx, email); err != nil {
			lastErr = err
			n.logger.Warn("email provider failed", "error", err, "provider", s.Name(), "to", recipient)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("notify: deliver %q: %w", subject, lastErr)
}

// renderHTML turns a plain-text body into minimal HTML, one paragraph per
// blank-line separated block.
func renderHTML(body string) string {
	var b strings.Builder
	for _, para := range strings.Split(strings.TrimSpace(body), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}
