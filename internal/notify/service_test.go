package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

type recordingSender struct {
	err  error
	sent []Email
}

func (*recordingSender) Name() string { return "recording" }

func (r *recordingSender) Deliver(_ context.Context, msg Email) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func TestNotifierRendersAndSends(t *testing.T) {
	primary := &recordingSender{}
	n := NewNotifier(logging.Discard(), primary)

	err := n.Notify(context.Background(), " a@b.co ", "Your Appointment is Confirmed", "Hi <there>\n\nMonday at 11 AM.\nSee you.")
	require.NoError(t, err)
	require.Len(t, primary.sent, 1)
	msg := primary.sent[0]
	assert.Equal(t, "a@b.co", msg.To)
	assert.Equal(t, "Your Appointment is Confirmed", msg.Subject)
	assert.Equal(t, "<p>Hi &lt;there&gt;</p><p>Monday at 11 AM.<br>See you.</p>", msg.HTML)
}

func TestNotifierFallsBackToNextSender(t *testing.T) {
	primary := &recordingSender{err: errors.New("ses down")}
	secondary := &recordingSender{}
	n := NewNotifier(logging.Discard(), primary, nil, secondary)

	require.NoError(t, n.Notify(context.Background(), "a@b.co", "Appointment Canceled", "body"))
	assert.Len(t, primary.sent, 1)
	assert.Len(t, secondary.sent, 1)

	secondary.err = errors.New("sendgrid down")
	err := n.Notify(context.Background(), "a@b.co", "Appointment Canceled", "body")
	assert.ErrorContains(t, err, "sendgrid down")
}

func TestNotifierRequiresRecipient(t *testing.T) {
	n := NewNotifier(logging.Discard())
	assert.Error(t, n.Notify(context.Background(), "  ", "subject", "body"))
	assert.NoError(t, n.Notify(context.Background(), "a@b.co", "subject", "body"))
}
