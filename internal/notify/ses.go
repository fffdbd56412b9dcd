package notify

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

// SESAPI is the slice of the SES v2 client the SES sender calls.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES delivers through Amazon SES. ConfigurationSet is optional and routes
// bounce and complaint events when set.
type SES struct {
	api              SESAPI
	from             Mailbox
	ConfigurationSet string
	logger           *logging.Logger
}

func NewSES(api SESAPI, from Mailbox, logger *logging.Logger) *SES {
	from = from.withDefaults()
	if api == nil || from.Address == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SES{api: api, from: from, logger: logger}
}

func (*SES) Name() string { return "ses" }

func (s *SES) Deliver(ctx context.Context, email Email) error {
	if s == nil || s.api == nil {
		return deliveryError("ses", errors.New("client not configured"))
	}
	out, err := s.api.SendEmail(ctx, s.input(email))
	if err != nil {
		return deliveryError("ses", err)
	}
	s.logger.Debug("email accepted by ses", "to", email.To, "message_id", aws.ToString(out.MessageId))
	return nil
}

func (s *SES) input(email Email) *sesv2.SendEmailInput {
	body := &types.Body{}
	if email.Text != "" {
		body.Text = utf8(email.Text)
	}
	if email.HTML != "" {
		body.Html = utf8(email.HTML)
	}
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from.String()),
		Destination:      &types.Destination{ToAddresses: []string{email.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: utf8(email.Subject), Body: body},
		},
	}
	if s.ConfigurationSet != "" {
		in.ConfigurationSetName = aws.String(s.ConfigurationSet)
	}
	return in
}

func utf8(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}
