package notifications

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/multierr"
)

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// EmailChannel sends one plain-text message per recipient through SendGrid.
type EmailChannel struct {
	sender mailSender
	from   *mail.Email
}

// NewSendGridChannel returns nil when apiKey is empty, which the
// dispatcher treats as a disabled channel.
func NewSendGridChannel(apiKey, fromName, fromEmail string) *EmailChannel {
	if apiKey == "" {
		return nil
	}
	return NewEmailChannel(sendgrid.NewSendClient(apiKey), fromName, fromEmail)
}

func NewEmailChannel(sender mailSender, fromName, fromEmail string) *EmailChannel {
	return &EmailChannel{sender: sender, from: mail.NewEmail(fromName, fromEmail)}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(ctx context.Context, msg Message) error {
	var errs error
	for _, recipient := range msg.Recipients {
		resp, err := c.sender.SendWithContext(ctx, c.build(recipient, msg))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("send to %s: %w", recipient, err))
			continue
		}
		if resp != nil && resp.StatusCode >= 300 {
			errs = multierr.Append(errs, fmt.Errorf("send to %s: sendgrid status %d", recipient, resp.StatusCode))
		}
	}
	return errs
}

func (c *EmailChannel) build(recipient string, msg Message) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(c.from)
	m.Subject = msg.Subject
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", recipient))
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", msg.Body))
	return m
}
