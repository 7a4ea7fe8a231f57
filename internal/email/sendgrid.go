package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"LeadPulse/internal/config"
)

type sendgridBackend struct {
	send func(context.Context, *sgmail.SGMailV3) (*rest.Response, error)
}

func NewSendGridBackend(s config.EmailSettings) (Backend, error) {
	if s.SendGridAPIKey == "" {
		return nil, missing(config.ProviderSendGrid, "api key")
	}

	client := sendgrid.NewSendClient(s.SendGridAPIKey)
	return &sendgridBackend{
		send: func(ctx context.Context, m *sgmail.SGMailV3) (*rest.Response, error) {
			return client.SendWithContext(ctx, m)
		},
	}, nil
}

func (b *sendgridBackend) Send(ctx context.Context, from Address, msg Message) (string, error) {
	m := sgmail.NewSingleEmail(
		sgmail.NewEmail(from.Name, from.Email),
		msg.Subject,
		sgmail.NewEmail("", msg.To),
		msg.Text,
		msg.HTML,
	)

	resp, err := b.send(ctx, m)
	if err != nil {
		return "", fmt.Errorf("sendgrid send error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("sendgrid rejected message: status %d: %s", resp.StatusCode, resp.Body)
	}

	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}
