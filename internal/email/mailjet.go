package email

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	mailjet "github.com/mailjet/mailjet-apiv3-go/v4"

	"LeadPulse/internal/config"
)

type mailjetBackend struct {
	send func(*mailjet.MessagesV31) (*mailjet.ResultsV31, error)
}

func NewMailjetBackend(s config.EmailSettings) (Backend, error) {
	var absent []string
	if s.MailjetAPIKey == "" {
		absent = append(absent, "api key")
	}
	if s.MailjetSecretKey == "" {
		absent = append(absent, "secret key")
	}
	if len(absent) > 0 {
		return nil, missing(config.ProviderMailjet, absent...)
	}

	client := mailjet.NewMailjetClient(s.MailjetAPIKey, s.MailjetSecretKey)
	return &mailjetBackend{
		send: func(m *mailjet.MessagesV31) (*mailjet.ResultsV31, error) {
			return client.SendMailV31(m)
		},
	}, nil
}

func (b *mailjetBackend) Send(ctx context.Context, from Address, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info := mailjet.InfoMessagesV31{
		From: &mailjet.RecipientV31{
			Email: from.Email,
			Name:  from.Name,
		},
		To: &mailjet.RecipientsV31{
			mailjet.RecipientV31{Email: msg.To},
		},
		Subject:  msg.Subject,
		TextPart: msg.Text,
		HTMLPart: msg.HTML,
	}

	res, err := b.send(&mailjet.MessagesV31{Info: []mailjet.InfoMessagesV31{info}})
	if err != nil {
		return "", fmt.Errorf("mailjet send error: %w", err)
	}
	if res == nil || len(res.ResultsV31) == 0 {
		return "", errors.New("mailjet returned no message result")
	}

	result := res.ResultsV31[0]
	if result.Status != "success" {
		return "", fmt.Errorf("mailjet rejected message: status %q", result.Status)
	}
	if len(result.To) == 0 {
		return "", nil
	}
	if result.To[0].MessageUUID != "" {
		return result.To[0].MessageUUID, nil
	}
	return strconv.FormatInt(result.To[0].MessageID, 10), nil
}
