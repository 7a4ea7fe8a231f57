package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"LeadPulse/internal/config"
)

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type smtpBackend struct {
	dialer mailDialer
}

func NewSMTPBackend(s config.EmailSettings) (Backend, error) {
	var absent []string
	if s.SMTPHost == "" {
		absent = append(absent, "host")
	}
	if s.SMTPPort <= 0 {
		absent = append(absent, "port")
	}
	if s.SMTPUser == "" {
		absent = append(absent, "user")
	}
	if s.SMTPPassword == "" {
		absent = append(absent, "password")
	}
	if len(absent) > 0 {
		return nil, missing(config.ProviderSMTP, absent...)
	}

	d := gomail.NewDialer(s.SMTPHost, s.SMTPPort, s.SMTPUser, s.SMTPPassword)
	d.SSL = s.SMTPSecure

	return &smtpBackend{dialer: d}, nil
}

func (b *smtpBackend) Send(ctx context.Context, from Address, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(from.Email))

	m := gomail.NewMessage()
	m.SetAddressHeader("From", from.Email, from.Name)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}

	if err := b.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send error: %w", err)
	}

	return messageID, nil
}

func senderDomain(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
