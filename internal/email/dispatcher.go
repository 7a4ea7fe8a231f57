package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"LeadPulse/internal/config"
	"LeadPulse/internal/metrics"
)

var (
	// ErrNotConfigured marks configuration errors: delivery disabled, sender
	// identity or provider credentials missing. They are never retried.
	ErrNotConfigured = errors.New("email delivery not configured")

	// ErrDelivery marks a failed hand-off to the provider backend.
	ErrDelivery = errors.New("email delivery failed")

	ErrInvalidMessage = errors.New("invalid email message")
)

// Message is a single outbound email. FromEmail and FromName override the
// sender configured in EmailSettings when set.
type Message struct {
	To        string
	Subject   string
	HTML      string
	Text      string
	FromEmail string
	FromName  string
}

type Address struct {
	Email string
	Name  string
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

// Backend transmits one message through a specific provider and returns the
// provider's message id.
type Backend interface {
	Send(ctx context.Context, from Address, msg Message) (string, error)
}

// BackendFactory builds a backend from settings. It must return an error
// wrapping ErrNotConfigured when required credentials are missing.
type BackendFactory func(settings config.EmailSettings) (Backend, error)

// Sender is the dispatch contract consumed by the queue, the issuer and the
// broadcaster.
type Sender interface {
	Send(ctx context.Context, settings config.EmailSettings, msg Message) (string, error)
}

// Dispatcher sends one email through the backend selected by the settings
// passed on each call. It performs exactly one backend call per Send and
// never retries.
type Dispatcher struct {
	backends map[config.Provider]BackendFactory
	log      *zap.Logger
}

type Option func(*Dispatcher)

// WithBackend replaces the factory used for provider.
func WithBackend(provider config.Provider, factory BackendFactory) Option {
	return func(d *Dispatcher) {
		d.backends[provider] = factory
	}
}

func NewDispatcher(log *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backends: map[config.Provider]BackendFactory{
			config.ProviderSMTP:     NewSMTPBackend,
			config.ProviderMailjet:  NewMailjetBackend,
			config.ProviderSendGrid: NewSendGridBackend,
			config.ProviderSES:      NewSESBackend,
		},
		log: log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Send(ctx context.Context, settings config.EmailSettings, msg Message) (messageID string, err error) {
	provider := string(settings.Provider)

	if err := checkSettings(settings); err != nil {
		metrics.EmailFailures.WithLabelValues(provider, "config").Inc()
		return "", err
	}
	if strings.TrimSpace(msg.To) == "" || strings.TrimSpace(msg.Subject) == "" {
		metrics.EmailFailures.WithLabelValues(provider, "message").Inc()
		return "", fmt.Errorf("%w: recipient and subject are required", ErrInvalidMessage)
	}
	if msg.HTML == "" && msg.Text == "" {
		metrics.EmailFailures.WithLabelValues(provider, "message").Inc()
		return "", fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}

	factory, ok := d.backends[settings.Provider]
	if !ok {
		metrics.EmailFailures.WithLabelValues(provider, "config").Inc()
		return "", fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, settings.Provider)
	}
	backend, err := factory(settings)
	if err != nil {
		metrics.EmailFailures.WithLabelValues(provider, "config").Inc()
		return "", err
	}

	from := Address{Email: settings.FromEmail, Name: settings.FromName}
	if msg.FromEmail != "" {
		from.Email = msg.FromEmail
	}
	if msg.FromName != "" {
		from.Name = msg.FromName
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.EmailFailures.WithLabelValues(provider, "panic").Inc()
			d.log.Error("email backend panicked",
				zap.String("provider", provider),
				zap.String("to", msg.To),
				zap.Any("panic", r),
			)
			messageID = ""
			err = fmt.Errorf("%w via %s: backend panic: %v", ErrDelivery, provider, r)
		}
	}()

	messageID, err = backend.Send(ctx, from, msg)
	if err != nil {
		metrics.EmailFailures.WithLabelValues(provider, "delivery").Inc()
		d.log.Warn("email dispatch failed",
			zap.String("provider", provider),
			zap.String("to", msg.To),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w via %s: %w", ErrDelivery, provider, err)
	}

	metrics.EmailsSent.WithLabelValues(provider).Inc()
	d.log.Info("email dispatched",
		zap.String("provider", provider),
		zap.String("to", msg.To),
		zap.String("message_id", messageID),
	)
	return messageID, nil
}

func checkSettings(s config.EmailSettings) error {
	if !s.Enabled {
		return fmt.Errorf("%w: email service is disabled", ErrNotConfigured)
	}
	if strings.TrimSpace(s.FromEmail) == "" || strings.TrimSpace(s.FromName) == "" {
		return fmt.Errorf("%w: fromEmail and fromName are required", ErrNotConfigured)
	}
	return nil
}

func missing(provider config.Provider, fields ...string) error {
	return fmt.Errorf("%w: %s requires %s", ErrNotConfigured, provider, strings.Join(fields, ", "))
}
