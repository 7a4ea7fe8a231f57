package email

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"LeadPulse/internal/config"
	"LeadPulse/internal/metrics"
)

type fakeBackend struct {
	calls   int
	lastMsg Message
	from    Address
	id      string
	err     error
	panics  bool
}

func (f *fakeBackend) Send(_ context.Context, from Address, msg Message) (string, error) {
	f.calls++
	f.from = from
	f.lastMsg = msg
	if f.panics {
		panic("boom")
	}
	return f.id, f.err
}

func enabledSettings(p config.Provider) config.EmailSettings {
	return config.EmailSettings{
		Enabled:   true,
		Provider:  p,
		FromEmail: "noreply@example.com",
		FromName:  "Example",
	}
}

func dispatcherWith(b *fakeBackend, built *int) *Dispatcher {
	return NewDispatcher(zap.NewNop(), WithBackend(config.ProviderSMTP, func(config.EmailSettings) (Backend, error) {
		if built != nil {
			*built++
		}
		return b, nil
	}))
}

func testMessage() Message {
	return Message{To: "user@example.com", Subject: "Hello", HTML: "<p>hi</p>"}
}

func TestDispatcher_PreconditionsFailBeforeBackend(t *testing.T) {
	tests := []struct {
		name     string
		settings func() config.EmailSettings
	}{
		{
			name: "disabled",
			settings: func() config.EmailSettings {
				s := enabledSettings(config.ProviderSMTP)
				s.Enabled = false
				return s
			},
		},
		{
			name: "missing from email",
			settings: func() config.EmailSettings {
				s := enabledSettings(config.ProviderSMTP)
				s.FromEmail = ""
				return s
			},
		},
		{
			name: "missing from name",
			settings: func() config.EmailSettings {
				s := enabledSettings(config.ProviderSMTP)
				s.FromName = "  "
				return s
			},
		},
		{
			name: "unknown provider",
			settings: func() config.EmailSettings {
				return enabledSettings("pigeon")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{}
			built := 0
			d := dispatcherWith(backend, &built)

			id, err := d.Send(context.Background(), tt.settings(), testMessage())

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNotConfigured)
			assert.Empty(t, id)
			assert.Equal(t, 0, built)
			assert.Equal(t, 0, backend.calls)
		})
	}
}

func TestDispatcher_MissingCredentials(t *testing.T) {
	base := enabledSettings("")
	d := NewDispatcher(zap.NewNop())

	for _, p := range []config.Provider{config.ProviderSMTP, config.ProviderMailjet, config.ProviderSendGrid, config.ProviderSES} {
		t.Run(string(p), func(t *testing.T) {
			s := base
			s.Provider = p
			s.SESRegion = ""

			_, err := d.Send(context.Background(), s, testMessage())
			assert.ErrorIs(t, err, ErrNotConfigured)
		})
	}
}

func TestDispatcher_SendSuccess(t *testing.T) {
	backend := &fakeBackend{id: "msg-1"}
	built := 0
	d := dispatcherWith(backend, &built)

	before := testutil.ToFloat64(metrics.EmailsSent.WithLabelValues("smtp"))

	id, err := d.Send(context.Background(), enabledSettings(config.ProviderSMTP), testMessage())

	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, 1, built)
	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, Address{Email: "noreply@example.com", Name: "Example"}, backend.from)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.EmailsSent.WithLabelValues("smtp")))
}

func TestDispatcher_SenderOverride(t *testing.T) {
	backend := &fakeBackend{id: "msg-2"}
	d := dispatcherWith(backend, nil)

	msg := testMessage()
	msg.FromEmail = "sales@example.com"
	msg.FromName = "Sales"

	_, err := d.Send(context.Background(), enabledSettings(config.ProviderSMTP), msg)

	require.NoError(t, err)
	assert.Equal(t, Address{Email: "sales@example.com", Name: "Sales"}, backend.from)
}

func TestDispatcher_BackendErrorIsNormalized(t *testing.T) {
	cause := errors.New("connection refused")
	backend := &fakeBackend{err: cause}
	d := dispatcherWith(backend, nil)

	id, err := d.Send(context.Background(), enabledSettings(config.ProviderSMTP), testMessage())

	require.Error(t, err)
	assert.Empty(t, id)
	assert.ErrorIs(t, err, ErrDelivery)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, 1, backend.calls, "dispatcher must not retry")
}

func TestDispatcher_BackendPanicIsRecovered(t *testing.T) {
	backend := &fakeBackend{panics: true}
	d := dispatcherWith(backend, nil)

	var (
		id  string
		err error
	)
	assert.NotPanics(t, func() {
		id, err = d.Send(context.Background(), enabledSettings(config.ProviderSMTP), testMessage())
	})
	assert.Empty(t, id)
	assert.ErrorIs(t, err, ErrDelivery)
}

func TestDispatcher_InvalidMessage(t *testing.T) {
	backend := &fakeBackend{}
	d := dispatcherWith(backend, nil)

	_, err := d.Send(context.Background(), enabledSettings(config.ProviderSMTP), Message{To: "a@b.c", Subject: "x"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = d.Send(context.Background(), enabledSettings(config.ProviderSMTP), Message{Subject: "x", Text: "y"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.Equal(t, 0, backend.calls)
}

func TestAddress_String(t *testing.T) {
	assert.Equal(t, "a@example.com", Address{Email: "a@example.com"}.String())
	assert.Equal(t, `"Acme Sales" <a@example.com>`, Address{Email: "a@example.com", Name: "Acme Sales"}.String())
}
