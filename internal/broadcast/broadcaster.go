// Package broadcast notifies the mailing list about new leads.
package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"LeadPulse/internal/config"
	"LeadPulse/internal/email"
	"LeadPulse/internal/metrics"
	"LeadPulse/internal/models"
	"LeadPulse/internal/queue"
)

type SubscriberSource interface {
	Subscribers(ctx context.Context, category string) ([]models.Subscriber, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

type Result struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type Broadcaster struct {
	Subscribers SubscriberSource
	Sender      email.Sender
	Settings    config.SettingsSource
	Queue       Enqueuer
	SiteName    string
	Log         *zap.Logger

	// SendInterval separates the starts of consecutive live sends.
	SendInterval time.Duration
	Now          func() time.Time

	// Render defaults to email.RenderLeadNotification.
	Render func(email.LeadMailParams) (email.Content, error)
}

func (b *Broadcaster) render(p email.LeadMailParams) (email.Content, error) {
	if b.Render != nil {
		return b.Render(p)
	}
	return email.RenderLeadNotification(p)
}

func (b *Broadcaster) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Recipients returns the active general subscribers other than the lead.
func Recipients(subs []models.Subscriber, lead models.Lead) []models.Subscriber {
	var out []models.Subscriber
	for _, s := range subs {
		if !s.Active || s.Category != models.CategoryGeneral {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(s.Email), strings.TrimSpace(lead.Email)) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Broadcast sends the lead notification to each recipient in turn. A
// recipient whose live send fails gets the same notification queued for
// retry; the loop never stops early unless ctx is cancelled.
func (b *Broadcaster) Broadcast(ctx context.Context, lead models.Lead) (Result, error) {
	var res Result

	subs, err := b.Subscribers.Subscribers(ctx, models.CategoryGeneral)
	if err != nil {
		return res, fmt.Errorf("load subscribers: %w", err)
	}
	recipients := Recipients(subs, lead)
	if len(recipients) == 0 {
		b.Log.Info("no subscribers to notify", zap.String("form_type", string(lead.FormType)))
		return res, nil
	}

	settings, settingsErr := b.Settings.EmailSettings(ctx)
	if settingsErr != nil {
		b.Log.Error("email settings unavailable, notifications will be queued", zap.Error(settingsErr))
	}

	receivedAt := b.now()
	limiter := rate.NewLimiter(rate.Every(b.SendInterval), 1)

	for i, sub := range recipients {
		if err := limiter.Wait(ctx); err != nil {
			b.Log.Warn("broadcast interrupted",
				zap.Int("notified", i),
				zap.Int("remaining", len(recipients)-i),
				zap.Error(err),
			)
			return res, err
		}

		content, err := b.render(email.LeadMailParams{
			SiteName:      b.SiteName,
			Lead:          lead,
			RecipientName: sub.Name,
			ReceivedAt:    receivedAt,
		})
		if err != nil {
			// Without content there is nothing to queue.
			res.Failed++
			metrics.BroadcastRecipients.WithLabelValues("lost").Inc()
			b.Log.Error("lead notification lost, render failed", zap.String("to", sub.Email), zap.Error(err))
			continue
		}

		sendErr := settingsErr
		if sendErr == nil {
			_, sendErr = b.send(ctx, settings, email.Message{
				To:      sub.Email,
				Subject: content.Subject,
				HTML:    content.HTML,
				Text:    content.Text,
			})
		}
		if sendErr == nil {
			res.Successful++
			metrics.BroadcastRecipients.WithLabelValues("sent").Inc()
			continue
		}

		res.Failed++
		b.fallback(ctx, sub, lead, content, sendErr)
	}

	b.Log.Info("lead broadcast finished",
		zap.String("form_type", string(lead.FormType)),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// QueueAll queues the notification for every recipient without sending
// anything. It replaces Broadcast when the broadcast cannot be scheduled.
func (b *Broadcaster) QueueAll(ctx context.Context, lead models.Lead) (int, error) {
	subs, err := b.Subscribers.Subscribers(ctx, models.CategoryGeneral)
	if err != nil {
		return 0, fmt.Errorf("load subscribers: %w", err)
	}

	receivedAt := b.now()
	queued := 0
	for _, sub := range Recipients(subs, lead) {
		content, err := b.render(email.LeadMailParams{
			SiteName:      b.SiteName,
			Lead:          lead,
			RecipientName: sub.Name,
			ReceivedAt:    receivedAt,
		})
		if err != nil {
			metrics.BroadcastRecipients.WithLabelValues("lost").Inc()
			b.Log.Error("lead notification lost, render failed", zap.String("to", sub.Email), zap.Error(err))
			continue
		}
		if _, err := b.Queue.Enqueue(ctx, notification(sub, lead, content)); err != nil {
			return queued, fmt.Errorf("queue notification for %s: %w", sub.Email, err)
		}
		metrics.BroadcastRecipients.WithLabelValues("queued").Inc()
		queued++
	}

	b.Log.Info("lead notifications queued",
		zap.String("form_type", string(lead.FormType)),
		zap.Int("queued", queued),
	)
	return queued, nil
}

func notification(sub models.Subscriber, lead models.Lead, content email.Content) queue.EnqueueRequest {
	return queue.EnqueueRequest{
		To:             sub.Email,
		Subject:        content.Subject,
		HTML:           content.HTML,
		Text:           content.Text,
		SenderName:     lead.Name,
		SenderEmail:    lead.Email,
		SenderPhone:    lead.Phone,
		MessageContent: lead.Message,
	}
}

func (b *Broadcaster) fallback(ctx context.Context, sub models.Subscriber, lead models.Lead, content email.Content, cause error) {
	id, err := b.Queue.Enqueue(ctx, notification(sub, lead, content))
	if err != nil {
		metrics.BroadcastRecipients.WithLabelValues("lost").Inc()
		b.Log.Error("lead notification lost",
			zap.String("to", sub.Email),
			zap.NamedError("send_error", cause),
			zap.Error(err),
		)
		return
	}

	metrics.BroadcastRecipients.WithLabelValues("queued").Inc()
	b.Log.Warn("lead notification queued for retry",
		zap.String("to", sub.Email),
		zap.String("queue_id", id),
		zap.Error(cause),
	)
}

func (b *Broadcaster) send(ctx context.Context, settings config.EmailSettings, msg email.Message) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			id = ""
			err = fmt.Errorf("%w: sender panic: %v", email.ErrDelivery, r)
		}
	}()
	return b.Sender.Send(ctx, settings, msg)
}
