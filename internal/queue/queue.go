// Package queue persists outgoing mail and delivers it with bounded,
// day-spaced retries.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"LeadPulse/internal/config"
	"LeadPulse/internal/db"
	"LeadPulse/internal/email"
	"LeadPulse/internal/metrics"
	"LeadPulse/internal/models"
)

// DefaultRetryAfter spaces automatic retries of a failed item.
const DefaultRetryAfter = 24 * time.Hour

var (
	ErrAttemptsExhausted = errors.New("queue item has no attempts left")
	ErrInvalidRequest    = errors.New("recipient, subject and body are required")
)

type Store interface {
	InsertQueueItem(ctx context.Context, item *models.QueueItem) error
	GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error)
	UpdateQueueDelivery(ctx context.Context, item *models.QueueItem) error
	DueQueueItems(ctx context.Context, now time.Time) ([]models.QueueItem, error)
	ListQueueItems(ctx context.Context, status models.EmailStatus, limit int) ([]models.QueueItem, error)
	DeleteQueueItem(ctx context.Context, id string) error
}

type EnqueueRequest struct {
	To        string
	Subject   string
	HTML      string
	Text      string
	FromEmail string
	FromName  string

	SenderName     string
	SenderEmail    string
	SenderPhone    string
	MessageContent string
}

type SweepResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type Queue struct {
	Store    Store
	Sender   email.Sender
	Settings config.SettingsSource
	Log      *zap.Logger
	Now      func() time.Time

	// RetryPolicy yields the delay before a failed item becomes due again.
	// backoff.Stop leaves the item for manual handling.
	RetryPolicy backoff.BackOff

	// SendInterval paces consecutive dispatches within one sweep, measured
	// from the start of one send to the start of the next.
	SendInterval time.Duration
}

func New(store Store, sender email.Sender, settings config.SettingsSource, log *zap.Logger) *Queue {
	return &Queue{
		Store:        store,
		Sender:       sender,
		Settings:     settings,
		Log:          log,
		RetryPolicy:  backoff.NewConstantBackOff(DefaultRetryAfter),
		SendInterval: 5 * time.Minute,
	}
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

func (q *Queue) retryAt(now time.Time) *time.Time {
	policy := q.RetryPolicy
	if policy == nil {
		policy = backoff.NewConstantBackOff(DefaultRetryAfter)
	}
	d := policy.NextBackOff()
	if d == backoff.Stop {
		return nil
	}
	t := now.Add(d)
	return &t
}

// Enqueue stores a pending item and returns its id. Nothing is sent.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.Subject) == "" ||
		(req.HTML == "" && req.Text == "") {
		return "", ErrInvalidRequest
	}

	now := q.now()
	item := &models.QueueItem{
		ID:             uuid.NewString(),
		To:             strings.TrimSpace(req.To),
		Subject:        req.Subject,
		HTML:           req.HTML,
		Text:           req.Text,
		FromEmail:      req.FromEmail,
		FromName:       req.FromName,
		SenderName:     req.SenderName,
		SenderEmail:    req.SenderEmail,
		SenderPhone:    req.SenderPhone,
		MessageContent: req.MessageContent,
		Status:         models.StatusPending,
		MaxAttempts:    models.MaxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := q.Store.InsertQueueItem(ctx, item); err != nil {
		return "", fmt.Errorf("enqueue email: %w", err)
	}

	metrics.QueueEnqueued.Inc()
	q.Log.Info("email queued",
		zap.String("queue_id", item.ID),
		zap.String("to", item.To),
	)
	return item.ID, nil
}

// Process dispatches one item exactly once. A sent item is left alone.
// The returned error is the delivery failure, already recorded on the item.
func (q *Queue) Process(ctx context.Context, id string) error {
	item, err := q.Store.GetQueueItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Status == models.StatusSent {
		return nil
	}
	if item.Exhausted() {
		return ErrAttemptsExhausted
	}

	settings, err := q.Settings.EmailSettings(ctx)
	if err != nil {
		return fmt.Errorf("load email settings: %w", err)
	}
	return q.deliver(ctx, settings, item)
}

// Sweep processes every due item in creation order, one at a time, waiting
// SendInterval between consecutive dispatches. Each item is re-read before
// it is sent, so one that was sent, retried or removed while the sweep was
// waiting is skipped. A cancelled ctx stops the sweep; unsent items stay
// due for the next one.
func (q *Queue) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	items, err := q.Store.DueQueueItems(ctx, q.now())
	if err != nil {
		return res, fmt.Errorf("load due items: %w", err)
	}
	if len(items) == 0 {
		return res, nil
	}

	settings, err := q.Settings.EmailSettings(ctx)
	if err != nil {
		return res, fmt.Errorf("load email settings: %w", err)
	}

	limiter := rate.NewLimiter(rate.Every(q.SendInterval), 1)
	for i := range items {
		if err := limiter.Wait(ctx); err != nil {
			q.Log.Info("sweep interrupted",
				zap.Int("processed", res.Processed),
				zap.Int("remaining", len(items)-i),
			)
			return res, err
		}

		item, ok := q.stillDue(ctx, items[i].ID)
		if !ok {
			res.Skipped++
			continue
		}

		res.Processed++
		if err := q.deliver(ctx, settings, item); err != nil {
			res.Failed++
			continue
		}
		res.Succeeded++
	}

	q.Log.Info("queue sweep finished",
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (q *Queue) stillDue(ctx context.Context, id string) (*models.QueueItem, bool) {
	item, err := q.Store.GetQueueItem(ctx, id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		q.Log.Info("queue item removed before dispatch", zap.String("queue_id", id))
		return nil, false
	case err != nil:
		q.Log.Error("failed to reload queue item", zap.String("queue_id", id), zap.Error(err))
		return nil, false
	case !item.Due(q.now()):
		q.Log.Debug("queue item no longer due",
			zap.String("queue_id", id),
			zap.String("status", string(item.Status)),
		)
		return nil, false
	}
	return item, true
}

func (q *Queue) deliver(ctx context.Context, settings config.EmailSettings, item *models.QueueItem) error {
	msg := email.Message{
		To:        item.To,
		Subject:   item.Subject,
		HTML:      item.HTML,
		Text:      item.Text,
		FromEmail: item.FromEmail,
		FromName:  item.FromName,
	}

	messageID, sendErr := q.send(ctx, settings, msg)

	now := q.now()
	item.LastAttemptAt = &now
	item.UpdatedAt = now
	if sendErr == nil {
		item.Status = models.StatusSent
		item.MessageID = messageID
		item.Error = ""
		item.NextRetryAt = nil
	} else {
		item.Status = models.StatusFailed
		item.Attempts++
		item.Error = sendErr.Error()
		item.NextRetryAt = nil
		if !item.Exhausted() {
			item.NextRetryAt = q.retryAt(now)
		}
	}

	if err := q.Store.UpdateQueueDelivery(ctx, item); err != nil {
		q.Log.Error("failed to record delivery outcome",
			zap.String("queue_id", item.ID),
			zap.String("status", string(item.Status)),
			zap.Error(err),
		)
		if sendErr == nil {
			return fmt.Errorf("record delivery: %w", err)
		}
	}

	if sendErr != nil {
		metrics.QueueProcessed.WithLabelValues("failed").Inc()
		fields := []zap.Field{
			zap.String("queue_id", item.ID),
			zap.Int("attempts", item.Attempts),
			zap.Error(sendErr),
		}
		if item.NextRetryAt != nil {
			fields = append(fields, zap.Time("next_retry_at", *item.NextRetryAt))
		}
		q.Log.Warn("queued email failed", fields...)
		return sendErr
	}

	metrics.QueueProcessed.WithLabelValues("sent").Inc()
	q.Log.Info("queued email sent",
		zap.String("queue_id", item.ID),
		zap.String("message_id", messageID),
	)
	return nil
}

// send reports a panicking Sender as a delivery failure.
func (q *Queue) send(ctx context.Context, settings config.EmailSettings, msg email.Message) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			id = ""
			err = fmt.Errorf("%w: sender panic: %v", email.ErrDelivery, r)
		}
	}()
	return q.Sender.Send(ctx, settings, msg)
}

func (q *Queue) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	return q.Store.GetQueueItem(ctx, id)
}

// List returns the newest items first, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status models.EmailStatus, limit int) ([]models.QueueItem, error) {
	return q.Store.ListQueueItems(ctx, status, limit)
}

// Remove deletes an item regardless of its state.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := q.Store.DeleteQueueItem(ctx, id); err != nil {
		return err
	}
	q.Log.Info("queue item removed", zap.String("queue_id", id))
	return nil
}
