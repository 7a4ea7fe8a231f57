package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"LeadPulse/internal/config"
	"LeadPulse/internal/db"
	"LeadPulse/internal/email"
	"LeadPulse/internal/metrics"
	"LeadPulse/internal/models"
)

type fakeSender struct {
	calls   []email.Message
	fail    map[string]error
	panicOn string
	onSend  func(email.Message)
}

func (f *fakeSender) Send(_ context.Context, _ config.EmailSettings, msg email.Message) (string, error) {
	f.calls = append(f.calls, msg)
	if f.onSend != nil {
		f.onSend(msg)
	}
	if msg.To == f.panicOn {
		panic("transport exploded")
	}
	if err, ok := f.fail[msg.To]; ok {
		return "", err
	}
	return fmt.Sprintf("mid-%d", len(f.calls)), nil
}

type countingSettings struct {
	config.Static
	reads int
}

func (c *countingSettings) EmailSettings(ctx context.Context) (config.EmailSettings, error) {
	c.reads++
	return c.Static.EmailSettings(ctx)
}

var start = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func newQueue(t *testing.T) (*Queue, *db.MemoryStore, *fakeSender, *time.Time) {
	t.Helper()
	store := db.NewMemoryStore()
	sender := &fakeSender{fail: map[string]error{}}
	now := start
	q := New(store, sender, config.Static{Enabled: true, Provider: config.ProviderSMTP, FromEmail: "noreply@example.com", FromName: "Acme"}, zaptest.NewLogger(t))
	q.Now = func() time.Time { return now }
	q.SendInterval = 0
	return q, store, sender, &now
}

func enqueue(t *testing.T, q *Queue, to string) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), EnqueueRequest{To: to, Subject: "Hello", HTML: "<p>hi</p>"})
	require.NoError(t, err)
	return id
}

func TestEnqueue_StoresPendingWithoutSending(t *testing.T) {
	q, store, sender, _ := newQueue(t)
	before := testutil.ToFloat64(metrics.QueueEnqueued)

	id, err := q.Enqueue(context.Background(), EnqueueRequest{
		To: " user@example.com ", Subject: "Thanks", HTML: "<p>thanks</p>", Text: "thanks",
		SenderName: "Ada", SenderEmail: "ada@example.com", MessageContent: "Hi there",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Empty(t, sender.calls)

	item, err := store.GetQueueItem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, item.Status)
	assert.Equal(t, "user@example.com", item.To)
	assert.Zero(t, item.Attempts)
	assert.Equal(t, models.MaxAttempts, item.MaxAttempts)
	assert.Equal(t, "Ada", item.SenderName)
	assert.Equal(t, start, item.CreatedAt)
	assert.Nil(t, item.NextRetryAt)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.QueueEnqueued))
}

func TestEnqueue_RejectsIncompleteRequests(t *testing.T) {
	q, _, _, _ := newQueue(t)
	ctx := context.Background()

	for name, req := range map[string]EnqueueRequest{
		"no recipient": {Subject: "s", HTML: "h"},
		"no subject":   {To: "a@example.com", HTML: "h"},
		"no body":      {To: "a@example.com", Subject: "s"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestProcess_Success(t *testing.T) {
	q, store, sender, _ := newQueue(t)
	ctx := context.Background()
	id := enqueue(t, q, "user@example.com")

	require.NoError(t, q.Process(ctx, id))
	require.Len(t, sender.calls, 1)

	item, err := store.GetQueueItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, item.Status)
	assert.Equal(t, "mid-1", item.MessageID)
	assert.Zero(t, item.Attempts)
	assert.Empty(t, item.Error)
	require.NotNil(t, item.LastAttemptAt)
	assert.Equal(t, start, *item.LastAttemptAt)

	// Sent items are never dispatched again.
	require.NoError(t, q.Process(ctx, id))
	assert.Len(t, sender.calls, 1)
}

func TestProcess_FailureSchedulesRetry(t *testing.T) {
	q, store, sender, _ := newQueue(t)
	ctx := context.Background()
	sender.fail["user@example.com"] = fmt.Errorf("%w via smtp: connection refused", email.ErrDelivery)
	id := enqueue(t, q, "user@example.com")

	err := q.Process(ctx, id)
	require.ErrorIs(t, err, email.ErrDelivery)
	assert.Len(t, sender.calls, 1)

	item, err := store.GetQueueItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.Contains(t, item.Error, "connection refused")
	require.NotNil(t, item.LastAttemptAt)
	require.NotNil(t, item.NextRetryAt)
	assert.Equal(t, item.LastAttemptAt.Add(24*time.Hour), *item.NextRetryAt)
}

func TestProcess_ConfigurationErrorIsRecorded(t *testing.T) {
	q, store, _, _ := newQueue(t)
	ctx := context.Background()
	q.Sender = email.NewDispatcher(zaptest.NewLogger(t))
	q.Settings = config.Static{Enabled: false}
	id := enqueue(t, q, "user@example.com")

	err := q.Process(ctx, id)
	assert.ErrorIs(t, err, email.ErrNotConfigured)

	item, err := store.GetQueueItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, item.Status)
	assert.Equal(t, 1, item.Attempts)
}

func TestProcess_PanicIsTreatedAsFailure(t *testing.T) {
	q, store, sender, _ := newQueue(t)
	ctx := context.Background()
	sender.panicOn = "user@example.com"
	id := enqueue(t, q, "user@example.com")

	err := q.Process(ctx, id)
	require.ErrorIs(t, err, email.ErrDelivery)
	assert.ErrorContains(t, err, "transport exploded")

	item, err := store.GetQueueItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, item.Status)
	assert.Equal(t, 1, item.Attempts)
}

func TestProcess_ExhaustedItems(t *testing.T) {
	q, store, sender, now := newQueue(t)
	ctx := context.Background()
	sender.fail["user@example.com"] = errors.New("mailbox unavailable")
	id := enqueue(t, q, "user@example.com")

	for n := 1; n <= models.MaxAttempts; n++ {
		require.Error(t, q.Process(ctx, id))
		*now = now.Add(DefaultRetryAfter)
	}

	item, err := store.GetQueueItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.MaxAttempts, item.Attempts)
	assert.Nil(t, item.NextRetryAt, "exhausted items are not rescheduled")

	calls := len(sender.calls)
	assert.ErrorIs(t, q.Process(ctx, id), ErrAttemptsExhausted)
	assert.Len(t, sender.calls, calls)
}

func TestProcess_Missing(t *testing.T) {
	q, _, _, _ := newQueue(t)
	assert.ErrorIs(t, q.Process(context.Background(), "nope"), db.ErrNotFound)
}

func TestProcess_RetryPolicyStop(t *testing.T) {
	q, store, sender, _ := newQueue(t)
	ctx := context.Background()
	q.RetryPolicy = &backoff.StopBackOff{}
	sender.fail["user@example.com"] = errors.New("rejected")
	id := enqueue(t, q, "user@example.com")

	require.Error(t, q.Process(ctx, id))
	item, err := store.GetQueueItem(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, item.NextRetryAt)
}

func TestSweep_ProcessesOnlyDueItems(t *testing.T) {
	q, store, sender, now := newQueue(t)
	ctx := context.Background()
	settings := &countingSettings{Static: config.Static{Enabled: true, Provider: config.ProviderSMTP, FromEmail: "noreply@example.com", FromName: "Acme"}}
	q.Settings = settings

	sentID := enqueue(t, q, "sent@example.com")
	require.NoError(t, q.Process(ctx, sentID))

	sender.fail["retry@example.com"] = errors.New("temporary failure")
	retryID := enqueue(t, q, "retry@example.com")
	require.Error(t, q.Process(ctx, retryID))
	delete(sender.fail, "retry@example.com")

	sender.fail["dead@example.com"] = errors.New("permanent failure")
	deadID := enqueue(t, q, "dead@example.com")
	for range models.MaxAttempts {
		require.Error(t, q.Process(ctx, deadID))
	}

	*now = now.Add(time.Hour)
	enqueue(t, q, "a@example.com")
	enqueue(t, q, "b@example.com")

	// The failed item is not due yet.
	sender.calls = nil
	settings.reads = 0
	res, err := q.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Processed: 2, Succeeded: 2}, res)
	assert.Equal(t, 1, settings.reads)
	require.Len(t, sender.calls, 2)
	assert.Equal(t, "a@example.com", sender.calls[0].To)
	assert.Equal(t, "b@example.com", sender.calls[1].To)

	*now = now.Add(DefaultRetryAfter)
	sender.calls = nil
	res, err = q.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Processed: 1, Succeeded: 1}, res)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, "retry@example.com", sender.calls[0].To)

	dead, err := store.GetQueueItem(ctx, deadID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, dead.Status)
	assert.Equal(t, models.MaxAttempts, dead.Attempts)
}

func TestSweep_CountsFailures(t *testing.T) {
	q, store, sender, _ := newQueue(t)
	ctx := context.Background()
	sender.fail["b@example.com"] = errors.New("rejected")

	enqueue(t, q, "a@example.com")
	bID := enqueue(t, q, "b@example.com")
	enqueue(t, q, "c@example.com")

	res, err := q.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Processed: 3, Succeeded: 2, Failed: 1}, res)

	b, err := store.GetQueueItem(ctx, bID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, b.Status)
	assert.Equal(t, 1, b.Attempts)
}

func TestSweep_SkipsItemsChangedDuringSweep(t *testing.T) {
	q, store, sender, _ := newQueue(t)
	ctx := context.Background()

	enqueue(t, q, "a@example.com")
	bID := enqueue(t, q, "b@example.com")
	cID := enqueue(t, q, "c@example.com")
	enqueue(t, q, "d@example.com")

	// While a is going out, b is delivered by a direct Process and c is removed.
	sender.onSend = func(msg email.Message) {
		if msg.To != "a@example.com" {
			return
		}
		b, err := store.GetQueueItem(ctx, bID)
		require.NoError(t, err)
		b.Status = models.StatusSent
		b.MessageID = "mid-direct"
		require.NoError(t, store.UpdateQueueDelivery(ctx, b))
		require.NoError(t, store.DeleteQueueItem(ctx, cID))
	}

	res, err := q.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Processed: 2, Succeeded: 2, Skipped: 2}, res)
	require.Len(t, sender.calls, 2)
	assert.Equal(t, "a@example.com", sender.calls[0].To)
	assert.Equal(t, "d@example.com", sender.calls[1].To)

	b, err := store.GetQueueItem(ctx, bID)
	require.NoError(t, err)
	assert.Equal(t, "mid-direct", b.MessageID)
	_, err = store.GetQueueItem(ctx, cID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSweep_PacesConsecutiveSends(t *testing.T) {
	q, _, sender, _ := newQueue(t)
	q.SendInterval = 200 * time.Millisecond

	enqueue(t, q, "a@example.com")
	enqueue(t, q, "b@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := q.Sweep(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, res.Processed, "first item goes out without waiting")
	assert.Len(t, sender.calls, 1)
}

func TestSweep_Empty(t *testing.T) {
	q, _, _, _ := newQueue(t)
	settings := &countingSettings{}
	q.Settings = settings

	res, err := q.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.Zero(t, settings.reads)
}

func TestRemoveGetList(t *testing.T) {
	q, _, _, now := newQueue(t)
	ctx := context.Background()

	first := enqueue(t, q, "a@example.com")
	*now = now.Add(time.Minute)
	second := enqueue(t, q, "b@example.com")
	require.NoError(t, q.Process(ctx, second))

	pending, err := q.List(ctx, models.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first, pending[0].ID)

	require.NoError(t, q.Remove(ctx, first))
	_, err = q.Get(ctx, first)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.ErrorIs(t, q.Remove(ctx, first), db.ErrNotFound)

	item, err := q.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, item.Status)
}
