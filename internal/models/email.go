package models

import "time"

type EmailStatus string

const (
	StatusPending EmailStatus = "pending"
	StatusSent    EmailStatus = "sent"
	StatusFailed  EmailStatus = "failed"
)

// MaxAttempts is the number of failed dispatches after which a queue item
// is no longer retried automatically.
const MaxAttempts = 7

func (s EmailStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

type QueueItem struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text,omitempty"`

	FromEmail string `json:"from_email,omitempty"`
	FromName  string `json:"from_name,omitempty"`

	// Lead metadata, kept for auditing only.
	SenderName     string `json:"sender_name,omitempty"`
	SenderEmail    string `json:"sender_email,omitempty"`
	SenderPhone    string `json:"sender_phone,omitempty"`
	MessageContent string `json:"message_content,omitempty"`

	Status        EmailStatus `json:"status"`
	Attempts      int         `json:"attempts"`
	MaxAttempts   int         `json:"max_attempts"`
	LastAttemptAt *time.Time  `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time  `json:"next_retry_at,omitempty"`
	Error         string      `json:"error,omitempty"`
	MessageID     string      `json:"message_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Exhausted reports whether the item has used up its automatic retries.
func (q *QueueItem) Exhausted() bool {
	return q.Attempts >= q.MaxAttempts
}

// Due reports whether a sweep at now should pick the item up.
func (q *QueueItem) Due(now time.Time) bool {
	switch q.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return !q.Exhausted() && q.NextRetryAt != nil && !q.NextRetryAt.After(now)
	}
	return false
}
