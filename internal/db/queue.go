package db

import (
	"context"
	"time"

	"LeadPulse/internal/models"
)

const queueColumns = `id, to_email, subject, html, text_body, from_email, from_name,
	sender_name, sender_email, sender_phone, message_content,
	status, attempts, max_attempts, last_attempt_at, next_retry_at, error, message_id,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	var (
		item   models.QueueItem
		status string
		errMsg *string
	)
	err := row.Scan(
		&item.ID, &item.To, &item.Subject, &item.HTML, &item.Text, &item.FromEmail, &item.FromName,
		&item.SenderName, &item.SenderEmail, &item.SenderPhone, &item.MessageContent,
		&status, &item.Attempts, &item.MaxAttempts, &item.LastAttemptAt, &item.NextRetryAt, &errMsg, &item.MessageID,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Status = models.EmailStatus(status)
	if errMsg != nil {
		item.Error = *errMsg
	}
	return &item, nil
}

func (s *Store) InsertQueueItem(ctx context.Context, item *models.QueueItem) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO email_queue
		 (id, to_email, subject, html, text_body, from_email, from_name,
		  sender_name, sender_email, sender_phone, message_content,
		  status, attempts, max_attempts, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
		item.ID,
		item.To,
		item.Subject,
		item.HTML,
		item.Text,
		item.FromEmail,
		item.FromName,
		item.SenderName,
		item.SenderEmail,
		item.SenderPhone,
		item.MessageContent,
		string(item.Status),
		item.Attempts,
		item.MaxAttempts,
		item.CreatedAt,
	)
	return err
}

func (s *Store) GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	item, err := scanQueueItem(s.Pool.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM email_queue WHERE id=$1`,
		id,
	))
	if err != nil {
		return nil, notFound(err)
	}
	return item, nil
}

// UpdateQueueDelivery persists the outcome of one dispatch attempt.
func (s *Store) UpdateQueueDelivery(ctx context.Context, item *models.QueueItem) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE email_queue
		 SET status=$1,
		     attempts=$2,
		     last_attempt_at=$3,
		     next_retry_at=$4,
		     error=$5,
		     message_id=$6,
		     updated_at=$7
		 WHERE id=$8`,
		string(item.Status),
		item.Attempts,
		item.LastAttemptAt,
		item.NextRetryAt,
		nullString(item.Error),
		item.MessageID,
		item.UpdatedAt,
		item.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DueQueueItems returns pending items and failed items whose retry time has
// come and that still have attempts left, oldest first.
func (s *Store) DueQueueItems(ctx context.Context, now time.Time) ([]models.QueueItem, error) {
	return s.queryQueueItems(ctx,
		`SELECT `+queueColumns+` FROM email_queue
		 WHERE status=$1
		    OR (status=$2 AND attempts < max_attempts AND next_retry_at <= $3)
		 ORDER BY created_at, id`,
		string(models.StatusPending),
		string(models.StatusFailed),
		now,
	)
}

// ListQueueItems lists the newest items, optionally filtered by status.
func (s *Store) ListQueueItems(ctx context.Context, status models.EmailStatus, limit int) ([]models.QueueItem, error) {
	if limit <= 0 {
		limit = 100
	}
	if status == "" {
		return s.queryQueueItems(ctx,
			`SELECT `+queueColumns+` FROM email_queue ORDER BY created_at DESC LIMIT $1`,
			limit,
		)
	}
	return s.queryQueueItems(ctx,
		`SELECT `+queueColumns+` FROM email_queue WHERE status=$1 ORDER BY created_at DESC LIMIT $2`,
		string(status),
		limit,
	)
}

func (s *Store) DeleteQueueItem(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM email_queue WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryQueueItems(ctx context.Context, sql string, args ...any) ([]models.QueueItem, error) {
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
