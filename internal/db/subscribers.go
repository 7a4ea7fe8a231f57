package db

import (
	"context"

	"LeadPulse/internal/models"
)

// Subscribers returns the mailing-list members of a category in insertion order.
// Inactive members are included; callers decide who receives mail.
func (s *Store) Subscribers(ctx context.Context, category string) ([]models.Subscriber, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT email, name, category, active
		 FROM subscribers
		 WHERE category=$1
		 ORDER BY id`,
		category,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		var sub models.Subscriber
		if err := rows.Scan(&sub.Email, &sub.Name, &sub.Category, &sub.Active); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
