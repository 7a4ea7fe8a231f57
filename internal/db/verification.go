package db

import (
	"context"
	"time"

	"LeadPulse/internal/models"
)

func (s *Store) InsertCode(ctx context.Context, c *models.VerificationCode) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO verification_codes
		 (id, email, code, form_type, created_at, expires_at, verified, attempts)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID,
		c.Email,
		c.Code,
		string(c.FormType),
		c.CreatedAt,
		c.ExpiresAt,
		c.Verified,
		c.Attempts,
	)
	return err
}

// LatestCode returns the most recently created code for the pair.
func (s *Store) LatestCode(ctx context.Context, email string, formType models.FormType) (*models.VerificationCode, error) {
	var (
		c  models.VerificationCode
		ft string
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT id, email, code, form_type, created_at, expires_at, verified, attempts
		 FROM verification_codes
		 WHERE email=$1 AND form_type=$2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		email,
		string(formType),
	).Scan(&c.ID, &c.Email, &c.Code, &ft, &c.CreatedAt, &c.ExpiresAt, &c.Verified, &c.Attempts)
	if err != nil {
		return nil, notFound(err)
	}
	c.FormType = models.FormType(ft)
	return &c, nil
}

// UpdateCodeState persists the attempt counter and verified flag.
func (s *Store) UpdateCodeState(ctx context.Context, c *models.VerificationCode) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE verification_codes SET attempts=$1, verified=$2 WHERE id=$3`,
		c.Attempts,
		c.Verified,
		c.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCode(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM verification_codes WHERE id=$1`, id)
	return err
}

// DeleteCodes removes every code issued for the pair.
func (s *Store) DeleteCodes(ctx context.Context, email string, formType models.FormType) error {
	_, err := s.Pool.Exec(ctx,
		`DELETE FROM verification_codes WHERE email=$1 AND form_type=$2`,
		email,
		string(formType),
	)
	return err
}

func (s *Store) DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM verification_codes WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
