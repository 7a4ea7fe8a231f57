// Package verification issues and checks the one-time codes that prove a
// form submitter controls their email address.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"LeadPulse/internal/config"
	"LeadPulse/internal/db"
	"LeadPulse/internal/email"
	"LeadPulse/internal/metrics"
	"LeadPulse/internal/models"
)

const (
	CodeTTL        = 15 * time.Minute
	ResendCooldown = 2 * time.Minute
	MaxAttempts    = 5
)

var (
	ErrTooSoon          = errors.New("a verification code was sent recently, please wait before requesting another")
	ErrInvalidOrExpired = errors.New("verification code is invalid or expired")
	ErrTooManyAttempts  = errors.New("too many attempts, request a new verification code")
	ErrInvalidCode      = errors.New("invalid verification code")
	ErrInvalidEmail     = errors.New("email address is required")
	ErrInvalidFormType  = errors.New("unknown form type")
)

type Store interface {
	InsertCode(ctx context.Context, c *models.VerificationCode) error
	LatestCode(ctx context.Context, email string, formType models.FormType) (*models.VerificationCode, error)
	UpdateCodeState(ctx context.Context, c *models.VerificationCode) error
	DeleteCode(ctx context.Context, id string) error
	DeleteCodes(ctx context.Context, email string, formType models.FormType) error
	DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}

type Issuer struct {
	Store    Store
	Sender   email.Sender
	Settings config.SettingsSource
	SiteName string
	Log      *zap.Logger

	// Now and Generate default to time.Now and a crypto/rand six digit code.
	Now      func() time.Time
	Generate func() (string, error)
}

func (i *Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i *Issuer) generate() (string, error) {
	if i.Generate != nil {
		return i.Generate()
	}
	return GenerateCode()
}

// GenerateCode returns a uniformly random code in 100000-999999.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// RequestCode mints a code for the pair and emails it. The stored code is
// removed again if the email cannot be dispatched.
func (i *Issuer) RequestCode(ctx context.Context, address string, formType models.FormType) error {
	addr := models.NormalizeEmail(address)
	if addr == "" {
		return ErrInvalidEmail
	}
	if !formType.Valid() {
		return fmt.Errorf("%w %q", ErrInvalidFormType, formType)
	}
	now := i.now()

	if n, err := i.Store.DeleteExpiredCodes(ctx, now); err != nil {
		return fmt.Errorf("delete expired codes: %w", err)
	} else if n > 0 {
		i.Log.Debug("expired verification codes removed", zap.Int64("count", n))
	}

	latest, err := i.Store.LatestCode(ctx, addr, formType)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return fmt.Errorf("lookup verification code: %w", err)
	case !latest.Expired(now) && now.Sub(latest.CreatedAt) < ResendCooldown:
		metrics.CodeChecks.WithLabelValues("too_soon").Inc()
		return ErrTooSoon
	}

	settings, err := i.Settings.EmailSettings(ctx)
	if err != nil {
		return fmt.Errorf("load email settings: %w", err)
	}

	code, err := i.generate()
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}

	record := &models.VerificationCode{
		ID:        uuid.NewString(),
		Email:     addr,
		Code:      code,
		FormType:  formType,
		CreatedAt: now,
		ExpiresAt: now.Add(CodeTTL),
	}
	if err := i.Store.InsertCode(ctx, record); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}

	content, err := email.RenderVerificationCode(email.CodeMailParams{
		SiteName:         i.SiteName,
		FormType:         formType,
		Code:             code,
		ExpiresInMinutes: int(CodeTTL / time.Minute),
	})
	if err == nil {
		_, err = i.Sender.Send(ctx, settings, email.Message{
			To:      addr,
			Subject: content.Subject,
			HTML:    content.HTML,
			Text:    content.Text,
		})
	}
	if err != nil {
		if delErr := i.Store.DeleteCode(ctx, record.ID); delErr != nil {
			i.Log.Error("failed to roll back undelivered verification code",
				zap.String("code_id", record.ID),
				zap.Error(delErr),
			)
		}
		i.Log.Warn("verification code email failed",
			zap.String("to", addr),
			zap.String("form_type", string(formType)),
			zap.Error(err),
		)
		return err
	}

	metrics.CodesIssued.WithLabelValues(string(formType)).Inc()
	i.Log.Info("verification code sent",
		zap.String("to", addr),
		zap.String("form_type", string(formType)),
	)
	return nil
}

// VerifyCode checks submitted against the newest code for the pair. Every
// check consumes one attempt; after MaxAttempts the code is unusable.
func (i *Issuer) VerifyCode(ctx context.Context, address string, formType models.FormType, submitted string) error {
	addr := models.NormalizeEmail(address)
	now := i.now()

	record, err := i.Store.LatestCode(ctx, addr, formType)
	if errors.Is(err, db.ErrNotFound) {
		metrics.CodeChecks.WithLabelValues("invalid_or_expired").Inc()
		return ErrInvalidOrExpired
	}
	if err != nil {
		return fmt.Errorf("lookup verification code: %w", err)
	}
	if record.Expired(now) {
		metrics.CodeChecks.WithLabelValues("invalid_or_expired").Inc()
		return ErrInvalidOrExpired
	}

	record.Attempts++
	if record.Attempts > MaxAttempts {
		if err := i.Store.UpdateCodeState(ctx, record); err != nil {
			return fmt.Errorf("update verification code: %w", err)
		}
		metrics.CodeChecks.WithLabelValues("too_many_attempts").Inc()
		return ErrTooManyAttempts
	}

	if strings.TrimSpace(submitted) != record.Code {
		if err := i.Store.UpdateCodeState(ctx, record); err != nil {
			return fmt.Errorf("update verification code: %w", err)
		}
		metrics.CodeChecks.WithLabelValues("invalid_code").Inc()
		return ErrInvalidCode
	}

	record.Verified = true
	if err := i.Store.UpdateCodeState(ctx, record); err != nil {
		return fmt.Errorf("update verification code: %w", err)
	}
	metrics.CodeChecks.WithLabelValues("verified").Inc()
	return nil
}

// Discard removes the pair's codes once a submission has been accepted.
func (i *Issuer) Discard(ctx context.Context, address string, formType models.FormType) error {
	return i.Store.DeleteCodes(ctx, models.NormalizeEmail(address), formType)
}
