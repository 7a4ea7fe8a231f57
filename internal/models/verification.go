package models

import (
	"fmt"
	"strings"
	"time"
)

type FormType string

const (
	FormDemo    FormType = "demo"
	FormContact FormType = "contact"
	FormCareers FormType = "careers"
)

func ParseFormType(s string) (FormType, error) {
	if ft := FormType(strings.ToLower(strings.TrimSpace(s))); ft.Valid() {
		return ft, nil
	}
	return "", fmt.Errorf("unknown form type %q", s)
}

func (f FormType) Valid() bool {
	switch f {
	case FormDemo, FormContact, FormCareers:
		return true
	}
	return false
}

// Broadcasts reports whether a submission of this form notifies the mailing list.
func (f FormType) Broadcasts() bool {
	return f == FormDemo || f == FormContact
}

type VerificationCode struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	FormType  FormType  `json:"form_type"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Verified  bool      `json:"verified"`
	Attempts  int       `json:"attempts"`
}

func (v *VerificationCode) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
