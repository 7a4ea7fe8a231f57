package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"LeadPulse/internal/config"
)

const emailSettingsKey = "email"

// SettingsSource reads the email settings saved by the CMS. Fields absent
// from the stored document keep the values of Fallback, and a missing row
// yields Fallback unchanged.
type SettingsSource struct {
	Store    *Store
	Fallback config.EmailSettings
}

func (s *SettingsSource) EmailSettings(ctx context.Context) (config.EmailSettings, error) {
	var raw []byte
	err := s.Store.Pool.QueryRow(ctx,
		`SELECT value FROM site_settings WHERE key=$1`,
		emailSettingsKey,
	).Scan(&raw)
	if err != nil {
		if errors.Is(notFound(err), ErrNotFound) {
			return s.Fallback, nil
		}
		return config.EmailSettings{}, fmt.Errorf("load email settings: %w", err)
	}

	settings := s.Fallback
	if err := json.Unmarshal(raw, &settings); err != nil {
		return config.EmailSettings{}, fmt.Errorf("decode email settings: %w", err)
	}
	return settings, nil
}
