package config

import "context"

type Provider string

const (
	ProviderSMTP     Provider = "smtp"
	ProviderMailjet  Provider = "mailjet"
	ProviderSendGrid Provider = "sendgrid"
	ProviderSES      Provider = "ses"
)

// EmailSettings selects the active delivery backend and carries its credentials.
// It is treated as read-only input by the mail subsystem.
type EmailSettings struct {
	Enabled   bool     `envconfig:"ENABLED" default:"false" json:"enabled"`
	Provider  Provider `envconfig:"PROVIDER" default:"smtp" json:"provider"`
	FromEmail string   `envconfig:"FROM_EMAIL" default:"" json:"fromEmail"`
	FromName  string   `envconfig:"FROM_NAME" default:"" json:"fromName"`

	// ----------------------------
	// SMTP
	// ----------------------------
	SMTPHost     string `envconfig:"SMTP_HOST" default:"" json:"smtpHost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587" json:"smtpPort"`
	SMTPUser     string `envconfig:"SMTP_USER" default:"" json:"smtpUser"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:"" json:"smtpPassword"`
	// SMTPSecure selects implicit TLS (usually port 465) instead of STARTTLS.
	SMTPSecure bool `envconfig:"SMTP_SECURE" default:"false" json:"smtpSecure"`

	// ----------------------------
	// Mailjet
	// ----------------------------
	MailjetAPIKey    string `envconfig:"MAILJET_API_KEY" default:"" json:"mailjetApiKey"`
	MailjetSecretKey string `envconfig:"MAILJET_SECRET_KEY" default:"" json:"mailjetSecretKey"`

	// ----------------------------
	// SendGrid
	// ----------------------------
	SendGridAPIKey string `envconfig:"SENDGRID_API_KEY" default:"" json:"sendgridApiKey"`

	// ----------------------------
	// Amazon SES
	// ----------------------------
	SESRegion          string `envconfig:"SES_REGION" default:"us-east-1" json:"sesRegion"`
	SESAccessKeyID     string `envconfig:"SES_ACCESS_KEY_ID" default:"" json:"sesAccessKeyId"`
	SESSecretAccessKey string `envconfig:"SES_SECRET_ACCESS_KEY" default:"" json:"sesSecretAccessKey"`
}

// SettingsSource yields the email settings in effect for one operation.
type SettingsSource interface {
	EmailSettings(ctx context.Context) (EmailSettings, error)
}

// Static is a SettingsSource that always returns the same settings.
type Static EmailSettings

func (s Static) EmailSettings(context.Context) (EmailSettings, error) {
	return EmailSettings(s), nil
}
