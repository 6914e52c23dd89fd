package email

import (
	"context"

	"lettings_backend/platform/config"
)

// ViewingConfirmation is the content of the email sent once a viewing is booked.
type ViewingConfirmation struct {
	TenantName      string
	ViewingDate     string
	ViewingTime     string
	PropertyAddress string
	Notes           string
}

type Sender interface {
	SendViewingConfirmation(ctx context.Context, toEmail string, viewing ViewingConfirmation) error
	SendCustomEmail(ctx context.Context, toEmail, subject, htmlContent string) error
}

type NoopSender struct{}

func (NoopSender) SendViewingConfirmation(ctx context.Context, toEmail string, viewing ViewingConfirmation) error {
	return nil
}

func (NoopSender) SendCustomEmail(ctx context.Context, toEmail, subject, htmlContent string) error {
	return nil
}

func NewSender(cfg config.EmailConfig) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}, nil
	}
	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
	), nil
}
