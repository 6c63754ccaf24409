package provisioning

import (
	"context"

	"github.com/elevate-workforce/enrollpay/internal/pkg/mail"
)

// Mailer delivers the welcome email of the email_sent step.
type Mailer interface {
	SendWelcome(ctx context.Context, w mail.Welcome) error
}

// Publisher publishes operator alerts by routing key.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// FailureAlert is published when a provisioning step fails.
type FailureAlert struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Step      string `json:"step"`
	Error     string `json:"error"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// SuspensionAlert is published when a license is suspended.
type SuspensionAlert struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	LicenseID uint   `json:"license_id"`
	TenantID  uint   `json:"tenant_id"`
	Reason    string `json:"reason"`
}
