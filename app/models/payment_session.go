package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	PaymentSessionStatusPending   = "pending"
	PaymentSessionStatusCompleted = "completed"
	PaymentSessionStatusFailed    = "failed"
	PaymentSessionStatusExpired   = "expired"
)

// PaymentSession is one checkout attempt. It is created pending when the
// checkout is built and only moves forward through verified webhook events.
// Rows are never deleted; every status change is mirrored in
// PaymentSessionTransition.
type PaymentSession struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Provider           string         `gorm:"type:varchar(20);not null;uniqueIndex:ux_payment_sessions_provider_session,priority:1" json:"provider"`
	ExternalSessionID  string         `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_sessions_provider_session,priority:2" json:"external_session_id"`
	UserID             string         `gorm:"type:varchar(64);not null;index" json:"user_id"`
	EnrollmentID       string         `gorm:"type:varchar(64);default:''" json:"enrollment_id"`
	ProgramSlug        string         `gorm:"type:varchar(100);not null" json:"program_slug"`
	CustomerID         string         `gorm:"type:varchar(191);default:'';index" json:"customer_id"`
	SubscriptionID     string         `gorm:"type:varchar(191);default:'';index" json:"subscription_id"`
	PaymentIntentID    string         `gorm:"type:varchar(191);default:'';index" json:"payment_intent_id"`
	Status             string         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	SetupFeeCents      int64          `gorm:"not null" json:"setup_fee_cents"`
	WeeklyPaymentCents int64          `gorm:"not null" json:"weekly_payment_cents"`
	WeeksRemaining     int            `gorm:"not null" json:"weeks_remaining"`
	HoursPerWeek       int            `gorm:"not null" json:"hours_per_week"`
	TransferredHours   int            `gorm:"not null;default:0" json:"transferred_hours"`
	HoursRemaining     int            `gorm:"not null" json:"hours_remaining"`
	AmountTotalCents   int64          `gorm:"not null;default:0" json:"amount_total_cents"`
	BillingAnchorAt    time.Time      `gorm:"type:timestamp;not null" json:"billing_anchor_at"`
	ScheduleSnapshot   datatypes.JSON `gorm:"type:json" json:"schedule_snapshot"`
	CompletedAt        *time.Time     `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	DisputedAt         *time.Time     `gorm:"type:timestamp;default:null" json:"disputed_at,omitempty"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// CanTransitionTo reports whether status may move from the current value to next.
// Only pending sessions change state; terminal states are sticky.
func (s *PaymentSession) CanTransitionTo(next string) bool {
	if s.Status == next {
		return false
	}
	return s.Status == PaymentSessionStatusPending
}

// PaymentSessionTransition is the append-only status history of a payment session.
type PaymentSessionTransition struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	PaymentSessionID uint      `gorm:"not null;index" json:"payment_session_id"`
	FromStatus       string    `gorm:"type:varchar(20);default:''" json:"from_status"`
	ToStatus         string    `gorm:"type:varchar(20);not null" json:"to_status"`
	ExternalEventID  string    `gorm:"type:varchar(191);default:''" json:"external_event_id"`
	Reason           string    `gorm:"type:varchar(255);default:''" json:"reason"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}
