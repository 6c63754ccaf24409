package models

import "time"

const (
	LicenseStatusActive    = "active"
	LicenseStatusPastDue   = "past_due"
	LicenseStatusSuspended = "suspended"
	LicenseStatusExpired   = "expired"
)

// License grants program access to a tenant for one paid payment session.
type License struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	TenantID             uint       `gorm:"not null;index" json:"tenant_id"`
	PaymentSessionID     uint       `gorm:"not null;uniqueIndex" json:"payment_session_id"`
	ProgramSlug          string     `gorm:"type:varchar(100);not null" json:"program_slug"`
	Status               string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	StripeCustomerID     string     `gorm:"type:varchar(191);default:'';index" json:"stripe_customer_id"`
	StripeSubscriptionID string     `gorm:"type:varchar(191);default:'';index" json:"stripe_subscription_id"`
	WeeksTotal           int        `gorm:"not null" json:"weeks_total"`
	WeeksPaid            int        `gorm:"not null;default:0" json:"weeks_paid"`
	WeeklyPaymentCents   int64      `gorm:"not null" json:"weekly_payment_cents"`
	LastPaymentAt        *time.Time `gorm:"type:timestamp;default:null" json:"last_payment_at,omitempty"`
	SuspendedAt          *time.Time `gorm:"type:timestamp;default:null" json:"suspended_at,omitempty"`
	SuspendedReason      string     `gorm:"type:varchar(255);default:''" json:"suspended_reason"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitling reports whether the license currently grants access.
func (l *License) IsEntitling() bool {
	return l.Status == LicenseStatusActive
}

// CanSuspend reports whether a revenue-protection event may suspend the license.
func (l *License) CanSuspend() bool {
	return l.Status == LicenseStatusActive || l.Status == LicenseStatusPastDue
}
