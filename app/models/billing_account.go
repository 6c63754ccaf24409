package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

// BillingAccount links a platform user to the payments provider's customer
// record. One row per (user, provider); the provider customer ID is unique too.
type BillingAccount struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UserID             string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_billing_accounts_user_provider,priority:1" json:"user_id"`
	Provider           string    `gorm:"type:varchar(20);not null;uniqueIndex:ux_billing_accounts_user_provider,priority:2;uniqueIndex:ux_billing_accounts_provider_customer,priority:1" json:"provider"`
	ProviderCustomerID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_accounts_provider_customer,priority:2" json:"provider_customer_id"`
	Email              string    `gorm:"type:varchar(200);default:''" json:"email"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
