package models

import "time"

const (
	TenantStatusActive = "active"
)

// Tenant is the organization record provisioned for a paid enrollment.
// SourcePaymentRef is unique so a payment can never produce two tenants.
type Tenant struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	PublicID         string    `gorm:"type:char(36);not null;uniqueIndex" json:"public_id"`
	Name             string    `gorm:"type:varchar(200);not null" json:"name"`
	ProgramSlug      string    `gorm:"type:varchar(100);not null;index" json:"program_slug"`
	OwnerUserID      string    `gorm:"type:varchar(64);not null;index" json:"owner_user_id"`
	SourcePaymentRef string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"source_payment_ref"`
	Status           string    `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
