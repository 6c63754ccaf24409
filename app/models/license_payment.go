package models

import "time"

// LicensePayment records one settled weekly invoice against a license. The
// unique invoice reference makes the count exact no matter which of the
// provider's paid events for an invoice arrives first.
type LicensePayment struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	LicenseID         uint      `gorm:"not null;index" json:"license_id"`
	Provider          string    `gorm:"type:varchar(20);not null;uniqueIndex:ux_license_payments_provider_invoice,priority:1" json:"provider"`
	ExternalInvoiceID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_license_payments_provider_invoice,priority:2" json:"external_invoice_id"`
	EventID           string    `gorm:"type:varchar(191);not null" json:"event_id"`
	AmountPaidCents   int64     `gorm:"not null;default:0" json:"amount_paid_cents"`
	PaidAt            time.Time `gorm:"type:timestamp;not null" json:"paid_at"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}
