package models

import (
	"time"

	"gorm.io/datatypes"
)

// Provisioning steps, in pipeline order, plus the out-of-band entries.
const (
	AuditStepPaymentReceived       = "payment_received"
	AuditStepTenantCreated         = "tenant_created"
	AuditStepLicenseCreated        = "license_created"
	AuditStepAdminCreated          = "admin_created"
	AuditStepEmailSent             = "email_sent"
	AuditStepComplete              = "complete"
	AuditStepProvisioningFailed    = "provisioning_failed"
	AuditStepLicenseSuspended      = "license_suspended"
	AuditStepWeeklyPaymentRecorded = "weekly_payment_recorded"
	AuditStepWeeklyPaymentFailed   = "weekly_payment_failed"
)

// ProvisioningAuditEntry is an append-only record of a side-effecting step.
// Entries are never updated after insert.
type ProvisioningAuditEntry struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	CorrelationID    string         `gorm:"type:varchar(191);not null;index:idx_audit_correlation_step,priority:1" json:"correlation_id"`
	Step             string         `gorm:"type:varchar(50);not null;index:idx_audit_correlation_step,priority:2;index" json:"step"`
	PaymentSessionID *uint          `gorm:"index" json:"payment_session_id,omitempty"`
	TenantID         *uint          `gorm:"index" json:"tenant_id,omitempty"`
	LicenseID        *uint          `gorm:"index" json:"license_id,omitempty"`
	Detail           datatypes.JSON `gorm:"type:json" json:"detail"`
	ErrorDetail      string         `gorm:"type:text" json:"error_detail,omitempty"`
	CreatedAt        time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
