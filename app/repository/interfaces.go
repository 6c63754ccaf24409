package repository

import (
	"context"
	"time"

	"github.com/elevate-workforce/enrollpay/app/models"
	"github.com/elevate-workforce/enrollpay/internal/pkg/billing"
	"gorm.io/gorm"
)

// PaymentSessionRepository defines the database operations on checkout attempts
type PaymentSessionRepository interface {
	GetByExternalID(ctx context.Context, provider, externalSessionID string) (*models.PaymentSession, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.PaymentSession, error)
	GetLatestByCustomer(ctx context.Context, customerID string) (*models.PaymentSession, error)
	// CreateIfNotExists inserts ps unless a row with the same provider session
	// exists, and returns the stored row either way.
	CreateIfNotExists(ctx context.Context, ps *models.PaymentSession, reason string) (*models.PaymentSession, bool, error)
	// Transition moves ps to status and appends the history row atomically.
	// It returns false when the stored status no longer allows the move.
	Transition(ctx context.Context, ps *models.PaymentSession, status, externalEventID, reason string, fields map[string]interface{}) (bool, error)
	UpdateRefs(ctx context.Context, id uint, customerID, subscriptionID, paymentIntentID string) error
	MarkDisputed(ctx context.Context, id uint, at time.Time) error
	ListTransitions(ctx context.Context, id uint) ([]models.PaymentSessionTransition, error)
}

// TenantRepository defines the database operations on tenants
type TenantRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Tenant, error)
	GetBySourcePaymentRef(ctx context.Context, ref string) (*models.Tenant, error)
	FindOrCreate(ctx context.Context, tenant *models.Tenant) (*models.Tenant, bool, error)
}

// LicenseRepository defines the database operations on licenses
type LicenseRepository interface {
	GetByID(ctx context.Context, id uint) (*models.License, error)
	GetByPaymentSession(ctx context.Context, paymentSessionID uint) (*models.License, error)
	GetLatestByCustomer(ctx context.Context, customerID string) (*models.License, error)
	FindOrCreate(ctx context.Context, license *models.License) (*models.License, bool, error)
	// UpdateStatus changes the status only if the current status is one of from.
	UpdateStatus(ctx context.Context, id uint, from []string, to string, fields map[string]interface{}) (bool, error)
	// RecordPayment stores the invoice payment and counts it on the license,
	// once per invoice. It reports whether this call counted it.
	RecordPayment(ctx context.Context, payment *models.LicensePayment) (bool, error)
}

// UserRepository defines the database operations on provisioned users
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	FindOrCreateByEmail(ctx context.Context, user *models.User) (*models.User, bool, error)
	LinkTenant(ctx context.Context, id, tenantID uint) error
	MarkActivationSent(ctx context.Context, id uint, at time.Time) error
}

// AuditRepository defines the append-only provisioning audit log
type AuditRepository interface {
	Append(ctx context.Context, entry *models.ProvisioningAuditEntry) error
	ListByCorrelation(ctx context.Context, correlationID string) ([]models.ProvisioningAuditEntry, error)
	// CompletedSteps returns the steps audited for a correlation ID.
	CompletedSteps(ctx context.Context, correlationID string) (map[string]models.ProvisioningAuditEntry, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Billing        billing.Repository
	PaymentSession PaymentSessionRepository
	Tenant         TenantRepository
	License        LicenseRepository
	User           UserRepository
	Audit          AuditRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Billing:        billing.NewRepository(db),
		PaymentSession: NewPaymentSessionRepository(db),
		Tenant:         NewTenantRepository(db),
		License:        NewLicenseRepository(db),
		User:           NewUserRepository(db),
		Audit:          NewAuditRepository(db),
	}
}
