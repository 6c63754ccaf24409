package repository

import (
	"context"

	"github.com/elevate-workforce/enrollpay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// tenantRepository implements the TenantRepository interface
type tenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a new tenant repository instance
func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) GetByID(ctx context.Context, id uint) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, id).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *tenantRepository) GetBySourcePaymentRef(ctx context.Context, ref string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).Where("source_payment_ref = ?", ref).First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// FindOrCreate inserts the tenant unless one exists for the same payment.
func (r *tenantRepository) FindOrCreate(ctx context.Context, tenant *models.Tenant) (*models.Tenant, bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_payment_ref"}},
		DoNothing: true,
	}).Create(tenant)
	if res.Error != nil {
		return nil, false, res.Error
	}
	stored, err := r.GetBySourcePaymentRef(ctx, tenant.SourcePaymentRef)
	if err != nil {
		return nil, false, err
	}
	return stored, res.RowsAffected > 0, nil
}
