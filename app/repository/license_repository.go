package repository

import (
	"context"

	"github.com/elevate-workforce/enrollpay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// licenseRepository implements the LicenseRepository interface
type licenseRepository struct {
	db *gorm.DB
}

// NewLicenseRepository creates a new license repository instance
func NewLicenseRepository(db *gorm.DB) LicenseRepository {
	return &licenseRepository{db: db}
}

func (r *licenseRepository) GetByID(ctx context.Context, id uint) (*models.License, error) {
	var license models.License
	if err := r.db.WithContext(ctx).First(&license, id).Error; err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *licenseRepository) GetByPaymentSession(ctx context.Context, paymentSessionID uint) (*models.License, error) {
	var license models.License
	err := r.db.WithContext(ctx).Where("payment_session_id = ?", paymentSessionID).First(&license).Error
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *licenseRepository) GetLatestByCustomer(ctx context.Context, customerID string) (*models.License, error) {
	if customerID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var license models.License
	err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		Order("id DESC").
		First(&license).Error
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// FindOrCreate inserts the license unless one exists for the payment session.
func (r *licenseRepository) FindOrCreate(ctx context.Context, license *models.License) (*models.License, bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_session_id"}},
		DoNothing: true,
	}).Create(license)
	if res.Error != nil {
		return nil, false, res.Error
	}
	stored, err := r.GetByPaymentSession(ctx, license.PaymentSessionID)
	if err != nil {
		return nil, false, err
	}
	return stored, res.RowsAffected > 0, nil
}

func (r *licenseRepository) UpdateStatus(ctx context.Context, id uint, from []string, to string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&models.License{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RecordPayment inserts the payment row and bumps weeks_paid in the same
// transaction. A second payment for the same invoice changes nothing.
func (r *licenseRepository) RecordPayment(ctx context.Context, payment *models.LicensePayment) (bool, error) {
	recorded := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "provider"},
				{Name: "external_invoice_id"},
			},
			DoNothing: true,
		}).Create(payment)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Model(&models.License{}).Where("id = ?", payment.LicenseID).Updates(map[string]interface{}{
			"weeks_paid":      gorm.Expr("weeks_paid + 1"),
			"last_payment_at": payment.PaidAt,
		}).Error; err != nil {
			return err
		}
		recorded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}
