package repository

import (
	"context"
	"time"

	"github.com/elevate-workforce/enrollpay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentSessionRepository implements the PaymentSessionRepository interface
type paymentSessionRepository struct {
	db *gorm.DB
}

// NewPaymentSessionRepository creates a new payment session repository instance
func NewPaymentSessionRepository(db *gorm.DB) PaymentSessionRepository {
	return &paymentSessionRepository{db: db}
}

func (r *paymentSessionRepository) GetByExternalID(ctx context.Context, provider, externalSessionID string) (*models.PaymentSession, error) {
	var ps models.PaymentSession
	err := r.db.WithContext(ctx).
		Where("provider = ? AND external_session_id = ?", provider, externalSessionID).
		First(&ps).Error
	if err != nil {
		return nil, err
	}
	return &ps, nil
}

func (r *paymentSessionRepository) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.PaymentSession, error) {
	if paymentIntentID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var ps models.PaymentSession
	err := r.db.WithContext(ctx).Where("payment_intent_id = ?", paymentIntentID).First(&ps).Error
	if err != nil {
		return nil, err
	}
	return &ps, nil
}

// GetLatestByCustomer returns the most recent completed session of a customer.
func (r *paymentSessionRepository) GetLatestByCustomer(ctx context.Context, customerID string) (*models.PaymentSession, error) {
	if customerID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var ps models.PaymentSession
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, models.PaymentSessionStatusCompleted).
		Order("id DESC").
		First(&ps).Error
	if err != nil {
		return nil, err
	}
	return &ps, nil
}

func (r *paymentSessionRepository) CreateIfNotExists(ctx context.Context, ps *models.PaymentSession, reason string) (*models.PaymentSession, bool, error) {
	var created bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "provider"},
				{Name: "external_session_id"},
			},
			DoNothing: true,
		}).Create(ps)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0
		if !created {
			return nil
		}
		return tx.Create(&models.PaymentSessionTransition{
			PaymentSessionID: ps.ID,
			ToStatus:         ps.Status,
			Reason:           reason,
		}).Error
	})
	if err != nil {
		return nil, false, err
	}

	stored, err := r.GetByExternalID(ctx, ps.Provider, ps.ExternalSessionID)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (r *paymentSessionRepository) Transition(ctx context.Context, ps *models.PaymentSession, status, externalEventID, reason string, fields map[string]interface{}) (bool, error) {
	if !ps.CanTransitionTo(status) {
		return false, nil
	}

	updates := map[string]interface{}{"status": status}
	for k, v := range fields {
		updates[k] = v
	}

	var moved bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PaymentSession{}).
			Where("id = ? AND status = ?", ps.ID, ps.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		moved = true
		return tx.Create(&models.PaymentSessionTransition{
			PaymentSessionID: ps.ID,
			FromStatus:       ps.Status,
			ToStatus:         status,
			ExternalEventID:  externalEventID,
			Reason:           reason,
		}).Error
	})
	if err != nil {
		return false, err
	}
	if moved {
		if err := r.db.WithContext(ctx).First(ps, ps.ID).Error; err != nil {
			return true, err
		}
	}
	return moved, nil
}

// UpdateRefs fills provider references that are still empty.
func (r *paymentSessionRepository) UpdateRefs(ctx context.Context, id uint, customerID, subscriptionID, paymentIntentID string) error {
	updates := map[string]interface{}{}
	if customerID != "" {
		updates["customer_id"] = customerID
	}
	if subscriptionID != "" {
		updates["subscription_id"] = subscriptionID
	}
	if paymentIntentID != "" {
		updates["payment_intent_id"] = paymentIntentID
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.PaymentSession{}).Where("id = ?", id).Updates(updates).Error
}

func (r *paymentSessionRepository) MarkDisputed(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.PaymentSession{}).
		Where("id = ? AND disputed_at IS NULL", id).
		Update("disputed_at", at).Error
}

func (r *paymentSessionRepository) ListTransitions(ctx context.Context, id uint) ([]models.PaymentSessionTransition, error) {
	var transitions []models.PaymentSessionTransition
	err := r.db.WithContext(ctx).Where("payment_session_id = ?", id).Order("id ASC").Find(&transitions).Error
	return transitions, err
}
