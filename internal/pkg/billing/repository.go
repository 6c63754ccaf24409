package billing

import (
	"context"
	"errors"
	"time"

	"github.com/elevate-workforce/enrollpay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by checkout and the idempotency guard.
type Repository interface {
	GetBillingAccount(ctx context.Context, userID, provider string) (*models.BillingAccount, error)
	UpsertBillingAccount(ctx context.Context, account *models.BillingAccount) error
	CreatePaymentSession(ctx context.Context, ps *models.PaymentSession, reason string) error
	CreateEventIfNotExists(ctx context.Context, event *models.ProcessedEvent) (bool, *models.ProcessedEvent, error)
	ReclaimFailedEvent(ctx context.Context, id uint) (bool, error)
	ReclaimStaleEvent(ctx context.Context, id uint, attempts int, updatedBefore time.Time) (bool, error)
	GetEvent(ctx context.Context, provider, externalEventID string) (*models.ProcessedEvent, error)
	CompleteEvent(ctx context.Context, id uint, outcome, errorDetail string) error
	CountEventsByOutcome(ctx context.Context) (map[string]int64, error)
	ListFailedEvents(ctx context.Context, updatedBefore time.Time, maxAttempts, limit int) ([]models.ProcessedEvent, error)
	ListStaleEvents(ctx context.Context, updatedBefore time.Time, maxAttempts, limit int) ([]models.ProcessedEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetBillingAccount(ctx context.Context, userID, provider string) (*models.BillingAccount, error) {
	var account models.BillingAccount
	err := r.db.WithContext(ctx).Where("user_id = ? AND provider = ?", userID, provider).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) UpsertBillingAccount(ctx context.Context, account *models.BillingAccount) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "provider"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_customer_id",
			"email",
			"updated_at",
		}),
	}).Create(account).Error; err != nil {
		return err
	}

	return db.Where("user_id = ? AND provider = ?", account.UserID, account.Provider).First(account).Error
}

func (r *gormRepository) CreatePaymentSession(ctx context.Context, ps *models.PaymentSession, reason string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ps).Error; err != nil {
			return err
		}
		return tx.Create(&models.PaymentSessionTransition{
			PaymentSessionID: ps.ID,
			ToStatus:         ps.Status,
			Reason:           reason,
		}).Error
	})
}

func (r *gormRepository) CreateEventIfNotExists(ctx context.Context, event *models.ProcessedEvent) (bool, *models.ProcessedEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "external_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.ProcessedEvent
	if err := db.Where("provider = ? AND external_event_id = ?", event.Provider, event.ExternalEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// ReclaimFailedEvent flips a failed event back to processing. Only one of
// several concurrent redeliveries can win the conditional update.
func (r *gormRepository) ReclaimFailedEvent(ctx context.Context, id uint) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("id = ? AND outcome = ?", id, models.EventOutcomeFailed).
		Updates(map[string]interface{}{
			"outcome":      models.EventOutcomeProcessing,
			"attempts":     gorm.Expr("attempts + 1"),
			"processed_at": nil,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// ReclaimStaleEvent takes over a processing event whose claim was last
// touched before updatedBefore. attempts must match the value the caller
// read, so of several concurrent takeovers only one wins.
func (r *gormRepository) ReclaimStaleEvent(ctx context.Context, id uint, attempts int, updatedBefore time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("id = ? AND outcome = ? AND attempts = ? AND updated_at < ?",
			id, models.EventOutcomeProcessing, attempts, updatedBefore).
		Updates(map[string]interface{}{
			"attempts":     gorm.Expr("attempts + 1"),
			"error_detail": "processing lease expired",
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *gormRepository) GetEvent(ctx context.Context, provider, externalEventID string) (*models.ProcessedEvent, error) {
	var event models.ProcessedEvent
	err := r.db.WithContext(ctx).Where("provider = ? AND external_event_id = ?", provider, externalEventID).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) CompleteEvent(ctx context.Context, id uint, outcome, errorDetail string) error {
	now := time.Now()
	tx := r.db.WithContext(ctx).Model(&models.ProcessedEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"outcome":      outcome,
		"error_detail": errorDetail,
		"processed_at": &now,
	})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return errors.New("processed event not found")
	}
	return nil
}

func (r *gormRepository) CountEventsByOutcome(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Outcome string
		Total   int64
	}
	err := r.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Select("outcome, COUNT(*) AS total").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Outcome] = row.Total
	}
	return out, nil
}

// ListFailedEvents returns failed events that have not been touched since
// updatedBefore and still have attempts left, oldest first.
func (r *gormRepository) ListFailedEvents(ctx context.Context, updatedBefore time.Time, maxAttempts, limit int) ([]models.ProcessedEvent, error) {
	return r.listEvents(ctx, models.EventOutcomeFailed, updatedBefore, maxAttempts, limit)
}

// ListStaleEvents returns processing events whose claim was not touched
// since updatedBefore.
func (r *gormRepository) ListStaleEvents(ctx context.Context, updatedBefore time.Time, maxAttempts, limit int) ([]models.ProcessedEvent, error) {
	return r.listEvents(ctx, models.EventOutcomeProcessing, updatedBefore, maxAttempts, limit)
}

func (r *gormRepository) listEvents(ctx context.Context, outcome string, updatedBefore time.Time, maxAttempts, limit int) ([]models.ProcessedEvent, error) {
	var events []models.ProcessedEvent
	q := r.db.WithContext(ctx).
		Where("outcome = ? AND updated_at < ?", outcome, updatedBefore)
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order("updated_at ASC").Find(&events).Error
	return events, err
}
