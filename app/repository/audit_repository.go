package repository

import (
	"context"

	"github.com/elevate-workforce/enrollpay/app/models"
	"gorm.io/gorm"
)

// auditRepository implements the AuditRepository interface
type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository instance
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *models.ProvisioningAuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) ListByCorrelation(ctx context.Context, correlationID string) ([]models.ProvisioningAuditEntry, error) {
	var entries []models.ProvisioningAuditEntry
	err := r.db.WithContext(ctx).Where("correlation_id = ?", correlationID).Order("id ASC").Find(&entries).Error
	return entries, err
}

func (r *auditRepository) CompletedSteps(ctx context.Context, correlationID string) (map[string]models.ProvisioningAuditEntry, error) {
	entries, err := r.ListByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	steps := make(map[string]models.ProvisioningAuditEntry, len(entries))
	for _, e := range entries {
		if e.Step == models.AuditStepProvisioningFailed {
			continue
		}
		steps[e.Step] = e
	}
	return steps, nil
}
