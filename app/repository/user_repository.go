package repository

import (
	"context"
	"strings"
	"time"

	"github.com/elevate-workforce/enrollpay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email address
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindOrCreateByEmail inserts the user unless the email is already taken.
func (r *userRepository) FindOrCreateByEmail(ctx context.Context, user *models.User) (*models.User, bool, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(user)
	if res.Error != nil {
		return nil, false, res.Error
	}
	stored, err := r.GetByEmail(ctx, user.Email)
	if err != nil {
		return nil, false, err
	}
	return stored, res.RowsAffected > 0, nil
}

// LinkTenant attaches an existing user to a tenant if not linked yet.
func (r *userRepository) LinkTenant(ctx context.Context, id, tenantID uint) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND tenant_id IS NULL", id).
		Update("tenant_id", tenantID).Error
}

func (r *userRepository) MarkActivationSent(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("activation_sent_at", at).Error
}
