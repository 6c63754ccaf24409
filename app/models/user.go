package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

const (
	ROLE_TENANT_ADMIN = "tenant_admin"
	STATUS_ACTIVE     = "active"
	STATUS_INACTIVE   = "inactive"
)

// User is a platform account created by provisioning. Sign-in itself is
// handled by the hosted auth provider; ExternalUserID links the two.
type User struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	ExternalUserID   string     `gorm:"type:varchar(64);default:'';index" json:"external_user_id"`
	TenantID         *uint      `gorm:"index" json:"tenant_id,omitempty"`
	Name             string     `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Email            string     `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,max=200"`
	Password         string     `gorm:"type:text" json:"-" validate:"required"`
	Role             string     `gorm:"type:varchar(50);default:'tenant_admin'" json:"role" validate:"oneof=tenant_admin"`
	Status           string     `gorm:"type:varchar(50);default:'inactive'" json:"status" validate:"oneof=active inactive"`
	ActivationToken  string     `gorm:"type:varchar(100);index" json:"-"`
	ActivationSentAt *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewTenantAdmin builds an inactive admin account with a random password and a
// fresh activation token. The password is never shown; the admin sets one
// through the activation link.
func NewTenantAdmin(externalUserID, name, email string, tenantID uint) (*User, error) {
	secret, err := randomHex(24)
	if err != nil {
		return nil, err
	}
	pw, err := HashPassword(secret)
	if err != nil {
		return nil, err
	}

	u := &User{
		ExternalUserID: externalUserID,
		TenantID:       &tenantID,
		Name:           name,
		Email:          email,
		Password:       pw,
		Role:           ROLE_TENANT_ADMIN,
		Status:         STATUS_INACTIVE,
	}
	if err := u.GenerateActivationToken(); err != nil {
		return nil, err
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateActivationToken creates a random token and sets ActivationSentAt
func (u *User) GenerateActivationToken() error {
	token, err := randomHex(16)
	if err != nil {
		return err
	}
	u.ActivationToken = token
	now := time.Now()
	u.ActivationSentAt = &now
	return nil
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
