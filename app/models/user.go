package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	STATUS_ACTIVE   = "active"
	STATUS_DISABLED = "disabled"
)

// User is a person who signed in through an OAuth provider. The ID is an
// opaque UUID string and is what the extension sees as the user id.
type User struct {
	ID          string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string         `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Email       string         `gorm:"type:varchar(200);uniqueIndex" json:"email" validate:"required,email,max=200"`
	AvatarURL   string         `gorm:"type:varchar(500);default:''" json:"avatar_url" validate:"max=500"`
	Status      string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active disabled"`
	LastLoginAt *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns a UUID when none was set.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewOAuthUser builds an active user from provider profile data.
func NewOAuthUser(name, email, avatarURL string) (*User, error) {
	u := &User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Email:     NormalizeEmail(email),
		AvatarURL: strings.TrimSpace(avatarURL),
		Status:    STATUS_ACTIVE,
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

// NormalizeEmail lowercases and trims an email so it can be used as a lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
