package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sidebar-notepads/backend/app/models"
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
func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email address
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertOAuthUser finds the user by email or creates it, then records the
// login and refreshes the profile fields from the provider.
func (r *userRepository) UpsertOAuthUser(ctx context.Context, name, email, avatarURL string, loginAt time.Time) (*models.User, error) {
	var out *models.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.Where("email = ?", models.NormalizeEmail(email)).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created, err := models.NewOAuthUser(name, email, avatarURL)
			if err != nil {
				return err
			}
			created.LastLoginAt = &loginAt
			if err := tx.Create(created).Error; err != nil {
				return err
			}
			out = created
			return nil
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"last_login_at": loginAt}
		if name != "" {
			updates["name"] = name
		}
		if avatarURL != "" {
			updates["avatar_url"] = avatarURL
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return err
		}
		out = &user
		return nil
	})
	return out, err
}
