package repository

import (
	"context"
	"time"

	"github.com/sidebar-notepads/backend/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpsertOAuthUser(ctx context.Context, name, email, avatarURL string, loginAt time.Time) (*models.User, error)
}

// AccountRepository defines the interface for linked provider account operations
type AccountRepository interface {
	GetByUserAndProvider(ctx context.Context, userID, provider string) (*models.ProviderAccount, error)
	Upsert(ctx context.Context, account *models.ProviderAccount) error
}
