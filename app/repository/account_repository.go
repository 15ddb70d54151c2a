package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sidebar-notepads/backend/app/models"
)

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetByUserAndProvider(ctx context.Context, userID, provider string) (*models.ProviderAccount, error) {
	var account models.ProviderAccount
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Order("updated_at DESC").
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Upsert keys on (provider, provider_user_id). A missing refresh token keeps
// the stored one since Google only sends it on consent.
func (r *accountRepository) Upsert(ctx context.Context, account *models.ProviderAccount) error {
	columns := []string{"user_id", "access_token_enc", "access_token_expires_at", "scope", "updated_at"}
	if account.RefreshTokenEnc != "" {
		columns = append(columns, "refresh_token_enc")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_user_id"},
		},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(account).Error
}
