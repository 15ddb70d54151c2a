package models

import (
	"strings"
	"time"
)

const ProviderGoogle = "google"

// ProviderAccount stores external OAuth provider identities linked to a user.
// Tokens are stored encrypted; see security.TokenCipher.
type ProviderAccount struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               string     `gorm:"type:varchar(36);index" json:"user_id"`
	Provider             string     `gorm:"index:provider_uid,unique;type:varchar(50)" json:"provider"`
	ProviderUserID       string     `gorm:"index:provider_uid,unique;type:varchar(191)" json:"provider_user_id"`
	AccessTokenEnc       string     `gorm:"type:text" json:"-"`
	RefreshTokenEnc      string     `gorm:"type:text" json:"-"`
	AccessTokenExpiresAt *time.Time `gorm:"type:timestamp;default:null" json:"access_token_expires_at,omitempty"`
	Scope                string     `gorm:"type:text" json:"scope"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Scopes splits the space separated scope column.
func (pa *ProviderAccount) Scopes() []string {
	if pa == nil {
		return []string{}
	}
	fields := strings.Fields(pa.Scope)
	if fields == nil {
		return []string{}
	}
	return fields
}

// IsAccessTokenExpired reports whether the stored access token expiry lies before now.
// Accounts without a recorded expiry are treated as not expired.
func (pa *ProviderAccount) IsAccessTokenExpired(now time.Time) bool {
	if pa == nil || pa.AccessTokenExpiresAt == nil {
		return false
	}
	return pa.AccessTokenExpiresAt.Before(now)
}
