package models

import "time"

// CachedEntitlement is the locally persisted Pro decision for a billing email.
// It is rewritten as a whole (has_pro and plan together) after every applied
// billing event and is never expired independently.
type CachedEntitlement struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Email              string    `gorm:"type:varchar(200);not null;uniqueIndex" json:"email"`
	UserID             *string   `gorm:"type:varchar(36);default:null;index" json:"user_id,omitempty"`
	ProviderCustomerID string    `gorm:"type:varchar(191);not null;default:''" json:"provider_customer_id"`
	HasPro             bool      `gorm:"not null;default:false" json:"has_pro"`
	Plan               string    `gorm:"type:varchar(32);not null;default:''" json:"plan"`
	LastEventID        string    `gorm:"type:varchar(191);not null;default:''" json:"last_event_id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
