package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderPolar = "polar"
)

// BillingCustomer mirrors a provider customer. It is the row locked while an
// entitlement-mutating event for that customer is applied.
type BillingCustomer struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Provider           string    `gorm:"type:varchar(20);not null;index:ux_billing_customers_provider_customer,unique,priority:1" json:"provider"`
	ProviderCustomerID string    `gorm:"type:varchar(191);not null;index:ux_billing_customers_provider_customer,unique,priority:2" json:"provider_customer_id"`
	Email              string    `gorm:"type:varchar(200);not null;default:'';index" json:"email"`
	ExternalID         string    `gorm:"type:varchar(191);not null;default:''" json:"external_id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
