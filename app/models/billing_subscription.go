package models

import "time"

const (
	BillingStatusActive     = "active"
	BillingStatusTrialing   = "trialing"
	BillingStatusPastDue    = "past_due"
	BillingStatusCanceled   = "canceled"
	BillingStatusIncomplete = "incomplete"
	BillingStatusUnpaid     = "unpaid"
	BillingStatusRevoked    = "revoked"
)

// BillingSubscription mirrors a provider subscription for one customer.
type BillingSubscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	Provider               string     `gorm:"type:varchar(20);not null;index:ux_billing_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_billing_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	ProviderCustomerID     string     `gorm:"type:varchar(191);not null;index" json:"provider_customer_id"`
	ProductID              string     `gorm:"type:varchar(191);not null;default:''" json:"product_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active'" json:"status"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
