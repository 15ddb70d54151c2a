package models

import "time"

const (
	OrderStatusPending           = "pending"
	OrderStatusPaid              = "paid"
	OrderStatusRefunded          = "refunded"
	OrderStatusPartiallyRefunded = "partially_refunded"
)

// BillingOrder mirrors a provider order (one-time purchase or subscription charge).
type BillingOrder struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	Provider               string    `gorm:"type:varchar(20);not null;index:ux_billing_orders_provider_order,unique,priority:1" json:"provider"`
	ProviderOrderID        string    `gorm:"type:varchar(191);not null;index:ux_billing_orders_provider_order,unique,priority:2" json:"provider_order_id"`
	ProviderCustomerID     string    `gorm:"type:varchar(191);not null;index" json:"provider_customer_id"`
	ProviderSubscriptionID string    `gorm:"type:varchar(191);not null;default:''" json:"provider_subscription_id"`
	ProductID              string    `gorm:"type:varchar(191);not null;default:''" json:"product_id"`
	ProductName            string    `gorm:"type:varchar(255);not null;default:''" json:"product_name"`
	BillingReason          string    `gorm:"type:varchar(50);not null;default:''" json:"billing_reason"`
	Status                 string    `gorm:"type:varchar(32);not null;default:'paid'" json:"status"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
