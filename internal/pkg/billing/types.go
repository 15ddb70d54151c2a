package billing

// Polar webhook event types that change entitlement state.
const (
	EventOrderPaid              = "order.paid"
	EventOrderRefunded          = "order.refunded"
	EventOrderUpdated           = "order.updated"
	EventSubscriptionCreated    = "subscription.created"
	EventSubscriptionActive     = "subscription.active"
	EventSubscriptionUpdated    = "subscription.updated"
	EventSubscriptionCanceled   = "subscription.canceled"
	EventSubscriptionUncanceled = "subscription.uncanceled"
	EventSubscriptionRevoked    = "subscription.revoked"
)

var orderEvents = map[string]bool{
	EventOrderPaid:     true,
	EventOrderRefunded: true,
	EventOrderUpdated:  true,
}

var subscriptionEvents = map[string]bool{
	EventSubscriptionCreated:    true,
	EventSubscriptionActive:     true,
	EventSubscriptionUpdated:    true,
	EventSubscriptionCanceled:   true,
	EventSubscriptionUncanceled: true,
	EventSubscriptionRevoked:    true,
}

// IsHandledEvent reports whether an event type is applied to the local mirror.
func IsHandledEvent(eventType string) bool {
	return orderEvents[eventType] || subscriptionEvents[eventType]
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
}
