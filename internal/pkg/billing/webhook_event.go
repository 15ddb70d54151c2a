package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sidebar-notepads/backend/internal/pkg/entitlements"
)

var ErrMalformedEvent = errors.New("malformed billing event")

// PolarWebhookEvent is a decoded Polar webhook. Exactly one of Order and
// Subscription is set for handled event types.
type PolarWebhookEvent struct {
	Type         string
	Timestamp    time.Time
	Customer     entitlements.CustomerRecord
	Order        *entitlements.OrderRecord
	Subscription *MirroredSubscription
}

// MirroredSubscription extends the neutral record with fields only the local
// mirror keeps.
type MirroredSubscription struct {
	entitlements.SubscriptionRecord
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
}

// ReadWebhookEventType extracts only the "type" field so unknown events can be
// acknowledged without decoding their data.
func ReadWebhookEventType(payload []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(head.Type) == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return strings.TrimSpace(head.Type), nil
}

// ParsePolarWebhookEvent decodes an order.* or subscription.* payload.
func ParsePolarWebhookEvent(payload []byte) (*PolarWebhookEvent, error) {
	var raw struct {
		Type      string          `json:"type"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev := &PolarWebhookEvent{Type: strings.TrimSpace(raw.Type), Timestamp: raw.Timestamp}
	var (
		customer   *polarCustomer
		customerID string
	)

	switch {
	case orderEvents[ev.Type]:
		var o polarOrder
		if err := json.Unmarshal(raw.Data, &o); err != nil {
			return nil, fmt.Errorf("%w: order data: %v", ErrMalformedEvent, err)
		}
		if strings.TrimSpace(o.ID) == "" {
			return nil, fmt.Errorf("%w: order id missing", ErrMalformedEvent)
		}
		rec := o.record()
		ev.Order = &rec
		customer, customerID = o.Customer, o.CustomerID
	case subscriptionEvents[ev.Type]:
		var s polarSubscription
		if err := json.Unmarshal(raw.Data, &s); err != nil {
			return nil, fmt.Errorf("%w: subscription data: %v", ErrMalformedEvent, err)
		}
		if strings.TrimSpace(s.ID) == "" {
			return nil, fmt.Errorf("%w: subscription id missing", ErrMalformedEvent)
		}
		ev.Subscription = &MirroredSubscription{
			SubscriptionRecord: s.record(),
			PeriodEnd:          s.CurrentPeriodEnd,
			CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		}
		customer, customerID = s.Customer, s.CustomerID
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrMalformedEvent, ev.Type)
	}

	ev.Customer.ID = strings.TrimSpace(customerID)
	if customer != nil {
		if ev.Customer.ID == "" {
			ev.Customer.ID = strings.TrimSpace(customer.ID)
		}
		ev.Customer.Email = strings.ToLower(strings.TrimSpace(customer.Email))
		ev.Customer.ExternalID = strings.TrimSpace(customer.ExternalID)
	}
	if ev.Customer.ID == "" {
		return nil, fmt.Errorf("%w: customer id missing", ErrMalformedEvent)
	}
	return ev, nil
}
