package entitlements

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Plan string

const (
	PlanNone        Plan = ""
	PlanProYearly   Plan = "pro_yearly"
	PlanProLifetime Plan = "pro_lifetime"
)

// ParsePlan accepts the two Pro plan names; everything else is PlanNone.
func ParsePlan(raw string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(raw))) {
	case PlanProYearly:
		return PlanProYearly
	case PlanProLifetime:
		return PlanProLifetime
	default:
		return PlanNone
	}
}

// MarshalJSON encodes PlanNone as null.
func (p Plan) MarshalJSON() ([]byte, error) {
	if p == PlanNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(p))
}

func (p *Plan) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = PlanNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed := ParsePlan(s)
	if parsed == PlanNone && s != "" {
		return fmt.Errorf("unknown plan %q", s)
	}
	*p = parsed
	return nil
}

// Decision is the single answer to "does this user have Pro, and which plan".
// A non-empty Plan always implies HasPro.
type Decision struct {
	HasPro bool `json:"hasPro"`
	Plan   Plan `json:"plan"`
}

// Free is the default decision for users without any billing record.
func Free() Decision {
	return Decision{}
}

// NewDecision enforces the plan => hasPro invariant.
func NewDecision(plan Plan) Decision {
	if plan == PlanNone {
		return Free()
	}
	return Decision{HasPro: true, Plan: plan}
}

// SubscriptionRecord is the provider-neutral view of a recurring subscription.
type SubscriptionRecord struct {
	ID               string
	Status           string
	ProductID        string
	CurrentPeriodEnd string
}

// OrderRecord is the provider-neutral view of a paid order.
type OrderRecord struct {
	ID             string
	Status         string
	ProductID      string
	ProductName    string
	BillingReason  string
	SubscriptionID string
}

// CustomerRecord is a billing customer with everything needed to derive a Decision.
type CustomerRecord struct {
	ID            string
	Email         string
	ExternalID    string
	Subscriptions []SubscriptionRecord
	Orders        []OrderRecord
}

// Catalog holds the configured product identities for each plan.
type Catalog struct {
	YearlyProductIDs   []string
	LifetimeProductIDs []string
}

// ProductForPlan returns the first configured product id for a plan.
func (c Catalog) ProductForPlan(plan Plan) (string, bool) {
	var ids []string
	switch plan {
	case PlanProYearly:
		ids = c.YearlyProductIDs
	case PlanProLifetime:
		ids = c.LifetimeProductIDs
	}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			return id, true
		}
	}
	return "", false
}

// PlanForProduct maps a product id back to the plan it sells.
func (c Catalog) PlanForProduct(productID string) Plan {
	switch {
	case contains(c.LifetimeProductIDs, productID):
		return PlanProLifetime
	case contains(c.YearlyProductIDs, productID):
		return PlanProYearly
	default:
		return PlanNone
	}
}

// IsActiveSubscription is a strict status check: only "active" counts.
func IsActiveSubscription(sub SubscriptionRecord) bool {
	return sub.Status == "active"
}

// IsLifetimeOrder reports whether an order grants lifetime access. The order
// must be paid, must not belong to a subscription, and its product must be a
// configured lifetime product. Without configured lifetime products the order
// must be a one-time purchase or carry "lifetime" in its product name.
func (c Catalog) IsLifetimeOrder(order OrderRecord) bool {
	switch strings.ToLower(strings.TrimSpace(order.Status)) {
	case "paid", "partially_refunded":
	default:
		return false
	}
	if strings.TrimSpace(order.SubscriptionID) != "" {
		return false
	}
	if len(nonEmpty(c.LifetimeProductIDs)) > 0 {
		return contains(c.LifetimeProductIDs, order.ProductID)
	}
	return strings.EqualFold(order.BillingReason, "purchase") ||
		strings.Contains(strings.ToLower(order.ProductName), "lifetime")
}

// ActiveSubscription returns the first active subscription, if any.
func ActiveSubscription(rec *CustomerRecord) (SubscriptionRecord, bool) {
	if rec == nil {
		return SubscriptionRecord{}, false
	}
	for _, sub := range rec.Subscriptions {
		if IsActiveSubscription(sub) {
			return sub, true
		}
	}
	return SubscriptionRecord{}, false
}

// LifetimeOrder returns the first order that grants lifetime access, if any.
func (c Catalog) LifetimeOrder(rec *CustomerRecord) (OrderRecord, bool) {
	if rec == nil {
		return OrderRecord{}, false
	}
	for _, order := range rec.Orders {
		if c.IsLifetimeOrder(order) {
			return order, true
		}
	}
	return OrderRecord{}, false
}

// Derive computes the Decision from a full customer record. A nil record is a
// free user. An active subscription wins the plan label over a lifetime order.
func (c Catalog) Derive(rec *CustomerRecord) Decision {
	if rec == nil {
		return Free()
	}
	if _, ok := ActiveSubscription(rec); ok {
		return NewDecision(PlanProYearly)
	}
	if _, ok := c.LifetimeOrder(rec); ok {
		return NewDecision(PlanProLifetime)
	}
	return Free()
}

// SplitIDs parses a comma separated id list from configuration.
func SplitIDs(raw string) []string {
	return nonEmpty(strings.Split(raw, ","))
}

func nonEmpty(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	for _, candidate := range ids {
		if strings.TrimSpace(candidate) == id {
			return true
		}
	}
	return false
}
