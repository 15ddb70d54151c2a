package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sidebar-notepads/backend/app/models"
	"github.com/sidebar-notepads/backend/internal/pkg/entitlements"
)

// Service mirrors provider billing state locally and keeps the cached
// entitlement table in step with it.
type Service struct {
	repo    Repository
	catalog entitlements.Catalog
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, catalog entitlements.Catalog) *Service {
	return &Service{repo: repo, catalog: catalog}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, catalog entitlements.Catalog) *Service {
	return NewService(NewRepository(db), catalog)
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}

// ApplyEvent mirrors one Polar event and rewrites the cached entitlement of
// its customer. Everything happens in one transaction holding the customer
// row lock, so concurrent events for the same customer serialize and the
// cache always reflects the full mirrored record set.
func (s *Service) ApplyEvent(ctx context.Context, ev *PolarWebhookEvent, eventID string) (entitlements.Decision, error) {
	if ev == nil || strings.TrimSpace(ev.Customer.ID) == "" {
		return entitlements.Free(), fmt.Errorf("%w: customer id missing", ErrMalformedEvent)
	}

	var decision entitlements.Decision
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		customer, err := lockCustomer(ctx, tx, ev.Customer)
		if err != nil {
			return err
		}

		switch {
		case ev.Order != nil:
			if err := applyOrder(ctx, tx, customer.ProviderCustomerID, ev.Type, *ev.Order); err != nil {
				return err
			}
		case ev.Subscription != nil:
			if err := applySubscription(ctx, tx, customer.ProviderCustomerID, ev.Type, *ev.Subscription); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: event %q carries no order or subscription", ErrMalformedEvent, ev.Type)
		}

		decision, err = s.rederive(ctx, tx, customer, eventID)
		return err
	})
	if err != nil {
		return entitlements.Free(), err
	}

	log.Info().
		Str("event_id", eventID).
		Str("event_type", ev.Type).
		Str("customer_id", ev.Customer.ID).
		Bool("has_pro", decision.HasPro).
		Str("plan", string(decision.Plan)).
		Msg("billing event applied")
	return decision, nil
}

// SyncCustomerRecord mirrors a full provider record (subscriptions and orders)
// and rewrites the cached entitlement with the same derivation rule the
// webhook path uses.
func (s *Service) SyncCustomerRecord(ctx context.Context, rec *entitlements.CustomerRecord, source string) (entitlements.Decision, error) {
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return entitlements.Free(), errors.New("customer record is required")
	}

	var decision entitlements.Decision
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		customer, err := lockCustomer(ctx, tx, *rec)
		if err != nil {
			return err
		}
		for _, sub := range rec.Subscriptions {
			if err := applySubscription(ctx, tx, customer.ProviderCustomerID, "", MirroredSubscription{
				SubscriptionRecord: sub,
				PeriodEnd:          parseTime(sub.CurrentPeriodEnd),
			}); err != nil {
				return err
			}
		}
		for _, order := range rec.Orders {
			if err := applyOrder(ctx, tx, customer.ProviderCustomerID, "", order); err != nil {
				return err
			}
		}
		decision, err = s.rederive(ctx, tx, customer, source)
		return err
	})
	return decision, err
}

// CachedDecision implements entitlements.CacheStore.
func (s *Service) CachedDecision(ctx context.Context, email string) (entitlements.Decision, bool, error) {
	ent, err := s.repo.GetCachedEntitlement(ctx, models.NormalizeEmail(email))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entitlements.Free(), false, nil
	}
	if err != nil {
		return entitlements.Free(), false, err
	}
	if !ent.HasPro {
		return entitlements.Free(), true, nil
	}
	return entitlements.NewDecision(entitlements.ParsePlan(ent.Plan)), true, nil
}

func lockCustomer(ctx context.Context, tx Repository, in entitlements.CustomerRecord) (*models.BillingCustomer, error) {
	customer := &models.BillingCustomer{
		Provider:           models.BillingProviderPolar,
		ProviderCustomerID: strings.TrimSpace(in.ID),
		Email:              models.NormalizeEmail(in.Email),
		ExternalID:         strings.TrimSpace(in.ExternalID),
	}
	if err := tx.UpsertCustomer(ctx, customer); err != nil {
		return nil, fmt.Errorf("upsert billing customer: %w", err)
	}
	locked, err := tx.LockCustomer(ctx, customer.Provider, customer.ProviderCustomerID)
	if err != nil {
		return nil, fmt.Errorf("lock billing customer: %w", err)
	}
	return locked, nil
}

func applyOrder(ctx context.Context, tx Repository, customerID, eventType string, in entitlements.OrderRecord) error {
	status := strings.ToLower(strings.TrimSpace(in.Status))
	if eventType == EventOrderPaid {
		status = models.OrderStatusPaid
	}
	order := &models.BillingOrder{
		Provider:               models.BillingProviderPolar,
		ProviderOrderID:        strings.TrimSpace(in.ID),
		ProviderCustomerID:     customerID,
		ProviderSubscriptionID: strings.TrimSpace(in.SubscriptionID),
		ProductID:              strings.TrimSpace(in.ProductID),
		ProductName:            strings.TrimSpace(in.ProductName),
		BillingReason:          strings.TrimSpace(in.BillingReason),
		Status:                 status,
	}
	if err := tx.UpsertOrder(ctx, order); err != nil {
		return fmt.Errorf("upsert billing order: %w", err)
	}

	// A paid subscription charge can arrive before any subscription event.
	if eventType == EventOrderPaid && order.ProviderSubscriptionID != "" {
		sub := &models.BillingSubscription{
			Provider:               models.BillingProviderPolar,
			ProviderSubscriptionID: order.ProviderSubscriptionID,
			ProviderCustomerID:     customerID,
			ProductID:              order.ProductID,
			Status:                 models.BillingStatusActive,
		}
		if err := tx.InsertSubscriptionIfAbsent(ctx, sub); err != nil {
			return fmt.Errorf("insert billing subscription: %w", err)
		}
	}
	return nil
}

func applySubscription(ctx context.Context, tx Repository, customerID, eventType string, in MirroredSubscription) error {
	status := strings.ToLower(strings.TrimSpace(in.Status))
	switch eventType {
	case EventSubscriptionActive:
		status = models.BillingStatusActive
	case EventSubscriptionCanceled:
		status = models.BillingStatusCanceled
	case EventSubscriptionRevoked:
		status = models.BillingStatusRevoked
	}
	if status == "" {
		status = models.BillingStatusIncomplete
	}
	sub := &models.BillingSubscription{
		Provider:               models.BillingProviderPolar,
		ProviderSubscriptionID: strings.TrimSpace(in.ID),
		ProviderCustomerID:     customerID,
		ProductID:              strings.TrimSpace(in.ProductID),
		Status:                 status,
		CurrentPeriodEnd:       in.PeriodEnd,
		CancelAtPeriodEnd:      in.CancelAtPeriodEnd,
	}
	if err := tx.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("upsert billing subscription: %w", err)
	}
	return nil
}

// rederive recomputes the decision from every mirrored row of the customer
// and writes it to the cache.
func (s *Service) rederive(ctx context.Context, tx Repository, customer *models.BillingCustomer, eventID string) (entitlements.Decision, error) {
	subs, err := tx.ListSubscriptionsByCustomer(ctx, customer.Provider, customer.ProviderCustomerID)
	if err != nil {
		return entitlements.Free(), fmt.Errorf("list billing subscriptions: %w", err)
	}
	orders, err := tx.ListOrdersByCustomer(ctx, customer.Provider, customer.ProviderCustomerID)
	if err != nil {
		return entitlements.Free(), fmt.Errorf("list billing orders: %w", err)
	}

	rec := &entitlements.CustomerRecord{
		ID:            customer.ProviderCustomerID,
		Email:         customer.Email,
		ExternalID:    customer.ExternalID,
		Subscriptions: make([]entitlements.SubscriptionRecord, 0, len(subs)),
		Orders:        make([]entitlements.OrderRecord, 0, len(orders)),
	}
	for _, sub := range subs {
		rec.Subscriptions = append(rec.Subscriptions, entitlements.SubscriptionRecord{
			ID:        sub.ProviderSubscriptionID,
			Status:    sub.Status,
			ProductID: sub.ProductID,
		})
	}
	for _, o := range orders {
		rec.Orders = append(rec.Orders, entitlements.OrderRecord{
			ID:             o.ProviderOrderID,
			Status:         o.Status,
			ProductID:      o.ProductID,
			ProductName:    o.ProductName,
			BillingReason:  o.BillingReason,
			SubscriptionID: o.ProviderSubscriptionID,
		})
	}
	decision := s.catalog.Derive(rec)

	if customer.Email == "" {
		log.Warn().
			Str("customer_id", customer.ProviderCustomerID).
			Msg("billing customer has no email, cached entitlement not written")
		return decision, nil
	}

	userID, err := tx.FindUserIDByEmail(ctx, customer.Email)
	if err != nil {
		return entitlements.Free(), fmt.Errorf("find user by email: %w", err)
	}
	if userID == nil && customer.ExternalID != "" {
		externalID := customer.ExternalID
		userID = &externalID
	}

	ent := &models.CachedEntitlement{
		Email:              customer.Email,
		UserID:             userID,
		ProviderCustomerID: customer.ProviderCustomerID,
		HasPro:             decision.HasPro,
		Plan:               string(decision.Plan),
		LastEventID:        eventID,
	}
	if err := tx.UpsertCachedEntitlement(ctx, ent); err != nil {
		return entitlements.Free(), fmt.Errorf("upsert cached entitlement: %w", err)
	}
	return decision, nil
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}
