package billing

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/sidebar-notepads/backend/app/models"
)

// memRepository is an in-memory Repository. Transactions roll back by
// restoring a snapshot when fn fails.
type memRepository struct {
	mu sync.Mutex

	nextID        uint
	events        map[string]*models.BillingWebhookEvent
	customers     map[string]models.BillingCustomer
	subscriptions map[string]models.BillingSubscription
	orders        map[string]models.BillingOrder
	cache         map[string]models.CachedEntitlement
	users         map[string]string

	failOnUpsertCache error
	locks             []string
}

func newMemRepository() *memRepository {
	return &memRepository{
		events:        map[string]*models.BillingWebhookEvent{},
		customers:     map[string]models.BillingCustomer{},
		subscriptions: map[string]models.BillingSubscription{},
		orders:        map[string]models.BillingOrder{},
		cache:         map[string]models.CachedEntitlement{},
		users:         map[string]string{},
	}
}

func (m *memRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	m.mu.Lock()
	customers := maps.Clone(m.customers)
	subs := maps.Clone(m.subscriptions)
	orders := maps.Clone(m.orders)
	cache := maps.Clone(m.cache)
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.customers, m.subscriptions, m.orders, m.cache = customers, subs, orders, cache
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := event.Provider + "|" + event.ProviderEventID
	if stored, ok := m.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	m.nextID++
	stored := *event
	stored.ID = m.nextID
	m.events[key] = &stored
	cp := stored
	return true, &cp, nil
}

func (m *memRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (m *memRepository) UpsertCustomer(ctx context.Context, customer *models.BillingCustomer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := customer.Provider + "|" + customer.ProviderCustomerID
	existing, ok := m.customers[key]
	if !ok {
		m.customers[key] = *customer
		return nil
	}
	if customer.Email != "" {
		existing.Email = customer.Email
	}
	if customer.ExternalID != "" {
		existing.ExternalID = customer.ExternalID
	}
	m.customers[key] = existing
	return nil
}

func (m *memRepository) LockCustomer(ctx context.Context, provider, providerCustomerID string) (*models.BillingCustomer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[provider+"|"+providerCustomerID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	m.locks = append(m.locks, providerCustomerID)
	return &c, nil
}

func (m *memRepository) UpsertSubscription(ctx context.Context, sub *models.BillingSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.Provider+"|"+sub.ProviderSubscriptionID] = *sub
	return nil
}

func (m *memRepository) InsertSubscriptionIfAbsent(ctx context.Context, sub *models.BillingSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sub.Provider + "|" + sub.ProviderSubscriptionID
	if _, ok := m.subscriptions[key]; !ok {
		m.subscriptions[key] = *sub
	}
	return nil
}

func (m *memRepository) UpsertOrder(ctx context.Context, order *models.BillingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.Provider+"|"+order.ProviderOrderID] = *order
	return nil
}

func (m *memRepository) ListSubscriptionsByCustomer(ctx context.Context, provider, providerCustomerID string) ([]models.BillingSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BillingSubscription
	for _, s := range m.subscriptions {
		if s.Provider == provider && s.ProviderCustomerID == providerCustomerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderSubscriptionID < out[j].ProviderSubscriptionID })
	return out, nil
}

func (m *memRepository) ListOrdersByCustomer(ctx context.Context, provider, providerCustomerID string) ([]models.BillingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BillingOrder
	for _, o := range m.orders {
		if o.Provider == provider && o.ProviderCustomerID == providerCustomerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderOrderID < out[j].ProviderOrderID })
	return out, nil
}

func (m *memRepository) FindUserIDByEmail(ctx context.Context, email string) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.users[email]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (m *memRepository) UpsertCachedEntitlement(ctx context.Context, ent *models.CachedEntitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOnUpsertCache != nil {
		return m.failOnUpsertCache
	}
	m.cache[ent.Email] = *ent
	return nil
}

func (m *memRepository) GetCachedEntitlement(ctx context.Context, email string) (*models.CachedEntitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.cache[email]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &ent, nil
}
