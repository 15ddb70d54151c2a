package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sidebar-notepads/backend/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	// Transaction runs fn against a repository bound to one database transaction.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error

	UpsertCustomer(ctx context.Context, customer *models.BillingCustomer) error
	LockCustomer(ctx context.Context, provider, providerCustomerID string) (*models.BillingCustomer, error)
	UpsertSubscription(ctx context.Context, sub *models.BillingSubscription) error
	InsertSubscriptionIfAbsent(ctx context.Context, sub *models.BillingSubscription) error
	UpsertOrder(ctx context.Context, order *models.BillingOrder) error
	ListSubscriptionsByCustomer(ctx context.Context, provider, providerCustomerID string) ([]models.BillingSubscription, error)
	ListOrdersByCustomer(ctx context.Context, provider, providerCustomerID string) ([]models.BillingOrder, error)

	FindUserIDByEmail(ctx context.Context, email string) (*string, error)
	UpsertCachedEntitlement(ctx context.Context, ent *models.CachedEntitlement) error
	GetCachedEntitlement(ctx context.Context, email string) (*models.CachedEntitlement, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// UpsertCustomer keeps previously stored email and external id when the
// incoming values are empty.
func (r *gormRepository) UpsertCustomer(ctx context.Context, customer *models.BillingCustomer) error {
	updates := []string{"updated_at"}
	if customer.Email != "" {
		updates = append(updates, "email")
	}
	if customer.ExternalID != "" {
		updates = append(updates, "external_id")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_customer_id"},
		},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(customer).Error
}

func (r *gormRepository) LockCustomer(ctx context.Context, provider, providerCustomerID string) (*models.BillingCustomer, error) {
	var c models.BillingCustomer
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider = ? AND provider_customer_id = ?", provider, providerCustomerID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.BillingSubscription) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_customer_id",
			"product_id",
			"status",
			"current_period_end",
			"cancel_at_period_end",
			"updated_at",
		}),
	}).Create(sub).Error
}

func (r *gormRepository) InsertSubscriptionIfAbsent(ctx context.Context, sub *models.BillingSubscription) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_subscription_id"},
		},
		DoNothing: true,
	}).Create(sub).Error
}

func (r *gormRepository) UpsertOrder(ctx context.Context, order *models.BillingOrder) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_order_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_customer_id",
			"provider_subscription_id",
			"product_id",
			"product_name",
			"billing_reason",
			"status",
			"updated_at",
		}),
	}).Create(order).Error
}

func (r *gormRepository) ListSubscriptionsByCustomer(ctx context.Context, provider, providerCustomerID string) ([]models.BillingSubscription, error) {
	var subs []models.BillingSubscription
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_customer_id = ?", provider, providerCustomerID).
		Order("id").
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListOrdersByCustomer(ctx context.Context, provider, providerCustomerID string) ([]models.BillingOrder, error) {
	var orders []models.BillingOrder
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_customer_id = ?", provider, providerCustomerID).
		Order("id").
		Find(&orders).Error
	return orders, err
}

func (r *gormRepository) FindUserIDByEmail(ctx context.Context, email string) (*string, error) {
	var user models.User
	err := r.db.WithContext(ctx).Select("id").Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user.ID, nil
}

// UpsertCachedEntitlement writes has_pro and plan in a single statement.
func (r *gormRepository) UpsertCachedEntitlement(ctx context.Context, ent *models.CachedEntitlement) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"provider_customer_id",
			"has_pro",
			"plan",
			"last_event_id",
			"updated_at",
		}),
	}).Create(ent).Error
}

func (r *gormRepository) GetCachedEntitlement(ctx context.Context, email string) (*models.CachedEntitlement, error) {
	var ent models.CachedEntitlement
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&ent).Error; err != nil {
		return nil, err
	}
	return &ent, nil
}
