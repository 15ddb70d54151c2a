package controllers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidebar-notepads/backend/app/models"
	"github.com/sidebar-notepads/backend/internal/pkg/billing"
	"github.com/sidebar-notepads/backend/internal/pkg/entitlements"
	"github.com/sidebar-notepads/backend/internal/pkg/middleware"
	"github.com/sidebar-notepads/backend/internal/pkg/usercontext"
)

const testWebhookSecret = "test-webhook-secret"

var webhookNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	record    *entitlements.CustomerRecord
	err       error
	checkout  *billing.Checkout
	checkouts []billing.CheckoutRequest
	lookups   []string
}

func (f *fakeProvider) LookupCustomer(ctx context.Context, email string) (*entitlements.CustomerRecord, error) {
	f.lookups = append(f.lookups, email)
	return f.record, f.err
}

func (f *fakeProvider) CreateCheckout(ctx context.Context, in billing.CheckoutRequest) (*billing.Checkout, error) {
	f.checkouts = append(f.checkouts, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.checkout, nil
}

type markCall struct {
	id  uint
	err error
}

type fakeService struct {
	events   map[string]*models.BillingWebhookEvent
	nextID   uint
	applied  []*billing.PolarWebhookEvent
	applyErr error
	marks    []markCall
	markErr  error
	synced   []*entitlements.CustomerRecord
	decision entitlements.Decision
}

func newFakeService() *fakeService {
	return &fakeService{events: map[string]*models.BillingWebhookEvent{}}
}

func (f *fakeService) RecordWebhookEvent(ctx context.Context, in billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	if ev, ok := f.events[in.ProviderEventID]; ok {
		return false, ev, nil
	}
	f.nextID++
	ev := &models.BillingWebhookEvent{
		ID:              f.nextID,
		Provider:        in.Provider,
		ProviderEventID: in.ProviderEventID,
		EventType:       in.EventType,
		PayloadJSON:     in.PayloadJSON,
	}
	f.events[in.ProviderEventID] = ev
	return true, ev, nil
}

func (f *fakeService) MarkWebhookProcessed(ctx context.Context, id uint, processingErr error) error {
	f.marks = append(f.marks, markCall{id: id, err: processingErr})
	for _, ev := range f.events {
		if ev.ID == id {
			now := webhookNow
			ev.ProcessedAt = &now
			ev.ProcessingError = ""
			if processingErr != nil {
				ev.ProcessingError = processingErr.Error()
			}
		}
	}
	return f.markErr
}

func (f *fakeService) ApplyEvent(ctx context.Context, ev *billing.PolarWebhookEvent, eventID string) (entitlements.Decision, error) {
	if f.applyErr != nil {
		return entitlements.Free(), f.applyErr
	}
	f.applied = append(f.applied, ev)
	return f.decision, nil
}

func (f *fakeService) SyncCustomerRecord(ctx context.Context, rec *entitlements.CustomerRecord, source string) (entitlements.Decision, error) {
	f.synced = append(f.synced, rec)
	return f.decision, nil
}

func newBillingApp(uc usercontext.UserContext, resolver *fakeResolver, provider *fakeProvider, service *fakeService, secret string) *fiber.App {
	bc := NewBillingController(resolver, provider, service, BillingControllerConfig{
		Catalog:       testCatalog,
		PublicDomain:  "https://notes.example.com/",
		WebhookSecret: secret,
		Timeout:       time.Second,
	})
	bc.now = func() time.Time { return webhookNow }

	app := fiber.New()
	app.Post("/webhooks/polar", bc.HandlePolarWebhook)
	api := app.Group("/api", withUser(uc), middleware.RequireAPISessionAuth)
	api.Get("/check-pro-status", bc.HandleCheckProStatus)
	api.Post("/checkout/create", bc.HandleCreateCheckout)
	api.Get("/subscription", bc.HandleSubscription)
	api.Post("/billing/resync", bc.HandleBillingResync)
	return app
}

func TestHandleCheckProStatus_IgnoresEmailQuery(t *testing.T) {
	resolver := &fakeResolver{decision: entitlements.NewDecision(entitlements.PlanProYearly)}
	app := newBillingApp(testUser, resolver, &fakeProvider{}, newFakeService(), testWebhookSecret)

	resp, body := doRequest(t, app, "GET", "/api/check-pro-status?email=victim@example.com", "", nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["hasPro"])
	assert.Equal(t, "pro_yearly", body["plan"])
	assert.Equal(t, []string{"pat@example.com"}, resolver.emails)
}

func TestHandleCheckProStatus_Errors(t *testing.T) {
	anon := newBillingApp(usercontext.Anonymous(), &fakeResolver{}, &fakeProvider{}, newFakeService(), testWebhookSecret)
	resp, _ := doRequest(t, anon, "GET", "/api/check-pro-status", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	failing := &fakeResolver{err: fmt.Errorf("%w: 503", entitlements.ErrProviderUnavailable)}
	app := newBillingApp(testUser, failing, &fakeProvider{}, newFakeService(), testWebhookSecret)
	resp, body := doRequest(t, app, "GET", "/api/check-pro-status", "", nil)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "provider_unavailable", body["error"])
	assert.NotContains(t, body, "hasPro")
}

func TestHandleCreateCheckout(t *testing.T) {
	provider := &fakeProvider{checkout: &billing.Checkout{ID: "co_1", URL: "https://polar.sh/checkout/co_1"}}
	app := newBillingApp(testUser, &fakeResolver{}, provider, newFakeService(), testWebhookSecret)

	resp, body := doRequest(t, app, "POST", "/api/checkout/create", `{"plan":"pro_lifetime"}`, nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://polar.sh/checkout/co_1", body["checkoutUrl"])
	assert.Equal(t, "co_1", body["checkoutId"])
	require.Len(t, provider.checkouts, 1)
	got := provider.checkouts[0]
	assert.Equal(t, []string{"prod_lifetime"}, got.Products)
	assert.Equal(t, "https://notes.example.com/auth-success?checkout_id={CHECKOUT_ID}", got.SuccessURL)
	assert.Equal(t, "pat@example.com", got.CustomerEmail)
	assert.Equal(t, "user-1", got.ExternalCustomerID)
	assert.Equal(t, map[string]string{"userId": "user-1", "plan": "pro_lifetime"}, got.Metadata)
}

func TestHandleCreateCheckout_InvalidPlan(t *testing.T) {
	provider := &fakeProvider{}
	app := newBillingApp(testUser, &fakeResolver{}, provider, newFakeService(), testWebhookSecret)

	for _, payload := range []string{`{"plan":"pro_monthly"}`, `{}`, `not json`} {
		resp, body := doRequest(t, app, "POST", "/api/checkout/create", payload, nil)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, payload)
		assert.NotEmpty(t, body["error"])
	}
	assert.Empty(t, provider.checkouts)
}

func TestHandleCreateCheckout_ProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("polar down")}
	app := newBillingApp(testUser, &fakeResolver{}, provider, newFakeService(), testWebhookSecret)

	resp, body := doRequest(t, app, "POST", "/api/checkout/create", `{"plan":"pro_yearly"}`, nil)

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "checkout_failed", body["error"])
}

func TestHandleSubscription(t *testing.T) {
	cases := []struct {
		name    string
		record  *entitlements.CustomerRecord
		has     bool
		checkFn func(t *testing.T, sub map[string]any)
	}{
		{
			name: "active subscription",
			record: &entitlements.CustomerRecord{ID: "cus_1", Subscriptions: []entitlements.SubscriptionRecord{
				{ID: "sub_old", Status: "canceled", ProductID: "prod_yearly"},
				{ID: "sub_1", Status: "active", ProductID: "prod_yearly", CurrentPeriodEnd: "2027-01-01T00:00:00Z"},
			}},
			has: true,
			checkFn: func(t *testing.T, sub map[string]any) {
				assert.Equal(t, "sub_1", sub["id"])
				assert.Equal(t, "prod_yearly", sub["planId"])
				assert.Equal(t, "2027-01-01T00:00:00Z", sub["currentPeriodEnd"])
				assert.NotContains(t, sub, "isLifetime")
			},
		},
		{
			name: "lifetime order",
			record: &entitlements.CustomerRecord{ID: "cus_1", Orders: []entitlements.OrderRecord{
				{ID: "ord_1", Status: "paid", ProductID: "prod_lifetime"},
			}},
			has: true,
			checkFn: func(t *testing.T, sub map[string]any) {
				assert.Equal(t, "ord_1", sub["id"])
				assert.Equal(t, "active", sub["status"])
				assert.Equal(t, true, sub["isLifetime"])
			},
		},
		{name: "no customer", record: nil},
		{
			name: "only canceled",
			record: &entitlements.CustomerRecord{ID: "cus_1", Subscriptions: []entitlements.SubscriptionRecord{
				{ID: "sub_1", Status: "canceled", ProductID: "prod_yearly"},
			}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newBillingApp(testUser, &fakeResolver{}, &fakeProvider{record: tc.record}, newFakeService(), testWebhookSecret)
			resp, body := doRequest(t, app, "GET", "/api/subscription", "", nil)
			assert.Equal(t, fiber.StatusOK, resp.StatusCode)
			assert.Equal(t, tc.has, body["hasSubscription"])
			if !tc.has {
				assert.Nil(t, body["subscription"])
				return
			}
			tc.checkFn(t, body["subscription"].(map[string]any))
		})
	}
}

func TestHandleSubscription_ProviderError(t *testing.T) {
	app := newBillingApp(testUser, &fakeResolver{}, &fakeProvider{err: errors.New("timeout")}, newFakeService(), testWebhookSecret)
	resp, body := doRequest(t, app, "GET", "/api/subscription", "", nil)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, false, body["hasSubscription"])
}

func TestHandleBillingResync(t *testing.T) {
	record := &entitlements.CustomerRecord{ID: "cus_1", Email: "pat@example.com"}
	service := newFakeService()
	service.decision = entitlements.NewDecision(entitlements.PlanProYearly)
	app := newBillingApp(testUser, &fakeResolver{}, &fakeProvider{record: record}, service, testWebhookSecret)

	resp, body := doRequest(t, app, "POST", "/api/billing/resync", "", nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["synced"])
	assert.Equal(t, "pro_yearly", body["plan"])
	require.Len(t, service.synced, 1)
	assert.Equal(t, "user-1", service.synced[0].ExternalID)
}

func TestHandleBillingResync_NoCustomer(t *testing.T) {
	service := newFakeService()
	app := newBillingApp(testUser, &fakeResolver{}, &fakeProvider{}, service, testWebhookSecret)

	resp, body := doRequest(t, app, "POST", "/api/billing/resync", "", nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["synced"])
	assert.Equal(t, false, body["hasPro"])
	assert.Empty(t, service.synced)
}

func subscriptionWebhook(eventType, status string) string {
	return fmt.Sprintf(`{
		"type": %q,
		"timestamp": "2026-10-16T11:59:00Z",
		"data": {
			"id": "sub_1",
			"status": %q,
			"customer_id": "cus_1",
			"product_id": "prod_yearly",
			"customer": {"id": "cus_1", "email": "pat@example.com"}
		}
	}`, eventType, status)
}

func signedHeaders(t *testing.T, id, payload, secret string) map[string]string {
	t.Helper()
	sig, err := billing.SignPolarWebhook([]byte(payload), id, webhookNow, secret)
	require.NoError(t, err)
	return map[string]string{
		billing.WebhookIDHeader:        id,
		billing.WebhookTimestampHeader: strconv.FormatInt(webhookNow.Unix(), 10),
		billing.WebhookSignatureHeader: sig,
	}
}

func TestHandlePolarWebhook_Applied(t *testing.T) {
	service := newFakeService()
	app := newBillingApp(usercontext.Anonymous(), &fakeResolver{}, &fakeProvider{}, service, testWebhookSecret)
	payload := subscriptionWebhook(billing.EventSubscriptionActive, "active")

	resp, body := doRequest(t, app, "POST", "/webhooks/polar", payload, signedHeaders(t, "msg_1", payload, testWebhookSecret))

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	require.Len(t, service.applied, 1)
	assert.Equal(t, "cus_1", service.applied[0].Customer.ID)
	require.Len(t, service.marks, 1)
	assert.NoError(t, service.marks[0].err)
	assert.Equal(t, models.BillingProviderPolar, service.events["msg_1"].Provider)
}

func TestHandlePolarWebhook_SecretMissing(t *testing.T) {
	service := newFakeService()
	app := newBillingApp(usercontext.Anonymous(), &fakeResolver{}, &fakeProvider{}, service, "")
	payload := subscriptionWebhook(billing.EventSubscriptionActive, "active")

	resp, _ := doRequest(t, app, "POST", "/webhooks/polar", payload, signedHeaders(t, "msg_1", payload, testWebhookSecret))

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Empty(t, service.events)
}

func TestHandlePolarWebhook_BadSignatureIsNotPersisted(t *testing.T) {
	service := newFakeService()
	app := newBillingApp(usercontext.Anonymous(), &fakeResolver{}, &fakeProvider{}, service, testWebhookSecret)
	payload := subscriptionWebhook(billing.EventSubscriptionActive, "active")

	resp, body := doRequest(t, app, "POST", "/webhooks/polar", payload, signedHeaders(t, "msg_1", payload, "other-secret"))

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_signature", body["error"])
	assert.Empty(t, service.events)
	assert.Empty(t, service.applied)
}

func TestHandlePolarWebhook_Duplicate(t *testing.T) {
	service := newFakeService()
	app := newBillingApp(usercontext.Anonymous(), &fakeResolver{}, &fakeProvider{}, service, testWebhookSecret)
	payload := subscriptionWebhook(billing.EventSubscriptionCanceled, "canceled")
	headers := signedHeaders(t, "msg_2", payload, testWebhookSecret)

	resp, _ := doRequest(t, app, "POST", "/webhooks/polar", payload, headers)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body := doRequest(t, app, "POST", "/webhooks/polar", payload, headers)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["duplicate"])
	assert.Len(t, service.applied, 1)
}

func TestHandlePolarWebhook_FailedEventIsRetried(t *testing.T) {
	service := newFakeService()
	service.applyErr = errors.New("deadlock")
	app := newBillingApp(usercontext.Anonymous(), &fakeResolver{}, &fakeProvider{}, service, testWebhookSecret)
	payload := subscriptionWebhook(billing.EventSubscriptionActive, "active")
	headers := signedHeaders(t, "msg_3", payload, testWebhookSecret)

	resp, body := doRequest(t, app, "POST", "/webhooks/polar", payload, headers)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "processing_failed", body["error"])
	require.Len(t, service.marks, 1)
	assert.EqualError(t, service.marks[0].err, "deadlock")

	service.applyErr = nil
	resp, body = doRequest(t, app, "POST", "/webhooks/polar", payload, headers)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Len(t, service.applied, 1)
}

func TestHandlePolarWebhook_UnhandledTypeIsAcknowledged(t *testing.T) {
	service := newFakeService()
	app := newBillingApp(usercontext.Anonymous(), &fakeResolver{}, &fakeProvider{}, service, testWebhookSecret)
	payload := `{"type":"checkout.created","timestamp":"2026-10-16T11:59:00Z","data":{"id":"co_1"}}`

	resp, body := doRequest(t, app, "POST", "/webhooks/polar", payload, signedHeaders(t, "msg_4", payload, testWebhookSecret))

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ignored"])
	assert.Empty(t, service.applied)
	require.Len(t, service.marks, 1)
	assert.NoError(t, service.marks[0].err)
}

func TestHandlePolarWebhook_MalformedPayload(t *testing.T) {
	service := newFakeService()
	app := newBillingApp(usercontext.Anonymous(), &fakeResolver{}, &fakeProvider{}, service, testWebhookSecret)
	payload := `{"type":"subscription.active","timestamp":"2026-10-16T11:59:00Z","data":{"id":"sub_1","status":"active"}}`

	resp, body := doRequest(t, app, "POST", "/webhooks/polar", payload, signedHeaders(t, "msg_5", payload, testWebhookSecret))

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_payload", body["error"])
	require.Len(t, service.marks, 1)
	assert.ErrorIs(t, service.marks[0].err, billing.ErrMalformedEvent)
}

func TestHandlePolarWebhook_LedgerFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	cases := map[string]string{
		"ignored":   `{"type":"checkout.created","timestamp":"2026-10-16T11:59:00Z","data":{"id":"co_1"}}`,
		"malformed": `{"type":"subscription.active","timestamp":"2026-10-16T11:59:00Z","data":{"id":"sub_1","status":"active"}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			buf.Reset()
			service := newFakeService()
			service.markErr = errors.New("ledger down")
			app := newBillingApp(usercontext.Anonymous(), &fakeResolver{}, &fakeProvider{}, service, testWebhookSecret)

			resp, _ := doRequest(t, app, "POST", "/webhooks/polar", payload, signedHeaders(t, "msg_"+name, payload, testWebhookSecret))

			assert.Less(t, resp.StatusCode, fiber.StatusInternalServerError)
			require.Len(t, service.marks, 1)
			assert.Contains(t, buf.String(), "webhook ledger not updated")
			assert.Contains(t, buf.String(), "ledger down")
		})
	}
}
