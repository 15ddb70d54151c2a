package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/sidebar-notepads/backend/app/models"
	"github.com/sidebar-notepads/backend/internal/pkg/billing"
	"github.com/sidebar-notepads/backend/internal/pkg/entitlements"
	"github.com/sidebar-notepads/backend/internal/pkg/metrics"
	"github.com/sidebar-notepads/backend/internal/pkg/usercontext"
)

const webhookProcessingTimeout = 15 * time.Second

var validate = validator.New()

// BillingProvider is the live billing API.
type BillingProvider interface {
	LookupCustomer(ctx context.Context, email string) (*entitlements.CustomerRecord, error)
	CreateCheckout(ctx context.Context, in billing.CheckoutRequest) (*billing.Checkout, error)
}

// BillingService mirrors provider state locally and keeps the webhook ledger.
type BillingService interface {
	RecordWebhookEvent(ctx context.Context, in billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error
	ApplyEvent(ctx context.Context, ev *billing.PolarWebhookEvent, eventID string) (entitlements.Decision, error)
	SyncCustomerRecord(ctx context.Context, rec *entitlements.CustomerRecord, source string) (entitlements.Decision, error)
}

type BillingControllerConfig struct {
	Catalog       entitlements.Catalog
	PublicDomain  string
	WebhookSecret string
	Timeout       time.Duration
}

// BillingController handles Pro status, checkout, subscription details and
// the Polar webhook.
type BillingController struct {
	resolver entitlements.Resolver
	provider BillingProvider
	service  BillingService
	cfg      BillingControllerConfig
	now      func() time.Time
}

func NewBillingController(resolver entitlements.Resolver, provider BillingProvider, service BillingService, cfg BillingControllerConfig) *BillingController {
	if cfg.Timeout <= 0 {
		cfg.Timeout = entitlements.DefaultResolveTimeout
	}
	cfg.PublicDomain = strings.TrimRight(cfg.PublicDomain, "/")
	return &BillingController{
		resolver: resolver,
		provider: provider,
		service:  service,
		cfg:      cfg,
		now:      time.Now,
	}
}

// HandleCheckProStatus answers for the session's email only. An email query
// parameter is ignored so nobody can probe other accounts.
func (bc *BillingController) HandleCheckProStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	decision, err := bc.resolver.Resolve(c.UserContext(), userCtx.Email)
	if err != nil {
		log.Error().Err(err).
			Str("email", userCtx.Email).
			Str("route", "check-pro-status").
			Msg("entitlement could not be verified")
		return jsonError(c, fiber.StatusInternalServerError, "provider_unavailable", "could not verify subscription status")
	}
	return c.JSON(decision)
}

type createCheckoutRequest struct {
	Plan string `json:"plan" validate:"required,oneof=pro_yearly pro_lifetime"`
}

func (bc *BillingController) HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	// Only JSON bodies, so plain cross-site form posts are refused.
	if !c.Is("json") {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "request body must be JSON")
	}
	var req createCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "request body must be JSON")
	}
	req.Plan = strings.TrimSpace(req.Plan)
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_plan", "plan must be pro_yearly or pro_lifetime")
	}

	plan := entitlements.ParsePlan(req.Plan)
	productID, ok := bc.cfg.Catalog.ProductForPlan(plan)
	if !ok {
		log.Error().Str("plan", string(plan)).Msg("no product configured for plan")
		return jsonError(c, fiber.StatusInternalServerError, "plan_not_configured", "this plan is not available")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), bc.cfg.Timeout)
	defer cancel()

	checkout, err := bc.provider.CreateCheckout(ctx, billing.CheckoutRequest{
		Products:           []string{productID},
		SuccessURL:         bc.cfg.PublicDomain + "/auth-success?checkout_id={CHECKOUT_ID}",
		CustomerEmail:      userCtx.Email,
		ExternalCustomerID: userCtx.UserID,
		Metadata: map[string]string{
			"userId": userCtx.UserID,
			"plan":   string(plan),
		},
	})
	if err != nil {
		log.Error().Err(err).
			Str("email", userCtx.Email).
			Str("call", "create_checkout").
			Msg("checkout creation failed")
		return jsonError(c, fiber.StatusInternalServerError, "checkout_failed", "could not create checkout")
	}

	return c.JSON(fiber.Map{
		"checkoutUrl": checkout.URL,
		"checkoutId":  checkout.ID,
	})
}

// HandleSubscription describes the live subscription or lifetime purchase.
func (bc *BillingController) HandleSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(c.UserContext(), bc.cfg.Timeout)
	defer cancel()

	rec, err := bc.provider.LookupCustomer(ctx, userCtx.Email)
	if err != nil {
		log.Error().Err(err).
			Str("email", userCtx.Email).
			Str("call", "lookup_customer").
			Msg("subscription lookup failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"hasSubscription": false,
			"error":           "provider_unavailable",
			"message":         "could not load subscription",
		})
	}

	if sub, ok := entitlements.ActiveSubscription(rec); ok {
		out := fiber.Map{
			"id":     sub.ID,
			"status": sub.Status,
			"planId": sub.ProductID,
		}
		if sub.CurrentPeriodEnd != "" {
			out["currentPeriodEnd"] = sub.CurrentPeriodEnd
		}
		return c.JSON(fiber.Map{"hasSubscription": true, "subscription": out})
	}
	if order, ok := bc.cfg.Catalog.LifetimeOrder(rec); ok {
		return c.JSON(fiber.Map{
			"hasSubscription": true,
			"subscription": fiber.Map{
				"id":         order.ID,
				"status":     "active",
				"planId":     order.ProductID,
				"isLifetime": true,
			},
		})
	}
	return c.JSON(fiber.Map{"hasSubscription": false, "subscription": nil})
}

// HandleBillingResync pulls the live record and rewrites the local mirror and
// cached entitlement, for when webhooks were missed.
func (bc *BillingController) HandleBillingResync(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookProcessingTimeout)
	defer cancel()

	rec, err := bc.provider.LookupCustomer(ctx, userCtx.Email)
	if err != nil {
		log.Error().Err(err).
			Str("email", userCtx.Email).
			Str("call", "lookup_customer").
			Msg("billing resync failed")
		return jsonError(c, fiber.StatusInternalServerError, "provider_unavailable", "could not load billing record")
	}
	if rec == nil {
		return c.JSON(fiber.Map{"synced": false, "hasPro": false, "plan": nil})
	}
	if rec.ExternalID == "" {
		rec.ExternalID = userCtx.UserID
	}

	source := fmt.Sprintf("resync:%s:%d", userCtx.UserID, bc.now().Unix())
	decision, err := bc.service.SyncCustomerRecord(ctx, rec, source)
	if err != nil {
		log.Error().Err(err).Str("email", userCtx.Email).Msg("billing resync could not be stored")
		return jsonError(c, fiber.StatusInternalServerError, "sync_failed", "could not store billing record")
	}
	return c.JSON(fiber.Map{
		"synced": true,
		"hasPro": decision.HasPro,
		"plan":   decision.Plan,
	})
}

// HandlePolarWebhook verifies, records and applies a Polar event. Events that
// change entitlement are only acknowledged once applied; failures answer 500
// so Polar redelivers.
func (bc *BillingController) HandlePolarWebhook(c *fiber.Ctx) error {
	started := bc.now()
	rawBody := append([]byte(nil), c.BodyRaw()...)
	eventType := "unknown"
	respond := func(status int, body fiber.Map) error {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, fmt.Sprint(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(started).Seconds())
		return c.Status(status).JSON(body)
	}

	if strings.TrimSpace(bc.cfg.WebhookSecret) == "" {
		log.Error().Msg("polar webhook received but POLAR_WEBHOOK_SECRET is not configured")
		return respond(fiber.StatusServiceUnavailable, fiber.Map{"error": "webhook_not_configured"})
	}

	headers := billing.WebhookHeaders{
		ID:        strings.TrimSpace(c.Get(billing.WebhookIDHeader)),
		Timestamp: strings.TrimSpace(c.Get(billing.WebhookTimestampHeader)),
		Signature: strings.TrimSpace(c.Get(billing.WebhookSignatureHeader)),
	}
	if err := billing.VerifyPolarWebhookSignature(rawBody, headers, bc.cfg.WebhookSecret, bc.now()); err != nil {
		log.Warn().Err(err).Str("webhook_id", headers.ID).Str("ip", c.IP()).Msg("polar webhook rejected")
		return respond(fiber.StatusUnauthorized, fiber.Map{"error": "invalid_signature"})
	}

	parsedType, err := billing.ReadWebhookEventType(rawBody)
	if err != nil {
		log.Warn().Err(err).Str("webhook_id", headers.ID).Msg("polar webhook payload unreadable")
		return respond(fiber.StatusBadRequest, fiber.Map{"error": "invalid_payload"})
	}
	eventType = parsedType

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookProcessingTimeout)
	defer cancel()

	created, stored, err := bc.service.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderPolar,
		ProviderEventID: headers.ID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
	})
	if err != nil {
		log.Error().Err(err).Str("webhook_id", headers.ID).Msg("polar webhook could not be recorded")
		return respond(fiber.StatusInternalServerError, fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created && !stored.NeedsProcessing() {
		return respond(fiber.StatusOK, fiber.Map{"ok": true, "duplicate": true})
	}

	if !billing.IsHandledEvent(eventType) {
		log.Info().Str("event_type", eventType).Str("webhook_id", headers.ID).Msg("polar webhook ignored")
		bc.markProcessed(ctx, stored, nil)
		return respond(fiber.StatusOK, fiber.Map{"ok": true, "ignored": true})
	}

	event, err := billing.ParsePolarWebhookEvent(rawBody)
	if err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("polar webhook payload malformed")
		bc.markProcessed(ctx, stored, err)
		return respond(fiber.StatusBadRequest, fiber.Map{"error": "invalid_payload"})
	}

	if _, err := bc.service.ApplyEvent(ctx, event, stored.ProviderEventID); err != nil {
		log.Error().Err(err).
			Str("event_type", eventType).
			Str("event_id", stored.ProviderEventID).
			Msg("polar webhook processing failed")
		bc.markProcessed(ctx, stored, err)
		if errors.Is(err, billing.ErrMalformedEvent) {
			return respond(fiber.StatusBadRequest, fiber.Map{"error": "invalid_payload"})
		}
		return respond(fiber.StatusInternalServerError, fiber.Map{"error": "processing_failed"})
	}

	bc.markProcessed(ctx, stored, nil)
	return respond(fiber.StatusOK, fiber.Map{"ok": true})
}

// markProcessed records the outcome on the webhook ledger. A ledger write
// failure does not change the response.
func (bc *BillingController) markProcessed(ctx context.Context, stored *models.BillingWebhookEvent, processingErr error) {
	if err := bc.service.MarkWebhookProcessed(ctx, stored.ID, processingErr); err != nil {
		log.Warn().Err(err).
			AnErr("processing_error", processingErr).
			Str("event_id", stored.ProviderEventID).
			Msg("webhook ledger not updated")
	}
}
