package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/sidebar-notepads/backend/app/controllers"
	"github.com/sidebar-notepads/backend/internal/pkg/middleware"
)

const (
	apiRateLimit       = 120
	apiRateLimitWindow = time.Minute
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:          apiRateLimit,
		Expiration:   apiRateLimitWindow,
		KeyGenerator: controllers.ClientIP(h.deps.Config.BehindCloudflare),
		Storage:      h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests",
			})
		},
	}))

	auth := api.Group("/auth")
	auth.Get("/session-status", h.deps.Auth.HandleSessionStatus)
	auth.Get("/session", h.deps.Auth.HandleSession)
	auth.Post("/sign-out", h.deps.Auth.HandleSignOut)
	auth.Get("/google-token", middleware.RequireAPISessionAuth, h.deps.Auth.HandleGoogleToken)

	api.Get("/check-pro-status", middleware.RequireAPISessionAuth, h.deps.Billing.HandleCheckProStatus)
	api.Get("/subscription", middleware.RequireAPISessionAuth, h.deps.Billing.HandleSubscription)
	api.Post("/checkout/create", middleware.RequireAPISessionAuth, h.deps.Billing.HandleCreateCheckout)
	api.Post("/billing/resync", middleware.RequireAPISessionAuth, h.deps.Billing.HandleBillingResync)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
