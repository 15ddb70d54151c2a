package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sidebar-notepads/backend/internal/pkg/middleware"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	pages := h.deps.Pages
	app.Get("/healthz", pages.HandleHealth)
	app.Get("/signin", pages.HandleSignin)
	app.Get("/auth-success", middleware.RequireAuth, pages.HandleAuthSuccess)

	// Social OAuth
	app.Get("/auth/:provider", h.deps.OAuth.HandleOAuthBegin)
	app.Get("/auth/:provider/callback", h.deps.OAuth.HandleOAuthCallback)

	// Billing provider webhooks (signature-verified in controller)
	app.Post("/webhooks/polar", h.deps.Billing.HandlePolarWebhook)
}
