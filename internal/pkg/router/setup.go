package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"github.com/sidebar-notepads/backend/app/controllers"
	"github.com/sidebar-notepads/backend/internal/pkg/config"
	"github.com/sidebar-notepads/backend/internal/pkg/middleware"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are built once in cmd/server and shared by all routers.
type Dependencies struct {
	Config   *config.Config
	Sessions *session.Store
	Users    middleware.UserFinder

	Auth    *controllers.AuthController
	Billing *controllers.BillingController
	OAuth   *controllers.OAuthController
	Pages   *controllers.PageController

	// LimiterStorage backs the /api rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// HttpRouter installs the session verifier that ApiRouter's auth
	// middleware reads, so it goes first.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
