package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sidebar-notepads/backend/internal/pkg/middleware"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Apply the session verifier globally so every handler sees a UserContext.
	app.Use(middleware.SessionVerifier(h.deps.Sessions, h.deps.Users))

	h.registerPublicRoutes(app)
	h.registerOperatorRoutes(app)
}

// registerOperatorRoutes exposes Prometheus metrics and the fiber monitor
// behind basic auth. Without credentials they are not mounted.
func (h HttpRouter) registerOperatorRoutes(app *fiber.App) {
	cfg := h.deps.Config
	if cfg == nil || cfg.MetricsUser == "" || cfg.MetricsPassword == "" {
		log.Warn().Msg("METRICS_USER/METRICS_PASSWORD not set, /metrics and /monitor disabled")
		return
	}

	auth := basicauth.New(basicauth.Config{
		Users: map[string]string{
			cfg.MetricsUser: cfg.MetricsPassword,
		},
	})
	app.Get("/metrics", auth, adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/monitor", auth, monitor.New(monitor.Config{Title: "Sidebar Notepads"}))
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
