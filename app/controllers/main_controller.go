package controllers

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/sidebar-notepads/backend/internal/pkg/entitlements"
	"github.com/sidebar-notepads/backend/internal/pkg/usercontext"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

type PageController struct {
	checks map[string]HealthCheck
}

func NewPageController(checks map[string]HealthCheck) *PageController {
	return &PageController{checks: checks}
}

// HandleSignin renders the sign-in page. With ?plan=… the Google button
// carries the plan through the OAuth round trip.
func (pc *PageController) HandleSignin(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	plan := entitlements.ParsePlan(c.Query("plan"))

	beginURL := "/auth/google"
	if plan != entitlements.PlanNone {
		beginURL += "?plan=" + string(plan)
	}

	return c.Render("signin", fiber.Map{
		"Title":      "Sign in",
		"LoggedIn":   userCtx.IsLoggedIn,
		"Email":      userCtx.Email,
		"Plan":       string(plan),
		"Success":    c.Query("success") == "true",
		"Error":      c.Query("error"),
		"GoogleURL":  beginURL,
		"CheckoutOn": userCtx.IsLoggedIn && plan != entitlements.PlanNone,
	})
}

// HandleAuthSuccess renders the page the extension watches for after sign-in.
func (pc *PageController) HandleAuthSuccess(c *fiber.Ctx) error {
	return c.Render("auth_success", fiber.Map{
		"Title":      "Signed in",
		"CheckoutID": c.Query("checkout_id"),
	})
}

// HandleHealth pings every dependency and answers 503 if any is down.
func (pc *PageController) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(pc.checks))
	for name := range pc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := fiber.StatusOK
	results := fiber.Map{}
	for _, name := range names {
		if err := pc.checks[name](ctx); err != nil {
			log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			results[name] = "down"
			status = fiber.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	return c.Status(status).JSON(fiber.Map{
		"ok":     status == fiber.StatusOK,
		"checks": results,
	})
}
