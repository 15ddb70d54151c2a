package controllers

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidebar-notepads/backend/internal/pkg/usercontext"
)

func newPageApp(uc usercontext.UserContext, checks map[string]HealthCheck) *fiber.App {
	pc := NewPageController(checks)
	app := fiber.New(fiber.Config{Views: html.New("../../views", ".html")})
	app.Use(withUser(uc))
	app.Get("/signin", pc.HandleSignin)
	app.Get("/auth-success", pc.HandleAuthSuccess)
	app.Get("/healthz", pc.HandleHealth)
	return app
}

func renderPage(t *testing.T, app *fiber.App, target string) (int, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", target, nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHandleSignin_CarriesPlan(t *testing.T) {
	app := newPageApp(usercontext.Anonymous(), nil)

	status, body := renderPage(t, app, "/signin?plan=pro_yearly")

	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `href="/auth/google?plan=pro_yearly"`)
}

func TestHandleSignin_IgnoresUnknownPlan(t *testing.T) {
	app := newPageApp(usercontext.Anonymous(), nil)

	_, body := renderPage(t, app, "/signin?plan=enterprise")

	assert.Contains(t, body, `href="/auth/google"`)
}

func TestHandleSignin_LoggedInWithPlanOffersCheckout(t *testing.T) {
	app := newPageApp(testUser, nil)

	_, body := renderPage(t, app, "/signin?success=true&plan=pro_lifetime")

	assert.Contains(t, body, `data-plan="pro_lifetime"`)
	assert.Contains(t, body, "/api/checkout/create")
}

func TestHandleAuthSuccess(t *testing.T) {
	app := newPageApp(usercontext.Anonymous(), nil)

	status, body := renderPage(t, app, "/auth-success?checkout_id=co_1")

	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "/api/auth/session")
	assert.Contains(t, body, "Thanks for your purchase")
}

func TestHandleHealth(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("connection refused") }

	app := newPageApp(usercontext.Anonymous(), map[string]HealthCheck{"database": ok, "redis": ok})
	resp, body := doRequest(t, app, "GET", "/healthz", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	app = newPageApp(usercontext.Anonymous(), map[string]HealthCheck{"database": ok, "redis": down})
	resp, body = doRequest(t, app, "GET", "/healthz", "", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, map[string]any{"database": "ok", "redis": "down"}, body["checks"])
}
