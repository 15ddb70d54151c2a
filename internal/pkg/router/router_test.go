package router

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sidebar-notepads/backend/app/controllers"
	"github.com/sidebar-notepads/backend/app/models"
	"github.com/sidebar-notepads/backend/internal/pkg/config"
	appsession "github.com/sidebar-notepads/backend/internal/pkg/session"
)

type noUsers struct{}

func (noUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	return nil, gorm.ErrRecordNotFound
}

func newTestApp(cfg *config.Config) *fiber.App {
	return newTestAppWithConfig(cfg, fiber.Config{})
}

func newTestAppWithConfig(cfg *config.Config, fiberCfg fiber.Config) *fiber.App {
	store := appsession.NewSessionStore(nil, true)
	app := fiber.New(fiberCfg)
	InstallRouter(app, Dependencies{
		Config:   cfg,
		Sessions: store,
		Users:    noUsers{},
		Auth:     controllers.NewAuthController(store, nil, nil),
		Billing:  controllers.NewBillingController(nil, nil, nil, controllers.BillingControllerConfig{}),
		OAuth:    controllers.NewOAuthController(store, nil, nil, nil, true),
		Pages:    controllers.NewPageController(nil),
	})
	return app
}

func status(t *testing.T, app *fiber.App, method, target string, header map[string]string) int {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestInstallRouter_ProtectedAPIRoutes(t *testing.T) {
	app := newTestApp(&config.Config{})

	for _, route := range []struct{ method, path string }{
		{"GET", "/api/auth/google-token"},
		{"GET", "/api/check-pro-status"},
		{"GET", "/api/subscription"},
		{"POST", "/api/checkout/create"},
		{"POST", "/api/billing/resync"},
		{"GET", "/api/auth/session"},
	} {
		assert.Equal(t, fiber.StatusUnauthorized, status(t, app, route.method, route.path, nil), route.path)
	}
}

func TestInstallRouter_PublicRoutes(t *testing.T) {
	app := newTestApp(&config.Config{})

	assert.Equal(t, fiber.StatusOK, status(t, app, "GET", "/api/auth/session-status", nil))
	assert.Equal(t, fiber.StatusOK, status(t, app, "GET", "/healthz", nil))
	assert.Equal(t, fiber.StatusSeeOther, status(t, app, "GET", "/auth-success", nil))
	assert.Equal(t, fiber.StatusServiceUnavailable, status(t, app, "POST", "/webhooks/polar", nil))
}

func TestInstallRouter_MetricsRequireCredentials(t *testing.T) {
	disabled := newTestApp(&config.Config{})
	assert.Equal(t, fiber.StatusNotFound, status(t, disabled, "GET", "/metrics", nil))

	app := newTestApp(&config.Config{MetricsUser: "ops", MetricsPassword: "secret"})
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "GET", "/metrics", nil))

	basic := "Basic " + base64.StdEncoding.EncodeToString([]byte("ops:secret"))
	assert.Equal(t, fiber.StatusOK, status(t, app, "GET", "/metrics", map[string]string{"Authorization": basic}))
}

func TestInstallRouter_RateLimitIgnoresSpoofedHeaders(t *testing.T) {
	app := newTestAppWithConfig(&config.Config{BehindCloudflare: true}, fiber.Config{
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          []string{"10.0.0.1"},
		EnableIPValidation:      true,
	})

	limited := 0
	for i := 0; i < apiRateLimit+10; i++ {
		spoofed := fmt.Sprintf("198.51.%d.%d", i/250, i%250+1)
		code := status(t, app, "GET", "/api/auth/session-status", map[string]string{
			"X-Forwarded-For":  spoofed,
			"CF-Connecting-IP": spoofed,
			"X-Real-IP":        spoofed,
		})
		if code == fiber.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 10, limited)
}
