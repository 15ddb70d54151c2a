package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/template/html/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sidebar-notepads/backend/app/controllers"
	"github.com/sidebar-notepads/backend/app/repository"
	"github.com/sidebar-notepads/backend/internal/pkg/billing"
	"github.com/sidebar-notepads/backend/internal/pkg/cache"
	"github.com/sidebar-notepads/backend/internal/pkg/config"
	"github.com/sidebar-notepads/backend/internal/pkg/database"
	"github.com/sidebar-notepads/backend/internal/pkg/entitlements"
	"github.com/sidebar-notepads/backend/internal/pkg/env"
	"github.com/sidebar-notepads/backend/internal/pkg/logging"
	"github.com/sidebar-notepads/backend/internal/pkg/middleware"
	"github.com/sidebar-notepads/backend/internal/pkg/oauth"
	"github.com/sidebar-notepads/backend/internal/pkg/router"
	"github.com/sidebar-notepads/backend/internal/pkg/security"
	"github.com/sidebar-notepads/backend/internal/pkg/session"
	"github.com/sidebar-notepads/backend/internal/pkg/tokengate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envErr := env.SetupEnvFile()

	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.Config{Format: "console", Component: "server"})
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "server"})
	if errors.Is(envErr, env.ErrNoEnvFile) {
		log.Info().Msg("no .env file found, using process environment")
	}

	app, err := NewApplication(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.ListenAddr()).Msg("listening")
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}

// NewApplication wires every dependency once and installs the routes.
func NewApplication(cfg *config.Config) (*fiber.App, error) {
	db, err := database.SetupDatabase(cfg.DB, cfg.IsDev())
	if err != nil {
		return nil, err
	}
	redisClient := cache.SetupCache(cfg.Cache)

	cipher, err := security.NewTokenCipher(cfg.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("token cipher: %w", err)
	}

	catalog := cfg.Catalog()
	polar := billing.NewPolarClient(billing.PolarConfig{
		AccessToken: cfg.Polar.AccessToken,
		BaseURL:     cfg.Polar.APIBaseURL,
		Sandbox:     cfg.Polar.Sandbox,
		Timeout:     cfg.Polar.Timeout,
	})
	billingService := billing.NewServiceFromDB(db, catalog)

	var resolver entitlements.Resolver = entitlements.NewLiveResolver(polar, catalog, cfg.Polar.Timeout)
	if cfg.EntitlementSource == config.EntitlementSourceCached {
		resolver = entitlements.NewCachedResolver(billingService, resolver)
	}
	log.Info().Str("source", cfg.EntitlementSource).Msg("entitlement resolver ready")

	repos := repository.NewRepositories(db)
	sessions := session.NewSessionStore(cache.NewStorage(redisClient, cache.DBSessions), cfg.IsDev())
	oauth.Setup(cfg, cache.NewStorage(redisClient, cache.DBOAuthState))

	basePath, err := findBasePath()
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		Views:        html.New(basePath+"views", ".html"),
		BodyLimit:    1 << 20,
		ErrorHandler: errorHandler,

		// forwarding headers only count when they come from a listed proxy
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          cfg.TrustedProxies,
		EnableIPValidation:      true,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New(logger.Config{
		Output: log.Logger,
		Format: "${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(middleware.CORS(cfg.PublicDomain, cfg.CORSOrigins()))

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
		Title:    "Sidebar Notepads API",
	}))

	router.InstallRouter(app, router.Dependencies{
		Config:   cfg,
		Sessions: sessions,
		Users:    repos.User,
		Auth:     controllers.NewAuthController(sessions, resolver, tokengate.New(resolver, repos.Account, cipher)),
		Billing: controllers.NewBillingController(resolver, polar, billingService, controllers.BillingControllerConfig{
			Catalog:       catalog,
			PublicDomain:  cfg.PublicDomain,
			WebhookSecret: cfg.Polar.WebhookSecret,
			Timeout:       cfg.Polar.Timeout,
		}),
		OAuth: controllers.NewOAuthController(sessions, repos.User, repos.Account, cipher, cfg.IsDev()),
		Pages: controllers.NewPageController(map[string]controllers.HealthCheck{
			"database": databasePing(db),
			"redis":    func(ctx context.Context) error { return cache.Ping(ctx, redisClient) },
		}),
		LimiterStorage: cache.NewStorage(redisClient, cache.DBDefault),
	})

	if cfg.BehindCloudflare && len(cfg.TrustedProxies) == 0 {
		log.Warn().Msg("BEHIND_CLOUDFLARE set without TRUSTED_PROXIES, CF-Connecting-IP will be ignored")
	}
	if cfg.Polar.WebhookSecret == "" {
		log.Warn().Msg("POLAR_WEBHOOK_SECRET not set, /webhooks/polar will answer 503")
	}
	return app, nil
}

func databasePing(db *gorm.DB) controllers.HealthCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

// errorHandler answers JSON for API paths and plain text elsewhere.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	if strings.HasPrefix(c.Path(), "/api/") {
		return c.Status(code).JSON(fiber.Map{"error": "request_failed", "message": utils.StatusMessage(code)})
	}
	return c.Status(code).SendString(utils.StatusMessage(code))
}

// findBasePath locates the directory holding views/ whether the binary runs
// from the project root or from cmd/server.
func findBasePath() (string, error) {
	for _, path := range []string{"./", "../../", "../../../"} {
		if _, err := os.Stat(path + "views"); err == nil {
			return path, nil
		}
	}
	return "", errors.New("could not find project root directory")
}
