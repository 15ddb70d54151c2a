package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sidebar-notepads/backend/internal/pkg/entitlements"
	"github.com/sidebar-notepads/backend/internal/pkg/env"
)

const (
	EntitlementSourceLive   = "live"
	EntitlementSourceCached = "cached"
)

type DBConfig struct {
	Driver   string `validate:"oneof=mysql postgres"`
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	User     string `validate:"required"`
	Password string
	Name     string `validate:"required"`
}

type CacheConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	Password string
}

type GoogleConfig struct {
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
}

type PolarConfig struct {
	AccessToken        string `validate:"required"`
	Sandbox            bool
	APIBaseURL         string `validate:"omitempty,url"`
	Timeout            time.Duration
	WebhookSecret      string
	YearlyProductIDs   []string
	LifetimeProductIDs []string
}

// Config is the process configuration assembled from .env and the environment.
type Config struct {
	AppEnv       string
	AppHost      string
	AppPort      string `validate:"required,numeric"`
	PublicDomain string `validate:"required,url"`

	DB     DBConfig
	Cache  CacheConfig
	Google GoogleConfig
	Polar  PolarConfig

	TokenEncryptionKey string `validate:"required,min=16"`
	EntitlementSource  string `validate:"oneof=live cached"`

	AllowedOrigins      []string
	AllowedExtensionIDs []string

	MetricsUser     string
	MetricsPassword string

	// TrustedProxies lists the proxy IPs or CIDRs whose forwarding headers
	// are believed. Empty means the socket address is always used.
	TrustedProxies   []string
	BehindCloudflare bool

	LogLevel  string
	LogFormat string
}

var validate = validator.New()

// Load reads every setting through env.GetEnv and validates the result.
func Load() (*Config, error) {
	timeout, err := time.ParseDuration(env.GetEnv("POLAR_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid POLAR_TIMEOUT: %w", err)
	}
	sandbox, err := strconv.ParseBool(env.GetEnv("POLAR_SANDBOX", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid POLAR_SANDBOX: %w", err)
	}
	behindCloudflare, err := strconv.ParseBool(env.GetEnv("BEHIND_CLOUDFLARE", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid BEHIND_CLOUDFLARE: %w", err)
	}

	appEnv := env.GetEnv("APP_ENV", "prod")
	cfg := &Config{
		AppEnv:       appEnv,
		AppHost:      env.GetEnv("APP_HOST", "0.0.0.0"),
		AppPort:      env.GetEnv("APP_PORT", "4000"),
		PublicDomain: strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/"),
		DB: DBConfig{
			Driver:   strings.ToLower(env.GetEnv("DB_DRIVER", "mysql")),
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:     env.GetEnv("DB_PORT", defaultDBPort(env.GetEnv("DB_DRIVER", "mysql"))),
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Name:     env.GetEnv("DB_NAME", ""),
		},
		Cache: CacheConfig{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnv("CACHE_PORT", "6379"),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
		},
		Google: GoogleConfig{
			ClientID:     env.GetEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: env.GetEnv("GOOGLE_CLIENT_SECRET", ""),
		},
		Polar: PolarConfig{
			AccessToken:        env.GetEnv("POLAR_ACCESS_TOKEN", ""),
			Sandbox:            sandbox,
			APIBaseURL:         env.GetEnv("POLAR_API_BASE_URL", ""),
			Timeout:            timeout,
			WebhookSecret:      env.GetEnv("POLAR_WEBHOOK_SECRET", ""),
			YearlyProductIDs:   entitlements.SplitIDs(env.GetEnv("POLAR_YEARLY_PRODUCT_IDS", "")),
			LifetimeProductIDs: entitlements.SplitIDs(env.GetEnv("POLAR_LIFETIME_PRODUCT_IDS", "")),
		},
		TokenEncryptionKey:  env.GetEnv("TOKEN_ENCRYPTION_KEY", ""),
		EntitlementSource:   strings.ToLower(env.GetEnv("ENTITLEMENT_SOURCE", EntitlementSourceLive)),
		AllowedOrigins:      entitlements.SplitIDs(env.GetEnv("ALLOWED_ORIGINS", "")),
		AllowedExtensionIDs: entitlements.SplitIDs(env.GetEnv("ALLOWED_EXTENSION_IDS", "")),
		MetricsUser:         env.GetEnv("METRICS_USER", ""),
		MetricsPassword:     env.GetEnv("METRICS_PASSWORD", ""),
		TrustedProxies:      entitlements.SplitIDs(env.GetEnv("TRUSTED_PROXIES", "")),
		BehindCloudflare:    behindCloudflare,
		LogLevel:            env.GetEnv("LOG_LEVEL", "info"),
		LogFormat:           env.GetEnv("LOG_FORMAT", defaultLogFormat(appEnv)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

func (c *Config) ListenAddr() string {
	return c.AppHost + ":" + c.AppPort
}

func (c *Config) Catalog() entitlements.Catalog {
	return entitlements.Catalog{
		YearlyProductIDs:   c.Polar.YearlyProductIDs,
		LifetimeProductIDs: c.Polar.LifetimeProductIDs,
	}
}

// CORSOrigins returns the browser origins plus one chrome-extension origin per
// configured extension id.
func (c *Config) CORSOrigins() []string {
	origins := make([]string, 0, len(c.AllowedOrigins)+len(c.AllowedExtensionIDs)+1)
	if c.PublicDomain != "" {
		origins = append(origins, c.PublicDomain)
	}
	for _, o := range c.AllowedOrigins {
		origins = append(origins, strings.TrimRight(o, "/"))
	}
	for _, id := range c.AllowedExtensionIDs {
		origins = append(origins, "chrome-extension://"+id)
	}
	return origins
}

func defaultDBPort(driver string) string {
	if strings.EqualFold(driver, "postgres") {
		return "5432"
	}
	return "3306"
}

func defaultLogFormat(appEnv string) string {
	if appEnv == "dev" {
		return "console"
	}
	return "json"
}
