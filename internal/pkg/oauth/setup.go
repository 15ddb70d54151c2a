package oauth

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/sidebar-notepads/backend/internal/pkg/config"
)

// DriveFileScope lets the extension read and write the files it creates in Drive.
const DriveFileScope = "https://www.googleapis.com/auth/drive.file"

// GoogleScopes are requested on every sign-in.
var GoogleScopes = []string{"openid", "profile", "email", DriveFileScope}

// NewGoogleProvider builds the Google provider with offline access so a
// refresh token is issued, and forced consent so it is issued every time.
func NewGoogleProvider(cfg *config.Config) *google.Provider {
	provider := google.New(
		cfg.Google.ClientID,
		cfg.Google.ClientSecret,
		cfg.PublicDomain+"/auth/google/callback",
		GoogleScopes...,
	)
	provider.SetAccessType("offline")
	provider.SetPrompt("consent")
	return provider
}

// Setup registers the providers and stores OAuth state in its own session
// store, separate from the app session.
func Setup(cfg *config.Config, stateStorage fiber.Storage) {
	goth.UseProviders(NewGoogleProvider(cfg))

	gothfiber.SessionStore = session.New(session.Config{
		Storage:        stateStorage,
		KeyLookup:      "cookie:" + gothic.SessionName,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		CookieSecure:   !cfg.IsDev(),
		Expiration:     15 * time.Minute,
	})
}
