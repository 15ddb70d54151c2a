package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sidebar-notepads/backend/app/models"
	appsession "github.com/sidebar-notepads/backend/internal/pkg/session"
	"github.com/sidebar-notepads/backend/internal/pkg/usercontext"
)

// UserFinder loads the user a session points at.
type UserFinder interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// SessionVerifier resolves the session cookie to a user identity and stores
// it as the request's UserContext. Requests without a valid session, or whose
// user is gone or disabled, continue as anonymous.
func SessionVerifier(store *session.Store, users UserFinder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Goth keeps its own session store on /auth/*.
		if strings.HasPrefix(c.Path(), "/auth/") {
			return c.Next()
		}

		usercontext.SetUserContext(c, usercontext.Anonymous())

		userID, expiresAt, ok := appsession.Current(store, c)
		if !ok {
			return c.Next()
		}

		user, err := users.GetByID(c.UserContext(), userID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Error().Err(err).Str("user_id", userID).Msg("session user lookup failed")
			}
			return c.Next()
		}
		if !user.IsActive() {
			return c.Next()
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:           user.ID,
			Email:            user.Email,
			Name:             user.Name,
			Image:            user.AvatarURL,
			IsLoggedIn:       true,
			SessionExpiresAt: expiresAt,
		})
		return c.Next()
	}
}
