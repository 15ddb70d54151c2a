package usercontext

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// UserContext is the identity the session verifier attaches to a request.
// It is never modified after the middleware sets it.
type UserContext struct {
	UserID           string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Image            string    `json:"image,omitempty"`
	IsLoggedIn       bool      `json:"-"`
	SessionExpiresAt time.Time `json:"-"`
}

// Anonymous is the context of a request without a valid session.
func Anonymous() UserContext {
	return UserContext{}
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return Anonymous()
}

func SetUserContext(c *fiber.Ctx, uc UserContext) {
	c.Locals(KeyUserContext, uc)
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// GetUserID returns the current user's ID, or "" if not logged in
func GetUserID(c *fiber.Ctx) string {
	return GetUserContext(c).UserID
}

func GetEmail(c *fiber.Ctx) string {
	return GetUserContext(c).Email
}
