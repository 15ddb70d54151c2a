package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/rs/zerolog/log"

	"github.com/sidebar-notepads/backend/internal/pkg/entitlements"
	appsession "github.com/sidebar-notepads/backend/internal/pkg/session"
	"github.com/sidebar-notepads/backend/internal/pkg/tokengate"
	"github.com/sidebar-notepads/backend/internal/pkg/usercontext"
)

// TokenReleaser hands out the stored Google access token of Pro users.
type TokenReleaser interface {
	Release(ctx context.Context, userID, email string) (*tokengate.Token, error)
}

// AuthController serves the session endpoints the extension polls and the
// Google token gate.
type AuthController struct {
	sessions *session.Store
	resolver entitlements.Resolver
	gate     TokenReleaser
}

func NewAuthController(sessions *session.Store, resolver entitlements.Resolver, gate TokenReleaser) *AuthController {
	return &AuthController{
		sessions: sessions,
		resolver: resolver,
		gate:     gate,
	}
}

// HandleSessionStatus reports identity and Pro status. It never fails: a
// provider outage is answered with hasPro=false and verified=false, which is
// informational only and must not be used to gate anything.
func (ac *AuthController) HandleSessionStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.JSON(fiber.Map{
			"authenticated": false,
			"hasPro":        false,
		})
	}

	decision, err := ac.resolver.Resolve(c.UserContext(), userCtx.Email)
	if err != nil {
		log.Warn().Err(err).
			Str("email", userCtx.Email).
			Str("route", "session-status").
			Msg("entitlement could not be verified")
		return c.JSON(fiber.Map{
			"authenticated": true,
			"hasPro":        false,
			"plan":          nil,
			"verified":      false,
			"user":          userPayload(userCtx),
		})
	}

	return c.JSON(fiber.Map{
		"authenticated": true,
		"hasPro":        decision.HasPro,
		"plan":          decision.Plan,
		"verified":      true,
		"user":          userPayload(userCtx),
	})
}

// HandleSession returns the raw session for the auth-success page.
func (ac *AuthController) HandleSession(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
	}
	return c.JSON(fiber.Map{
		"session": fiber.Map{"expiresAt": userCtx.SessionExpiresAt.UTC().Format(time.RFC3339)},
		"user":    userPayload(userCtx),
	})
}

func (ac *AuthController) HandleSignOut(c *fiber.Ctx) error {
	if err := appsession.Logout(ac.sessions, c); err != nil {
		log.Error().Err(err).Msg("sign-out failed")
		return jsonError(c, fiber.StatusInternalServerError, "sign_out_failed", "could not end session")
	}
	return c.JSON(fiber.Map{"success": true})
}

// HandleGoogleToken releases the stored Google access token to Pro users.
func (ac *AuthController) HandleGoogleToken(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	token, err := ac.gate.Release(c.UserContext(), userCtx.UserID, userCtx.Email)
	switch {
	case err == nil:
		return c.JSON(token)
	case errors.Is(err, entitlements.ErrProviderUnavailable):
		log.Error().Err(err).
			Str("email", userCtx.Email).
			Str("route", "google-token").
			Msg("token release blocked, entitlement unverifiable")
		return jsonError(c, fiber.StatusInternalServerError, "provider_unavailable", "could not verify subscription status")
	case errors.Is(err, tokengate.ErrNotEntitled):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "pro_required",
			"message": "a Pro subscription is required",
			"hasPro":  false,
		})
	case errors.Is(err, tokengate.ErrNoLinkedAccount):
		return jsonError(c, fiber.StatusNotFound, "no_linked_account", "no Google account linked, please sign in again")
	case errors.Is(err, tokengate.ErrNoAccessToken):
		return jsonError(c, fiber.StatusNotFound, "no_access_token", "no access token stored, please sign in again")
	case errors.Is(err, tokengate.ErrTokenExpired):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "token_expired",
			"message": "access token expired",
			"expired": true,
		})
	default:
		log.Error().Err(err).Str("user_id", userCtx.UserID).Msg("token release failed")
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not load access token")
	}
}
