package controllers

import (
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/markbates/goth"
	"github.com/rs/zerolog/log"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/sidebar-notepads/backend/app/models"
	"github.com/sidebar-notepads/backend/app/repository"
	"github.com/sidebar-notepads/backend/internal/pkg/entitlements"
	"github.com/sidebar-notepads/backend/internal/pkg/oauth"
	appsession "github.com/sidebar-notepads/backend/internal/pkg/session"
)

// signinPlanCookie carries a requested plan across the OAuth round trip.
const signinPlanCookie = "signin_plan"

// TokenEncrypter seals provider tokens before they are stored.
type TokenEncrypter interface {
	Encrypt(plaintext string) (string, error)
}

// CompleteAuthFunc finishes the provider flow and returns the provider user.
type CompleteAuthFunc func(c *fiber.Ctx) (goth.User, error)

func completeWithGoth(c *fiber.Ctx) (goth.User, error) {
	return gothfiber.CompleteUserAuth(c)
}

type OAuthController struct {
	sessions *session.Store
	users    repository.UserRepository
	accounts repository.AccountRepository
	cipher   TokenEncrypter
	complete CompleteAuthFunc
	secure   bool
	now      func() time.Time
}

func NewOAuthController(sessions *session.Store, users repository.UserRepository, accounts repository.AccountRepository, cipher TokenEncrypter, dev bool) *OAuthController {
	return &OAuthController{
		sessions: sessions,
		users:    users,
		accounts: accounts,
		cipher:   cipher,
		complete: completeWithGoth,
		secure:   !dev,
		now:      time.Now,
	}
}

// HandleOAuthBegin remembers a requested plan and redirects to the provider.
func (oc *OAuthController) HandleOAuthBegin(c *fiber.Ctx) error {
	if plan := entitlements.ParsePlan(c.Query("plan")); plan != entitlements.PlanNone {
		c.Cookie(&fiber.Cookie{
			Name:     signinPlanCookie,
			Value:    string(plan),
			Path:     "/",
			MaxAge:   int((15 * time.Minute).Seconds()),
			HTTPOnly: true,
			Secure:   oc.secure,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
	return gothfiber.BeginAuthHandler(c)
}

// HandleOAuthCallback completes the provider flow, stores the user and the
// encrypted Google tokens, and starts an app session.
func (oc *OAuthController) HandleOAuthCallback(c *fiber.Ctx) error {
	u, err := oc.complete(c)
	if err != nil {
		log.Warn().Err(err).Str("provider", c.Params("provider")).Msg("oauth callback failed")
		return c.Redirect("/signin?error=oauth_failed", fiber.StatusSeeOther)
	}
	if strings.TrimSpace(u.Email) == "" {
		return c.Redirect("/signin?error=email_required", fiber.StatusSeeOther)
	}

	ctx := c.UserContext()
	now := oc.now()

	user, err := oc.users.UpsertOAuthUser(ctx, firstNonEmpty(u.Name, u.NickName, u.Email), u.Email, u.AvatarURL, now)
	if err != nil {
		log.Error().Err(err).Str("email", u.Email).Msg("oauth user upsert failed")
		return c.Redirect("/signin?error=account_failed", fiber.StatusSeeOther)
	}
	if !user.IsActive() {
		return c.Redirect("/signin?error=account_disabled", fiber.StatusSeeOther)
	}

	account, err := oc.providerAccount(user.ID, u, c.Query("scope"))
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("provider tokens could not be sealed")
		return c.Redirect("/signin?error=account_failed", fiber.StatusSeeOther)
	}
	if err := oc.accounts.Upsert(ctx, account); err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("provider account upsert failed")
		return c.Redirect("/signin?error=account_failed", fiber.StatusSeeOther)
	}

	if err := appsession.Login(oc.sessions, c, user.ID, now); err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("session start failed")
		return c.Redirect("/signin?error=session_failed", fiber.StatusSeeOther)
	}
	log.Info().Str("user_id", user.ID).Str("provider", u.Provider).Msg("user signed in")

	if plan := entitlements.ParsePlan(c.Cookies(signinPlanCookie)); plan != entitlements.PlanNone {
		c.ClearCookie(signinPlanCookie)
		return c.Redirect("/signin?success=true&plan="+url.QueryEscape(string(plan)), fiber.StatusSeeOther)
	}
	return c.Redirect("/auth-success", fiber.StatusSeeOther)
}

func (oc *OAuthController) providerAccount(userID string, u goth.User, grantedScope string) (*models.ProviderAccount, error) {
	accessEnc, err := oc.cipher.Encrypt(u.AccessToken)
	if err != nil {
		return nil, err
	}
	refreshEnc, err := oc.cipher.Encrypt(u.RefreshToken)
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if !u.ExpiresAt.IsZero() {
		t := u.ExpiresAt.UTC()
		expiresAt = &t
	}

	provider := firstNonEmpty(u.Provider, models.ProviderGoogle)
	return &models.ProviderAccount{
		UserID:               userID,
		Provider:             provider,
		ProviderUserID:       u.UserID,
		AccessTokenEnc:       accessEnc,
		RefreshTokenEnc:      refreshEnc,
		AccessTokenExpiresAt: expiresAt,
		Scope:                grantedScopes(grantedScope),
	}, nil
}

// grantedScopes normalizes the scope parameter Google appends to the callback
// URL. goth.User does not carry the token's scopes, and with granular consent
// the user may decline some of them. An absent parameter falls back to the
// requested scopes.
func grantedScopes(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return strings.Join(oauth.GoogleScopes, " ")
	}
	return strings.Join(fields, " ")
}
