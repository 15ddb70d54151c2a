package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"github.com/sidebar-notepads/backend/internal/pkg/usercontext"
)

const (
	CookieName = "session_id"
	Expiration = 7 * 24 * time.Hour
)

var ErrStoreNotInitialized = errors.New("session store not initialized")

// NewSessionStore creates the app session store. Outside dev the cookie is
// SameSite=None and Secure so the extension can send it cross-site.
func NewSessionStore(storage fiber.Storage, dev bool) *session.Store {
	cfg := session.Config{
		Storage:        storage,
		CookieHTTPOnly: true,
		CookieSameSite: "None",
		CookieSecure:   true,
		Expiration:     Expiration,
		KeyLookup:      "cookie:" + CookieName,
	}
	if dev {
		cfg.CookieSameSite = "Lax"
		cfg.CookieSecure = false
	}
	return session.New(cfg)
}

// Login starts a fresh session for the user.
func Login(store *session.Store, c *fiber.Ctx, userID string, now time.Time) error {
	if store == nil {
		return ErrStoreNotInitialized
	}
	sess, err := store.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if err := sess.Regenerate(); err != nil {
		return fmt.Errorf("failed to regenerate session: %w", err)
	}
	sess.Set(usercontext.KeyUserID, userID)
	sess.Set(usercontext.KeyLoginAt, strconv.FormatInt(now.Unix(), 10))
	return sess.Save()
}

// Logout destroys the current session.
func Logout(store *session.Store, c *fiber.Ctx) error {
	if store == nil {
		return ErrStoreNotInitialized
	}
	sess, err := store.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	return sess.Destroy()
}

// Current returns the user id stored in the session and when the session
// expires. ok is false for anonymous requests.
func Current(store *session.Store, c *fiber.Ctx) (userID string, expiresAt time.Time, ok bool) {
	if store == nil {
		return "", time.Time{}, false
	}
	sess, err := store.Get(c)
	if err != nil {
		return "", time.Time{}, false
	}
	userID, _ = sess.Get(usercontext.KeyUserID).(string)
	if userID == "" {
		return "", time.Time{}, false
	}
	loginAt := time.Now()
	if raw, isStr := sess.Get(usercontext.KeyLoginAt).(string); isStr {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			loginAt = time.Unix(unix, 0)
		}
	}
	return userID, loginAt.Add(Expiration), true
}
