package controllers

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/sidebar-notepads/backend/internal/pkg/usercontext"
)

// jsonError writes the {error, message} body every API failure uses.
func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}

// userPayload is the user object returned to the extension.
func userPayload(uc usercontext.UserContext) fiber.Map {
	user := fiber.Map{
		"id":    uc.UserID,
		"email": uc.Email,
		"name":  uc.Name,
	}
	if uc.Image != "" {
		user["image"] = uc.Image
	} else {
		user["image"] = nil
	}
	return user
}

// ClientIP returns the rate-limit key for a request. Forwarded addresses come
// from c.IP(), which only honours the proxy header when the fiber app trusts
// the connecting peer. CF-Connecting-IP is read only when behindCloudflare is
// set and the peer is a trusted proxy.
func ClientIP(behindCloudflare bool) func(c *fiber.Ctx) string {
	return func(c *fiber.Ctx) string {
		if behindCloudflare && c.IsProxyTrusted() {
			if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); net.ParseIP(cfIP) != nil {
				return cfIP
			}
		}
		return strings.TrimPrefix(c.IP(), "::ffff:")
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
