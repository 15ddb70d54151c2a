package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// OriginAllowlist matches request origins exactly, ignoring a trailing slash.
type OriginAllowlist struct {
	origins map[string]struct{}
}

func NewOriginAllowlist(origins []string) *OriginAllowlist {
	set := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	return &OriginAllowlist{origins: set}
}

func (a *OriginAllowlist) Allowed(origin string) bool {
	_, ok := a.origins[strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))]
	return ok
}

// CORS allows credentialed requests from the configured web origins and
// chrome-extension origins. primaryOrigin must be a concrete origin.
func CORS(primaryOrigin string, origins []string) fiber.Handler {
	allowlist := NewOriginAllowlist(origins)
	return cors.New(cors.Config{
		AllowOrigins:     primaryOrigin,
		AllowOriginsFunc: allowlist.Allowed,
		AllowMethods:     strings.Join([]string{fiber.MethodGet, fiber.MethodPost, fiber.MethodOptions}, ","),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           600,
	})
}
