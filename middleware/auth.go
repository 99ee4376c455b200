// middleware/auth.go
package middleware

import (
	"strings"

	"user-level-system/logger"
	"user-level-system/services"

	"github.com/gofiber/fiber/v2"
)

// UserContextMiddleware extracts the caller identity forwarded by the gateway.
// X-User-ID is mandatory; it becomes c.Locals("user_id") and the blame actor on
// c.UserContext(). X-User-Roles is a comma separated list kept for handlers.
func UserContextMiddleware(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			log.Warn("[USER_CTX] X-User-ID missing", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals("user_id", userID)
		c.Locals("user_roles", roles)
		c.SetUserContext(services.WithActor(c.UserContext(), userID))

		log.Debug("[USER_CTX] request", "user_id", userID, "roles", roles, "path", c.Path())
		return c.Next()
	}
}

// UserID returns the id stored by UserContextMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
