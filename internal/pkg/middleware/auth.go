package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/payfox/payfox/internal/pkg/usercontext"
)

// RequireAdminAPI guards admin-only API routes. It must run after
// APIKeyAuthMiddleware, which populates the user context.
func RequireAdminAPI(c *fiber.Ctx) error {
	if !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "Admin access required",
		})
	}
	return c.Next()
}
