package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AttachJWTLocals copies the user id and role out of the verified claims
// into plain Locals so handlers never touch the token directly.
func AttachJWTLocals() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := claimsFromCtx(c)
		if claims == nil {
			return fiber.ErrUnauthorized
		}

		uid := strings.TrimSpace(claims.UserID)
		if uid == "" {
			return fiber.ErrUnauthorized
		}

		c.Locals("userId", uid)
		c.Locals("role", strings.ToLower(strings.TrimSpace(claims.Role)))
		return c.Next()
	}
}
