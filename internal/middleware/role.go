package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// RequireRoles gates a route to the given marketplace roles
// (client, freelancer, admin). Comparison is case insensitive.
func RequireRoles(allowed ...string) fiber.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[strings.ToLower(r)] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		claims := claimsFromCtx(c)
		if claims == nil {
			return fiber.ErrUnauthorized
		}

		role := strings.ToLower(strings.TrimSpace(claims.Role))
		if _, ok := allowedSet[role]; !ok {
			return fiber.NewError(fiber.StatusForbidden, "forbidden: insufficient role")
		}
		return c.Next()
	}
}
