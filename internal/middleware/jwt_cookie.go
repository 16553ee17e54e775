package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/prasetyow/freelance_market_be/internal/utils"
)

const sessionCookie = "fm_token"

// JWTFromCookie parses the session cookie and stores the verified token
// under Locals("user") for the rest of the chain.
func JWTFromCookie(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := c.Cookies(sessionCookie)
		if tokenStr == "" {
			return fiber.ErrUnauthorized
		}

		token, err := jwt.ParseWithClaims(tokenStr, &utils.Claims{},
			func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			},
			jwt.WithValidMethods([]string{"HS256"}),
		)
		if err != nil || !token.Valid {
			return fiber.ErrUnauthorized
		}

		c.Locals("user", token)
		return c.Next()
	}
}

// claimsFromCtx pulls the claims parsed by JWTFromCookie, or nil when the
// chain runs without it.
func claimsFromCtx(c *fiber.Ctx) *utils.Claims {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok || token == nil {
		return nil
	}
	claims, ok := token.Claims.(*utils.Claims)
	if !ok {
		return nil
	}
	return claims
}
