package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-chat-client/internal/utils"
)

// GatewayToken guards the gateway with a shared bearer secret. Websocket
// clients that cannot set headers may pass it as the `token` query parameter.
// An empty secret disables the check.
func GatewayToken(secret string) fiber.Handler {
	secret = strings.TrimSpace(secret)
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}

		presented := c.Query("token")
		if authorization := c.Get(fiber.HeaderAuthorization); authorization != "" {
			const bearer = "bearer "
			if !strings.HasPrefix(strings.ToLower(authorization), bearer) {
				return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
			}
			presented = strings.TrimSpace(authorization[len(bearer):])
		}
		if presented == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid gateway token")
		}

		return c.Next()
	}
}
