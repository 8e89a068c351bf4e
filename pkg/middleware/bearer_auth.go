package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/wrapper"
)

const TokenContextKey = "bearer_token"

// BearerTokenAuth accepts requests carrying "Authorization: Bearer <token>".
func BearerTokenAuth(token string, log *logger.CanonicalLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			log.Debug("missing authorization header",
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			return wrapper.ResponseFailed(http.StatusUnauthorized, "missing authorization header", nil).Send(c)
		}

		scheme, value, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			log.Debug("malformed authorization header", zap.String("path", c.Path()))
			return wrapper.ResponseFailed(http.StatusUnauthorized, "malformed authorization header", nil).Send(c)
		}

		if value == "" || subtle.ConstantTimeCompare([]byte(value), []byte(token)) != 1 {
			log.Debug("invalid bearer token",
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			return wrapper.ResponseFailed(http.StatusUnauthorized, "invalid bearer token", nil).Send(c)
		}

		c.Locals(TokenContextKey, true)
		return c.Next()
	}
}
