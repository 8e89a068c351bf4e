package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	authentication "github.com/Alwanly/conduit/pkg/auth"
)

type IAuthMiddleware interface {
	// Basic Auth
	BasicAuth() fiber.Handler

	// Basic Auth Admin
	BasicAuthAdmin() fiber.Handler
}

type AuthMiddleware struct {
	Basic authentication.IBasicAuthService
}

// mockery:ignore
type AuthConfig func(*AuthOpts)

type AuthOpts struct {
	*authentication.BasicAuthTConfig
}

func SetBasicAuth(basicAuthConfig *authentication.BasicAuthTConfig) AuthConfig {
	return func(o *AuthOpts) {
		o.BasicAuthTConfig = basicAuthConfig
	}
}

// NewAuthMiddleware builds the basic auth handlers. Without configured
// credentials every request is let through.
func NewAuthMiddleware(opts ...AuthConfig) *AuthMiddleware {
	var o AuthOpts
	for _, opt := range opts {
		opt(&o)
	}

	basicAuth := authentication.NewBasicAuthService(o.BasicAuthTConfig)

	return &AuthMiddleware{
		Basic: basicAuth,
	}
}

func (a *AuthMiddleware) BasicAuth() fiber.Handler {
	return a.basic(a.Basic.Validate)
}

func (a *AuthMiddleware) BasicAuthAdmin() fiber.Handler {
	return a.basic(a.Basic.ValidateAdmin)
}

func (a *AuthMiddleware) basic(validate func(username, password string) bool) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if !a.Basic.Enabled() {
			return ctx.Next()
		}
		auth := ctx.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(auth, "Basic ") {
			return responseUnauthorized(ctx, "Invalid auth")
		}

		username, password := a.Basic.DecodeFromHeader(auth)
		if !validate(username, password) {
			return responseUnauthorized(ctx, "Invalid auth")
		}
		return ctx.Next()
	}
}

func responseUnauthorized(c *fiber.Ctx, message string) error {
	c.Set(fiber.HeaderWWWAuthenticate, "Basic realm=Restricted")
	return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
		"message": message,
	})
}
