// Package management serves the runtime's HTTP management API.
package management

// @title           conduit management API
// @version         1.0
// @description     Inspect and control routes, list components and endpoints, and send messages into a running conduit runtime.
// @BasePath  /
// @securityDefinitions.basic  BasicAuth

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	swagger "github.com/gofiber/swagger"

	_ "github.com/Alwanly/conduit/docs/management"
	"github.com/Alwanly/conduit/internal/config"
	"github.com/Alwanly/conduit/internal/engine"
	"github.com/Alwanly/conduit/internal/server/management/handler"
	authentication "github.com/Alwanly/conduit/pkg/auth"
	"github.com/Alwanly/conduit/pkg/deps"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/middleware"
)

// NewApp builds the fiber app serving the management API for runtime.
func NewApp(cfg config.ManagementConfig, runtime *engine.Context, log *logger.CanonicalLogger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "conduit management",
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.CanonicalLoggerMiddleware(log, "/health", "/metrics"))

	mid := middleware.NewAuthMiddleware(middleware.SetBasicAuth(&authentication.BasicAuthTConfig{
		Username:      cfg.Username,
		Password:      cfg.Password,
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
	}))

	handler.NewHandler(deps.App{
		Fiber:       app,
		Logger:      log,
		Middleware:  mid,
		Runtime:     runtime,
		Metrics:     runtime.Metrics(),
		BearerToken: cfg.Token,
	})

	app.Get("/swagger/*", swagger.HandlerDefault)
	return app
}
