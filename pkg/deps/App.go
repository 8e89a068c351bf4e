package deps

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Alwanly/conduit/internal/engine"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/metrics"
	"github.com/Alwanly/conduit/pkg/middleware"
)

type App struct {
	Fiber      *fiber.App
	Logger     *logger.CanonicalLogger
	Middleware *middleware.AuthMiddleware
	Runtime    *engine.Context
	Metrics    *metrics.Registry
	// BearerToken, when set, guards mutating endpoints instead of admin basic auth.
	BearerToken string
}
