package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Alwanly/conduit/pkg/logger"
)

const LogContextLocal = "log_context"

// CanonicalLoggerMiddleware logs one line per request with the fields
// handlers added to the request LogContext. Requests to quietPaths are only
// logged when they fail.
func CanonicalLoggerMiddleware(log *logger.CanonicalLogger, quietPaths ...string) fiber.Handler {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		logCtx := logger.NewLogContext()
		c.Locals(LogContextLocal, logCtx)

		userCtx := logger.WithLogContext(c.UserContext(), logCtx)
		if id, ok := c.Locals("requestid").(string); ok && id != "" {
			logCtx.AddField(zap.String(logger.FieldRequestID, id))
			userCtx = logger.WithCorrelationID(userCtx, id)
		}
		c.SetUserContext(userCtx)

		start := time.Now()
		path := c.Path()

		// runs after recover so panics are logged too
		defer func() {
			duration := time.Since(start)
			status := c.Response().StatusCode()
			if _, ok := quiet[path]; ok && status < 400 {
				return
			}

			fields := []zap.Field{
				zap.String("method", c.Method()),
				zap.String("path", path),
				zap.Int("status", status),
				zap.Int64("duration_ms", duration.Milliseconds()),
			}
			fields = append(fields, logCtx.Fields()...)

			switch {
			case status >= 500:
				log.Error("http_request", fields...)
			case status >= 400:
				log.Info("http_request_client_error", fields...)
			default:
				log.Info("http_request", fields...)
			}
		}()

		return c.Next()
	}
}
