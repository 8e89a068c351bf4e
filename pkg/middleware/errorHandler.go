package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/wrapper"
)

// StatusCoder lets errors choose their HTTP status.
type StatusCoder interface {
	StatusCode() int
}

func ErrorHandler(log *logger.CanonicalLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		var sc StatusCoder
		switch {
		case errors.As(err, &fe):
			code = fe.Code
		case errors.As(err, &sc):
			code = sc.StatusCode()
		}

		log.HTTPError(c.Method(), c.Path(), code, err)

		return wrapper.ResponseFailed(code, err.Error(), nil).Send(c)
	}
}
