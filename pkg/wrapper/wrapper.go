// Package wrapper defines the JSON envelope returned by the management API.
package wrapper

import "github.com/gofiber/fiber/v2"

// JSONResult is the envelope. Code is the HTTP status and is not serialized.
type JSONResult struct {
	Code      int    `json:"-"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Retryable *bool  `json:"retryable,omitempty"`
}

func ResponseSuccess(httpCode int, data any) JSONResult {
	return JSONResult{
		Code:    httpCode,
		Success: true,
		Message: "Success",
		Data:    data,
	}
}

func ResponseFailed(httpCode int, message string, data any) JSONResult {
	return JSONResult{
		Code:    httpCode,
		Message: message,
		Data:    data,
	}
}

// ResponseError reports a failed delivery. Retryable failures come from the
// system behind an endpoint and map to 502, anything else to 400.
func ResponseError(err error, retryable bool, data any) JSONResult {
	code := fiber.StatusBadRequest
	if retryable {
		code = fiber.StatusBadGateway
	}
	res := ResponseFailed(code, err.Error(), data)
	res.Retryable = &retryable
	return res
}

// Send writes r to c using r.Code as the status.
func (r JSONResult) Send(c *fiber.Ctx) error {
	return c.Status(r.Code).JSON(r)
}
