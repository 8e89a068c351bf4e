package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/Alwanly/conduit/internal/server/management/dto"
	"github.com/Alwanly/conduit/internal/server/management/usecase"
	"github.com/Alwanly/conduit/pkg/deps"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/middleware"
	"github.com/Alwanly/conduit/pkg/validator"
	"github.com/Alwanly/conduit/pkg/wrapper"
)

type Handler struct {
	Logger  *logger.CanonicalLogger
	UseCase usecase.UseCaseInterface
}

func NewHandler(d deps.App) *Handler {
	uc := usecase.NewUseCase(usecase.UseCase{
		Runtime: d.Runtime,
		Logger:  d.Logger,
	})

	h := &Handler{
		Logger:  d.Logger,
		UseCase: uc,
	}

	mutate := d.Middleware.BasicAuthAdmin()
	if d.BearerToken != "" {
		mutate = middleware.BearerTokenAuth(d.BearerToken, d.Logger)
	}
	read := d.Middleware.BasicAuth()

	// Health check endpoint (no auth required)
	d.Fiber.Get("/health", h.health)

	d.Fiber.Get("/metrics", read, adaptor.HTTPHandler(d.Metrics.Handler()))

	routes := d.Fiber.Group("/routes")
	routes.Get("", read, h.listRoutes)
	routes.Get("/:id", read, h.getRoute)
	routes.Post("/:id/start", mutate, h.startRoute)
	routes.Post("/:id/stop", mutate, h.stopRoute)

	d.Fiber.Get("/components", read, h.listComponents)
	d.Fiber.Get("/endpoints", read, h.listEndpoints)
	d.Fiber.Post("/send", mutate, h.send)

	return h
}

// health godoc
// @Summary      Health check
// @Description  Reports that the runtime is up with its route and component counts
// @Tags         runtime
// @Produce      json
// @Success      200 {object} wrapper.JSONResult{data=dto.HealthResponse}
// @Router       /health [get]
func (h *Handler) health(c *fiber.Ctx) error {
	return h.UseCase.Health(c.UserContext()).Send(c)
}

// listRoutes godoc
// @Summary      List routes
// @Description  Returns a snapshot of every route with its status and exchange counters
// @Tags         routes
// @Produce      json
// @Success      200 {object} wrapper.JSONResult{data=[]dto.RouteResponse}
// @Failure      401 {object} wrapper.JSONResult
// @Router       /routes [get]
// @Security     BasicAuth
func (h *Handler) listRoutes(c *fiber.Ctx) error {
	return h.UseCase.ListRoutes(c.UserContext()).Send(c)
}

// getRoute godoc
// @Summary      Get route
// @Tags         routes
// @Produce      json
// @Param        id path string true "Route ID"
// @Success      200 {object} wrapper.JSONResult{data=dto.RouteResponse}
// @Failure      404 {object} wrapper.JSONResult "Route not found"
// @Router       /routes/{id} [get]
// @Security     BasicAuth
func (h *Handler) getRoute(c *fiber.Ctx) error {
	return h.UseCase.GetRoute(c.UserContext(), c.Params("id")).Send(c)
}

// startRoute godoc
// @Summary      Start route
// @Description  Starts the route consumer (admin only)
// @Tags         routes
// @Produce      json
// @Param        id path string true "Route ID"
// @Success      200 {object} wrapper.JSONResult{data=dto.RouteActionResponse}
// @Failure      404 {object} wrapper.JSONResult "Route not found"
// @Failure      500 {object} wrapper.JSONResult "Route failed to start"
// @Router       /routes/{id}/start [post]
// @Security     BasicAuth
func (h *Handler) startRoute(c *fiber.Ctx) error {
	return h.UseCase.StartRoute(c.UserContext(), c.Params("id")).Send(c)
}

// stopRoute godoc
// @Summary      Stop route
// @Description  Stops the route consumer (admin only)
// @Tags         routes
// @Produce      json
// @Param        id path string true "Route ID"
// @Success      200 {object} wrapper.JSONResult{data=dto.RouteActionResponse}
// @Failure      404 {object} wrapper.JSONResult "Route not found"
// @Router       /routes/{id}/stop [post]
// @Security     BasicAuth
func (h *Handler) stopRoute(c *fiber.Ctx) error {
	return h.UseCase.StopRoute(c.UserContext(), c.Params("id")).Send(c)
}

// listComponents godoc
// @Summary      List components
// @Tags         runtime
// @Produce      json
// @Success      200 {object} wrapper.JSONResult{data=[]string}
// @Router       /components [get]
// @Security     BasicAuth
func (h *Handler) listComponents(c *fiber.Ctx) error {
	return h.UseCase.ListComponents(c.UserContext()).Send(c)
}

// listEndpoints godoc
// @Summary      List resolved endpoints
// @Tags         runtime
// @Produce      json
// @Success      200 {object} wrapper.JSONResult{data=[]string}
// @Router       /endpoints [get]
// @Security     BasicAuth
func (h *Handler) listEndpoints(c *fiber.Ctx) error {
	return h.UseCase.ListEndpoints(c.UserContext()).Send(c)
}

// send godoc
// @Summary      Send a message
// @Description  Delivers a body and headers to an endpoint URI. InOut returns the reply.
// @Tags         runtime
// @Accept       json
// @Produce      json
// @Param        request body dto.SendRequest true "Message to send"
// @Success      200 {object} wrapper.JSONResult{data=dto.SendResponse}
// @Failure      400 {object} wrapper.JSONResult "Invalid request or endpoint"
// @Failure      502 {object} wrapper.JSONResult "Endpoint failed"
// @Router       /send [post]
// @Security     BasicAuth
func (h *Handler) send(c *fiber.Ctx) error {
	req := new(dto.SendRequest)
	if err := c.BodyParser(req); err != nil {
		logger.AddToContext(c.UserContext(), zap.Error(err))
		return wrapper.ResponseFailed(fiber.StatusBadRequest, "invalid request body", nil).Send(c)
	}

	if err := validator.ValidateStruct(req); err != nil {
		logger.AddToContext(c.UserContext(), zap.Error(err))
		return wrapper.ResponseFailed(fiber.StatusBadRequest, "validation failed", validator.TranslateError(err)).Send(c)
	}

	return h.UseCase.Send(c.UserContext(), req).Send(c)
}
