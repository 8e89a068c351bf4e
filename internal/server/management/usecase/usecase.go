package usecase

import (
	"context"
	"errors"
	"net/http"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/internal/engine"
	"github.com/Alwanly/conduit/internal/server/management/dto"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/wrapper"
)

// Runtime is the part of the engine the management API drives.
type Runtime interface {
	Routes() []engine.RouteInfo
	Route(id string) (engine.RouteInfo, bool)
	StartRoute(ctx context.Context, id string) error
	StopRoute(ctx context.Context, id string) error
	Components() []string
	Endpoints() []string
	SendExchange(ctx context.Context, uri string, ex *core.Exchange) error
}

type UseCase struct {
	Runtime Runtime
	Logger  *logger.CanonicalLogger
}

type UseCaseInterface interface {
	Health(ctx context.Context) wrapper.JSONResult
	ListRoutes(ctx context.Context) wrapper.JSONResult
	GetRoute(ctx context.Context, id string) wrapper.JSONResult
	StartRoute(ctx context.Context, id string) wrapper.JSONResult
	StopRoute(ctx context.Context, id string) wrapper.JSONResult
	ListComponents(ctx context.Context) wrapper.JSONResult
	ListEndpoints(ctx context.Context) wrapper.JSONResult
	Send(ctx context.Context, req *dto.SendRequest) wrapper.JSONResult
}

func NewUseCase(uc UseCase) *UseCase {
	if uc.Logger == nil {
		uc.Logger = logger.NewNop()
	}
	return &uc
}

func toRouteResponse(info engine.RouteInfo) dto.RouteResponse {
	return dto.RouteResponse{
		ID:                info.ID,
		From:              core.SanitizeURI(info.From),
		Status:            string(info.Status),
		AutoStartup:       info.AutoStartup,
		ExchangesTotal:    info.ExchangesTotal,
		ExchangesFailed:   info.ExchangesFailed,
		ExchangesInflight: info.ExchangesInflight,
		Uptime:            info.Uptime,
	}
}

func (uc *UseCase) Health(ctx context.Context) wrapper.JSONResult {
	return wrapper.ResponseSuccess(http.StatusOK, dto.HealthResponse{
		Status:     "healthy",
		Service:    "conduit",
		Routes:     len(uc.Runtime.Routes()),
		Components: len(uc.Runtime.Components()),
	})
}

func (uc *UseCase) ListRoutes(ctx context.Context) wrapper.JSONResult {
	infos := uc.Runtime.Routes()
	routes := make([]dto.RouteResponse, 0, len(infos))
	for _, info := range infos {
		routes = append(routes, toRouteResponse(info))
	}
	return wrapper.ResponseSuccess(http.StatusOK, routes)
}

func (uc *UseCase) GetRoute(ctx context.Context, id string) wrapper.JSONResult {
	info, ok := uc.Runtime.Route(id)
	if !ok {
		return wrapper.ResponseFailed(http.StatusNotFound, "route not found", nil)
	}
	return wrapper.ResponseSuccess(http.StatusOK, toRouteResponse(info))
}

func (uc *UseCase) StartRoute(ctx context.Context, id string) wrapper.JSONResult {
	return uc.routeAction(ctx, id, "start_route", uc.Runtime.StartRoute)
}

func (uc *UseCase) StopRoute(ctx context.Context, id string) wrapper.JSONResult {
	return uc.routeAction(ctx, id, "stop_route", uc.Runtime.StopRoute)
}

func (uc *UseCase) routeAction(ctx context.Context, id, op string, action func(context.Context, string) error) wrapper.JSONResult {
	logger.AddToContext(ctx, logger.String(logger.FieldOperation, op), logger.String(logger.FieldRouteID, id))

	if err := action(ctx, id); err != nil {
		logger.AddToContext(ctx, logger.Error(err))
		if errors.Is(err, engine.ErrRouteNotFound) {
			return wrapper.ResponseFailed(http.StatusNotFound, "route not found", nil)
		}
		uc.Logger.WithRouteID(id).WithError(err).Error("route action failed", logger.String(logger.FieldOperation, op))
		return wrapper.ResponseFailed(http.StatusInternalServerError, err.Error(), nil)
	}

	info, _ := uc.Runtime.Route(id)
	return wrapper.ResponseSuccess(http.StatusOK, dto.RouteActionResponse{ID: id, Status: string(info.Status)})
}

func (uc *UseCase) ListComponents(ctx context.Context) wrapper.JSONResult {
	return wrapper.ResponseSuccess(http.StatusOK, uc.Runtime.Components())
}

func (uc *UseCase) ListEndpoints(ctx context.Context) wrapper.JSONResult {
	uris := uc.Runtime.Endpoints()
	sanitized := make([]string, 0, len(uris))
	for _, uri := range uris {
		sanitized = append(sanitized, core.SanitizeURI(uri))
	}
	return wrapper.ResponseSuccess(http.StatusOK, sanitized)
}

// Send delivers the request body to an endpoint. Endpoint resolution and
// invalid payload failures are client errors, anything else is reported as
// a bad gateway.
func (uc *UseCase) Send(ctx context.Context, req *dto.SendRequest) wrapper.JSONResult {
	logger.AddToContext(ctx,
		logger.String(logger.FieldOperation, "send"),
		logger.String(logger.FieldEndpoint, core.SanitizeURI(req.URI)),
	)

	pattern := core.InOnly
	if req.Pattern != "" {
		p, err := core.ParsePattern(req.Pattern)
		if err != nil {
			return wrapper.ResponseFailed(http.StatusBadRequest, err.Error(), nil)
		}
		pattern = p
	}

	ex := core.NewExchange(pattern)
	ex.Message.Body = req.Body
	for k, v := range req.Headers {
		ex.Message.SetHeader(k, v)
	}
	if id := logger.GetCorrelationID(ctx); id != "" {
		if _, ok := ex.Message.Header(core.HeaderBreadcrumbID); !ok {
			ex.Message.SetHeader(core.HeaderBreadcrumbID, id)
		}
	}
	logger.AddToContext(ctx, logger.String(logger.FieldExchangeID, ex.ID))

	if err := uc.Runtime.SendExchange(ctx, req.URI, ex); err != nil {
		logger.AddToContext(ctx, logger.Error(err))
		return wrapper.ResponseError(err, core.IsRetryable(err), dto.SendResponse{ExchangeID: ex.ID, Pattern: string(pattern)})
	}

	return wrapper.ResponseSuccess(http.StatusOK, dto.SendResponse{
		ExchangeID: ex.ID,
		Pattern:    string(pattern),
		Body:       ex.Message.Body,
		Headers:    ex.Message.Headers,
	})
}
