package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/tracing"
)

type RouteStatus string

var ErrRouteNotFound = errors.New("route not found")

const (
	RouteStarted RouteStatus = "Started"
	RouteStopped RouteStatus = "Stopped"
)

// RouteDefinition describes a linear pipeline fed by one consumer.
type RouteDefinition struct {
	ID           string
	From         string
	Steps        []core.Processor
	ErrorHandler *ErrorHandlerConfig
	// AutoStartup defaults to true when nil.
	AutoStartup *bool
}

// RouteInfo is a snapshot of a route for reporting.
type RouteInfo struct {
	ID                string        `json:"id"`
	From              string        `json:"from"`
	Status            RouteStatus   `json:"status"`
	AutoStartup       bool          `json:"autoStartup"`
	ExchangesTotal    int64         `json:"exchangesTotal"`
	ExchangesFailed   int64         `json:"exchangesFailed"`
	ExchangesInflight int64         `json:"exchangesInflight"`
	Uptime            time.Duration `json:"uptime"`
}

type Route struct {
	id           string
	from         string
	steps        []core.Processor
	autoStartup  bool
	errorHandler *errorHandler
	ctx          *Context
	logger       *logger.CanonicalLogger

	mu        sync.Mutex
	status    RouteStatus
	consumer  core.Consumer
	startedAt time.Time

	bridge   atomic.Bool
	total    atomic.Int64
	failed   atomic.Int64
	inflight atomic.Int64
}

// AddRoute registers a route. When the runtime is already running and the
// route is auto-startup it is started immediately.
func (c *Context) AddRoute(ctx context.Context, def RouteDefinition) (*Route, error) {
	if def.From == "" {
		return nil, fmt.Errorf("route %q has no from endpoint", def.ID)
	}

	c.mu.Lock()
	if def.ID == "" {
		c.routeSeq++
		def.ID = fmt.Sprintf("route-%d", c.routeSeq)
	}
	if _, exists := c.routeIndex[def.ID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("route %q already exists", def.ID)
	}

	ehCfg := c.defaultErrorHandler
	if def.ErrorHandler != nil {
		ehCfg = *def.ErrorHandler
	}
	autoStartup := def.AutoStartup == nil || *def.AutoStartup

	r := &Route{
		id:           def.ID,
		from:         def.From,
		steps:        def.Steps,
		autoStartup:  autoStartup,
		errorHandler: newErrorHandler(c, def.ID, ehCfg),
		ctx:          c,
		logger:       c.logger.WithRouteID(def.ID),
		status:       RouteStopped,
	}
	c.routes = append(c.routes, r)
	c.routeIndex[def.ID] = r
	started := c.started
	c.mu.Unlock()

	if started && autoStartup {
		if err := r.Start(ctx); err != nil {
			return r, err
		}
	}
	return r, nil
}

func (c *Context) route(id string) (*Route, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routeIndex[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}
	return r, nil
}

func (c *Context) StartRoute(ctx context.Context, id string) error {
	r, err := c.route(id)
	if err != nil {
		return err
	}
	return r.Start(ctx)
}

func (c *Context) StopRoute(ctx context.Context, id string) error {
	r, err := c.route(id)
	if err != nil {
		return err
	}
	return r.Stop(ctx)
}

func (c *Context) RouteStatus(id string) (RouteStatus, error) {
	r, err := c.route(id)
	if err != nil {
		return "", err
	}
	return r.Status(), nil
}

func (c *Context) Route(id string) (RouteInfo, bool) {
	r, err := c.route(id)
	if err != nil {
		return RouteInfo{}, false
	}
	return r.Info(), true
}

// Routes returns a snapshot of every route in registration order.
func (c *Context) Routes() []RouteInfo {
	c.mu.RLock()
	routes := append([]*Route(nil), c.routes...)
	c.mu.RUnlock()

	infos := make([]RouteInfo, 0, len(routes))
	for _, r := range routes {
		infos = append(infos, r.Info())
	}
	return infos
}

func (r *Route) ID() string {
	return r.id
}

func (r *Route) Status() RouteStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Route) Info() RouteInfo {
	r.mu.Lock()
	status, startedAt := r.status, r.startedAt
	r.mu.Unlock()

	info := RouteInfo{
		ID:                r.id,
		From:              core.SanitizeURI(r.from),
		Status:            status,
		AutoStartup:       r.autoStartup,
		ExchangesTotal:    r.total.Load(),
		ExchangesFailed:   r.failed.Load(),
		ExchangesInflight: r.inflight.Load(),
	}
	if status == RouteStarted {
		info.Uptime = time.Since(startedAt)
	}
	return info
}

// Start resolves the from endpoint, starts step services and the consumer.
func (r *Route) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == RouteStarted {
		return nil
	}

	entry, err := r.ctx.resolve(r.from)
	if err != nil {
		return fmt.Errorf("route %s: %w", r.id, err)
	}
	r.bridge.Store(entry.bridgeErrorHandler)

	var started []core.Service
	for _, step := range r.steps {
		if svc, ok := step.(core.Service); ok {
			if err := svc.Start(ctx); err != nil {
				r.stopServices(ctx, started)
				return fmt.Errorf("route %s: failed to start step: %w", r.id, err)
			}
			started = append(started, svc)
		}
	}

	consumer, err := entry.endpoint.CreateConsumer(r)
	if err != nil {
		r.stopServices(ctx, started)
		return fmt.Errorf("route %s: %w", r.id, err)
	}
	if err := consumer.Start(ctx); err != nil {
		r.stopServices(ctx, started)
		return fmt.Errorf("route %s: failed to start consumer: %w", r.id, err)
	}

	r.consumer = consumer
	r.status = RouteStarted
	r.startedAt = time.Now()
	r.logger.Info("route started", logger.String(logger.FieldEndpoint, core.SanitizeURI(r.from)))
	return nil
}

// stopServices unwinds a partial start in reverse order.
func (r *Route) stopServices(ctx context.Context, services []core.Service) {
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(ctx); err != nil {
			r.logger.WithError(err).Warn("failed to stop step after aborted start")
		}
	}
}

func (r *Route) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == RouteStopped {
		return nil
	}

	var firstErr error
	if err := r.consumer.Stop(ctx); err != nil {
		firstErr = fmt.Errorf("route %s: failed to stop consumer: %w", r.id, err)
	}
	for _, step := range r.steps {
		if svc, ok := step.(core.Service); ok {
			if err := svc.Stop(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	r.consumer = nil
	r.status = RouteStopped
	r.logger.Info("route stopped", logger.Int64("exchanges_total", r.total.Load()))
	return firstErr
}

// Process runs an exchange from the consumer through the pipeline. The
// returned error is the unhandled failure, if any.
func (r *Route) Process(ctx context.Context, ex *core.Exchange) error {
	if ex.FromRouteID == "" {
		ex.FromRouteID = r.id
	}
	if ex.FromEndpoint == "" {
		ex.FromEndpoint = r.from
	}

	r.total.Add(1)
	r.inflight.Add(1)
	defer r.inflight.Add(-1)
	done := r.ctx.metrics.ExchangeStarted(r.id)

	spanCtx, span := tracing.StartConsumerSpan(ctx, r.id, core.SanitizeURI(r.from), ex.ID)
	defer span.End()

	err := r.run(spanCtx, ex)
	if err != nil {
		r.failed.Add(1)
		var exErr *core.ExchangeError
		if !errors.As(err, &exErr) {
			err = &core.ExchangeError{ExchangeID: ex.ID, Err: err}
		}
	}
	tracing.RecordError(span, err)
	done(err)
	return err
}

func (r *Route) run(ctx context.Context, ex *core.Exchange) error {
	for _, step := range r.steps {
		if ex.PropertyBool(core.PropertyRouteStop) {
			break
		}
		if err := r.errorHandler.deliver(ctx, ex, step); err != nil {
			return r.errorHandler.handleExhausted(ctx, ex, err)
		}
	}
	return nil
}

// HandleConsumerError receives failures that happen inside a consumer before
// an exchange exists. With bridgeErrorHandler they are routed to the error
// handler as a failed exchange, otherwise they are logged.
func (r *Route) HandleConsumerError(ctx context.Context, err error) {
	if !r.bridge.Load() {
		r.logger.WithError(err).Warn("consumer error")
		return
	}
	ex := core.NewExchange(core.InOnly)
	ex.FromRouteID = r.id
	ex.FromEndpoint = r.from
	r.total.Add(1)
	if herr := r.errorHandler.handleExhausted(ctx, ex, err); herr != nil {
		r.failed.Add(1)
	}
}
