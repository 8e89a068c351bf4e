// Package engine hosts components, resolves endpoints and runs routes.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/metrics"
)

// Global endpoint options handled by the runtime rather than by components.
const (
	OptionLazyStartProducer  = "lazyStartProducer"
	OptionBridgeErrorHandler = "bridgeErrorHandler"
)

type endpointEntry struct {
	endpoint           core.Endpoint
	scheme             string
	uri                string
	lazyStartProducer  bool
	bridgeErrorHandler bool
}

// Context is the runtime: it owns components, endpoints, producers and routes.
type Context struct {
	logger              *logger.CanonicalLogger
	metrics             *metrics.Registry
	defaultErrorHandler ErrorHandlerConfig

	mu         sync.RWMutex
	components map[string]core.Component
	endpoints  map[string]*endpointEntry
	routes     []*Route
	routeIndex map[string]*Route
	routeSeq   int
	started    bool

	producers *producerCache
}

type Option func(*Context)

func WithLogger(log *logger.CanonicalLogger) Option {
	return func(c *Context) {
		c.logger = log
	}
}

func WithMetrics(m *metrics.Registry) Option {
	return func(c *Context) {
		c.metrics = m
	}
}

// WithDefaultErrorHandler applies cfg to routes that do not configure their own.
func WithDefaultErrorHandler(cfg ErrorHandlerConfig) Option {
	return func(c *Context) {
		c.defaultErrorHandler = cfg
	}
}

func New(opts ...Option) *Context {
	c := &Context{
		logger:              logger.NewNop(),
		defaultErrorHandler: DefaultErrorHandlerConfig(),
		components:          make(map[string]core.Component),
		endpoints:           make(map[string]*endpointEntry),
		routeIndex:          make(map[string]*Route),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewRegistry()
	}
	c.producers = newProducerCache(c)
	return c
}

func (c *Context) Logger() *logger.CanonicalLogger {
	return c.logger
}

func (c *Context) Metrics() *metrics.Registry {
	return c.metrics
}

// AddComponent registers comp under scheme.
func (c *Context) AddComponent(scheme string, comp core.Component) error {
	if scheme == "" || comp == nil {
		return fmt.Errorf("invalid component registration for scheme %q", scheme)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.components[scheme]; exists {
		return fmt.Errorf("component %q already registered", scheme)
	}
	c.components[scheme] = comp
	c.logger.Debug("component registered", logger.String(logger.FieldScheme, scheme))
	return nil
}

func (c *Context) Component(scheme string) (core.Component, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	comp, ok := c.components[scheme]
	return comp, ok
}

// Components returns the registered schemes in sorted order.
func (c *Context) Components() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	schemes := make([]string, 0, len(c.components))
	for s := range c.components {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Endpoint resolves uri, creating the endpoint on first use.
func (c *Context) Endpoint(uri string) (core.Endpoint, error) {
	entry, err := c.resolve(uri)
	if err != nil {
		return nil, err
	}
	return entry.endpoint, nil
}

func (c *Context) resolve(uri string) (*endpointEntry, error) {
	key, err := core.NormalizeURI(uri)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	entry, ok := c.endpoints[key]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	scheme, remaining, params, err := core.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	comp, ok := c.Component(scheme)
	if !ok {
		return nil, core.NewResolveEndpointError(uri, "No component found with scheme: "+scheme, nil)
	}

	entry = &endpointEntry{scheme: scheme, uri: key}
	if entry.lazyStartProducer, err = takeBool(params, OptionLazyStartProducer); err != nil {
		return nil, core.NewResolveEndpointError(uri, "invalid "+OptionLazyStartProducer, err)
	}
	if entry.bridgeErrorHandler, err = takeBool(params, OptionBridgeErrorHandler); err != nil {
		return nil, core.NewResolveEndpointError(uri, "invalid "+OptionBridgeErrorHandler, err)
	}

	ep, err := comp.CreateEndpoint(uri, remaining, params)
	if err != nil {
		return nil, err
	}
	if err := core.CheckUnknownParameters(uri, params); err != nil {
		return nil, err
	}
	entry.endpoint = ep

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.endpoints[key]; ok {
		return existing, nil
	}
	c.endpoints[key] = entry
	c.logger.Debug("endpoint created", logger.String(logger.FieldEndpoint, core.SanitizeURI(key)))
	return entry, nil
}

// Endpoints returns the sanitized URIs of every resolved endpoint.
func (c *Context) Endpoints() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uris := make([]string, 0, len(c.endpoints))
	for k := range c.endpoints {
		uris = append(uris, core.SanitizeURI(k))
	}
	sort.Strings(uris)
	return uris
}

// Start starts component services and then every auto-startup route.
func (c *Context) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	routes := append([]*Route(nil), c.routes...)
	services := c.componentServices()
	c.mu.Unlock()

	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start component: %w", err)
		}
	}

	for _, r := range routes {
		if !r.autoStartup {
			continue
		}
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	c.logger.Info("runtime started", logger.Int("routes", len(routes)), logger.Int("components", len(services)))
	return nil
}

// Stop stops routes in reverse order, then producers, then component services.
func (c *Context) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	routes := append([]*Route(nil), c.routes...)
	services := c.componentServices()
	c.mu.Unlock()

	var firstErr error
	for i := len(routes) - 1; i >= 0; i-- {
		if err := routes[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := c.producers.stopAll(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, svc := range services {
		g.Go(func() error {
			return svc.Stop(gCtx)
		})
	}
	if err := g.Wait(); err != nil && firstErr == nil {
		firstErr = err
	}

	c.logger.Info("runtime stopped")
	return firstErr
}

func (c *Context) componentServices() []core.Service {
	schemes := make([]string, 0, len(c.components))
	for s := range c.components {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)

	var services []core.Service
	seen := make(map[core.Service]struct{})
	for _, s := range schemes {
		svc, ok := c.components[s].(core.Service)
		if !ok {
			continue
		}
		// one component may serve several schemes
		if _, dup := seen[svc]; dup {
			continue
		}
		seen[svc] = struct{}{}
		services = append(services, svc)
	}
	return services
}

func (c *Context) isStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

func takeBool(params core.Parameters, key string) (bool, error) {
	v, ok := params.Take(key)
	if !ok || v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
