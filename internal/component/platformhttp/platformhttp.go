// Package platformhttp exposes routes as HTTP endpoints on a shared fiber server.
package platformhttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/Alwanly/conduit/internal/core"
	authentication "github.com/Alwanly/conduit/pkg/auth"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/middleware"
)

const Scheme = "platform-http"

const localConsumer = "platform-http.consumer"

var methods = map[string]struct{}{
	fiber.MethodGet: {}, fiber.MethodHead: {}, fiber.MethodPost: {}, fiber.MethodPut: {},
	fiber.MethodPatch: {}, fiber.MethodDelete: {}, fiber.MethodOptions: {},
}

type Config struct {
	HTTPMethodRestrict []string `uri:"httpMethodRestrict"`
	MatchOnURIPrefix   bool     `uri:"matchOnUriPrefix"`
	AuthUsername       string   `uri:"authUsername"`
	AuthPassword       string   `uri:"authPassword"`
	AuthBearerToken    string   `uri:"authBearerToken"`
	// MuteException replies to failed exchanges with an empty body.
	MuteException bool `uri:"muteException"`
}

type Option func(*Component)

// WithAddress sets the listen address. An empty address builds the server
// without listening, which is what tests use with App().Test.
func WithAddress(addr string) Option {
	return func(c *Component) {
		c.addr = addr
	}
}

func WithBodyLimit(n int) Option {
	return func(c *Component) {
		c.bodyLimit = n
	}
}

// Component runs one fiber server for all of its consumers. The server
// starts with the first consumer and shuts down after the last one stops.
type Component struct {
	addr      string
	bodyLimit int
	logger    *logger.CanonicalLogger

	mu        sync.Mutex
	app       *fiber.App
	consumers []*consumer
}

func New(log *logger.CanonicalLogger, opts ...Option) *Component {
	c := &Component{
		addr:      ":8080",
		bodyLimit: 4 * 1024 * 1024,
		logger:    log.Component(Scheme),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// App returns the running server, or nil when no consumer is started.
func (c *Component) App() *fiber.App {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.app
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	var cfg Config
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}
	for i, m := range cfg.HTTPMethodRestrict {
		m = strings.ToUpper(strings.TrimSpace(m))
		if _, ok := methods[m]; !ok {
			return nil, core.NewResolveEndpointError(uri, fmt.Sprintf("unsupported http method %q in httpMethodRestrict", m), nil)
		}
		cfg.HTTPMethodRestrict[i] = m
	}
	if cfg.AuthBearerToken != "" && cfg.AuthUsername != "" {
		return nil, core.NewResolveEndpointError(uri, "authUsername and authBearerToken are mutually exclusive", nil)
	}

	path := "/" + strings.Trim(remaining, "/")
	return &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		cfg:          cfg,
		path:         path,
		segments:     splitPath(path),
		component:    c,
	}, nil
}

type Endpoint struct {
	core.EndpointBase
	cfg       Config
	path      string
	segments  []string
	component *Component
}

func (e *Endpoint) CreateConsumer(processor core.Processor) (core.Consumer, error) {
	cons := &consumer{endpoint: e, processor: processor}
	switch {
	case e.cfg.AuthBearerToken != "":
		cons.auth = middleware.BearerTokenAuth(e.cfg.AuthBearerToken, e.component.logger)
	case e.cfg.AuthUsername != "":
		mid := middleware.NewAuthMiddleware(middleware.SetBasicAuth(&authentication.BasicAuthTConfig{
			Username: e.cfg.AuthUsername,
			Password: e.cfg.AuthPassword,
		}))
		cons.auth = mid.BasicAuth()
	}
	return cons, nil
}

func (e *Endpoint) allows(method string) bool {
	if len(e.cfg.HTTPMethodRestrict) == 0 {
		return true
	}
	for _, m := range e.cfg.HTTPMethodRestrict {
		if m == method || (m == fiber.MethodGet && method == fiber.MethodHead) {
			return true
		}
	}
	return false
}

// match reports whether path is served by the endpoint and returns the
// values of {name} placeholders.
func (e *Endpoint) match(segments []string) (map[string]string, bool) {
	if len(segments) < len(e.segments) || (len(segments) > len(e.segments) && !e.cfg.MatchOnURIPrefix) {
		return nil, false
	}
	var params map[string]string
	for i, s := range e.segments {
		if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
			if params == nil {
				params = make(map[string]string)
			}
			params[s[1:len(s)-1]] = segments[i]
			continue
		}
		if s != segments[i] {
			return nil, false
		}
	}
	return params, true
}

// rank orders literal paths before templated ones and prefix matches last.
func (e *Endpoint) rank() int {
	r := 0
	if e.cfg.MatchOnURIPrefix {
		r += 1000
	}
	for _, s := range e.segments {
		if strings.HasPrefix(s, "{") {
			r += 10
		}
	}
	return r - len(e.segments)
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func overlaps(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (c *Component) register(cons *consumer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cons.endpoint
	for _, other := range c.consumers {
		o := other.endpoint
		if o.path == e.path && overlaps(o.cfg.HTTPMethodRestrict, e.cfg.HTTPMethodRestrict) {
			return fmt.Errorf("duplicate request path for %s on %s", e.path, Scheme)
		}
	}

	if c.app == nil {
		app, err := c.startServer()
		if err != nil {
			return err
		}
		c.app = app
	}
	// copy on write, lookup reads the slice without the lock
	consumers := append(append([]*consumer(nil), c.consumers...), cons)
	sort.SliceStable(consumers, func(i, j int) bool {
		return consumers[i].endpoint.rank() < consumers[j].endpoint.rank()
	})
	c.consumers = consumers
	c.logger.Info("http consumer registered",
		logger.String("path", e.path),
		logger.Strings("methods", e.cfg.HTTPMethodRestrict),
	)
	return nil
}

func (c *Component) unregister(ctx context.Context, cons *consumer) error {
	c.mu.Lock()
	consumers := make([]*consumer, 0, len(c.consumers))
	for _, other := range c.consumers {
		if other != cons {
			consumers = append(consumers, other)
		}
	}
	c.consumers = consumers
	if len(c.consumers) > 0 || c.app == nil {
		c.mu.Unlock()
		return nil
	}
	app := c.app
	c.app = nil
	// in-flight requests take c.mu in lookup
	c.mu.Unlock()

	c.logger.Info("stopping http server", logger.String("address", c.addr))
	return app.ShutdownWithContext(ctx)
}

func (c *Component) startServer() (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		AppName:               "conduit platform-http",
		DisableStartupMessage: true,
		BodyLimit:             c.bodyLimit,
		ErrorHandler:          middleware.ErrorHandler(c.logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.CanonicalLoggerMiddleware(c.logger))
	app.Use(c.lookup, c.authorize, c.dispatch)

	if c.addr == "" {
		return app, nil
	}
	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", c.addr, err)
	}
	go func() {
		if err := app.Listener(ln); err != nil {
			c.logger.WithError(err).Error("http server stopped")
		}
	}()
	c.logger.Info("http server is running", logger.String("address", ln.Addr().String()))
	return app, nil
}

type match struct {
	consumer *consumer
	params   map[string]string
}

func (c *Component) lookup(ctx *fiber.Ctx) error {
	segments := splitPath(ctx.Path())
	method := ctx.Method()

	c.mu.Lock()
	consumers := c.consumers
	c.mu.Unlock()

	pathMatched := false
	for _, cons := range consumers {
		params, ok := cons.endpoint.match(segments)
		if !ok {
			continue
		}
		pathMatched = true
		if !cons.endpoint.allows(method) {
			continue
		}
		ctx.Locals(localConsumer, &match{consumer: cons, params: params})
		return ctx.Next()
	}
	if pathMatched {
		return fiber.ErrMethodNotAllowed
	}
	return fiber.ErrNotFound
}

func (c *Component) authorize(ctx *fiber.Ctx) error {
	m := ctx.Locals(localConsumer).(*match)
	if m.consumer.auth == nil {
		return ctx.Next()
	}
	return m.consumer.auth(ctx)
}

func (c *Component) dispatch(ctx *fiber.Ctx) error {
	m := ctx.Locals(localConsumer).(*match)
	cons := m.consumer

	ex := core.NewExchange(core.InOut)
	ex.FromEndpoint = cons.endpoint.URI()
	msg := ex.Message

	requestHeaders := make(map[string]string)
	ctx.Request().Header.VisitAll(func(k, v []byte) {
		requestHeaders[string(k)] = string(v)
		if inboundAllowed(string(k)) {
			msg.SetHeader(string(k), string(v))
		}
	})
	ctx.Request().URI().QueryArgs().VisitAll(func(k, v []byte) {
		if !inboundAllowed(string(k)) {
			return
		}
		if _, exists := msg.Header(string(k)); !exists {
			msg.SetHeader(string(k), string(v))
		}
	})
	for k, v := range m.params {
		msg.SetHeader(k, v)
	}
	msg.SetHeader(core.HeaderHTTPMethod, ctx.Method())
	msg.SetHeader(core.HeaderHTTPPath, ctx.Path())
	msg.SetHeader(core.HeaderHTTPQuery, string(ctx.Request().URI().QueryString()))
	msg.SetHeader(core.HeaderHTTPURI, ctx.OriginalURL())
	if body := ctx.Body(); len(body) > 0 {
		msg.Body = append([]byte(nil), body...)
	}

	logger.AddToContext(ctx.UserContext(), logger.String(logger.FieldExchangeID, ex.ID))

	if err := cons.processor.Process(ctx.UserContext(), ex); err != nil {
		return c.replyError(ctx, cons, ex, err)
	}
	return reply(ctx, msg, requestHeaders)
}

// inboundAllowed reports whether a client supplied header or query parameter
// may be copied onto the exchange. Camel* names drive producers downstream
// and are only ever set by the runtime.
func inboundAllowed(name string) bool {
	return !strings.HasPrefix(strings.ToLower(name), "camel")
}

func (c *Component) replyError(ctx *fiber.Ctx, cons *consumer, ex *core.Exchange, err error) error {
	code := fiber.StatusInternalServerError
	var invalid *core.InvalidError
	if n := ex.Message.HeaderInt(core.HeaderHTTPResponseCode, 0); n >= 400 {
		code = n
	} else if errors.As(err, &invalid) {
		code = fiber.StatusBadRequest
	}
	c.logger.WithExchangeID(ex.ID).WithError(err).Warn("http exchange failed", logger.String("path", cons.endpoint.path))

	ctx.Status(code)
	if cons.endpoint.cfg.MuteException {
		return nil
	}
	ctx.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return ctx.SendString(err.Error())
}

var skipResponseHeaders = map[string]struct{}{
	"content-length":    {},
	"host":              {},
	"transfer-encoding": {},
	"connection":        {},
}

func reply(ctx *fiber.Ctx, msg *core.Message, requestHeaders map[string]string) error {
	contentType := msg.HeaderString(fiber.HeaderContentType)
	for k, v := range msg.Headers {
		lower := strings.ToLower(k)
		if strings.HasPrefix(lower, "camel") || lower == "content-type" {
			continue
		}
		if _, skip := skipResponseHeaders[lower]; skip {
			continue
		}
		value := core.ToString(v)
		if orig, ok := requestHeaders[k]; ok && orig == value {
			continue
		}
		ctx.Set(k, value)
	}

	structured := false
	switch msg.Body.(type) {
	case nil, string, []byte:
	default:
		structured = true
	}
	data, err := msg.BodyBytes()
	if err != nil {
		return err
	}

	code := msg.HeaderInt(core.HeaderHTTPResponseCode, 0)
	if code == 0 {
		code = fiber.StatusOK
		if len(data) == 0 {
			code = fiber.StatusNoContent
		}
	}
	ctx.Status(code)

	switch {
	case contentType != "":
		ctx.Set(fiber.HeaderContentType, contentType)
	case structured:
		ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if len(data) == 0 {
		return nil
	}
	return ctx.Send(data)
}

type consumer struct {
	endpoint  *Endpoint
	processor core.Processor
	auth      fiber.Handler

	mu      sync.Mutex
	started bool
}

func (c *consumer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if err := c.endpoint.component.register(c); err != nil {
		return err
	}
	c.started = true
	return nil
}

func (c *consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	return c.endpoint.component.unregister(ctx, c)
}
