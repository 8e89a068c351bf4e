// Package nats publishes to and subscribes on NATS subjects.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

const Scheme = "nats"

const (
	HeaderSubject   = "CamelNatsSubject"
	HeaderReplyTo   = "CamelNatsReplyTo"
	HeaderQueueName = "CamelNatsQueueName"
	HeaderTimestamp = "CamelNatsMessageTimestamp"
)

// Subscription is the handle returned by Conn.Subscribe.
type Subscription interface {
	AutoUnsubscribe(max int) error
	Unsubscribe() error
}

// Conn is what endpoints need from a NATS connection.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	Request(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
	// Subscribe joins queue when it is not empty.
	Subscribe(subject, queue string, handler nats.MsgHandler) (Subscription, error)
	Close()
}

type DialFunc func(servers string, opts ...nats.Option) (Conn, error)

type natsConn struct {
	conn *nats.Conn
}

// Dial connects with nats.go.
func Dial(servers string, opts ...nats.Option) (Conn, error) {
	conn, err := nats.Connect(servers, opts...)
	if err != nil {
		return nil, err
	}
	return &natsConn{conn: conn}, nil
}

func (c *natsConn) PublishMsg(msg *nats.Msg) error {
	return c.conn.PublishMsg(msg)
}

func (c *natsConn) Request(ctx context.Context, msg *nats.Msg) (*nats.Msg, error) {
	return c.conn.RequestMsgWithContext(ctx, msg)
}

func (c *natsConn) Subscribe(subject, queue string, handler nats.MsgHandler) (Subscription, error) {
	if queue != "" {
		return c.conn.QueueSubscribe(subject, queue, handler)
	}
	return c.conn.Subscribe(subject, handler)
}

func (c *natsConn) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}

type Config struct {
	Servers        string        `uri:"servers"`
	ReplySubject   string        `uri:"replySubject"`
	QueueName      string        `uri:"queueName"`
	MaxMessages    int           `uri:"maxMessages" validate:"gte=0"`
	RequestTimeout time.Duration `uri:"requestTimeout" validate:"gte=0"`
	ConnectionName string        `uri:"connectionName"`
	MaxReconnects  int           `uri:"maxReconnectAttempts" validate:"gte=-1"`
	ReconnectWait  time.Duration `uri:"reconnectTimeWait" validate:"gte=0"`
	Token          string        `uri:"token"`
}

func DefaultConfig() Config {
	return Config{
		Servers:        nats.DefaultURL,
		RequestTimeout: 20 * time.Second,
		MaxReconnects:  60,
		ReconnectWait:  2 * time.Second,
	}
}

func (c Config) options() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
	}
	if c.ConnectionName != "" {
		opts = append(opts, nats.Name(c.ConnectionName))
	}
	if c.Token != "" {
		opts = append(opts, nats.Token(c.Token))
	}
	return opts
}

type Option func(*Component)

// WithServers sets the servers used when an endpoint does not set its own.
func WithServers(servers string) Option {
	return func(c *Component) {
		c.servers = servers
	}
}

func WithDialer(dial DialFunc) Option {
	return func(c *Component) {
		c.dial = dial
	}
}

// Component shares one connection per server list.
type Component struct {
	servers string
	dial    DialFunc
	logger  *logger.CanonicalLogger

	mu    sync.Mutex
	conns map[string]Conn
}

func New(log *logger.CanonicalLogger, opts ...Option) *Component {
	c := &Component{
		servers: nats.DefaultURL,
		dial:    Dial,
		logger:  log.Component(Scheme),
		conns:   make(map[string]Conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	if remaining == "" {
		return nil, core.NewResolveEndpointError(uri, "nats endpoint requires a subject", nil)
	}
	cfg := DefaultConfig()
	cfg.Servers = c.servers
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}
	return &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		subject:      remaining,
		cfg:          cfg,
		component:    c,
	}, nil
}

func (c *Component) conn(cfg Config) (Conn, error) {
	key := cfg.Servers + "|" + cfg.ConnectionName + "|" + cfg.Token
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[key]; ok {
		return conn, nil
	}
	conn, err := c.dial(cfg.Servers, cfg.options()...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.Servers, err)
	}
	c.conns[key] = conn
	c.logger.Info("nats connection established", logger.String("servers", cfg.Servers))
	return conn, nil
}

func (c *Component) Start(context.Context) error {
	return nil
}

// Stop drains every connection.
func (c *Component) Stop(context.Context) error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]Conn)
	c.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
	return nil
}

type Endpoint struct {
	core.EndpointBase
	subject   string
	cfg       Config
	component *Component
}

func (e *Endpoint) CreateProducer() (core.Producer, error) {
	return &producer{endpoint: e}, nil
}

func (e *Endpoint) CreateConsumer(processor core.Processor) (core.Consumer, error) {
	return &consumer{endpoint: e, processor: processor}, nil
}

type producer struct {
	endpoint *Endpoint
	conn     Conn
}

func (p *producer) Start(context.Context) error {
	conn, err := p.endpoint.component.conn(p.endpoint.cfg)
	if err != nil {
		return err
	}
	p.conn = conn
	return nil
}

func (p *producer) Stop(context.Context) error {
	return nil
}

func (p *producer) Process(ctx context.Context, ex *core.Exchange) error {
	e := p.endpoint
	data, err := ex.Message.BodyBytes()
	if err != nil {
		return core.Invalid(err)
	}
	msg := nats.NewMsg(e.subject)
	msg.Data = data
	msg.Reply = e.cfg.ReplySubject
	copyHeaders(ex.Message, msg)

	if ex.Pattern != core.InOut {
		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish to %s failed: %w", e.subject, err)
		}
		return nil
	}

	msg.Reply = ""
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	reply, err := p.conn.Request(reqCtx, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return fmt.Errorf("%w: nats request to %s after %s", core.ErrExchangeTimeout, e.subject, e.cfg.RequestTimeout)
		}
		return fmt.Errorf("nats request to %s failed: %w", e.subject, err)
	}
	ex.Message.Body = reply.Data
	ex.Message.SetHeader(HeaderSubject, reply.Subject)
	for k, v := range reply.Header {
		if len(v) > 0 {
			ex.Message.SetHeader(k, v[0])
		}
	}
	return nil
}

// copyHeaders forwards string headers that are not runtime headers.
func copyHeaders(from *core.Message, to *nats.Msg) {
	for k, v := range from.Headers {
		if strings.HasPrefix(k, "Camel") {
			continue
		}
		if s, ok := v.(string); ok {
			to.Header.Set(k, s)
		}
	}
}

type consumer struct {
	endpoint  *Endpoint
	processor core.Processor

	mu  sync.Mutex
	sub Subscription
}

func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return nil
	}
	e := c.endpoint
	conn, err := e.component.conn(e.cfg)
	if err != nil {
		return err
	}
	handlerCtx := context.WithoutCancel(ctx)
	sub, err := conn.Subscribe(e.subject, e.cfg.QueueName, func(msg *nats.Msg) {
		c.handle(handlerCtx, conn, msg)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe to %s failed: %w", e.subject, err)
	}
	if e.cfg.MaxMessages > 0 {
		if err := sub.AutoUnsubscribe(e.cfg.MaxMessages); err != nil {
			_ = sub.Unsubscribe()
			return fmt.Errorf("nats auto unsubscribe on %s failed: %w", e.subject, err)
		}
	}
	c.sub = sub
	e.component.logger.Info("subscribed to nats subject",
		logger.String("subject", e.subject), logger.String("queue", e.cfg.QueueName))
	return nil
}

func (c *consumer) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return nil
	}
	err := c.sub.Unsubscribe()
	if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
		err = nil
	}
	c.sub = nil
	return err
}

func (c *consumer) handle(ctx context.Context, conn Conn, msg *nats.Msg) {
	e := c.endpoint
	pattern := core.InOnly
	if msg.Reply != "" {
		pattern = core.InOut
	}
	ex := core.NewExchange(pattern)
	ex.Message.Body = msg.Data
	ex.Message.SetHeader(HeaderSubject, msg.Subject)
	if msg.Reply != "" {
		ex.Message.SetHeader(HeaderReplyTo, msg.Reply)
	}
	if e.cfg.QueueName != "" {
		ex.Message.SetHeader(HeaderQueueName, e.cfg.QueueName)
	}
	ex.Message.SetHeader(HeaderTimestamp, time.Now().UnixMilli())
	for k, v := range msg.Header {
		if len(v) > 0 {
			ex.Message.SetHeader(k, v[0])
		}
	}

	err := c.processor.Process(ctx, ex)
	if err != nil {
		e.component.logger.WithExchangeID(ex.ID).WithError(err).Debug("nats message failed",
			logger.String("subject", msg.Subject))
	}
	if msg.Reply == "" || err != nil {
		return
	}

	data, err := ex.Message.BodyBytes()
	if err != nil {
		e.component.logger.WithExchangeID(ex.ID).WithError(err).Error("cannot encode nats reply")
		return
	}
	reply := nats.NewMsg(msg.Reply)
	reply.Data = data
	if err := conn.PublishMsg(reply); err != nil {
		e.component.logger.WithExchangeID(ex.ID).WithError(err).Error("failed to send nats reply",
			logger.String("reply_to", msg.Reply))
	}
}
