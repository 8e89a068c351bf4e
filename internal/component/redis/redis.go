// Package redis sends commands to redis and consumes pub/sub channels.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/pubsub"
)

const Scheme = "redis"

const (
	HeaderCommand = "CamelRedis.Command"
	HeaderKey     = "CamelRedis.Key"
	HeaderValue   = "CamelRedis.Value"
	HeaderField   = "CamelRedis.Field"
	// HeaderTimeout is an expiry in seconds for SET and EXPIRE.
	HeaderTimeout = "CamelRedis.Timeout"
	HeaderChannel = "CamelRedis.Channel"
	HeaderPattern = "CamelRedis.Pattern"
	HeaderMessage = "CamelRedis.Message"
)

// Commands is the subset of the go-redis client used by producers.
type Commands interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Exists(ctx context.Context, keys ...string) *goredis.IntCmd
	Incr(ctx context.Context, key string) *goredis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	LPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	RPop(ctx context.Context, key string) *goredis.StringCmd
	HSet(ctx context.Context, key string, values ...any) *goredis.IntCmd
	HGet(ctx context.Context, key, field string) *goredis.StringCmd
	Keys(ctx context.Context, pattern string) *goredis.StringSliceCmd
}

// Conn is one connection to a redis server.
type Conn interface {
	Commands
	// NewSubscriber returns a subscriber whose Close only ends its own subscriptions.
	NewSubscriber() pubsub.Subscriber
	Close() error
}

// DialFunc opens a connection for cfg.
type DialFunc func(cfg pubsub.RedisConfig, log *logger.CanonicalLogger) (Conn, error)

type clientConn struct {
	*goredis.Client
	logger *logger.CanonicalLogger
}

func (c *clientConn) NewSubscriber() pubsub.Subscriber {
	return pubsub.NewRedisSubscriber(c.Client, c.logger)
}

// Dial connects with go-redis.
func Dial(cfg pubsub.RedisConfig, log *logger.CanonicalLogger) (Conn, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &clientConn{Client: client, logger: log}, nil
}

type Config struct {
	Command  string   `uri:"command"`
	Channels []string `uri:"channels"`
	Password string   `uri:"password"`
	DB       int      `uri:"db" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{Command: "SET"}
}

type Option func(*Component)

// WithDefaults sets the server used when an endpoint names no host.
func WithDefaults(cfg pubsub.RedisConfig) Option {
	return func(c *Component) {
		c.defaults = cfg
	}
}

func WithDialer(dial DialFunc) Option {
	return func(c *Component) {
		c.dial = dial
	}
}

// Component shares one connection per server among its endpoints.
type Component struct {
	defaults pubsub.RedisConfig
	dial     DialFunc
	logger   *logger.CanonicalLogger

	mu    sync.Mutex
	conns map[string]Conn
}

func New(log *logger.CanonicalLogger, opts ...Option) *Component {
	c := &Component{
		defaults: pubsub.RedisConfig{Host: "localhost", Port: 6379},
		dial:     Dial,
		logger:   log.Component(Scheme),
		conns:    make(map[string]Conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	cfg := DefaultConfig()
	cfg.Password = c.defaults.Password
	cfg.DB = c.defaults.DB
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}

	server := c.defaults
	if remaining != "" {
		host, port, err := net.SplitHostPort(remaining)
		if err != nil {
			return nil, core.NewResolveEndpointError(uri, "expected redis:host:port", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, core.NewResolveEndpointError(uri, "invalid port", err)
		}
		server.Host, server.Port = host, p
	}
	server.Password, server.DB = cfg.Password, cfg.DB

	return &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		cfg:          cfg,
		server:       server,
		component:    c,
	}, nil
}

func (c *Component) conn(cfg pubsub.RedisConfig) (Conn, error) {
	key := fmt.Sprintf("%s/%d/%s", cfg.Addr(), cfg.DB, cfg.Password)
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[key]; ok {
		return conn, nil
	}
	conn, err := c.dial(cfg, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
	}
	c.conns[key] = conn
	c.logger.Info("redis client initialized", logger.String("addr", cfg.Addr()), logger.Int("db", cfg.DB))
	return conn, nil
}

func (c *Component) Start(context.Context) error {
	return nil
}

// Stop closes every connection.
func (c *Component) Stop(context.Context) error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]Conn)
	c.mu.Unlock()

	var errs []error
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Endpoint struct {
	core.EndpointBase
	cfg       Config
	server    pubsub.RedisConfig
	component *Component
}

func (e *Endpoint) CreateProducer() (core.Producer, error) {
	return &producer{endpoint: e}, nil
}

func (e *Endpoint) CreateConsumer(processor core.Processor) (core.Consumer, error) {
	if len(e.cfg.Channels) == 0 {
		return nil, core.NewResolveEndpointError(e.URI(), "redis consumer requires the channels option", nil)
	}
	cmd := strings.ToUpper(e.cfg.Command)
	if cmd == "SET" {
		cmd = "SUBSCRIBE"
	}
	if cmd != "SUBSCRIBE" && cmd != "PSUBSCRIBE" {
		return nil, core.NewResolveEndpointError(e.URI(), "redis consumer supports SUBSCRIBE and PSUBSCRIBE, got "+e.cfg.Command, nil)
	}
	return &consumer{endpoint: e, processor: processor, pattern: cmd == "PSUBSCRIBE"}, nil
}

type producer struct {
	endpoint *Endpoint
	conn     Conn
}

func (p *producer) Start(context.Context) error {
	conn, err := p.endpoint.component.conn(p.endpoint.server)
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
	msg := ex.Message
	command := msg.HeaderString(HeaderCommand)
	if command == "" {
		command = p.endpoint.cfg.Command
	}
	command = strings.ToUpper(command)
	key := msg.HeaderString(HeaderKey)

	result, err := p.execute(ctx, command, key, msg)
	if errors.Is(err, goredis.Nil) {
		result, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("redis %s failed: %w", command, err)
	}
	if command != "SET" {
		msg.Body = result
	}
	return nil
}

func (p *producer) execute(ctx context.Context, command, key string, msg *core.Message) (any, error) {
	requireKey := func() error {
		if key == "" {
			return core.Invalidf("redis %s requires header %s", command, HeaderKey)
		}
		return nil
	}

	switch command {
	case "SET":
		if err := requireKey(); err != nil {
			return nil, err
		}
		value, err := payload(msg, HeaderValue)
		if err != nil {
			return nil, err
		}
		return p.conn.Set(ctx, key, value, timeout(msg)).Result()
	case "GET":
		if err := requireKey(); err != nil {
			return nil, err
		}
		return p.conn.Get(ctx, key).Result()
	case "DEL":
		if err := requireKey(); err != nil {
			return nil, err
		}
		return p.conn.Del(ctx, strings.Split(key, ",")...).Result()
	case "EXISTS":
		if err := requireKey(); err != nil {
			return nil, err
		}
		n, err := p.conn.Exists(ctx, key).Result()
		return n > 0, err
	case "INCR":
		if err := requireKey(); err != nil {
			return nil, err
		}
		return p.conn.Incr(ctx, key).Result()
	case "EXPIRE":
		if err := requireKey(); err != nil {
			return nil, err
		}
		return p.conn.Expire(ctx, key, timeout(msg)).Result()
	case "PUBLISH":
		channel := msg.HeaderString(HeaderChannel)
		if channel == "" {
			return nil, core.Invalidf("redis PUBLISH requires header %s", HeaderChannel)
		}
		message, err := payload(msg, HeaderMessage)
		if err != nil {
			return nil, err
		}
		return p.conn.Publish(ctx, channel, message).Result()
	case "LPUSH":
		if err := requireKey(); err != nil {
			return nil, err
		}
		value, err := payload(msg, HeaderValue)
		if err != nil {
			return nil, err
		}
		return p.conn.LPush(ctx, key, value).Result()
	case "RPOP":
		if err := requireKey(); err != nil {
			return nil, err
		}
		return p.conn.RPop(ctx, key).Result()
	case "HSET":
		if err := requireKey(); err != nil {
			return nil, err
		}
		field := msg.HeaderString(HeaderField)
		if field == "" {
			return nil, core.Invalidf("redis HSET requires header %s", HeaderField)
		}
		value, err := payload(msg, HeaderValue)
		if err != nil {
			return nil, err
		}
		return p.conn.HSet(ctx, key, field, value).Result()
	case "HGET":
		if err := requireKey(); err != nil {
			return nil, err
		}
		return p.conn.HGet(ctx, key, msg.HeaderString(HeaderField)).Result()
	case "KEYS":
		pattern := key
		if pattern == "" {
			pattern = "*"
		}
		return p.conn.Keys(ctx, pattern).Result()
	default:
		return nil, core.Invalidf("unsupported redis command %q", command)
	}
}

// payload takes the value from header or body. Scalars go to redis as-is,
// anything else is JSON encoded.
func payload(msg *core.Message, header string) (any, error) {
	v, ok := msg.Header(header)
	if !ok {
		v = msg.Body
	}
	switch v.(type) {
	case nil:
		return "", nil
	case string, []byte, int, int64, float64, bool:
		return v, nil
	}
	tmp := core.Message{Body: v}
	b, err := tmp.BodyBytes()
	if err != nil {
		return nil, core.Invalid(err)
	}
	return b, nil
}

func timeout(msg *core.Message) time.Duration {
	return time.Duration(msg.HeaderInt(HeaderTimeout, 0)) * time.Second
}

type consumer struct {
	endpoint  *Endpoint
	processor core.Processor
	pattern   bool

	sub  pubsub.Subscriber
	done chan struct{}
}

func (c *consumer) Start(ctx context.Context) error {
	conn, err := c.endpoint.component.conn(c.endpoint.server)
	if err != nil {
		return err
	}
	sub := conn.NewSubscriber()
	subCtx := context.WithoutCancel(ctx)

	var messages <-chan pubsub.Message
	if c.pattern {
		messages, err = sub.PSubscribe(subCtx, c.endpoint.cfg.Channels...)
	} else {
		messages, err = sub.Subscribe(subCtx, c.endpoint.cfg.Channels...)
	}
	if err != nil {
		_ = sub.Close()
		return err
	}

	c.sub = sub
	c.done = make(chan struct{})
	go c.receive(subCtx, messages)
	return nil
}

func (c *consumer) Stop(context.Context) error {
	if c.sub == nil {
		return nil
	}
	err := c.sub.Close()
	<-c.done
	c.sub = nil
	return err
}

func (c *consumer) receive(ctx context.Context, messages <-chan pubsub.Message) {
	defer close(c.done)
	for m := range messages {
		ex := core.NewExchange(core.InOnly)
		ex.Message.Body = m.Payload
		ex.Message.SetHeader(HeaderChannel, m.Channel)
		if m.Pattern != "" {
			ex.Message.SetHeader(HeaderPattern, m.Pattern)
		}
		if err := c.processor.Process(ctx, ex); err != nil {
			c.endpoint.component.logger.WithExchangeID(ex.ID).WithError(err).Debug("redis message failed",
				logger.String("channel", m.Channel))
		}
	}
}
