// Package websocket sends messages to and receives frames from a websocket server.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/retry"
)

const Scheme = "websocket"

const (
	HeaderMessageType = "CamelWebsocketMessageType"
	HeaderURL         = "CamelWebsocketUrl"
)

const (
	MessageText   = "text"
	MessageBinary = "binary"
)

type Config struct {
	MessageType  string        `uri:"messageType" validate:"oneof=text binary"`
	Subprotocols []string      `uri:"subprotocols"`
	AuthToken    string        `uri:"authToken"`
	Handshake    time.Duration `uri:"handshakeTimeout" validate:"gte=0"`
	WriteTimeout time.Duration `uri:"writeTimeout" validate:"gte=0"`

	Reconnect bool `uri:"reconnect"`
	// MaxReconnectAttempts of 0 keeps trying until the endpoint stops.
	MaxReconnectAttempts int           `uri:"maxReconnectAttempts" validate:"gte=0"`
	ReconnectDelay       time.Duration `uri:"reconnectDelay" validate:"gte=0"`
	MaxReconnectDelay    time.Duration `uri:"maxReconnectDelay" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		MessageType:       MessageText,
		Handshake:         10 * time.Second,
		WriteTimeout:      10 * time.Second,
		Reconnect:         true,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}
}

// policy spaces reconnect attempts with exponential backoff.
func (c Config) policy(maxAttempts int) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaximumRedeliveries = maxAttempts
	p.RedeliveryDelay = c.ReconnectDelay
	p.MaximumRedeliveryDelay = c.MaxReconnectDelay
	p.UseExponentialBackOff = true
	return p
}

type Component struct {
	logger *logger.CanonicalLogger
}

func New(log *logger.CanonicalLogger) *Component {
	return &Component{logger: log.Component(Scheme)}
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	if remaining == "" {
		return nil, core.NewResolveEndpointError(uri, "websocket endpoint requires a host", nil)
	}
	cfg := DefaultConfig()
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}

	target := remaining
	if !strings.HasPrefix(target, "ws://") && !strings.HasPrefix(target, "wss://") {
		target = "ws://" + target
	}
	// Parameters the endpoint does not know are passed on in the query string.
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
			delete(params, k)
		}
		target += "?" + q.Encode()
	}

	return &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		target:       target,
		cfg:          cfg,
		component:    c,
	}, nil
}

type Endpoint struct {
	core.EndpointBase
	target    string
	cfg       Config
	component *Component
}

func (e *Endpoint) CreateProducer() (core.Producer, error) {
	return &producer{endpoint: e}, nil
}

func (e *Endpoint) CreateConsumer(processor core.Processor) (core.Consumer, error) {
	return &consumer{endpoint: e, processor: processor}, nil
}

func (e *Endpoint) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: e.cfg.Handshake,
		Subprotocols:     e.cfg.Subprotocols,
	}
	header := http.Header{}
	if e.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+e.cfg.AuthToken)
	}
	conn, resp, err := dialer.DialContext(ctx, e.target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed with status %d: %w", core.SanitizeURI(e.target), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", core.SanitizeURI(e.target), err)
	}
	return conn, nil
}

type producer struct {
	endpoint *Endpoint

	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *producer) Start(context.Context) error {
	return nil
}

func (p *producer) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *producer) closeLocked() error {
	if p.conn == nil {
		return nil
	}
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := p.conn.Close()
	p.conn = nil
	return err
}

// Process writes the body as one frame. The connection is opened on first
// use and reopened when a write fails and reconnect is enabled.
func (p *producer) Process(ctx context.Context, ex *core.Exchange) error {
	e := p.endpoint
	data, err := ex.Message.BodyBytes()
	if err != nil {
		return core.Invalid(err)
	}
	frame := websocket.TextMessage
	mt := e.cfg.MessageType
	if h := ex.Message.HeaderString(HeaderMessageType); h != "" {
		mt = h
	}
	if mt == MessageBinary {
		frame = websocket.BinaryMessage
	}

	attempts := 0
	if e.cfg.Reconnect {
		attempts = e.cfg.MaxReconnectAttempts
		if attempts == 0 {
			attempts = 3
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = retry.Do(ctx, e.cfg.policy(attempts), func(ctx context.Context, attempt int) error {
		if p.conn == nil {
			conn, err := e.dial(ctx)
			if err != nil {
				return err
			}
			p.conn = conn
		}
		if e.cfg.WriteTimeout > 0 {
			_ = p.conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout))
		}
		if err := p.conn.WriteMessage(frame, data); err != nil {
			_ = p.conn.Close()
			p.conn = nil
			return fmt.Errorf("failed to write to %s: %w", core.SanitizeURI(e.target), err)
		}
		return nil
	}, retry.OnRedeliver(func(attempt int, delay time.Duration, err error) {
		e.component.logger.WithError(err).Warn("reconnecting websocket",
			logger.Int("attempt", attempt), logger.Duration("delay", delay))
	}))
	return err
}

type consumer struct {
	endpoint  *Endpoint
	processor core.Processor

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	conn   *websocket.Conn
}

// Start dials once. When that fails and reconnect is enabled the consumer
// keeps dialing in the background, otherwise the error is returned.
func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	e := c.endpoint

	conn, err := e.dial(ctx)
	if err != nil {
		if !e.cfg.Reconnect {
			return err
		}
		e.component.logger.WithError(err).Warn("websocket unavailable, retrying in background")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.conn = conn
	go c.run(runCtx, conn, c.done)
	return nil
}

func (c *consumer) Stop(context.Context) error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return nil
	}
	c.cancel()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	<-done
	return nil
}

func (c *consumer) setConn(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	c.conn = conn
	return true
}

func (c *consumer) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	e := c.endpoint
	log := e.component.logger.With(logger.String("url", core.SanitizeURI(e.target)))
	policy := e.cfg.policy(e.cfg.MaxReconnectAttempts)
	attempt := 0

	for {
		if conn == nil {
			var err error
			conn, err = e.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !c.wait(ctx, policy, &attempt, err) {
					return
				}
				continue
			}
			if !c.setConn(ctx, conn) {
				_ = conn.Close()
				return
			}
		}

		attempt = 0
		log.Debug("websocket connected")
		err := c.read(ctx, conn)
		_ = conn.Close()
		conn = nil
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Warn("websocket connection lost")
		if !c.wait(ctx, policy, &attempt, err) {
			return
		}
	}
}

// wait sleeps before the next dial. It returns false when reconnect is off
// or the attempts are used up.
func (c *consumer) wait(ctx context.Context, policy retry.Policy, attempt *int, err error) bool {
	e := c.endpoint
	if !e.cfg.Reconnect || (policy.MaximumRedeliveries > 0 && *attempt >= policy.MaximumRedeliveries) {
		core.ReportConsumerError(ctx, c.processor, fmt.Errorf("websocket consumer gave up: %w", err))
		return false
	}
	*attempt++
	timer := time.NewTimer(policy.Delay(*attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *consumer) read(ctx context.Context, conn *websocket.Conn) error {
	e := c.endpoint
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ex := core.NewExchange(core.InOnly)
		ex.FromEndpoint = e.URI()
		ex.Message.SetHeader(HeaderURL, e.target)
		if mt == websocket.BinaryMessage {
			ex.Message.Body = data
			ex.Message.SetHeader(HeaderMessageType, MessageBinary)
		} else {
			ex.Message.Body = string(data)
			ex.Message.SetHeader(HeaderMessageType, MessageText)
		}
		// Failures are handled by the route error handler.
		_ = c.processor.Process(ctx, ex)
	}
}
