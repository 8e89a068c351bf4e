// Package direct provides synchronous in-process calls between routes.
package direct

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

const Scheme = "direct"

type Config struct {
	// Block waits for a consumer when none is registered yet.
	Block   bool          `uri:"block"`
	Timeout time.Duration `uri:"timeout" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{Block: true, Timeout: 30 * time.Second}
}

type Component struct {
	logger *logger.CanonicalLogger

	mu        sync.Mutex
	consumers map[string]core.Processor
	changed   chan struct{}
}

func New(log *logger.CanonicalLogger) *Component {
	return &Component{
		logger:    log.Component(Scheme),
		consumers: make(map[string]core.Processor),
		changed:   make(chan struct{}),
	}
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	if remaining == "" {
		return nil, core.NewResolveEndpointError(uri, "direct endpoint requires a name", nil)
	}
	cfg := DefaultConfig()
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}
	return &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		name:         remaining,
		cfg:          cfg,
		component:    c,
	}, nil
}

func (c *Component) register(name string, p core.Processor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.consumers[name]; exists {
		return fmt.Errorf("cannot add a second consumer to direct:%s", name)
	}
	c.consumers[name] = p
	close(c.changed)
	c.changed = make(chan struct{})
	return nil
}

func (c *Component) unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.consumers, name)
}

func (c *Component) lookup(name string) (core.Processor, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumers[name], c.changed
}

// await returns the consumer for name, waiting up to timeout when block is set.
func (c *Component) await(ctx context.Context, name string, block bool, timeout time.Duration) (core.Processor, error) {
	p, changed := c.lookup(name)
	if p != nil || !block {
		return p, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-changed:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if p, changed = c.lookup(name); p != nil {
			return p, nil
		}
	}
}

type Endpoint struct {
	core.EndpointBase
	name      string
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
	core.NopService
	endpoint *Endpoint
}

func (p *producer) Process(ctx context.Context, ex *core.Exchange) error {
	e := p.endpoint
	target, err := e.component.await(ctx, e.name, e.cfg.Block, e.cfg.Timeout)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("%w: direct://%s", core.ErrNoConsumer, e.name)
	}
	return target.Process(ctx, ex)
}

type consumer struct {
	endpoint  *Endpoint
	processor core.Processor
}

func (c *consumer) Start(context.Context) error {
	if err := c.endpoint.component.register(c.endpoint.name, c.processor); err != nil {
		return err
	}
	c.endpoint.component.logger.Debug("direct consumer registered", logger.String("name", c.endpoint.name))
	return nil
}

func (c *consumer) Stop(context.Context) error {
	c.endpoint.component.unregister(c.endpoint.name)
	return nil
}
