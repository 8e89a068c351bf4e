// Package scheduler triggers routes from scheduled polls. Endpoints with the
// same scheduler name share one bounded worker pool.
package scheduler

import (
	"context"
	"sync"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/poll"
)

const Scheme = "scheduler"

type Config struct {
	core.PollOptions `uri:",squash"`
	PoolSize         int `uri:"poolSize" validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{PollOptions: core.DefaultPollOptions(), PoolSize: 1}
}

// pool bounds how many polls of one scheduler run at the same time.
type pool struct {
	slots chan struct{}
	refs  int
}

func (p *pool) Execute(ctx context.Context, task func(ctx context.Context)) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()
	task(ctx)
	return nil
}

type Component struct {
	logger *logger.CanonicalLogger

	mu    sync.Mutex
	pools map[string]*pool
}

func New(log *logger.CanonicalLogger) *Component {
	return &Component{
		logger: log.Component(Scheme),
		pools:  make(map[string]*pool),
	}
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	if remaining == "" {
		return nil, core.NewResolveEndpointError(uri, "scheduler endpoint requires a name", nil)
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

// acquirePool returns the shared pool for name. The first consumer decides
// the pool size.
func (c *Component) acquirePool(name string, size int) *pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[name]
	if !ok {
		p = &pool{slots: make(chan struct{}, size)}
		c.pools[name] = p
	}
	p.refs++
	return p
}

func (c *Component) releasePool(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[name]
	if !ok {
		return
	}
	p.refs--
	if p.refs <= 0 {
		delete(c.pools, name)
	}
}

// Pools reports the number of live scheduler pools.
func (c *Component) Pools() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pools)
}

type Endpoint struct {
	core.EndpointBase
	name      string
	cfg       Config
	component *Component
}

func (e *Endpoint) CreateConsumer(processor core.Processor) (core.Consumer, error) {
	return &consumer{endpoint: e, processor: processor}, nil
}

type consumer struct {
	endpoint  *Endpoint
	processor core.Processor

	mu     sync.Mutex
	poller poll.Poller
}

func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poller != nil {
		return nil
	}
	e := c.endpoint
	exec := e.component.acquirePool(e.name, e.cfg.PoolSize)
	p := poll.NewPoller(e.name, e.cfg.Config(), c.poll,
		poll.WithLogger(e.component.logger),
		poll.WithExecutor(exec),
	)
	if err := p.Start(ctx); err != nil {
		e.component.releasePool(e.name)
		return err
	}
	c.poller = p
	return nil
}

func (c *consumer) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poller == nil {
		return nil
	}
	err := c.poller.Stop()
	c.poller = nil
	c.endpoint.component.releasePool(c.endpoint.name)
	return err
}

// poll sends one exchange. The route may set CamelSchedulerPolledMessages to
// false or a count so idle backoff can kick in.
func (c *consumer) poll(ctx context.Context) (int, error) {
	ex := core.NewExchange(core.InOnly)
	ex.Message.SetHeader(core.HeaderTimerName, c.endpoint.name)
	if err := c.processor.Process(ctx, ex); err != nil {
		return 0, err
	}

	v, ok := ex.Property(core.PropertySchedulerPolled)
	if !ok {
		return 1, nil
	}
	switch polled := v.(type) {
	case bool:
		if polled {
			return 1, nil
		}
		return 0, nil
	case int:
		return polled, nil
	case int64:
		return int(polled), nil
	default:
		return 1, nil
	}
}
