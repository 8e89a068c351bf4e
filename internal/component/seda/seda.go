// Package seda provides asynchronous in-process queues between routes.
package seda

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

const Scheme = "seda"

// Values of the waitForTaskToComplete option.
const (
	WaitNever           = "Never"
	WaitIfReplyExpected = "IfReplyExpected"
	WaitAlways          = "Always"
)

type Config struct {
	Size                int           `uri:"size" validate:"gt=0"`
	ConcurrentConsumers int           `uri:"concurrentConsumers" validate:"gt=0"`
	BlockWhenFull       bool          `uri:"blockWhenFull"`
	OfferTimeout        time.Duration `uri:"offerTimeout" validate:"gte=0"`
	// WaitForTaskToComplete decides whether the producer waits for the
	// consumer to finish the exchange.
	WaitForTaskToComplete string        `uri:"waitForTaskToComplete" validate:"oneof=Never IfReplyExpected Always"`
	Timeout               time.Duration `uri:"timeout" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		Size:                  1000,
		ConcurrentConsumers:   1,
		WaitForTaskToComplete: WaitIfReplyExpected,
		Timeout:               30 * time.Second,
	}
}

type item struct {
	ctx      context.Context
	exchange *core.Exchange
	// done is nil when the producer does not wait.
	done chan error
}

type queue struct {
	name     string
	ch       chan *item
	consumer bool
}

type Component struct {
	logger *logger.CanonicalLogger

	mu     sync.Mutex
	queues map[string]*queue
}

func New(log *logger.CanonicalLogger) *Component {
	return &Component{
		logger: log.Component(Scheme),
		queues: make(map[string]*queue),
	}
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	if remaining == "" {
		return nil, core.NewResolveEndpointError(uri, "seda endpoint requires a queue name", nil)
	}
	cfg := DefaultConfig()
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}
	return &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		cfg:          cfg,
		queue:        c.getOrCreateQueue(remaining, cfg.Size),
		component:    c,
	}, nil
}

// getOrCreateQueue returns the queue for name. The first endpoint for a name
// decides its capacity.
func (c *Component) getOrCreateQueue(name string, size int) *queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.queues[name]; ok {
		return q
	}
	q := &queue{name: name, ch: make(chan *item, size)}
	c.queues[name] = q
	return q
}

// QueueSize reports the number of pending exchanges on the named queue.
func (c *Component) QueueSize(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.queues[name]; ok {
		return len(q.ch)
	}
	return 0
}

func (c *Component) attach(q *queue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q.consumer {
		return fmt.Errorf("cannot add a second consumer to seda:%s", q.name)
	}
	q.consumer = true
	return nil
}

func (c *Component) detach(q *queue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q.consumer = false
}

type Endpoint struct {
	core.EndpointBase
	cfg       Config
	queue     *queue
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

func (p *producer) wait(ex *core.Exchange) bool {
	switch p.endpoint.cfg.WaitForTaskToComplete {
	case WaitAlways:
		return true
	case WaitIfReplyExpected:
		return ex.Pattern == core.InOut
	default:
		return false
	}
}

func (p *producer) Process(ctx context.Context, ex *core.Exchange) error {
	cfg := p.endpoint.cfg
	// the worker only ever sees a copy, the caller keeps ex after a timeout
	it := &item{ctx: context.WithoutCancel(ctx), exchange: ex.Copy()}
	if p.wait(ex) {
		it.exchange.ID = ex.ID
		it.done = make(chan error, 1)
	}

	if err := p.offer(ctx, it); err != nil {
		return err
	}
	if it.done == nil {
		return nil
	}

	var timeout <-chan time.Time
	if cfg.Timeout > 0 {
		timer := time.NewTimer(cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case err := <-it.done:
		ex.CopyResult(it.exchange)
		return err
	case <-timeout:
		return fmt.Errorf("%w: seda:%s after %s", core.ErrExchangeTimeout, p.endpoint.queue.name, cfg.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *producer) offer(ctx context.Context, it *item) error {
	q := p.endpoint.queue
	select {
	case q.ch <- it:
		return nil
	default:
	}
	if !p.endpoint.cfg.BlockWhenFull {
		return fmt.Errorf("%w: seda:%s", core.ErrQueueFull, q.name)
	}

	var timeout <-chan time.Time
	if p.endpoint.cfg.OfferTimeout > 0 {
		timer := time.NewTimer(p.endpoint.cfg.OfferTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case q.ch <- it:
		return nil
	case <-timeout:
		return fmt.Errorf("%w: seda:%s offer timed out", core.ErrQueueFull, q.name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

type consumer struct {
	endpoint  *Endpoint
	processor core.Processor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *consumer) Start(ctx context.Context) error {
	if err := c.endpoint.component.attach(c.endpoint.queue); err != nil {
		return err
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	for i := 0; i < c.endpoint.cfg.ConcurrentConsumers; i++ {
		c.wg.Add(1)
		go c.work(workerCtx)
	}
	c.endpoint.component.logger.Debug("seda consumer started",
		logger.String("queue", c.endpoint.queue.name),
		logger.Int("concurrent_consumers", c.endpoint.cfg.ConcurrentConsumers))
	return nil
}

// Stop waits for in-flight exchanges. Pending exchanges stay queued for the
// next consumer.
func (c *consumer) Stop(context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	c.cancel = nil
	c.endpoint.component.detach(c.endpoint.queue)
	return nil
}

func (c *consumer) work(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-c.endpoint.queue.ch:
			err := c.processor.Process(it.ctx, it.exchange)
			if it.done != nil {
				it.done <- err
			} else if err != nil {
				c.endpoint.component.logger.WithExchangeID(it.exchange.ID).WithError(err).Debug("async exchange failed")
			}
		}
	}
}
