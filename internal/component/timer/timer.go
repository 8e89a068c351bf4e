// Package timer fires exchanges on a fixed schedule.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

const Scheme = "timer"

type Config struct {
	// Period between fires. Zero fires once.
	Period time.Duration `uri:"period" validate:"gte=0"`
	Delay  time.Duration `uri:"delay" validate:"gte=0"`
	// RepeatCount stops the timer after N fires. Zero repeats forever.
	RepeatCount int64 `uri:"repeatCount" validate:"gte=0"`
	// FixedRate schedules fires from the start time instead of from the end
	// of the previous exchange.
	FixedRate bool `uri:"fixedRate"`
}

func DefaultConfig() Config {
	return Config{Period: time.Second, Delay: time.Second}
}

type Component struct {
	logger *logger.CanonicalLogger
}

func New(log *logger.CanonicalLogger) *Component {
	return &Component{logger: log.Component(Scheme)}
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	if remaining == "" {
		return nil, core.NewResolveEndpointError(uri, "timer endpoint requires a name", nil)
	}
	cfg := DefaultConfig()
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}
	return &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		name:         remaining,
		cfg:          cfg,
		logger:       c.logger,
	}, nil
}

type Endpoint struct {
	core.EndpointBase
	name   string
	cfg    Config
	logger *logger.CanonicalLogger
}

func (e *Endpoint) CreateConsumer(processor core.Processor) (core.Consumer, error) {
	return &consumer{endpoint: e, processor: processor}, nil
}

type consumer struct {
	endpoint  *Endpoint
	processor core.Processor

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	counter int64
}

func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(loopCtx, c.done)
	return nil
}

func (c *consumer) Stop(context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (c *consumer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	cfg := c.endpoint.cfg

	next := time.Now().Add(cfg.Delay)
	timer := time.NewTimer(cfg.Delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		c.fire(ctx)
		if cfg.Period == 0 || (cfg.RepeatCount > 0 && c.counter >= cfg.RepeatCount) {
			return
		}

		wait := cfg.Period
		if cfg.FixedRate {
			next = next.Add(cfg.Period)
			wait = max(time.Until(next), 0)
		}
		timer.Reset(wait)
	}
}

func (c *consumer) fire(ctx context.Context) {
	c.counter++
	e := c.endpoint
	ex := core.NewExchange(core.InOnly)
	ex.Message.SetHeader(core.HeaderTimerName, e.name)
	ex.Message.SetHeader(core.HeaderTimerFiredTime, time.Now())
	ex.Message.SetHeader(core.HeaderTimerCounter, c.counter)
	ex.Message.SetHeader(core.HeaderTimerPeriod, e.cfg.Period)

	if err := c.processor.Process(ctx, ex); err != nil {
		e.logger.WithExchangeID(ex.ID).WithError(err).Debug("timer exchange failed", logger.String("timer", e.name))
	}
}
