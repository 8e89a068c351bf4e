package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/tracing"
)

// managedProducer adds lazy start, tracing and metrics around a component producer.
type managedProducer struct {
	entry    *endpointEntry
	producer core.Producer
	ctx      *Context

	startOnce sync.Once
	startErr  error
}

func (p *managedProducer) start(ctx context.Context) error {
	p.startOnce.Do(func() {
		p.startErr = p.producer.Start(ctx)
	})
	return p.startErr
}

func (p *managedProducer) Process(ctx context.Context, ex *core.Exchange) error {
	if err := p.start(ctx); err != nil {
		return fmt.Errorf("failed to start producer for %s: %w", core.SanitizeURI(p.entry.uri), err)
	}

	spanCtx, span := tracing.StartProducerSpan(ctx, p.entry.scheme, core.SanitizeURI(p.entry.uri), ex.ID, ex.FromRouteID)
	defer span.End()

	err := p.producer.Process(spanCtx, ex)
	if err == nil {
		err = ex.Err
	}
	tracing.RecordError(span, err)
	p.ctx.metrics.ProducerCall(p.entry.scheme, err)
	return err
}

type producerCache struct {
	ctx *Context

	mu        sync.Mutex
	producers map[string]*managedProducer
}

func newProducerCache(c *Context) *producerCache {
	return &producerCache{ctx: c, producers: make(map[string]*managedProducer)}
}

// acquire returns the shared producer for uri, creating it on first use.
// Producers are started immediately unless the endpoint sets lazyStartProducer.
func (pc *producerCache) acquire(ctx context.Context, uri string) (*managedProducer, error) {
	entry, err := pc.ctx.resolve(uri)
	if err != nil {
		return nil, err
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if p, ok := pc.producers[entry.uri]; ok {
		return p, nil
	}

	producer, err := entry.endpoint.CreateProducer()
	if err != nil {
		return nil, err
	}
	p := &managedProducer{entry: entry, producer: producer, ctx: pc.ctx}
	if !entry.lazyStartProducer {
		if err := p.start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start producer for %s: %w", core.SanitizeURI(entry.uri), err)
		}
	}
	pc.producers[entry.uri] = p
	pc.ctx.logger.WithEndpoint(core.SanitizeURI(entry.uri)).Debug("producer created")
	return p, nil
}

func (pc *producerCache) stopAll(ctx context.Context) error {
	pc.mu.Lock()
	producers := pc.producers
	pc.producers = make(map[string]*managedProducer)
	pc.mu.Unlock()

	var firstErr error
	for uri, p := range producers {
		if err := p.producer.Stop(ctx); err != nil {
			pc.ctx.logger.WithEndpoint(core.SanitizeURI(uri)).WithError(err).Error("failed to stop producer")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// sendProcessor sends to a fixed endpoint. The producer is resolved when the
// route starts so a bad URI fails route startup.
type sendProcessor struct {
	ctx *Context
	uri string

	mu       sync.Mutex
	producer *managedProducer
}

// To returns a processor that sends the exchange to uri.
func (c *Context) To(uri string) core.Processor {
	return &sendProcessor{ctx: c, uri: uri}
}

func (s *sendProcessor) Start(ctx context.Context) error {
	_, err := s.acquire(ctx)
	return err
}

func (s *sendProcessor) Stop(context.Context) error {
	s.mu.Lock()
	s.producer = nil
	s.mu.Unlock()
	return nil
}

func (s *sendProcessor) acquire(ctx context.Context) (*managedProducer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.producer != nil {
		return s.producer, nil
	}
	p, err := s.ctx.producers.acquire(ctx, s.uri)
	if err != nil {
		return nil, err
	}
	s.producer = p
	return p, nil
}

func (s *sendProcessor) Process(ctx context.Context, ex *core.Exchange) error {
	p, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	ex.SetProperty(core.PropertyToEndpoint, s.uri)
	return p.Process(ctx, ex)
}

func (s *sendProcessor) String() string {
	return "to[" + core.SanitizeURI(s.uri) + "]"
}

// URIFunc computes a target URI from an exchange.
type URIFunc func(ex *core.Exchange) (string, error)

type dynamicSendProcessor struct {
	ctx  *Context
	expr URIFunc
}

// ToD returns a processor that computes the target URI for every exchange.
func (c *Context) ToD(expr URIFunc) core.Processor {
	return &dynamicSendProcessor{ctx: c, expr: expr}
}

func (d *dynamicSendProcessor) Process(ctx context.Context, ex *core.Exchange) error {
	uri, err := d.expr(ex)
	if err != nil {
		return core.Invalid(fmt.Errorf("failed to compute endpoint uri: %w", err))
	}
	p, err := d.ctx.producers.acquire(ctx, uri)
	if err != nil {
		return err
	}
	ex.SetProperty(core.PropertyToEndpoint, uri)
	return p.Process(ctx, ex)
}
