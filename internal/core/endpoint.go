package core

import "context"

// Processor handles an exchange in place.
type Processor interface {
	Process(ctx context.Context, ex *Exchange) error
}

type ProcessorFunc func(ctx context.Context, ex *Exchange) error

func (f ProcessorFunc) Process(ctx context.Context, ex *Exchange) error {
	return f(ctx, ex)
}

// Service is anything with a lifecycle.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Producer sends exchanges to the system behind an endpoint.
type Producer interface {
	Processor
	Service
}

// Consumer receives from the system behind an endpoint and hands each
// message to the processor it was created with.
type Consumer interface {
	Service
}

// Endpoint is a configured address within a component.
type Endpoint interface {
	URI() string
	CreateProducer() (Producer, error)
	CreateConsumer(processor Processor) (Consumer, error)
}

// Component creates endpoints for one URI scheme. params holds the query
// parameters; a component removes every parameter it understands.
type Component interface {
	CreateEndpoint(uri, remaining string, params Parameters) (Endpoint, error)
}

// EndpointBase carries the URI and provides the unsupported defaults.
type EndpointBase struct {
	EndpointURI string
}

func (e *EndpointBase) URI() string {
	return e.EndpointURI
}

func (e *EndpointBase) CreateProducer() (Producer, error) {
	return nil, &ResolveEndpointError{URI: e.EndpointURI, Err: ErrProducerNotSupported}
}

func (e *EndpointBase) CreateConsumer(Processor) (Consumer, error) {
	return nil, &ResolveEndpointError{URI: e.EndpointURI, Err: ErrConsumerNotSupported}
}

// NopService is embedded by producers and consumers without a lifecycle.
type NopService struct{}

func (NopService) Start(context.Context) error { return nil }
func (NopService) Stop(context.Context) error  { return nil }

type funcProducer struct {
	NopService
	fn ProcessorFunc
}

// NewProducer adapts a function into a Producer with no lifecycle.
func NewProducer(fn ProcessorFunc) Producer {
	return &funcProducer{fn: fn}
}

func (p *funcProducer) Process(ctx context.Context, ex *Exchange) error {
	return p.fn(ctx, ex)
}

// ConsumerErrorHandler is implemented by processors that accept failures a
// consumer hits outside of an exchange, such as a failed poll.
type ConsumerErrorHandler interface {
	HandleConsumerError(ctx context.Context, err error)
}

// ReportConsumerError hands err to p when it accepts consumer errors.
func ReportConsumerError(ctx context.Context, p Processor, err error) {
	if h, ok := p.(ConsumerErrorHandler); ok {
		h.HandleConsumerError(ctx, err)
	}
}
