// Package mock records exchanges and checks expectations against them.
package mock

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Alwanly/conduit/internal/core"
)

const Scheme = "mock"

type Config struct {
	ExpectedCount  int           `uri:"expectedCount" validate:"gte=-1"`
	ResultWaitTime time.Duration `uri:"resultWaitTime" validate:"gte=0"`
	AssertPeriod   time.Duration `uri:"assertPeriod" validate:"gte=0"`
	// RetainFirst keeps only the first N exchanges. -1 keeps all.
	RetainFirst int `uri:"retainFirst" validate:"gte=-1"`
}

func DefaultConfig() Config {
	return Config{ExpectedCount: -1, ResultWaitTime: 10 * time.Second, RetainFirst: -1}
}

// Component keeps one endpoint per name so tests can look it up again.
type Component struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

func New() *Component {
	return &Component{endpoints: make(map[string]*Endpoint)}
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	if remaining == "" {
		return nil, core.NewResolveEndpointError(uri, "mock endpoint requires a name", nil)
	}
	cfg := DefaultConfig()
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ep, ok := c.endpoints[remaining]; ok {
		return ep, nil
	}
	ep := &Endpoint{
		EndpointBase:  core.EndpointBase{EndpointURI: uri},
		name:          remaining,
		cfg:           cfg,
		expectedCount: cfg.ExpectedCount,
		notify:        make(chan struct{}),
	}
	c.endpoints[remaining] = ep
	return ep, nil
}

// Endpoint returns the named mock endpoint if it was created.
func (c *Component) Endpoint(name string) (*Endpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.endpoints[name]
	return ep, ok
}

type Endpoint struct {
	core.EndpointBase
	name string
	cfg  Config

	mu              sync.Mutex
	received        []*core.Exchange
	counter         int
	notify          chan struct{}
	expectedCount   int
	expectedMin     int
	expectedBodies  []any
	bodiesAnyOrder  bool
	expectedHeaders map[string]any
	onReceive       core.Processor
}

func (e *Endpoint) CreateProducer() (core.Producer, error) {
	return core.NewProducer(e.receive), nil
}

func (e *Endpoint) receive(ctx context.Context, ex *core.Exchange) error {
	snapshot := &core.Exchange{
		ID:           ex.ID,
		Pattern:      ex.Pattern,
		Message:      ex.Message.Copy(),
		Properties:   maps.Clone(ex.Properties),
		FromEndpoint: ex.FromEndpoint,
		FromRouteID:  ex.FromRouteID,
		Created:      ex.Created,
	}

	e.mu.Lock()
	e.counter++
	if e.cfg.RetainFirst < 0 || len(e.received) < e.cfg.RetainFirst {
		e.received = append(e.received, snapshot)
	}
	close(e.notify)
	e.notify = make(chan struct{})
	onReceive := e.onReceive
	e.mu.Unlock()

	if onReceive != nil {
		return onReceive.Process(ctx, ex)
	}
	return nil
}

func (e *Endpoint) ExpectedMessageCount(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expectedCount = n
}

func (e *Endpoint) ExpectedMinimumMessageCount(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expectedMin = n
}

// ExpectedBodiesReceived expects exactly these bodies in this order.
func (e *Endpoint) ExpectedBodiesReceived(bodies ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expectedBodies = bodies
	e.bodiesAnyOrder = false
	e.expectedCount = len(bodies)
}

func (e *Endpoint) ExpectedBodiesReceivedInAnyOrder(bodies ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expectedBodies = bodies
	e.bodiesAnyOrder = true
	e.expectedCount = len(bodies)
}

// ExpectedHeaderReceived expects every received message to carry the header.
func (e *Endpoint) ExpectedHeaderReceived(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.expectedHeaders == nil {
		e.expectedHeaders = make(map[string]any)
	}
	e.expectedHeaders[name] = value
}

// WhenAnyExchangeReceived runs p on every exchange after it was recorded.
func (e *Endpoint) WhenAnyExchangeReceived(p core.Processor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onReceive = p
}

func (e *Endpoint) ReceivedCounter() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counter
}

func (e *Endpoint) ReceivedExchanges() []*core.Exchange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.received)
}

// Reset clears received exchanges and expectations.
func (e *Endpoint) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.received = nil
	e.counter = 0
	e.expectedCount = e.cfg.ExpectedCount
	e.expectedMin = 0
	e.expectedBodies = nil
	e.bodiesAnyOrder = false
	e.expectedHeaders = nil
	e.onReceive = nil
}

// AssertIsSatisfied waits up to the result wait time for the expected number
// of messages and then verifies every expectation.
func (e *Endpoint) AssertIsSatisfied(ctx context.Context) error {
	e.mu.Lock()
	target := max(e.expectedCount, e.expectedMin)
	wait := e.cfg.ResultWaitTime
	e.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for target > 0 {
		e.mu.Lock()
		count, notify := e.counter, e.notify
		e.mu.Unlock()
		if count >= target {
			break
		}
		select {
		case <-notify:
		case <-timer.C:
			target = 0
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if e.cfg.AssertPeriod > 0 {
		select {
		case <-time.After(e.cfg.AssertPeriod):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.check()
}

func (e *Endpoint) check() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.expectedCount >= 0 && e.counter != e.expectedCount {
		errs = append(errs, fmt.Errorf("mock://%s received message count %d, expected %d", e.name, e.counter, e.expectedCount))
	}
	if e.expectedMin > 0 && e.counter < e.expectedMin {
		errs = append(errs, fmt.Errorf("mock://%s received message count %d, expected at least %d", e.name, e.counter, e.expectedMin))
	}
	if e.expectedBodies != nil {
		if err := e.checkBodies(); err != nil {
			errs = append(errs, err)
		}
	}
	for name, want := range e.expectedHeaders {
		for i, ex := range e.received {
			got, _ := ex.Message.Header(name)
			if core.ToString(got) != core.ToString(want) {
				errs = append(errs, fmt.Errorf("mock://%s message %d header %s was %v, expected %v", e.name, i, name, got, want))
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Endpoint) checkBodies() error {
	got := make([]string, 0, len(e.received))
	for _, ex := range e.received {
		got = append(got, core.ToString(ex.Message.Body))
	}
	want := make([]string, 0, len(e.expectedBodies))
	for _, b := range e.expectedBodies {
		want = append(want, core.ToString(b))
	}
	if e.bodiesAnyOrder {
		sort.Strings(got)
		sort.Strings(want)
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("mock://%s received bodies [%s], expected [%s]", e.name, strings.Join(got, ", "), strings.Join(want, ", "))
	}
	return nil
}
