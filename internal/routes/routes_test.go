package routes

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alwanly/conduit/internal/component/direct"
	"github.com/Alwanly/conduit/internal/component/mock"
	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/internal/engine"
	"github.com/Alwanly/conduit/pkg/logger"
)

const sampleRoutes = `
routes:
  - id: orders
    from: direct:orders
    errorHandler:
      maximumRedeliveries: 2
      redeliveryDelay: 50ms
      deadLetterUri: mock:dead
    steps:
      - setHeader: {name: source, value: web}
      - filter: ${header.kind} == 'order'
      - to: mock:orders
  - from: timer:tick?period=1000
    autoStartup: false
    steps:
      - log: tick ${header.CamelTimerCounter}
`

func newContext(t *testing.T) *engine.Context {
	t.Helper()
	c := engine.New(engine.WithLogger(logger.NewNop()))
	require.NoError(t, c.AddComponent(direct.Scheme, direct.New(logger.NewNop())))
	require.NoError(t, c.AddComponent(mock.Scheme, mock.New()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func mockEndpoint(t *testing.T, c *engine.Context, uri string) *mock.Endpoint {
	t.Helper()
	ep, err := c.Endpoint(uri)
	require.NoError(t, err)
	return ep.(*mock.Endpoint)
}

func buildAndStart(t *testing.T, c *engine.Context, doc string) {
	t.Helper()
	defs, err := Parse([]byte(doc))
	require.NoError(t, err)
	_, err = Build(context.Background(), c, defs)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
}

func TestParse(t *testing.T) {
	defs, err := Parse([]byte(sampleRoutes))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	orders := defs[0]
	assert.Equal(t, "orders", orders.ID)
	assert.Equal(t, "direct:orders", orders.From)
	assert.Nil(t, orders.AutoStartup)
	require.NotNil(t, orders.ErrorHandler)
	assert.Equal(t, 2, orders.ErrorHandler.MaximumRedeliveries)
	assert.Equal(t, 50*time.Millisecond, orders.ErrorHandler.RedeliveryDelay)
	assert.Equal(t, "mock:dead", orders.ErrorHandler.DeadLetterURI)

	kinds := make([]string, 0, len(orders.Steps))
	for _, s := range orders.Steps {
		kinds = append(kinds, s.Kind)
	}
	assert.Equal(t, []string{"setHeader", "filter", "to"}, kinds)

	tick := defs[1]
	assert.Empty(t, tick.ID)
	require.NotNil(t, tick.AutoStartup)
	assert.False(t, *tick.AutoStartup)
	assert.Equal(t, "tick ${header.CamelTimerCounter}", tick.Steps[0].Args.Value)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"missing from":   "routes:\n  - id: a\n",
		"duplicate id":   "routes:\n  - {id: a, from: direct:a}\n  - {id: a, from: direct:b}\n",
		"two step keys":  "routes:\n  - from: direct:a\n    steps:\n      - {to: mock:a, log: x}\n",
		"scalar step":    "routes:\n  - from: direct:a\n    steps:\n      - to\n",
		"bad yaml":       "routes: [",
		"bad redelivery": "routes:\n  - from: direct:a\n    errorHandler: {maximumRedeliveries: -5}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRoutes), 0o644))

	defs, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFilterAndSetters(t *testing.T) {
	c := newContext(t)
	buildAndStart(t, c, `
routes:
  - id: vip
    from: direct:start
    steps:
      - setProperty: {name: tag, value: vip}
      - setHeader: {name: count, value: "${header.n}"}
      - removeHeader: secret
      - filter: ${header.kind} == 'order' && ${header.n} > 2
      - setBody: ${body}-${exchangeProperty.tag}
      - to: mock:out
`)
	out := mockEndpoint(t, c, "mock:out")
	out.ExpectedBodiesReceived("a-vip")
	out.ExpectedHeaderReceived("count", 3)

	ctx := context.Background()
	_, err := c.Send(ctx, "direct:start", "a", map[string]any{"kind": "order", "n": 3, "secret": "s"})
	require.NoError(t, err)
	ex, err := c.Send(ctx, "direct:start", "b", map[string]any{"kind": "refund", "n": 9})
	require.NoError(t, err)
	assert.Equal(t, false, ex.Properties[core.PropertyFilterMatched])

	require.NoError(t, out.AssertIsSatisfied(ctx))
	_, hasSecret := out.ReceivedExchanges()[0].Message.Header("secret")
	assert.False(t, hasSecret)
}

func TestDataFormats(t *testing.T) {
	c := newContext(t)
	buildAndStart(t, c, `
routes:
  - from: direct:json
    steps:
      - unmarshal: json
      - to: mock:parsed
      - marshal: json
      - convertBodyTo: string
      - to: mock:text
`)
	ctx := context.Background()
	_, err := c.Send(ctx, "direct:json", []byte(`{"a":1}`), nil)
	require.NoError(t, err)

	parsed := mockEndpoint(t, c, "mock:parsed").ReceivedExchanges()
	require.Len(t, parsed, 1)
	text := mockEndpoint(t, c, "mock:text").ReceivedExchanges()
	require.Len(t, text, 1)
	assert.Equal(t, `{"a":1}`, text[0].Message.Body)
	assert.Equal(t, "application/json", text[0].Message.Headers[core.HeaderContentType])

	_, err = c.Send(ctx, "direct:json", "not json", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidPayload)
	assert.False(t, core.IsRetryable(err))
}

func TestToD(t *testing.T) {
	c := newContext(t)
	buildAndStart(t, c, `
routes:
  - from: direct:dispatch
    steps:
      - toD: mock:${header.target}
`)
	ctx := context.Background()
	_, err := c.Send(ctx, "direct:dispatch", "x", map[string]any{"target": "left"})
	require.NoError(t, err)
	_, err = c.Send(ctx, "direct:dispatch", "y", map[string]any{"target": "right"})
	require.NoError(t, err)

	assert.Equal(t, 1, mockEndpoint(t, c, "mock:left").ReceivedCounter())
	assert.Equal(t, 1, mockEndpoint(t, c, "mock:right").ReceivedCounter())
}

func TestThrottleAndDelay(t *testing.T) {
	c := newContext(t)
	buildAndStart(t, c, `
routes:
  - from: direct:slow
    steps:
      - throttle: {rate: 1000, burst: 5}
      - delay: 5
      - log: {message: "passed ${exchangeId}", level: debug}
      - to: mock:slow
`)
	ctx := context.Background()
	for range 3 {
		_, err := c.Send(ctx, "direct:slow", "x", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, mockEndpoint(t, c, "mock:slow").ReceivedCounter())

	step := &delayStep{d: time.Hour}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, step.Process(cancelled, core.NewExchange(core.InOnly)), context.Canceled)
}

func TestParseDelay(t *testing.T) {
	d, err := parseDelay("250")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	d, err = parseDelay("2s")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	_, err = parseDelay("-1")
	assert.Error(t, err)
	_, err = parseDelay("soon")
	assert.Error(t, err)
}

func TestBuildErrors(t *testing.T) {
	cases := []struct {
		name  string
		step  string
		index int
		kind  string
	}{
		{name: "unknown kind", step: "bean: myBean", index: 1, kind: "bean"},
		{name: "bad predicate", step: "filter: ${header.a} ==", index: 1, kind: "filter"},
		{name: "bad expression", step: "setBody: ${nope}", index: 1, kind: "setBody"},
		{name: "bad throttle", step: "throttle: {rate: 0}", index: 1, kind: "throttle"},
		{name: "bad format", step: "marshal: xml", index: 1, kind: "marshal"},
		{name: "bad conversion", step: "convertBodyTo: int", index: 1, kind: "convertBodyTo"},
		{name: "bad level", step: "log: {message: hi, level: loud}", index: 1, kind: "log"},
		{name: "header without name", step: "setHeader: {value: x}", index: 1, kind: "setHeader"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newContext(t)
			doc := "routes:\n  - {id: ok, from: direct:ok}\n  - id: broken\n    from: direct:in\n    steps:\n      - to: mock:a\n      - " + tc.step + "\n"
			defs, err := Parse([]byte(doc))
			require.NoError(t, err)

			_, err = Build(context.Background(), c, defs)
			var berr *BuildError
			require.True(t, errors.As(err, &berr), "got %v", err)
			assert.Equal(t, "broken", berr.RouteID)
			assert.Equal(t, tc.index, berr.Index)
			assert.Equal(t, tc.kind, berr.Kind)
			assert.Empty(t, c.Routes())
		})
	}

	c := newContext(t)
	defs, err := Parse([]byte("routes:\n  - from: direct:in\n    steps:\n      - bean: x\n"))
	require.NoError(t, err)
	_, err = Build(context.Background(), c, defs)
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestValidate(t *testing.T) {
	c := newContext(t)
	defs, err := Parse([]byte(`
routes:
  - id: good
    from: direct:a
    steps:
      - to: mock:a
  - id: bad
    from: direct:b
    steps:
      - to: nope:thing
      - to: direct:c?bogus=1
`))
	require.NoError(t, err)

	err = Validate(c, defs)
	require.Error(t, err)
	assert.ErrorContains(t, err, "No component found with scheme: nope")
	assert.ErrorContains(t, err, "couldn't be set on the endpoint")
	assert.Empty(t, c.Routes())
}
