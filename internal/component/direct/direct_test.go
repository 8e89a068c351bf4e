package direct

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

func endpoint(t *testing.T, c *Component, uri string) *Endpoint {
	t.Helper()
	scheme, remaining, params, err := core.ParseURI(uri)
	require.NoError(t, err)
	require.Equal(t, Scheme, scheme)
	ep, err := c.CreateEndpoint(uri, remaining, params)
	require.NoError(t, err)
	return ep.(*Endpoint)
}

func TestProducerCallsConsumerSynchronously(t *testing.T) {
	c := New(logger.NewNop())
	ep := endpoint(t, c, "direct:foo")
	ctx := context.Background()

	consumer, err := ep.CreateConsumer(core.ProcessorFunc(func(ctx context.Context, ex *core.Exchange) error {
		ex.Message.Body = "handled"
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop(ctx)

	producer, err := ep.CreateProducer()
	require.NoError(t, err)
	ex := core.NewExchange(core.InOut)
	require.NoError(t, producer.Process(ctx, ex))
	assert.Equal(t, "handled", ex.Message.Body)
}

func TestSecondConsumerRejected(t *testing.T) {
	c := New(logger.NewNop())
	ep := endpoint(t, c, "direct:dup")
	ctx := context.Background()

	first, _ := ep.CreateConsumer(core.ProcessorFunc(func(context.Context, *core.Exchange) error { return nil }))
	require.NoError(t, first.Start(ctx))
	second, _ := ep.CreateConsumer(core.ProcessorFunc(func(context.Context, *core.Exchange) error { return nil }))
	assert.ErrorContains(t, second.Start(ctx), "second consumer")

	require.NoError(t, first.Stop(ctx))
	assert.NoError(t, second.Start(ctx))
}

func TestNoConsumer(t *testing.T) {
	c := New(logger.NewNop())
	ctx := context.Background()

	p, _ := endpoint(t, c, "direct:none?block=false").CreateProducer()
	err := p.Process(ctx, core.NewExchange(core.InOnly))
	assert.ErrorIs(t, err, core.ErrNoConsumer)

	p, _ = endpoint(t, c, "direct:none?timeout=20").CreateProducer()
	start := time.Now()
	err = p.Process(ctx, core.NewExchange(core.InOnly))
	assert.ErrorIs(t, err, core.ErrNoConsumer)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestBlockingProducerWaitsForConsumer(t *testing.T) {
	c := New(logger.NewNop())
	ep := endpoint(t, c, "direct:late?timeout=2000")
	ctx := context.Background()

	done := make(chan error, 1)
	p, _ := ep.CreateProducer()
	go func() {
		done <- p.Process(ctx, core.NewExchange(core.InOnly))
	}()

	time.Sleep(20 * time.Millisecond)
	consumer, _ := ep.CreateConsumer(core.ProcessorFunc(func(context.Context, *core.Exchange) error { return nil }))
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop(ctx)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("producer did not see the consumer")
	}
}

func TestMissingNameAndUnknownOption(t *testing.T) {
	c := New(logger.NewNop())
	_, err := c.CreateEndpoint("direct:", "", core.Parameters{})
	assert.Error(t, err)

	params := core.Parameters{"block": "maybe"}
	_, err = c.CreateEndpoint("direct:x?block=maybe", "x", params)
	assert.Error(t, err)
}
