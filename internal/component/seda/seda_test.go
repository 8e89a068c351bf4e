package seda

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

func endpoint(t *testing.T, c *Component, uri string) *Endpoint {
	t.Helper()
	_, remaining, params, err := core.ParseURI(uri)
	require.NoError(t, err)
	ep, err := c.CreateEndpoint(uri, remaining, params)
	require.NoError(t, err)
	return ep.(*Endpoint)
}

func TestInOnlyIsAsynchronous(t *testing.T) {
	c := New(logger.NewNop())
	ep := endpoint(t, c, "seda:work")
	ctx := context.Background()

	var seen atomic.Int32
	consumer, _ := ep.CreateConsumer(core.ProcessorFunc(func(ctx context.Context, ex *core.Exchange) error {
		seen.Add(1)
		ex.Message.Body = "changed"
		return nil
	}))
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop(ctx)

	p, _ := ep.CreateProducer()
	ex := core.NewExchange(core.InOnly)
	ex.Message.Body = "original"
	require.NoError(t, p.Process(ctx, ex))

	assert.Eventually(t, func() bool { return seen.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "original", ex.Message.Body)
}

func TestInOutWaitsForReply(t *testing.T) {
	c := New(logger.NewNop())
	ep := endpoint(t, c, "seda:reply")
	ctx := context.Background()

	consumer, _ := ep.CreateConsumer(core.ProcessorFunc(func(ctx context.Context, ex *core.Exchange) error {
		ex.Message.Body = "pong"
		return nil
	}))
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop(ctx)

	p, _ := ep.CreateProducer()
	ex := core.NewExchange(core.InOut)
	require.NoError(t, p.Process(ctx, ex))
	assert.Equal(t, "pong", ex.Message.Body)
}

func TestWaitTimesOut(t *testing.T) {
	c := New(logger.NewNop())
	ep := endpoint(t, c, "seda:slow?waitForTaskToComplete=Always&timeout=20")

	p, _ := ep.CreateProducer()
	err := p.Process(context.Background(), core.NewExchange(core.InOnly))
	assert.ErrorIs(t, err, core.ErrExchangeTimeout)
}

func TestTimedOutExchangeIsNotShared(t *testing.T) {
	c := New(logger.NewNop())
	ep := endpoint(t, c, "seda:slow-reply?waitForTaskToComplete=Always&timeout=20")
	ctx := context.Background()

	finished := make(chan struct{})
	consumer, _ := ep.CreateConsumer(core.ProcessorFunc(func(ctx context.Context, ex *core.Exchange) error {
		defer close(finished)
		time.Sleep(60 * time.Millisecond)
		ex.Message.Body = "late"
		ex.Message.SetHeader("worker", "done")
		ex.SetProperty("worker", true)
		return nil
	}))
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop(ctx)

	p, _ := ep.CreateProducer()
	ex := core.NewExchange(core.InOut)
	ex.Message.Body = "original"
	err := p.Process(ctx, ex)
	require.ErrorIs(t, err, core.ErrExchangeTimeout)

	// the caller may redeliver while the worker still runs
	ex.Message.SetHeader("attempt", 2)
	ex.SetProperty("attempt", 2)
	<-finished

	assert.Equal(t, "original", ex.Message.Body)
	_, ok := ex.Message.Header("worker")
	assert.False(t, ok)
	_, ok = ex.Property("worker")
	assert.False(t, ok)
}

func TestWaitingExchangeKeepsIDAndResult(t *testing.T) {
	c := New(logger.NewNop())
	ep := endpoint(t, c, "seda:correlated")
	ctx := context.Background()

	var seenID atomic.Value
	consumer, _ := ep.CreateConsumer(core.ProcessorFunc(func(ctx context.Context, ex *core.Exchange) error {
		seenID.Store(ex.ID)
		ex.Message.SetHeader("handled", "yes")
		return nil
	}))
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop(ctx)

	p, _ := ep.CreateProducer()
	ex := core.NewExchange(core.InOut)
	require.NoError(t, p.Process(ctx, ex))
	assert.Equal(t, ex.ID, seenID.Load())
	assert.Equal(t, "yes", ex.Message.HeaderString("handled"))
}

func TestQueueFull(t *testing.T) {
	c := New(logger.NewNop())
	ctx := context.Background()

	p, _ := endpoint(t, c, "seda:full?size=1").CreateProducer()
	require.NoError(t, p.Process(ctx, core.NewExchange(core.InOnly)))
	assert.ErrorIs(t, p.Process(ctx, core.NewExchange(core.InOnly)), core.ErrQueueFull)
	assert.Equal(t, 1, c.QueueSize("full"))

	blocking, _ := endpoint(t, c, "seda:full?blockWhenFull=true&offerTimeout=20").CreateProducer()
	assert.ErrorIs(t, blocking.Process(ctx, core.NewExchange(core.InOnly)), core.ErrQueueFull)
}

func TestConcurrentConsumers(t *testing.T) {
	c := New(logger.NewNop())
	ep := endpoint(t, c, "seda:pool?concurrentConsumers=3")
	ctx := context.Background()

	var active, peak atomic.Int32
	release := make(chan struct{})
	consumer, _ := ep.CreateConsumer(core.ProcessorFunc(func(ctx context.Context, ex *core.Exchange) error {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return nil
	}))
	require.NoError(t, consumer.Start(ctx))

	p, _ := ep.CreateProducer()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Process(ctx, core.NewExchange(core.InOnly)))
	}
	assert.Eventually(t, func() bool { return peak.Load() == 3 }, time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, consumer.Stop(ctx))
}

func TestSecondConsumerRejected(t *testing.T) {
	c := New(logger.NewNop())
	ep := endpoint(t, c, "seda:one")
	ctx := context.Background()

	noop := core.ProcessorFunc(func(context.Context, *core.Exchange) error { return nil })
	first, _ := ep.CreateConsumer(noop)
	require.NoError(t, first.Start(ctx))
	second, _ := ep.CreateConsumer(noop)
	assert.Error(t, second.Start(ctx))
	require.NoError(t, first.Stop(ctx))
}

func TestInvalidWaitOption(t *testing.T) {
	c := New(logger.NewNop())
	_, err := c.CreateEndpoint("seda:x?waitForTaskToComplete=Sometimes", "x", core.Parameters{"waitForTaskToComplete": "Sometimes"})
	assert.Error(t, err)
}
