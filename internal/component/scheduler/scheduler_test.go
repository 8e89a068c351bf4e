package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

func newConsumer(t *testing.T, c *Component, uri string, p core.Processor) core.Consumer {
	t.Helper()
	_, remaining, params, err := core.ParseURI(uri)
	require.NoError(t, err)
	ep, err := c.CreateEndpoint(uri, remaining, params)
	require.NoError(t, err)
	require.Empty(t, params)
	consumer, err := ep.CreateConsumer(p)
	require.NoError(t, err)
	return consumer
}

func TestSchedulerPollsWithRepeatCount(t *testing.T) {
	c := New(logger.NewNop())
	var calls atomic.Int32
	consumer := newConsumer(t, c, "scheduler:job?initialDelay=0&delay=5&repeatCount=2",
		core.ProcessorFunc(func(ctx context.Context, ex *core.Exchange) error {
			assert.Equal(t, "job", ex.Message.HeaderString(core.HeaderTimerName))
			calls.Add(1)
			return nil
		}))

	ctx := context.Background()
	require.NoError(t, consumer.Start(ctx))
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
	require.NoError(t, consumer.Stop(ctx))
}

func TestSchedulerIdleBackoff(t *testing.T) {
	c := New(logger.NewNop())
	var calls atomic.Int32
	consumer := newConsumer(t, c,
		"scheduler:idle?initialDelay=0&delay=2&backoffMultiplier=1000&backoffIdleThreshold=1",
		core.ProcessorFunc(func(ctx context.Context, ex *core.Exchange) error {
			calls.Add(1)
			ex.SetProperty(core.PropertySchedulerPolled, false)
			return nil
		}))

	ctx := context.Background()
	require.NoError(t, consumer.Start(ctx))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, consumer.Stop(ctx))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSchedulerPoolsAreShared(t *testing.T) {
	c := New(logger.NewNop())
	var active, peak atomic.Int32
	slow := core.ProcessorFunc(func(ctx context.Context, ex *core.Exchange) error {
		n := active.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return nil
	})

	a := newConsumer(t, c, "scheduler:shared?initialDelay=0&delay=1", slow)
	b := newConsumer(t, c, "scheduler:shared?initialDelay=0&delay=1", slow)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	assert.Equal(t, 1, c.Pools())

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, a.Stop(ctx))
	assert.Equal(t, 1, c.Pools())
	require.NoError(t, b.Stop(ctx))
	assert.Equal(t, 0, c.Pools())
	assert.Equal(t, int32(1), peak.Load())
}

func TestSchedulerErrorsDoNotStopPolling(t *testing.T) {
	c := New(logger.NewNop())
	var calls atomic.Int32
	consumer := newConsumer(t, c, "scheduler:err?initialDelay=0&delay=2",
		core.ProcessorFunc(func(ctx context.Context, ex *core.Exchange) error {
			calls.Add(1)
			return errors.New("boom")
		}))

	ctx := context.Background()
	require.NoError(t, consumer.Start(ctx))
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 2*time.Millisecond)
	require.NoError(t, consumer.Stop(ctx))
}
