package log

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

func newProducer(t *testing.T, uri string) (core.Producer, *observer.ObservedLogs) {
	t.Helper()
	obs, logs := observer.New(zapcore.DebugLevel)
	c := New(logger.New(zap.New(obs)))

	_, remaining, params, err := core.ParseURI(uri)
	require.NoError(t, err)
	ep, err := c.CreateEndpoint(uri, remaining, params)
	require.NoError(t, err)
	require.Empty(t, params)
	p, err := ep.CreateProducer()
	require.NoError(t, err)
	return p, logs
}

func exchange(body any) *core.Exchange {
	ex := core.NewExchange(core.InOnly)
	ex.Message.Body = body
	ex.Message.SetHeader("b", 2)
	ex.Message.SetHeader("a", "x")
	return ex
}

func TestLogsExchange(t *testing.T) {
	p, logs := newProducer(t, "log:orders?showHeaders=true&level=WARN")
	require.NoError(t, p.Process(context.Background(), exchange("hello")))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "Exchange[ExchangePattern: InOnly, Headers: {a=x, b=2}, BodyType: string, Body: hello]", entries[0].Message)
	assert.Equal(t, "orders", entries[0].ContextMap()["logger"])
}

func TestLogOff(t *testing.T) {
	p, logs := newProducer(t, "log:quiet?level=OFF")
	require.NoError(t, p.Process(context.Background(), exchange("x")))
	assert.Zero(t, logs.Len())
}

func TestFormat(t *testing.T) {
	ex := exchange(nil)
	ex.ID = "ex-1"
	ex.SetProperty("p", true)

	cfg := DefaultConfig()
	cfg.ShowExchangeID = true
	cfg.ShowProperties = true
	cfg.ShowBodyType = false
	assert.Equal(t, "Exchange[Id: ex-1, ExchangePattern: InOnly, Properties: {p=true}, Body: [Body is null]]", Format(cfg, ex))

	cfg = DefaultConfig()
	cfg.ShowBodyType = false
	cfg.MaxChars = 5
	got := Format(cfg, exchange(strings.Repeat("a", 8)))
	assert.Equal(t, "Exchange[ExchangePattern: InOnly, Body: aaaaa... [Body clipped after 5 chars, total length is 8]]", got)
}

func TestInvalidLevel(t *testing.T) {
	_, err := New(logger.NewNop()).CreateEndpoint("log:x?level=LOUD", "x", core.Parameters{"level": "LOUD"})
	assert.Error(t, err)
}

func TestThroughputGroups(t *testing.T) {
	tp := &throughput{size: 2}
	start := time.Unix(0, 0)

	_, ok := tp.record(start)
	assert.False(t, ok)
	msg, ok := tp.record(start.Add(500 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, "Received: 2 new messages, with total 2 so far. Last group took: 500 millis which is: 4.00 messages per second. average: 4.00", msg)

	p, logs := newProducer(t, "log:tp?groupSize=3")
	for i := 0; i < 7; i++ {
		require.NoError(t, p.Process(context.Background(), exchange(i)))
	}
	assert.Equal(t, 2, logs.Len())
}
