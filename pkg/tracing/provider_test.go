package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Alwanly/conduit/pkg/logger"
)

func TestSetupLogsFinishedSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	core, logs := observer.New(zapcore.DebugLevel)
	shutdown := Setup("conduit-test", logger.New(zap.New(core)))

	_, span := StartConsumerSpan(context.Background(), "orders", "direct:orders", "ex-1")
	span.End()

	require.NoError(t, shutdown(context.Background()))

	entries := logs.FilterMessage("span finished").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "route.orders", entries[0].ContextMap()["span"])
}
