package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alwanly/conduit/internal/core"
	lru "github.com/Alwanly/conduit/pkg/cache"
	"github.com/Alwanly/conduit/pkg/logger"
)

func producer(t *testing.T, c *Component, uri string) core.Producer {
	t.Helper()
	_, remaining, params, err := core.ParseURI(uri)
	require.NoError(t, err)
	ep, err := c.CreateEndpoint(uri, remaining, params)
	require.NoError(t, err)
	require.Empty(t, params)
	p, err := ep.CreateProducer()
	require.NoError(t, err)
	return p
}

func call(t *testing.T, p core.Producer, body any, headers map[string]any) *core.Exchange {
	t.Helper()
	ex := core.NewExchange(core.InOut)
	ex.Message.Body = body
	for k, v := range headers {
		ex.Message.SetHeader(k, v)
	}
	require.NoError(t, p.Process(context.Background(), ex))
	return ex
}

func TestPutGetInvalidate(t *testing.T) {
	c := New(logger.NewNop())
	p := producer(t, c, "cache:users")

	ex := call(t, p, "alice", map[string]any{HeaderAction: ActionPut, HeaderKey: "1"})
	assert.Equal(t, true, ex.Message.Headers[HeaderActionSucceeded])
	_, hasOld := ex.Message.Header(HeaderOldValue)
	assert.False(t, hasOld)
	_, hasAction := ex.Message.Header(HeaderAction)
	assert.False(t, hasAction)

	ex = call(t, p, "alicia", map[string]any{HeaderAction: ActionPut, HeaderKey: "1"})
	assert.Equal(t, "alice", ex.Message.Headers[HeaderOldValue])

	ex = call(t, p, nil, map[string]any{HeaderAction: ActionGet, HeaderKey: "1"})
	assert.Equal(t, "alicia", ex.Message.Body)
	assert.Equal(t, true, ex.Message.Headers[HeaderActionHasResult])

	call(t, p, nil, map[string]any{HeaderAction: ActionInvalidate, HeaderKey: "1"})
	ex = call(t, p, "unchanged", map[string]any{HeaderAction: ActionGet, HeaderKey: "1"})
	assert.Equal(t, "unchanged", ex.Message.Body)
	assert.Equal(t, false, ex.Message.Headers[HeaderActionHasResult])
}

func TestBulkActions(t *testing.T) {
	c := New(logger.NewNop())
	p := producer(t, c, "cache:bulk")

	call(t, p, map[string]any{"a": 1, "b": 2, "c": 3}, map[string]any{HeaderAction: ActionPutAll})

	ex := call(t, p, nil, map[string]any{HeaderAction: ActionGetAll, HeaderKeys: "a,c"})
	assert.Equal(t, map[string]any{"a": 1, "c": 3}, ex.Message.Body)

	call(t, p, nil, map[string]any{HeaderAction: ActionInvalidateAll, HeaderKeys: []string{"a"}})
	ex = call(t, p, nil, map[string]any{HeaderAction: ActionAsMap})
	assert.Equal(t, map[string]any{"b": 2, "c": 3}, ex.Message.Body)

	ex = call(t, p, nil, map[string]any{HeaderAction: ActionStats})
	stats, ok := ex.Message.Body.(lru.Stats)
	require.True(t, ok)
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, stats.HitRatio(), ex.Message.Headers[HeaderHitRatio])

	call(t, p, nil, map[string]any{HeaderAction: ActionInvalidateAll})
	ex = call(t, p, nil, map[string]any{HeaderAction: ActionAsMap})
	assert.Empty(t, ex.Message.Body)
}

func TestEndpointDefaultsAndSharing(t *testing.T) {
	c := New(logger.NewNop())
	put := producer(t, c, "cache:shared?action=PUT&key=k")
	get := producer(t, c, "cache:shared?action=GET&key=k")

	call(t, put, "v", nil)
	ex := call(t, get, nil, nil)
	assert.Equal(t, "v", ex.Message.Body)
}

func TestMaximumSize(t *testing.T) {
	c := New(logger.NewNop())
	p := producer(t, c, "cache:small?maximumSize=1&action=PUT")

	call(t, p, "1", map[string]any{HeaderKey: "a"})
	call(t, p, "2", map[string]any{HeaderKey: "b"})
	ex := call(t, p, nil, map[string]any{HeaderAction: ActionAsMap})
	assert.Equal(t, map[string]any{"b": "2"}, ex.Message.Body)
}

func TestInvalidRequests(t *testing.T) {
	c := New(logger.NewNop())
	p := producer(t, c, "cache:bad")
	ctx := context.Background()

	tests := []struct {
		name    string
		headers map[string]any
		body    any
	}{
		{name: "no action"},
		{name: "unknown action", headers: map[string]any{HeaderAction: "EXPLODE"}},
		{name: "missing key", headers: map[string]any{HeaderAction: ActionGet}},
		{name: "put all needs map", headers: map[string]any{HeaderAction: ActionPutAll}, body: "x"},
		{name: "bad keys header", headers: map[string]any{HeaderAction: ActionGetAll, HeaderKeys: 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := core.NewExchange(core.InOut)
			ex.Message.Body = tt.body
			for k, v := range tt.headers {
				ex.Message.SetHeader(k, v)
			}
			err := p.Process(ctx, ex)
			require.Error(t, err)
			assert.False(t, core.IsRetryable(err))
		})
	}
}
