package engine

import (
	"context"

	"github.com/Alwanly/conduit/internal/core"
)

// Send delivers body and headers to uri as an InOnly exchange.
func (c *Context) Send(ctx context.Context, uri string, body any, headers map[string]any) (*core.Exchange, error) {
	return c.send(ctx, uri, core.InOnly, body, headers)
}

// Request delivers body and headers to uri as an InOut exchange; the reply
// is the message of the returned exchange.
func (c *Context) Request(ctx context.Context, uri string, body any, headers map[string]any) (*core.Exchange, error) {
	return c.send(ctx, uri, core.InOut, body, headers)
}

func (c *Context) send(ctx context.Context, uri string, pattern core.Pattern, body any, headers map[string]any) (*core.Exchange, error) {
	ex := core.NewExchange(pattern)
	ex.Message.Body = body
	for k, v := range headers {
		ex.Message.SetHeader(k, v)
	}
	err := c.SendExchange(ctx, uri, ex)
	return ex, err
}

// SendExchange delivers an existing exchange to uri. A failure is also stored on the exchange.
func (c *Context) SendExchange(ctx context.Context, uri string, ex *core.Exchange) error {
	p, err := c.producers.acquire(ctx, uri)
	if err != nil {
		ex.Err = err
		return err
	}
	ex.SetProperty(core.PropertyToEndpoint, uri)
	if err := p.Process(ctx, ex); err != nil {
		ex.Err = err
		return err
	}
	return nil
}
