package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

func newProducer(t *testing.T, uri string) core.Producer {
	t.Helper()
	c := New(logger.NewNop())
	_, remaining, params, err := core.ParseURI(uri)
	require.NoError(t, err)
	ep, err := c.CreateEndpoint(uri, remaining, params)
	require.NoError(t, err)
	require.Empty(t, params)
	p, err := ep.CreateProducer()
	require.NoError(t, err)
	return p
}

func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestMethodSelection(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
	}))
	defer srv.Close()

	p := newProducer(t, "http:"+hostOf(srv)+"/items")

	ex := core.NewExchange(core.InOut)
	require.NoError(t, p.Process(context.Background(), ex))

	ex = core.NewExchange(core.InOut)
	ex.Message.Body = "payload"
	require.NoError(t, p.Process(context.Background(), ex))

	ex = core.NewExchange(core.InOut)
	ex.Message.Body = "payload"
	ex.Message.SetHeader(core.HeaderHTTPMethod, "put")
	require.NoError(t, p.Process(context.Background(), ex))

	assert.Equal(t, []string{"GET", "POST", "PUT"}, methods)
}

func TestRequestAndResponseMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "/api/orders/42", r.URL.Path)
		assert.Equal(t, "verbose=true", r.URL.RawQuery)
		assert.Equal(t, "abc", r.Header.Get("X-Trace"))
		assert.Empty(t, r.Header.Get("CamelHttpPath"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "svc", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, `{"id":42}`, string(body))

		w.Header().Set("X-Result", "created")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := newProducer(t, "http:"+hostOf(srv)+"/api?authUsername=svc&authPassword=secret&httpMethod=POST")
	ex := core.NewExchange(core.InOut)
	ex.Message.Body = map[string]any{"id": 42}
	ex.Message.SetHeader(core.HeaderHTTPPath, "/orders/42")
	ex.Message.SetHeader(core.HeaderHTTPQuery, "verbose=true")
	ex.Message.SetHeader("X-Trace", "abc")

	require.NoError(t, p.Process(context.Background(), ex))
	assert.Equal(t, []byte("ok"), ex.Message.Body)
	assert.Equal(t, http.StatusCreated, ex.Message.Headers[core.HeaderHTTPResponseCode])
	assert.Equal(t, "Created", ex.Message.Headers[core.HeaderHTTPResponseText])
	assert.Equal(t, "created", ex.Message.Headers["X-Result"])
	_, hasPath := ex.Message.Header(core.HeaderHTTPPath)
	assert.False(t, hasPath)
}

func TestUnknownParametersBecomeQuery(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
	}))
	defer srv.Close()

	p := newProducer(t, "http:"+hostOf(srv)+"/search?q=go&page=2&throwExceptionOnFailure=false")
	require.NoError(t, p.Process(context.Background(), core.NewExchange(core.InOut)))
	assert.Equal(t, "page=2&q=go", query)
}

func TestFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/elsewhere")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer srv.Close()

	p := newProducer(t, "http:"+hostOf(srv)+"/svc")
	ex := core.NewExchange(core.InOut)
	err := p.Process(context.Background(), ex)

	var httpErr *core.HTTPOperationFailedError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Equal(t, "down", httpErr.ResponseBody)
	assert.Equal(t, "/elsewhere", httpErr.Location)
	assert.True(t, core.IsRetryable(err))

	p = newProducer(t, "http:"+hostOf(srv)+"/svc?throwExceptionOnFailure=false")
	ex = core.NewExchange(core.InOut)
	require.NoError(t, p.Process(context.Background(), ex))
	assert.Equal(t, []byte("down"), ex.Message.Body)
	assert.Equal(t, http.StatusServiceUnavailable, ex.Message.Headers[core.HeaderHTTPResponseCode])
}

func TestOkStatusCodeRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newProducer(t, "http:"+hostOf(srv)+"?okStatusCodeRange=200-299,404")
	assert.NoError(t, p.Process(context.Background(), core.NewExchange(core.InOut)))

	c := New(logger.NewNop())
	_, err := c.CreateEndpoint("http:localhost?okStatusCodeRange=300-200", "localhost", core.Parameters{"okStatusCodeRange": "300-200"})
	assert.ErrorContains(t, err, "invalid okStatusCodeRange")
}

func TestSelector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>
			<input name="ip" value=" 10.0.0.7 ">
			<ul><li class="tag">go</li><li class="tag">camel</li></ul>
		</body></html>`))
	}))
	defer srv.Close()

	p := newProducer(t, "http:"+hostOf(srv)+"?selector=input[name='ip']&selectorAttribute=value")
	ex := core.NewExchange(core.InOut)
	require.NoError(t, p.Process(context.Background(), ex))
	assert.Equal(t, "10.0.0.7", ex.Message.Body)

	p = newProducer(t, "http:"+hostOf(srv)+"?selector=li.tag")
	ex = core.NewExchange(core.InOut)
	require.NoError(t, p.Process(context.Background(), ex))
	assert.Equal(t, []string{"go", "camel"}, ex.Message.Body)

	p = newProducer(t, "http:"+hostOf(srv)+"?selector=table")
	assert.ErrorContains(t, p.Process(context.Background(), core.NewExchange(core.InOut)), "matched nothing")
}

func TestParseProxyURL(t *testing.T) {
	u, err := parseProxyURL("proxy.local:3128:user:pa ss")
	require.NoError(t, err)
	assert.Equal(t, "proxy.local:3128", u.Host)
	assert.Equal(t, "user", u.User.Username())
	pass, _ := u.User.Password()
	assert.Equal(t, "pa ss", pass)

	u, err = parseProxyURL("proxy.local:3128")
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.local:3128", u.String())
}

func TestInvalidMethodOption(t *testing.T) {
	c := New(logger.NewNop())
	_, err := c.CreateEndpoint("http:localhost?httpMethod=FETCH", "localhost", core.Parameters{"httpMethod": "FETCH"})
	assert.Error(t, err)
}
