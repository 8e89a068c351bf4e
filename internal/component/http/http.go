// Package http calls remote HTTP services. Registered for both http and https.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

const (
	Scheme    = "http"
	SchemeTLS = "https"
)

type Config struct {
	HTTPMethod              string        `uri:"httpMethod" validate:"omitempty,oneof=GET POST PUT DELETE PATCH HEAD OPTIONS TRACE"`
	ThrowExceptionOnFailure bool          `uri:"throwExceptionOnFailure"`
	// BridgeEndpoint ignores CamelHttpUri and CamelHttpPath from the exchange.
	BridgeEndpoint    bool          `uri:"bridgeEndpoint"`
	OkStatusCodeRange string        `uri:"okStatusCodeRange"`
	Timeout           time.Duration `uri:"timeout" validate:"gte=0"`
	FollowRedirects   bool          `uri:"followRedirects"`
	// Selector is a CSS selector applied to an HTML response. The body becomes
	// the matched text, or the attribute named by SelectorAttribute.
	Selector          string `uri:"selector"`
	SelectorAttribute string `uri:"selectorAttribute"`
	// Proxy is host:port, a proxy URL, or host:port:username:password.
	Proxy        string `uri:"proxy"`
	AuthUsername string `uri:"authUsername"`
	AuthPassword string `uri:"authPassword"`
}

func DefaultConfig() Config {
	return Config{
		ThrowExceptionOnFailure: true,
		OkStatusCodeRange:       "200-299",
		Timeout:                 30 * time.Second,
		FollowRedirects:         true,
	}
}

type Option func(*Component)

// WithTransport replaces the round tripper used by endpoints without a proxy.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Component) {
		c.transport = rt
	}
}

type Component struct {
	logger    *logger.CanonicalLogger
	transport http.RoundTripper
}

func New(log *logger.CanonicalLogger, opts ...Option) *Component {
	c := &Component{
		logger:    log.Component(Scheme),
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateEndpoint binds the endpoint options. Parameters it does not know
// are sent to the remote service as query parameters.
func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	cfg := DefaultConfig()
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}
	ranges, err := parseStatusRanges(cfg.OkStatusCodeRange)
	if err != nil {
		return nil, core.NewResolveEndpointError(uri, "invalid okStatusCodeRange", err)
	}
	if remaining == "" {
		return nil, core.NewResolveEndpointError(uri, "http endpoint requires a host", nil)
	}

	scheme, _, _ := strings.Cut(uri, ":")
	target, err := url.Parse(strings.ToLower(scheme) + "://" + remaining)
	if err != nil {
		return nil, core.NewResolveEndpointError(uri, "invalid http address", err)
	}
	if len(params) > 0 {
		q := target.Query()
		for _, k := range params.Keys() {
			v, _ := params.Take(k)
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	client, err := c.client(cfg)
	if err != nil {
		return nil, core.NewResolveEndpointError(uri, "invalid proxy", err)
	}
	return &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		cfg:          cfg,
		target:       target,
		okRanges:     ranges,
		client:       client,
		component:    c,
	}, nil
}

func (c *Component) client(cfg Config) (*http.Client, error) {
	client := &http.Client{Timeout: cfg.Timeout, Transport: c.transport}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	if cfg.Proxy == "" {
		return client, nil
	}
	proxyURL, err := parseProxyURL(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	client.Transport = &http.Transport{
		Proxy:                 http.ProxyURL(proxyURL),
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return client, nil
}

func parseProxyURL(proxy string) (*url.URL, error) {
	// host:port:username:password
	parts := strings.Split(proxy, ":")
	if len(parts) == 4 {
		return url.Parse(fmt.Sprintf("http://%s:%s@%s:%s", url.PathEscape(parts[2]), url.PathEscape(parts[3]), parts[0], parts[1]))
	}
	if !strings.HasPrefix(proxy, "http://") && !strings.HasPrefix(proxy, "https://") {
		proxy = "http://" + proxy
	}
	return url.Parse(proxy)
}

type statusRange struct{ from, to int }

// parseStatusRanges accepts "200-299" or a comma list such as "200,201-204".
func parseStatusRanges(s string) ([]statusRange, error) {
	var ranges []statusRange
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("bad status code %q", part)
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil || to < from {
				return nil, fmt.Errorf("bad status code range %q", part)
			}
		}
		ranges = append(ranges, statusRange{from, to})
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("no status codes given")
	}
	return ranges, nil
}

type Endpoint struct {
	core.EndpointBase
	cfg       Config
	target    *url.URL
	okRanges  []statusRange
	client    *http.Client
	component *Component
}

func (e *Endpoint) CreateProducer() (core.Producer, error) {
	return &producer{endpoint: e}, nil
}

func (e *Endpoint) ok(code int) bool {
	for _, r := range e.okRanges {
		if code >= r.from && code <= r.to {
			return true
		}
	}
	return false
}

type producer struct {
	core.NopService
	endpoint *Endpoint
}

func (p *producer) Process(ctx context.Context, ex *core.Exchange) error {
	e := p.endpoint
	msg := ex.Message

	target, err := p.requestURL(msg)
	if err != nil {
		return core.Invalid(err)
	}
	method := p.method(msg)

	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead && msg.Body != nil {
		data, err := msg.BodyBytes()
		if err != nil {
			return core.Invalid(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return core.Invalid(fmt.Errorf("failed to create request: %w", err))
	}
	copyRequestHeaders(msg, req.Header)
	if e.cfg.AuthUsername != "" {
		req.SetBasicAuth(e.cfg.AuthUsername, e.cfg.AuthPassword)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	for _, h := range []string{core.HeaderHTTPMethod, core.HeaderHTTPPath, core.HeaderHTTPQuery, core.HeaderHTTPURI} {
		msg.RemoveHeader(h)
	}
	for k, v := range resp.Header {
		if len(v) == 1 {
			msg.SetHeader(k, v[0])
		} else {
			msg.SetHeader(k, append([]string(nil), v...))
		}
	}
	msg.SetHeader(core.HeaderHTTPResponseCode, resp.StatusCode)
	msg.SetHeader(core.HeaderHTTPResponseText, http.StatusText(resp.StatusCode))

	if !e.ok(resp.StatusCode) {
		if e.cfg.ThrowExceptionOnFailure {
			return &core.HTTPOperationFailedError{
				URI:          core.SanitizeURI(target.String()),
				StatusCode:   resp.StatusCode,
				StatusText:   http.StatusText(resp.StatusCode),
				Location:     resp.Header.Get("Location"),
				ResponseBody: string(respBody),
			}
		}
		msg.Body = respBody
		return nil
	}

	if e.cfg.Selector != "" {
		selected, err := selectHTML(respBody, e.cfg.Selector, e.cfg.SelectorAttribute)
		if err != nil {
			return err
		}
		msg.Body = selected
		return nil
	}
	msg.Body = respBody
	return nil
}

// method picks the header, then the endpoint option, then POST when there
// is a body and GET otherwise.
func (p *producer) method(msg *core.Message) string {
	if m := msg.HeaderString(core.HeaderHTTPMethod); m != "" {
		return strings.ToUpper(m)
	}
	if p.endpoint.cfg.HTTPMethod != "" {
		return p.endpoint.cfg.HTTPMethod
	}
	if msg.Body != nil {
		return http.MethodPost
	}
	return http.MethodGet
}

func (p *producer) requestURL(msg *core.Message) (*url.URL, error) {
	e := p.endpoint
	u := *e.target
	if !e.cfg.BridgeEndpoint {
		if raw := msg.HeaderString(core.HeaderHTTPURI); raw != "" {
			override, err := url.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid %s header: %w", core.HeaderHTTPURI, err)
			}
			u = *override
		}
		if path := msg.HeaderString(core.HeaderHTTPPath); path != "" {
			u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
		}
	}
	if q, ok := msg.Header(core.HeaderHTTPQuery); ok {
		u.RawQuery = strings.TrimPrefix(core.ToString(q), "?")
	}
	return &u, nil
}

func copyRequestHeaders(msg *core.Message, h http.Header) {
	for k, v := range msg.Headers {
		if strings.HasPrefix(strings.ToLower(k), "camel") {
			continue
		}
		switch strings.ToLower(k) {
		case "content-length", "host", "transfer-encoding":
			continue
		}
		if values, ok := v.([]string); ok {
			for _, s := range values {
				h.Add(k, s)
			}
			continue
		}
		h.Set(k, core.ToString(v))
	}
}

// selectHTML returns the text (or attribute) of the matched elements: one
// string for a single match, a slice for several.
func selectHTML(data []byte, selector, attr string) (any, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	var values []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if attr == "" {
			values = append(values, strings.TrimSpace(s.Text()))
			return
		}
		if v, ok := s.Attr(attr); ok {
			values = append(values, strings.TrimSpace(v))
		}
	})
	switch len(values) {
	case 0:
		return nil, fmt.Errorf("selector %q matched nothing in the response", selector)
	case 1:
		return values[0], nil
	}
	return values, nil
}
