// Package graphql sends queries and mutations to a GraphQL server over HTTP.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

const Scheme = "graphql"

type Config struct {
	Query         string `uri:"query"`
	QueryFile     string `uri:"queryFile"`
	OperationName string `uri:"operationName"`
	// QueryHeader names a header that overrides the endpoint query per exchange.
	QueryHeader     string `uri:"queryHeader"`
	VariablesHeader string `uri:"variablesHeader"`
	// SchemaFile enables validation against a schema instead of syntax only.
	SchemaFile              string        `uri:"schemaFile"`
	AccessToken             string        `uri:"accessToken"`
	Username                string        `uri:"username"`
	Password                string        `uri:"password"`
	Timeout                 time.Duration `uri:"timeout" validate:"gte=0"`
	ThrowExceptionOnFailure bool          `uri:"throwExceptionOnFailure"`
}

func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second, ThrowExceptionOnFailure: true}
}

// Error carries the errors array of a GraphQL response.
type Error struct {
	Errors gqlerror.List
}

func (e *Error) Error() string {
	return "graphql request failed: " + e.Errors.Error()
}

func (e *Error) Retryable() bool {
	return false
}

type Option func(*Component)

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
	c := &Component{logger: log.Component(Scheme), transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	cfg := DefaultConfig()
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(remaining, "http://") && !strings.HasPrefix(remaining, "https://") {
		return nil, core.NewResolveEndpointError(uri, "graphql endpoint requires an http(s) url", nil)
	}

	e := &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		cfg:          cfg,
		target:       remaining,
		client:       &http.Client{Timeout: cfg.Timeout, Transport: c.transport},
		component:    c,
	}

	if cfg.SchemaFile != "" {
		data, err := os.ReadFile(cfg.SchemaFile)
		if err != nil {
			return nil, core.NewResolveEndpointError(uri, "cannot read schemaFile", err)
		}
		schema, loadErr := gqlparser.LoadSchema(&ast.Source{Name: cfg.SchemaFile, Input: string(data)})
		if loadErr != nil {
			return nil, core.NewResolveEndpointError(uri, "invalid schema", loadErr)
		}
		e.schema = schema
	}

	query := cfg.Query
	if cfg.QueryFile != "" {
		if query != "" {
			return nil, core.NewResolveEndpointError(uri, "query and queryFile are mutually exclusive", nil)
		}
		data, err := os.ReadFile(cfg.QueryFile)
		if err != nil {
			return nil, core.NewResolveEndpointError(uri, "cannot read queryFile", err)
		}
		query = string(data)
	}
	if query == "" && cfg.QueryHeader == "" {
		return nil, core.NewResolveEndpointError(uri, "graphql endpoint requires query, queryFile or queryHeader", nil)
	}
	if query != "" {
		if err := e.validate(query, cfg.OperationName); err != nil {
			return nil, core.NewResolveEndpointError(uri, "invalid query", err)
		}
	}
	e.query = query
	return e, nil
}

type Endpoint struct {
	core.EndpointBase
	cfg       Config
	target    string
	query     string
	schema    *ast.Schema
	client    *http.Client
	component *Component
}

func (e *Endpoint) CreateProducer() (core.Producer, error) {
	return &producer{endpoint: e}, nil
}

// validate parses query, checks it against the schema when one is set, and
// makes sure the operation to run can be identified.
func (e *Endpoint) validate(query, operation string) error {
	var doc *ast.QueryDocument
	if e.schema != nil {
		var errs gqlerror.List
		doc, errs = gqlparser.LoadQuery(e.schema, query)
		if len(errs) > 0 {
			return errs
		}
	} else {
		parsed, parseErr := parser.ParseQuery(&ast.Source{Input: query})
		if parseErr != nil {
			return parseErr
		}
		doc = parsed
	}

	if operation != "" {
		if doc.Operations.ForName(operation) == nil {
			return fmt.Errorf("operation %q not found in query", operation)
		}
		return nil
	}
	if len(doc.Operations) > 1 {
		return fmt.Errorf("query defines %d operations, set operationName", len(doc.Operations))
	}
	return nil
}

type request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data   map[string]any `json:"data"`
	Errors gqlerror.List  `json:"errors"`
}

type producer struct {
	core.NopService
	endpoint *Endpoint
}

func (p *producer) Process(ctx context.Context, ex *core.Exchange) error {
	e := p.endpoint
	msg := ex.Message

	query := e.query
	if e.cfg.QueryHeader != "" {
		if q := msg.HeaderString(e.cfg.QueryHeader); q != "" {
			if err := e.validate(q, e.cfg.OperationName); err != nil {
				return core.Invalid(fmt.Errorf("invalid query in header %s: %w", e.cfg.QueryHeader, err))
			}
			query = q
		}
	}
	if query == "" {
		return core.Invalidf("no graphql query in header %s", e.cfg.QueryHeader)
	}

	variables, err := p.variables(msg)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(request{Query: query, OperationName: e.cfg.OperationName, Variables: variables})
	if err != nil {
		return core.Invalid(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.target, bytes.NewReader(payload))
	if err != nil {
		return core.Invalid(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	switch {
	case e.cfg.AccessToken != "":
		req.Header.Set("Authorization", "Bearer "+e.cfg.AccessToken)
	case e.cfg.Username != "":
		req.SetBasicAuth(e.cfg.Username, e.cfg.Password)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("graphql request to %s failed: %w", core.SanitizeURI(e.target), err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read graphql response: %w", err)
	}

	msg.SetHeader(core.HeaderHTTPResponseCode, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if e.cfg.ThrowExceptionOnFailure {
			return &core.HTTPOperationFailedError{
				URI:          core.SanitizeURI(e.target),
				StatusCode:   resp.StatusCode,
				StatusText:   http.StatusText(resp.StatusCode),
				ResponseBody: string(data),
			}
		}
		msg.Body = data
		return nil
	}

	var out response
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("invalid graphql response: %w", err)
	}
	msg.Body = out.Data
	if len(out.Errors) > 0 {
		return &Error{Errors: out.Errors}
	}
	return nil
}

// variables come from the variables header, else from a map or JSON object body.
func (p *producer) variables(msg *core.Message) (map[string]any, error) {
	var v any
	if h := p.endpoint.cfg.VariablesHeader; h != "" {
		v, _ = msg.Header(h)
	} else {
		v = msg.Body
	}

	switch vars := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return vars, nil
	case string, []byte:
		raw := bytes.TrimSpace([]byte(core.ToString(vars)))
		if len(raw) == 0 || raw[0] != '{' {
			return nil, nil
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, core.Invalid(fmt.Errorf("graphql variables are not a JSON object: %w", err))
		}
		return m, nil
	}
	return nil, nil
}
