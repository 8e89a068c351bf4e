package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

const schema = `
type Book { id: ID!, title: String! }
type Query { book(id: ID!): Book, books: [Book!]! }
type Mutation { addBook(title: String!): Book! }
`

func createEndpoint(uri string) (core.Endpoint, error) {
	c := New(logger.NewNop())
	_, remaining, params, err := core.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return c.CreateEndpoint(uri, remaining, params)
}

func newTestProducer(t *testing.T, uri string) core.Producer {
	t.Helper()
	ep, err := createEndpoint(uri)
	require.NoError(t, err)
	p, err := ep.CreateProducer()
	require.NoError(t, err)
	return p
}

type captured struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func server(t *testing.T, reply string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestQueryWithVariablesFromBody(t *testing.T) {
	var got captured
	srv := server(t, `{"data":{"book":{"id":"1","title":"Dune"}}}`, &got)

	p := newTestProducer(t, "graphql:"+srv.URL+"?query=RAW(query Book($id: ID!) { book(id: $id) { title } })")
	ex := core.NewExchange(core.InOut)
	ex.Message.Body = map[string]any{"id": "1"}
	require.NoError(t, p.Process(context.Background(), ex))

	assert.Equal(t, "query Book($id: ID!) { book(id: $id) { title } }", got.Query)
	assert.Equal(t, map[string]any{"id": "1"}, got.Variables)
	data := ex.Message.Body.(map[string]any)
	assert.Equal(t, "Dune", data["book"].(map[string]any)["title"])
	assert.Equal(t, http.StatusOK, ex.Message.Headers[core.HeaderHTTPResponseCode])
}

func TestVariablesFromHeaderAndJSONString(t *testing.T) {
	var got captured
	srv := server(t, `{"data":{}}`, &got)

	p := newTestProducer(t, "graphql:"+srv.URL+"?query=RAW({ books { id } })&variablesHeader=vars")
	ex := core.NewExchange(core.InOut)
	ex.Message.SetHeader("vars", `{"limit": 2}`)
	require.NoError(t, p.Process(context.Background(), ex))
	assert.EqualValues(t, 2, got.Variables["limit"])
}

func TestResponseErrorsFailTheExchange(t *testing.T) {
	srv := server(t, `{"data":null,"errors":[{"message":"book not found","path":["book"]}]}`, nil)

	p := newTestProducer(t, "graphql:"+srv.URL+"?query=RAW({ book(id: 9) { id } })")
	err := p.Process(context.Background(), core.NewExchange(core.InOut))

	var gqlErr *Error
	require.True(t, errors.As(err, &gqlErr))
	require.Len(t, gqlErr.Errors, 1)
	assert.Equal(t, "book not found", gqlErr.Errors[0].Message)
	assert.False(t, core.IsRetryable(err))
}

func TestHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := newTestProducer(t, "graphql:"+srv.URL+"?query=RAW({ books { id } })")
	var httpErr *core.HTTPOperationFailedError
	require.True(t, errors.As(p.Process(context.Background(), core.NewExchange(core.InOut)), &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
}

func TestQueryValidationAtCreation(t *testing.T) {
	_, err := createEndpoint("graphql:http://localhost/graphql?query=RAW({ books { id )")
	assert.ErrorContains(t, err, "invalid query")

	_, err = createEndpoint("graphql:http://localhost/graphql?query=RAW(query A { books { id } } query B { books { id } })")
	assert.ErrorContains(t, err, "set operationName")

	_, err = createEndpoint("graphql:http://localhost/graphql?operationName=B&query=RAW(query A { books { id } } query B { books { id } })")
	assert.NoError(t, err)

	_, err = createEndpoint("graphql:http://localhost/graphql")
	assert.ErrorContains(t, err, "requires query")

	_, err = createEndpoint("graphql:localhost/graphql?query=RAW({ books { id } })")
	assert.ErrorContains(t, err, "http(s) url")
}

func TestSchemaValidation(t *testing.T) {
	dir := t.TempDir()
	schemaFile := filepath.Join(dir, "schema.graphql")
	require.NoError(t, os.WriteFile(schemaFile, []byte(schema), 0o600))
	queryFile := filepath.Join(dir, "add.graphql")
	require.NoError(t, os.WriteFile(queryFile, []byte(`mutation { addBook(title: "x") { id } }`), 0o600))

	_, err := createEndpoint("graphql:http://localhost/graphql?schemaFile=" + schemaFile + "&queryFile=" + queryFile)
	assert.NoError(t, err)

	_, err = createEndpoint("graphql:http://localhost/graphql?schemaFile=" + schemaFile + "&query=RAW({ authors { id } })")
	assert.ErrorContains(t, err, "invalid query")
}

func TestQueryHeader(t *testing.T) {
	var got captured
	srv := server(t, `{"data":{}}`, &got)

	p := newTestProducer(t, "graphql:"+srv.URL+"?queryHeader=gql")
	ex := core.NewExchange(core.InOut)
	ex.Message.SetHeader("gql", "{ books { title } }")
	require.NoError(t, p.Process(context.Background(), ex))
	assert.Equal(t, "{ books { title } }", got.Query)

	ex = core.NewExchange(core.InOut)
	ex.Message.SetHeader("gql", "{ broken")
	assert.False(t, core.IsRetryable(p.Process(context.Background(), ex)))

	assert.Error(t, p.Process(context.Background(), core.NewExchange(core.InOut)))
}
