// Package sql runs SQL statements through gorm and polls tables.
package sql

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/database"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/poll"
)

const Scheme = "sql"

const (
	HeaderQuery       = "CamelSqlQuery"
	HeaderRowCount    = "CamelSqlRowCount"
	HeaderUpdateCount = "CamelSqlUpdateCount"
)

const (
	OutputSelectList = "SelectList"
	OutputSelectOne  = "SelectOne"
)

type Config struct {
	core.PollOptions `uri:",squash"`

	OutputType           string `uri:"outputType" validate:"oneof=SelectList SelectOne"`
	UseMessageBodyForSQL bool   `uri:"useMessageBodyForSql"`
	// UseIterator sends one exchange per row instead of one with all rows.
	UseIterator            bool   `uri:"useIterator"`
	OnConsume              string `uri:"onConsume"`
	OnConsumeFailed        string `uri:"onConsumeFailed"`
	OnConsumeBatchComplete string `uri:"onConsumeBatchComplete"`
	MaxMessagesPerPoll     int    `uri:"maxMessagesPerPoll" validate:"gte=0"`
	RouteEmptyResultSet    bool   `uri:"routeEmptyResultSet"`
}

func DefaultConfig() Config {
	return Config{
		PollOptions: core.DefaultPollOptions(),
		OutputType:  OutputSelectList,
		UseIterator: true,
	}
}

type Option func(*Component)

// WithDB uses an existing connection. The component does not close it.
func WithDB(db *gorm.DB) Option {
	return func(c *Component) {
		c.db = db
	}
}

// WithDatabase opens cfg on first use and closes it when the component stops.
func WithDatabase(cfg database.Config) Option {
	return func(c *Component) {
		c.dbConfig = &cfg
	}
}

type Component struct {
	logger   *logger.CanonicalLogger
	dbConfig *database.Config

	mu     sync.Mutex
	db     *gorm.DB
	ownsDB bool
}

func New(log *logger.CanonicalLogger, opts ...Option) *Component {
	c := &Component{logger: log.Component(Scheme)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Component) database() (*gorm.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}
	if c.dbConfig == nil {
		return nil, fmt.Errorf("sql component has no database configured")
	}
	db, err := database.Open(*c.dbConfig)
	if err != nil {
		return nil, err
	}
	c.db, c.ownsDB = db, true
	c.logger.Info("database opened", logger.String("dialect", db.Dialector.Name()))
	return db, nil
}

func (c *Component) Start(context.Context) error {
	return nil
}

func (c *Component) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil || !c.ownsDB {
		return nil
	}
	err := database.Close(c.db)
	c.db = nil
	return err
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	cfg := DefaultConfig()
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}
	statement := strings.TrimSpace(remaining)
	if statement == "" && !cfg.UseMessageBodyForSQL {
		return nil, core.NewResolveEndpointError(uri, "sql endpoint requires a statement", nil)
	}
	return &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		statement:    statement,
		cfg:          cfg,
		component:    c,
	}, nil
}

type Endpoint struct {
	core.EndpointBase
	statement string
	cfg       Config
	component *Component
}

func (e *Endpoint) CreateProducer() (core.Producer, error) {
	return &producer{endpoint: e}, nil
}

func (e *Endpoint) CreateConsumer(processor core.Processor) (core.Consumer, error) {
	if !isQuery(e.statement) {
		return nil, core.NewResolveEndpointError(e.URI(), "sql consumer requires a select statement", nil)
	}
	return &consumer{endpoint: e, processor: processor}, nil
}

var namedParam = regexp.MustCompile(`:#([A-Za-z_][A-Za-z0-9_.]*)`)

// Prepare turns :#name parameters into positional ones. Values come from
// the message headers, then from a map body. A bare # takes the next value
// of a slice body.
func Prepare(statement string, msg *core.Message) (string, []any, error) {
	var args []any
	var missing []string
	query := namedParam.ReplaceAllStringFunc(statement, func(m string) string {
		name := m[2:]
		v, ok := lookup(name, msg)
		if !ok {
			missing = append(missing, name)
		}
		args = append(args, v)
		return "?"
	})
	if len(missing) > 0 {
		return "", nil, core.Invalidf("no value for sql parameter %s", strings.Join(missing, ", "))
	}

	if strings.Contains(query, "#") {
		var values []any
		ok := false
		if msg != nil {
			values, ok = msg.Body.([]any)
		}
		count := strings.Count(query, "#")
		if !ok || len(values) < count {
			return "", nil, core.Invalidf("statement has %d # parameters but the body does not provide them", count)
		}
		query = strings.ReplaceAll(query, "#", "?")
		args = append(args, values[:count]...)
	}
	return query, args, nil
}

func lookup(name string, msg *core.Message) (any, bool) {
	if msg == nil {
		return nil, false
	}
	if v, ok := msg.Header(name); ok {
		return v, true
	}
	if body, ok := msg.Body.(map[string]any); ok {
		v, ok := body[name]
		return v, ok
	}
	return nil, false
}

func isQuery(statement string) bool {
	s := strings.ToLower(strings.TrimSpace(statement))
	return strings.HasPrefix(s, "select") || strings.HasPrefix(s, "with") || strings.HasPrefix(s, "pragma")
}

func queryRows(ctx context.Context, db *gorm.DB, query string, args []any) ([]map[string]any, error) {
	rows, err := db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

type producer struct {
	core.NopService
	endpoint *Endpoint
}

func (p *producer) Process(ctx context.Context, ex *core.Exchange) error {
	e := p.endpoint
	db, err := e.component.database()
	if err != nil {
		return err
	}

	statement := e.statement
	if h := ex.Message.HeaderString(HeaderQuery); h != "" {
		statement = h
	} else if e.cfg.UseMessageBodyForSQL {
		if statement, err = ex.Message.BodyString(); err != nil {
			return core.Invalid(err)
		}
	}

	query, args, err := Prepare(statement, ex.Message)
	if err != nil {
		return err
	}

	if !isQuery(query) {
		res := db.WithContext(ctx).Exec(query, args...)
		if res.Error != nil {
			return fmt.Errorf("sql update failed: %w", res.Error)
		}
		ex.Message.SetHeader(HeaderUpdateCount, res.RowsAffected)
		return nil
	}

	rows, err := queryRows(ctx, db, query, args)
	if err != nil {
		return fmt.Errorf("sql query failed: %w", err)
	}
	ex.Message.SetHeader(HeaderRowCount, len(rows))

	if e.cfg.OutputType == OutputSelectOne {
		switch len(rows) {
		case 0:
			ex.Message.Body = nil
		case 1:
			ex.Message.Body = single(rows[0])
		default:
			return core.Invalidf("query returned %d rows, expected at most one", len(rows))
		}
		return nil
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	ex.Message.Body = rows
	return nil
}

// single unwraps one-column rows to the column value.
func single(row map[string]any) any {
	if len(row) == 1 {
		for _, v := range row {
			return v
		}
	}
	return row
}

type consumer struct {
	endpoint  *Endpoint
	processor core.Processor

	mu     sync.Mutex
	poller poll.Poller
}

func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poller != nil {
		return nil
	}
	e := c.endpoint
	p := poll.NewPoller("sql", e.cfg.Config(), c.poll,
		poll.WithLogger(e.component.logger),
		poll.WithIdleFunc(c.sendEmpty),
	)
	if err := p.Start(ctx); err != nil {
		return err
	}
	c.poller = p
	return nil
}

func (c *consumer) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poller == nil {
		return nil
	}
	err := c.poller.Stop()
	c.poller = nil
	return err
}

func (c *consumer) sendEmpty(ctx context.Context) error {
	ex := core.NewExchange(core.InOnly)
	ex.Message.SetHeader(HeaderRowCount, 0)
	return c.processor.Process(ctx, ex)
}

func (c *consumer) poll(ctx context.Context) (int, error) {
	e := c.endpoint
	db, err := e.component.database()
	if err != nil {
		core.ReportConsumerError(ctx, c.processor, err)
		return 0, err
	}
	query, args, err := Prepare(e.statement, nil)
	if err != nil {
		return 0, err
	}
	rows, err := queryRows(ctx, db, query, args)
	if err != nil {
		err = fmt.Errorf("sql poll failed: %w", err)
		core.ReportConsumerError(ctx, c.processor, err)
		return 0, err
	}
	if e.cfg.MaxMessagesPerPoll > 0 && len(rows) > e.cfg.MaxMessagesPerPoll {
		rows = rows[:e.cfg.MaxMessagesPerPoll]
	}
	if len(rows) == 0 {
		if e.cfg.RouteEmptyResultSet && !e.cfg.UseIterator {
			ex := core.NewExchange(core.InOnly)
			ex.Message.Body = []map[string]any{}
			ex.Message.SetHeader(HeaderRowCount, 0)
			if err := c.processor.Process(ctx, ex); err != nil {
				return 0, fmt.Errorf("sql empty result set not processed: %w", err)
			}
		}
		return 0, nil
	}

	if !e.cfg.UseIterator {
		ex := core.NewExchange(core.InOnly)
		ex.Message.Body = rows
		ex.Message.SetHeader(HeaderRowCount, len(rows))
		if err := c.processor.Process(ctx, ex); err != nil {
			return len(rows), fmt.Errorf("sql batch of %d rows not processed: %w", len(rows), err)
		}
		c.afterBatch(ctx, db)
		return len(rows), nil
	}

	var failed int
	var firstErr error

	for i, row := range rows {
		ex := core.NewExchange(core.InOnly)
		ex.Message.Body = row
		ex.Message.SetHeader(HeaderRowCount, len(rows))
		ex.SetProperty(core.PropertyBatchIndex, i)
		ex.SetProperty(core.PropertyBatchSize, len(rows))
		ex.SetProperty(core.PropertyBatchComplete, i == len(rows)-1)

		statement := e.cfg.OnConsume
		if perr := c.processor.Process(ctx, ex); perr != nil {
			statement = e.cfg.OnConsumeFailed
			failed++
			if firstErr == nil {
				firstErr = perr
			}
		}
		if statement != "" {
			c.exec(ctx, db, statement, row)
		}
	}
	c.afterBatch(ctx, db)
	if firstErr != nil {
		return len(rows), fmt.Errorf("sql poll: %d of %d rows failed: %w", failed, len(rows), firstErr)
	}
	return len(rows), nil
}

func (c *consumer) afterBatch(ctx context.Context, db *gorm.DB) {
	if c.endpoint.cfg.OnConsumeBatchComplete != "" {
		c.exec(ctx, db, c.endpoint.cfg.OnConsumeBatchComplete, nil)
	}
}

// exec runs a follow-up statement with parameters taken from row.
func (c *consumer) exec(ctx context.Context, db *gorm.DB, statement string, row map[string]any) {
	msg := core.NewMessage()
	msg.Body = row
	query, args, err := Prepare(statement, msg)
	if err == nil {
		err = db.WithContext(ctx).Exec(query, args...).Error
	}
	if err != nil {
		c.endpoint.component.logger.WithError(err).Error("sql follow-up statement failed", logger.String("statement", statement))
	}
}
