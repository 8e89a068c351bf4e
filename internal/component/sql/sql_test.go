package sql

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/database"
	"github.com/Alwanly/conduit/pkg/logger"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Config{Dialect: database.DialectSQLite})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	require.NoError(t, db.Exec(`CREATE TABLE orders (id INTEGER PRIMARY KEY, item TEXT, status TEXT)`).Error)
	require.NoError(t, db.Exec(`INSERT INTO orders (id, item, status) VALUES (1, 'book', 'new'), (2, 'pen', 'new'), (3, 'ink', 'done')`).Error)
	return db
}

func endpoint(t *testing.T, c *Component, uri string) core.Endpoint {
	t.Helper()
	_, remaining, params, err := core.ParseURI(uri)
	require.NoError(t, err)
	ep, err := c.CreateEndpoint(uri, remaining, params)
	require.NoError(t, err)
	require.Empty(t, params)
	return ep
}

func run(t *testing.T, c *Component, uri string, body any, headers map[string]any) *core.Exchange {
	t.Helper()
	p, err := endpoint(t, c, uri).CreateProducer()
	require.NoError(t, err)
	ex := core.NewExchange(core.InOut)
	ex.Message.Body = body
	for k, v := range headers {
		ex.Message.SetHeader(k, v)
	}
	require.NoError(t, p.Process(context.Background(), ex))
	return ex
}

func TestPrepare(t *testing.T) {
	msg := core.NewMessage()
	msg.SetHeader("status", "new")
	msg.Body = map[string]any{"status": "ignored", "limit": 5}

	query, args, err := Prepare("select * from orders where status = :#status limit :#limit", msg)
	require.NoError(t, err)
	assert.Equal(t, "select * from orders where status = ? limit ?", query)
	assert.Equal(t, []any{"new", 5}, args)

	msg.Body = []any{1, 2}
	query, args, err = Prepare("select * from orders where id in (#, #)", msg)
	require.NoError(t, err)
	assert.Equal(t, "select * from orders where id in (?, ?)", query)
	assert.Equal(t, []any{1, 2}, args)

	_, _, err = Prepare("select * from orders where id = :#id", core.NewMessage())
	assert.ErrorContains(t, err, "no value for sql parameter id")
	assert.False(t, core.IsRetryable(err))
}

func TestSelectList(t *testing.T) {
	c := New(logger.NewNop(), WithDB(setupDB(t)))
	ex := run(t, c, "sql:select id, item from orders where status = :#status order by id", nil, map[string]any{"status": "new"})

	rows, ok := ex.Message.Body.([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 2)
	assert.Equal(t, "book", rows[0]["item"])
	assert.EqualValues(t, 2, rows[1]["id"])
	assert.Equal(t, 2, ex.Message.Headers[HeaderRowCount])
}

func TestSelectOne(t *testing.T) {
	c := New(logger.NewNop(), WithDB(setupDB(t)))

	ex := run(t, c, "sql:select item from orders where id = :#id?outputType=SelectOne", map[string]any{"id": 3}, nil)
	assert.Equal(t, "ink", ex.Message.Body)

	ex = run(t, c, "sql:select item from orders where id = 99?outputType=SelectOne", "keep", nil)
	assert.Nil(t, ex.Message.Body)

	p, err := endpoint(t, c, "sql:select * from orders?outputType=SelectOne").CreateProducer()
	require.NoError(t, err)
	assert.Error(t, p.Process(context.Background(), core.NewExchange(core.InOut)))
}

func TestUpdateAndBodyStatement(t *testing.T) {
	db := setupDB(t)
	c := New(logger.NewNop(), WithDB(db))

	ex := run(t, c, "sql:update orders set status = 'done' where status = :#status", nil, map[string]any{"status": "new"})
	assert.EqualValues(t, 2, ex.Message.Headers[HeaderUpdateCount])

	ex = run(t, c, "sql:?useMessageBodyForSql=true", "select count(*) as n from orders where status = 'done'", nil)
	rows := ex.Message.Body.([]map[string]any)
	assert.EqualValues(t, 3, rows[0]["n"])

	ex = run(t, c, "sql:select 1", nil, map[string]any{HeaderQuery: "delete from orders where id = 1"})
	assert.EqualValues(t, 1, ex.Message.Headers[HeaderUpdateCount])
}

func TestQueryErrorIsWrapped(t *testing.T) {
	c := New(logger.NewNop(), WithDB(setupDB(t)))
	p, err := endpoint(t, c, "sql:select * from missing_table").CreateProducer()
	require.NoError(t, err)
	err = p.Process(context.Background(), core.NewExchange(core.InOut))
	assert.ErrorContains(t, err, "sql query failed")
}

func TestNoDatabase(t *testing.T) {
	c := New(logger.NewNop())
	p, err := endpoint(t, c, "sql:select 1").CreateProducer()
	require.NoError(t, err)
	assert.ErrorContains(t, p.Process(context.Background(), core.NewExchange(core.InOut)), "no database configured")
}

type collector struct {
	mu        sync.Mutex
	exchanges []*core.Exchange
}

func (c *collector) Process(ctx context.Context, ex *core.Exchange) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, ex)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exchanges)
}

func TestConsumerPollsRowsAndMarksConsumed(t *testing.T) {
	db := setupDB(t)
	c := New(logger.NewNop(), WithDB(db))

	rec := &collector{}
	consumer, err := endpoint(t, c,
		"sql:select id, item from orders where status = 'new' order by id"+
			"?initialDelay=0&delay=10&onConsume=RAW(update orders set status = 'sent' where id = :#id)").
		CreateConsumer(rec)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, consumer.Start(ctx))
	assert.Eventually(t, func() bool { return rec.len() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, consumer.Stop(ctx))
	require.Equal(t, 2, rec.len())

	first := rec.exchanges[0]
	assert.Equal(t, 0, first.Properties[core.PropertyBatchIndex])
	assert.Equal(t, false, first.Properties[core.PropertyBatchComplete])
	assert.Equal(t, true, rec.exchanges[1].Properties[core.PropertyBatchComplete])

	var sent int64
	require.NoError(t, db.Raw(`select count(*) from orders where status = 'sent'`).Scan(&sent).Error)
	assert.Equal(t, int64(2), sent)
}

func TestConsumerListMode(t *testing.T) {
	db := setupDB(t)
	c := New(logger.NewNop(), WithDB(db))

	rec := &collector{}
	consumer, err := endpoint(t, c, "sql:select * from orders?initialDelay=0&delay=1000&useIterator=false&maxMessagesPerPoll=2").
		CreateConsumer(rec)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, consumer.Start(ctx))
	assert.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, consumer.Stop(ctx))

	rows := rec.exchanges[0].Message.Body.([]map[string]any)
	assert.Len(t, rows, 2)
}

type failing struct{ calls int }

func (f *failing) Process(context.Context, *core.Exchange) error {
	f.calls++
	return errors.New("downstream unavailable")
}

func TestConsumerReportsProcessorFailures(t *testing.T) {
	ctx := context.Background()
	status := func(db *gorm.DB, s string) int64 {
		var n int64
		require.NoError(t, db.Raw(`select count(*) from orders where status = ?`, s).Scan(&n).Error)
		return n
	}

	t.Run("list mode skips batch complete", func(t *testing.T) {
		db := setupDB(t)
		c := New(logger.NewNop(), WithDB(db))
		cons, err := endpoint(t, c,
			"sql:select * from orders?useIterator=false&onConsumeBatchComplete=RAW(update orders set status = 'archived')").
			CreateConsumer(&failing{})
		require.NoError(t, err)

		n, err := cons.(*consumer).poll(ctx)
		assert.Equal(t, 3, n)
		assert.ErrorContains(t, err, "downstream unavailable")
		assert.Zero(t, status(db, "archived"))
	})

	t.Run("iterator runs onConsumeFailed", func(t *testing.T) {
		db := setupDB(t)
		c := New(logger.NewNop(), WithDB(db))
		f := &failing{}
		cons, err := endpoint(t, c,
			"sql:select id from orders where status = 'new'?onConsumeFailed=RAW(update orders set status = 'failed' where id = :#id)").
			CreateConsumer(f)
		require.NoError(t, err)

		n, err := cons.(*consumer).poll(ctx)
		assert.Equal(t, 2, n)
		assert.ErrorContains(t, err, "2 of 2 rows failed")
		assert.Equal(t, 2, f.calls)
		assert.Equal(t, int64(2), status(db, "failed"))
	})

	t.Run("empty result set", func(t *testing.T) {
		c := New(logger.NewNop(), WithDB(setupDB(t)))
		cons, err := endpoint(t, c,
			"sql:select * from orders where status = 'none'?useIterator=false&routeEmptyResultSet=true").
			CreateConsumer(&failing{})
		require.NoError(t, err)

		n, err := cons.(*consumer).poll(ctx)
		assert.Zero(t, n)
		assert.Error(t, err)
	})
}

func TestConsumerRequiresSelect(t *testing.T) {
	c := New(logger.NewNop(), WithDB(setupDB(t)))
	_, err := endpoint(t, c, "sql:delete from orders").CreateConsumer(&collector{})
	assert.Error(t, err)
}
