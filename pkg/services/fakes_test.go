package services

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource"
)

// fakeConnection answers every query from a fixed result and records the SQL it saw.
type fakeConnection struct {
	mu       sync.Mutex
	dialect  datasource.Dialect
	dataset  string
	result   *datasource.QueryResult
	queryErr error
	queries  []string
	limits   []int
}

func newFakeConnection(dialect datasource.Dialect, rows ...map[string]any) *fakeConnection {
	if rows == nil {
		rows = []map[string]any{}
	}
	return &fakeConnection{
		dialect: dialect,
		result:  &datasource.QueryResult{Rows: rows, RowCount: len(rows)},
	}
}

func (c *fakeConnection) Query(ctx context.Context, sql string, maxRows int) (*datasource.QueryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, sql)
	c.limits = append(c.limits, maxRows)
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	if maxRows <= 0 || len(c.result.Rows) <= maxRows {
		return c.result, nil
	}
	rows := c.result.Rows[:maxRows]
	return &datasource.QueryResult{Columns: c.result.Columns, Rows: rows, RowCount: len(rows), Truncated: true}, nil
}

func (c *fakeConnection) TestConnection(ctx context.Context) error { return nil }
func (c *fakeConnection) Close() error                            { return nil }
func (c *fakeConnection) Dialect() datasource.Dialect             { return c.dialect }
func (c *fakeConnection) Dataset() string                         { return c.dataset }

func (c *fakeConnection) Queries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.queries...)
}

func (c *fakeConnection) Limits() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.limits...)
}

var _ datasource.Connection = (*fakeConnection)(nil)

var errBoom = errors.New("boom")

// fakeProvider hands out a single fakeConnection and counts acquisitions.
type fakeProvider struct {
	mu    sync.Mutex
	conn  *fakeConnection
	err   error
	calls int
}

func (p *fakeProvider) GetConnection(ctx context.Context, datasourceID uuid.UUID, dsType, descriptor string) (datasource.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.conn, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var _ ConnectionProvider = (*fakeProvider)(nil)
