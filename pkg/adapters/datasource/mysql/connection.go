package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource"
)

// Connection provides MySQL connectivity over database/sql.
type Connection struct {
	config *mysql.Config
	db     *sql.DB
}

// NewConnection builds a handle from a driver config. No round trip is made
// until TestConnection or Query is called.
func NewConnection(cfg *mysql.Config) (*Connection, error) {
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(5)
	return &Connection{config: cfg, db: db}, nil
}

// TestConnection verifies the database is reachable and that the session's
// default schema is the configured database.
func (c *Connection) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var currentDB sql.NullString
	if err := c.db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&currentDB); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	if c.config.DBName != "" && !strings.EqualFold(currentDB.String, c.config.DBName) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", c.config.DBName, currentDB.String)
	}
	return nil
}

// Query runs a SQL statement and returns up to maxRows rows.
func (c *Connection) Query(ctx context.Context, sqlQuery string, maxRows int) (*datasource.QueryResult, error) {
	rows, err := c.db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return datasource.CollectSQLRows(rows, maxRows, nil)
}

func (c *Connection) Close() error {
	return c.db.Close()
}

func (c *Connection) Dialect() datasource.Dialect {
	return datasource.DialectMySQL
}

var _ datasource.Connection = (*Connection)(nil)
