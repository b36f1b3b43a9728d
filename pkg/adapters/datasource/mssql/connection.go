package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"         // SQL Server driver
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support

	"github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource"
)

// Connection provides SQL Server connectivity over database/sql.
type Connection struct {
	config *Config
	db     *sql.DB
}

// NewConnection opens a SQL Server handle. sql.Open does not dial; the first
// round trip happens in TestConnection.
func NewConnection(cfg *Config) (*Connection, error) {
	db, err := sql.Open(cfg.DriverName(), cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", cfg.AuthMethod, err)
	}
	db.SetMaxOpenConns(5)
	return &Connection{config: cfg, db: db}, nil
}

// TestConnection verifies the database is reachable with valid credentials.
func (c *Connection) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// Query runs a T-SQL statement and returns up to maxRows rows.
func (c *Connection) Query(ctx context.Context, sqlQuery string, maxRows int) (*datasource.QueryResult, error) {
	rows, err := c.db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return datasource.CollectSQLRows(rows, maxRows, mapSQLServerType)
}

func (c *Connection) Close() error {
	return c.db.Close()
}

func (c *Connection) Dialect() datasource.Dialect {
	return datasource.DialectSQLServer
}

var _ datasource.Connection = (*Connection)(nil)
