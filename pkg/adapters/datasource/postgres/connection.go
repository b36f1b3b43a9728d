package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource"
)

// Connection provides PostgreSQL connectivity over a pgx pool.
type Connection struct {
	config *Config
	pool   *pgxpool.Pool
}

// NewConnection creates a pool for the given config. No round trip is made until
// TestConnection or Query is called.
func NewConnection(ctx context.Context, cfg *Config) (*Connection, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres connection string: %w", err)
	}
	poolConfig.MaxConns = 5
	poolConfig.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return &Connection{config: cfg, pool: pool}, nil
}

// TestConnection verifies the database is reachable with valid credentials.
// It checks server connectivity, database access, and that the session landed
// on the configured database rather than a server default.
func (c *Connection) TestConnection(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var currentDB string
	if err := c.pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}

	expectedDB := c.config.Database
	if expectedDB != "" && !strings.EqualFold(currentDB, expectedDB) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", expectedDB, currentDB)
	}
	return nil
}

// Query runs a SQL statement and returns up to maxRows rows.
func (c *Connection) Query(ctx context.Context, sql string, maxRows int) (*datasource.QueryResult, error) {
	rows, err := c.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]datasource.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datasource.ColumnInfo{
			Name: fd.Name,
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	truncated := false
	for rows.Next() {
		if datasource.LimitReached(len(resultRows), maxRows) {
			truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &datasource.QueryResult{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		Truncated: truncated,
	}, nil
}

// normalizeValue converts pgx wire types that do not serialize to JSON naturally.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	default:
		return v
	}
}

// Close releases the pool.
func (c *Connection) Close() error {
	c.pool.Close()
	return nil
}

func (c *Connection) Dialect() datasource.Dialect {
	return datasource.DialectPostgres
}

var _ datasource.Connection = (*Connection)(nil)
