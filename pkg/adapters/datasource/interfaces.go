package datasource

import "context"

// Dialect identifies the SQL syntax variant spoken by a data source.
type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectMySQL     Dialect = "mysql"
	DialectSQLServer Dialect = "sqlserver"
	DialectBigQuery  Dialect = "bigquery"
)

// DisplayName returns the human readable dialect name used in prompts.
func (d Dialect) DisplayName() string {
	switch d {
	case DialectPostgres:
		return "PostgreSQL"
	case DialectMySQL:
		return "MySQL"
	case DialectSQLServer:
		return "Microsoft SQL Server (T-SQL)"
	case DialectBigQuery:
		return "Google BigQuery Standard SQL"
	default:
		return string(d)
	}
}

// Connection is a live handle to one data source.
// Implementations must be safe for concurrent use; the manager shares them across callers.
type Connection interface {
	// Query runs a statement and collects at most maxRows rows, setting
	// Truncated when the database had more. maxRows <= 0 collects every row.
	Query(ctx context.Context, sql string, maxRows int) (*QueryResult, error)

	// TestConnection verifies the database is reachable with valid credentials.
	// Returns nil if connection is healthy, error otherwise.
	TestConnection(ctx context.Context) error

	// Close releases the underlying driver resources.
	Close() error

	Dialect() Dialect
}

// DatasetScoped is implemented by warehouse connections whose metadata lives
// under a named dataset rather than the connection's default catalog.
type DatasetScoped interface {
	Dataset() string
}

// ColumnInfo describes one column of a query result.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult contains the rows returned by Connection.Query.
type QueryResult struct {
	Columns   []ColumnInfo     `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
}

// Unlimited asks Query for every row.
const Unlimited = 0

// LimitReached reports whether collected rows fill maxRows. Adapters call it
// after advancing to a row and before decoding it, so the first row past the
// limit is seen but never scanned.
func LimitReached(collected, maxRows int) bool {
	return maxRows > 0 && collected >= maxRows
}
