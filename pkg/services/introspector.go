package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource"
)

const schemaCacheSize = 256

// Dialect-specific metadata queries. Every variant returns
// table_schema (optional), table_name, column_name, data_type, is_nullable.
const (
	postgresColumnsQuery = `SELECT table_schema::text AS table_schema, table_name::text AS table_name,
       column_name::text AS column_name, data_type::text AS data_type, is_nullable::text AS is_nullable
FROM information_schema.columns
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name, ordinal_position`

	mysqlColumnsQuery = `SELECT table_name AS table_name, column_name AS column_name,
       data_type AS data_type, is_nullable AS is_nullable
FROM information_schema.columns
WHERE table_schema = DATABASE()
ORDER BY table_name, ordinal_position`

	sqlServerColumnsQuery = `SELECT TABLE_SCHEMA AS table_schema, TABLE_NAME AS table_name,
       COLUMN_NAME AS column_name, DATA_TYPE AS data_type, IS_NULLABLE AS is_nullable
FROM INFORMATION_SCHEMA.COLUMNS
ORDER BY TABLE_SCHEMA, TABLE_NAME, ORDINAL_POSITION`

	bigQueryColumnsQueryTemplate = "SELECT table_name, column_name, data_type, is_nullable\n" +
		"FROM `%s`.INFORMATION_SCHEMA.COLUMNS\n" +
		"ORDER BY table_name, ordinal_position"
)

// defaultSchemas are omitted from rendered table names.
var defaultSchemas = map[string]bool{"public": true, "dbo": true}

// Introspector renders the schema of a data source as prompt-ready text.
type Introspector interface {
	// Describe returns "Table: X" blocks with one indented line per column.
	// The rendered text is memoized per data source until it expires or is invalidated.
	Describe(ctx context.Context, datasourceID uuid.UUID, conn datasource.Connection) (string, error)

	// Invalidate drops the memoized schema text for a data source.
	Invalidate(datasourceID uuid.UUID)
}

type introspector struct {
	memo   *expirable.LRU[uuid.UUID, string]
	logger *zap.Logger
}

// NewIntrospector creates an introspector whose memo keeps schema text for ttl.
func NewIntrospector(ttl time.Duration, logger *zap.Logger) Introspector {
	return &introspector{
		memo:   expirable.NewLRU[uuid.UUID, string](schemaCacheSize, nil, ttl),
		logger: logger.Named("introspector"),
	}
}

var _ Introspector = (*introspector)(nil)

func (s *introspector) Describe(ctx context.Context, datasourceID uuid.UUID, conn datasource.Connection) (string, error) {
	if text, ok := s.memo.Get(datasourceID); ok {
		return text, nil
	}

	query, err := columnsQuery(conn)
	if err != nil {
		return "", err
	}

	result, err := conn.Query(ctx, query, datasource.Unlimited)
	if err != nil {
		return "", fmt.Errorf("introspect %s schema: %w", conn.Dialect(), err)
	}

	text := RenderSchema(result.Rows)
	s.memo.Add(datasourceID, text)

	s.logger.Debug("Introspected schema",
		zap.String("datasource_id", datasourceID.String()),
		zap.String("dialect", string(conn.Dialect())),
		zap.Int("columns", result.RowCount))

	return text, nil
}

func (s *introspector) Invalidate(datasourceID uuid.UUID) {
	s.memo.Remove(datasourceID)
}

func columnsQuery(conn datasource.Connection) (string, error) {
	switch conn.Dialect() {
	case datasource.DialectPostgres:
		return postgresColumnsQuery, nil
	case datasource.DialectMySQL:
		return mysqlColumnsQuery, nil
	case datasource.DialectSQLServer:
		return sqlServerColumnsQuery, nil
	case datasource.DialectBigQuery:
		scoped, ok := conn.(datasource.DatasetScoped)
		if !ok || scoped.Dataset() == "" {
			return "", fmt.Errorf("bigquery introspection requires a dataset in the connection descriptor")
		}
		return fmt.Sprintf(bigQueryColumnsQueryTemplate, scoped.Dataset()), nil
	default:
		return "", fmt.Errorf("no introspection query for dialect %q", conn.Dialect())
	}
}

// RenderSchema folds metadata rows into per-table text blocks, tables in first-seen order.
func RenderSchema(rows []map[string]any) string {
	var order []string
	columns := make(map[string][]string)

	for _, row := range rows {
		table := stringValue(row["table_name"])
		if schema := stringValue(row["table_schema"]); schema != "" && !defaultSchemas[strings.ToLower(schema)] {
			table = schema + "." + table
		}

		line := fmt.Sprintf("  %s (%s", stringValue(row["column_name"]), stringValue(row["data_type"]))
		if strings.EqualFold(stringValue(row["is_nullable"]), "NO") {
			line += ", NOT NULL"
		}
		line += ")"

		if _, seen := columns[table]; !seen {
			order = append(order, table)
		}
		columns[table] = append(columns[table], line)
	}

	blocks := make([]string, 0, len(order))
	for _, table := range order {
		blocks = append(blocks, "Table: "+table+"\n"+strings.Join(columns[table], "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}
