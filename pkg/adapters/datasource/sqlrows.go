package datasource

import (
	"database/sql"
	"fmt"
	"strings"
)

// CollectSQLRows reads database/sql rows into a QueryResult, stopping once
// maxRows rows are held and another is available.
// typeName maps the driver's DatabaseTypeName to the reported column type; nil keeps it as is.
// Byte slices from textual and decimal columns are returned as strings.
func CollectSQLRows(rows *sql.Rows, maxRows int, typeName func(string) string) (*QueryResult, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]ColumnInfo, len(columnTypes))
	for i, ct := range columnTypes {
		t := ct.DatabaseTypeName()
		if typeName != nil {
			t = typeName(t)
		}
		columns[i] = ColumnInfo{Name: ct.Name(), Type: t}
	}

	resultRows := make([]map[string]any, 0)
	truncated := false
	for rows.Next() {
		if LimitReached(len(resultRows), maxRows) {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			val := values[i]
			if b, ok := val.([]byte); ok && isTextual(columnTypes[i].DatabaseTypeName()) {
				val = string(b)
			}
			rowMap[col.Name] = val
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &QueryResult{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		Truncated: truncated,
	}, nil
}

func isTextual(dbType string) bool {
	switch strings.ToUpper(dbType) {
	case "CHAR", "VARCHAR", "TEXT", "NCHAR", "NVARCHAR", "NTEXT", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT",
		"DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY", "JSON", "ENUM", "SET":
		return true
	default:
		return false
	}
}
