package bigquery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource"
)

// Connection runs queries as BigQuery jobs: submit, wait for completion, then read.
type Connection struct {
	config *Config
	client *bigquery.Client
}

// NewConnection creates a BigQuery client. Authentication happens lazily on the first job.
func NewConnection(ctx context.Context, cfg *Config) (*Connection, error) {
	var opts []option.ClientOption
	if cfg.HasExplicitCredentials() {
		opts = append(opts, option.WithCredentialsJSON(cfg.credentials))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}

	return &Connection{config: cfg, client: client}, nil
}

// TestConnection checks the configured dataset is visible, or runs a trivial
// job when no dataset is configured.
func (c *Connection) TestConnection(ctx context.Context) error {
	if c.config.Dataset != "" {
		if _, err := c.client.Dataset(c.config.Dataset).Metadata(ctx); err != nil {
			return fmt.Errorf("dataset %s not accessible: %w", c.config.Dataset, err)
		}
		return nil
	}

	if _, err := c.Query(ctx, "SELECT 1", 1); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// Query submits sql as a query job, polls until the job is done, and reads up
// to maxRows rows. The job's row total decides Truncated, so no extra page is fetched.
func (c *Connection) Query(ctx context.Context, sql string, maxRows int) (*datasource.QueryResult, error) {
	q := c.client.Query(sql)
	if c.config.Dataset != "" {
		q.DefaultProjectID = c.config.ProjectID
		q.DefaultDatasetID = c.config.Dataset
	}

	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("submit query job: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for query job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("query job %s failed: %w", job.ID(), err)
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read query job %s: %w", job.ID(), err)
	}

	if maxRows > 0 {
		it.PageInfo().MaxSize = maxRows
	}

	resultRows := make([]map[string]any, 0)
	truncated := false
	var columns []datasource.ColumnInfo
	for {
		if datasource.LimitReached(len(resultRows), maxRows) {
			truncated = it.TotalRows > uint64(len(resultRows))
			break
		}
		var values []bigquery.Value
		err := it.Next(&values)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating rows: %w", err)
		}

		if columns == nil {
			columns = schemaColumns(it.Schema)
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(values) {
				rowMap[col.Name] = normalizeValue(values[i])
			}
		}
		resultRows = append(resultRows, rowMap)
	}
	if columns == nil {
		columns = schemaColumns(it.Schema)
	}

	return &datasource.QueryResult{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		Truncated: truncated,
	}, nil
}

func schemaColumns(schema bigquery.Schema) []datasource.ColumnInfo {
	columns := make([]datasource.ColumnInfo, len(schema))
	for i, field := range schema {
		columns[i] = datasource.ColumnInfo{Name: field.Name, Type: string(field.Type)}
	}
	return columns
}

// normalizeValue converts BigQuery value types that do not serialize to JSON naturally.
func normalizeValue(v bigquery.Value) any {
	switch val := v.(type) {
	case *big.Rat:
		if val == nil {
			return nil
		}
		f, _ := val.Float64()
		return f
	case time.Time:
		return val
	case []bigquery.Value:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case fmt.Stringer:
		// civil.Date, civil.Time and civil.DateTime
		return val.String()
	default:
		return v
	}
}

// Dataset returns the dataset whose INFORMATION_SCHEMA describes this connection.
func (c *Connection) Dataset() string {
	return c.config.Dataset
}

func (c *Connection) Close() error {
	return c.client.Close()
}

func (c *Connection) Dialect() datasource.Dialect {
	return datasource.DialectBigQuery
}

var (
	_ datasource.Connection    = (*Connection)(nil)
	_ datasource.DatasetScoped = (*Connection)(nil)
)
