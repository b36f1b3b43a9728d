package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/logging"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/prompts"
	sqlsafety "github.com/ekaya-inc/ekaya-query-engine/pkg/sql"
)

// ConnectionProvider hands out live connections by data source.
// *datasource.ConnectionManager satisfies it.
type ConnectionProvider interface {
	GetConnection(ctx context.Context, datasourceID uuid.UUID, dsType, descriptor string) (datasource.Connection, error)
}

var _ ConnectionProvider = (*datasource.ConnectionManager)(nil)

// ExecuteRequest asks for a natural-language question to be answered from a data source.
type ExecuteRequest struct {
	DataSource           *models.Datasource
	NaturalLanguageQuery string
}

// QueryExecutionResult is the outcome of one execution. Result is never nil.
// SQLQuery is empty when translation did not complete.
type QueryExecutionResult struct {
	SQLQuery        string             `json:"sql_query"`
	Result          []map[string]any   `json:"result"`
	ExecutionTimeMs int64              `json:"execution_time_ms"`
	Status          models.QueryStatus `json:"status"`
	Error           string             `json:"error,omitempty"`
	Truncated       bool               `json:"truncated,omitempty"`
}

// Failed reports whether the execution did not complete.
func (r *QueryExecutionResult) Failed() bool {
	return r.Status != models.QueryStatusCompleted
}

// QueryExecutor turns questions into results. Failures are reported in the
// result, never returned, and nothing is retried here.
type QueryExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) *QueryExecutionResult
	// RunSQL validates and runs already-translated SQL.
	RunSQL(ctx context.Context, ds *models.Datasource, sqlQuery string) *QueryExecutionResult
	Strategy() Strategy
}

type queryExecutor struct {
	connections  ConnectionProvider
	introspector Introspector
	translator   Translator
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewQueryExecutor creates an executor bound to one translation strategy.
func NewQueryExecutor(
	connections ConnectionProvider,
	introspector Introspector,
	translator Translator,
	m *metrics.Metrics,
	logger *zap.Logger,
) QueryExecutor {
	return &queryExecutor{
		connections:  connections,
		introspector: introspector,
		translator:   translator,
		metrics:      m,
		logger:       logger.Named("query-executor"),
	}
}

var _ QueryExecutor = (*queryExecutor)(nil)

func (e *queryExecutor) Strategy() Strategy {
	return e.translator.Strategy()
}

func (e *queryExecutor) Execute(ctx context.Context, req ExecuteRequest) *QueryExecutionResult {
	start := time.Now()
	ds := req.DataSource
	if ds == nil {
		return e.finish(start, "", errors.New("no data source given"))
	}

	// The keyword strategy ignores the schema, so it never connects before validation.
	var (
		conn       datasource.Connection
		schemaText string
		err        error
	)
	if e.translator.Strategy() == StrategyLLM {
		conn, err = e.connect(ctx, ds)
		if err != nil {
			return e.finish(start, "", err)
		}
		schemaText, err = e.introspector.Describe(ctx, ds.ID, conn)
		if err != nil {
			return e.finish(start, "", fmt.Errorf("schema introspection failed: %w", err))
		}
	}

	sqlQuery, err := e.translator.Translate(ctx, req.NaturalLanguageQuery, schemaText, datasource.Dialect(ds.DatasourceType))
	if err != nil {
		return e.finish(start, "", err)
	}

	normalized, err := sqlsafety.Validate(sqlQuery)
	if err != nil {
		e.logger.Warn("Rejected generated SQL",
			zap.String("datasource_id", ds.ID.String()),
			zap.String("sql", logging.SanitizeQuery(sqlQuery)),
			zap.Error(err))
		return e.finish(start, sqlQuery, err)
	}

	if conn == nil {
		conn, err = e.connect(ctx, ds)
		if err != nil {
			return e.finish(start, normalized, err)
		}
	}

	return e.run(ctx, start, conn, normalized)
}

func (e *queryExecutor) RunSQL(ctx context.Context, ds *models.Datasource, sqlQuery string) *QueryExecutionResult {
	start := time.Now()
	if ds == nil {
		return e.finish(start, sqlQuery, errors.New("no data source given"))
	}

	normalized, err := sqlsafety.Validate(sqlQuery)
	if err != nil {
		return e.finish(start, sqlQuery, err)
	}

	conn, err := e.connect(ctx, ds)
	if err != nil {
		return e.finish(start, normalized, err)
	}
	return e.run(ctx, start, conn, normalized)
}

func (e *queryExecutor) connect(ctx context.Context, ds *models.Datasource) (datasource.Connection, error) {
	conn, err := e.connections.GetConnection(ctx, ds.ID, ds.DatasourceType, ds.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	return conn, nil
}

func (e *queryExecutor) run(ctx context.Context, start time.Time, conn datasource.Connection, sqlQuery string) *QueryExecutionResult {
	qr, err := conn.Query(ctx, sqlQuery, prompts.MaxResultRows)
	if err != nil {
		e.logger.Error("Query execution failed",
			zap.String("dialect", string(conn.Dialect())),
			zap.String("sql", logging.SanitizeQuery(sqlQuery)),
			zap.String("error", logging.SanitizeError(err)))
		return e.finish(start, sqlQuery, fmt.Errorf("query failed: %w", err))
	}

	res := e.finish(start, sqlQuery, nil)
	res.Truncated = qr.Truncated
	rows := qr.Rows
	if len(rows) > prompts.MaxResultRows {
		rows = rows[:prompts.MaxResultRows]
		res.Truncated = true
	}
	if rows != nil {
		res.Result = rows
	}
	return res
}

// finish stamps elapsed time and status; a nil err means completed.
func (e *queryExecutor) finish(start time.Time, sqlQuery string, err error) *QueryExecutionResult {
	elapsed := time.Since(start)
	res := &QueryExecutionResult{
		SQLQuery:        sqlQuery,
		Result:          []map[string]any{},
		ExecutionTimeMs: elapsed.Milliseconds(),
		Status:          models.QueryStatusCompleted,
	}
	if err != nil {
		res.Status = models.QueryStatusFailed
		res.Error = err.Error()
	}

	e.metrics.QueryExecutions.WithLabelValues(string(res.Status)).Inc()
	e.metrics.QueryDuration.Observe(elapsed.Seconds())
	return res
}
