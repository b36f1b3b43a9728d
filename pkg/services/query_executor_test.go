package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/llm"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
)

func testDatasource() *models.Datasource {
	return &models.Datasource{
		ID:             uuid.New(),
		Name:           "sales",
		DatasourceType: models.DatasourceTypePostgres,
		Descriptor:     "postgres://reader@localhost/sales",
		IsActive:       true,
	}
}

func newLLMExecutor(t *testing.T, response string, provider *fakeProvider) (QueryExecutor, *metrics.Metrics) {
	t.Helper()
	tr, err := NewLLMTranslator(llm.NewMockLLMClientWithResponse(response), 0, zap.NewNop())
	require.NoError(t, err)
	m := metrics.NewNop()
	return NewQueryExecutor(provider, NewIntrospector(time.Minute, zap.NewNop()), tr, m, zap.NewNop()), m
}

func TestQueryExecutor_Execute_Success(t *testing.T) {
	conn := newFakeConnection(datasource.DialectPostgres, map[string]any{"month": "2025-01", "total_sales": 100.0})
	provider := &fakeProvider{conn: conn}
	exec, m := newLLMExecutor(t, "SELECT month, SUM(amount) AS total_sales FROM orders GROUP BY month", provider)

	res := exec.Execute(context.Background(), ExecuteRequest{
		DataSource:           testDatasource(),
		NaturalLanguageQuery: "Show me total sales by month",
	})

	assert.Equal(t, models.QueryStatusCompleted, res.Status)
	assert.Empty(t, res.Error)
	assert.Contains(t, res.SQLQuery, "SELECT")
	assert.Contains(t, res.SQLQuery, "LIMIT 1000")
	assert.Len(t, res.Result, 1)
	assert.GreaterOrEqual(t, res.ExecutionTimeMs, int64(0))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryExecutions.WithLabelValues("completed")))

	// introspection and the query share one connection
	assert.Equal(t, 1, provider.Calls())
	require.Len(t, conn.Queries(), 2)
	assert.Contains(t, conn.Queries()[0], "information_schema.columns")
}

func TestQueryExecutor_Execute_EmptyResultIsArray(t *testing.T) {
	provider := &fakeProvider{conn: newFakeConnection(datasource.DialectPostgres)}
	exec, _ := newLLMExecutor(t, "SELECT 1 WHERE false", provider)

	res := exec.Execute(context.Background(), ExecuteRequest{DataSource: testDatasource(), NaturalLanguageQuery: "nothing"})

	assert.Equal(t, models.QueryStatusCompleted, res.Status)
	assert.NotNil(t, res.Result)
	assert.Empty(t, res.Result)
}

func TestQueryExecutor_Execute_RejectsDestructiveSQL(t *testing.T) {
	conn := newFakeConnection(datasource.DialectPostgres)
	provider := &fakeProvider{conn: conn}
	exec, m := newLLMExecutor(t, "DROP TABLE customers", provider)

	res := exec.Execute(context.Background(), ExecuteRequest{DataSource: testDatasource(), NaturalLanguageQuery: "remove customers"})

	assert.Equal(t, models.QueryStatusFailed, res.Status)
	assert.Contains(t, res.Error, "drop")
	assert.Equal(t, "DROP TABLE customers", res.SQLQuery)
	assert.NotNil(t, res.Result)
	assert.Empty(t, res.Result)
	// only the introspection query reached the database
	require.Len(t, conn.Queries(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryExecutions.WithLabelValues("failed")))
}

func TestQueryExecutor_Execute_KeywordValidatesBeforeConnecting(t *testing.T) {
	provider := &fakeProvider{conn: newFakeConnection(datasource.DialectPostgres)}
	tr := NewKeywordTranslator([]KeywordRule{{Keywords: []string{"customers"}, SQL: "DROP TABLE customers"}}, zap.NewNop())
	exec := NewQueryExecutor(provider, NewIntrospector(time.Minute, zap.NewNop()), tr, metrics.NewNop(), zap.NewNop())

	res := exec.Execute(context.Background(), ExecuteRequest{DataSource: testDatasource(), NaturalLanguageQuery: "drop customers"})

	assert.Equal(t, models.QueryStatusFailed, res.Status)
	assert.Contains(t, res.Error, "drop")
	assert.Equal(t, 0, provider.Calls())
}

func TestQueryExecutor_Execute_ConnectionFailure(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("dial tcp: connection refused")}
	exec, _ := newLLMExecutor(t, "SELECT 1", provider)

	res := exec.Execute(context.Background(), ExecuteRequest{DataSource: testDatasource(), NaturalLanguageQuery: "q"})

	assert.Equal(t, models.QueryStatusFailed, res.Status)
	assert.Contains(t, res.Error, "connection refused")
	assert.Equal(t, "", res.SQLQuery)
	assert.NotNil(t, res.Result)
}

func TestQueryExecutor_Execute_TranslationFailure(t *testing.T) {
	provider := &fakeProvider{conn: newFakeConnection(datasource.DialectPostgres)}
	exec, _ := newLLMExecutor(t, "", provider)

	res := exec.Execute(context.Background(), ExecuteRequest{DataSource: testDatasource(), NaturalLanguageQuery: "q"})

	assert.Equal(t, models.QueryStatusFailed, res.Status)
	assert.Equal(t, "", res.SQLQuery)
	assert.Contains(t, res.Error, "no SQL")
}

func TestQueryExecutor_Execute_QueryFailureKeepsSQL(t *testing.T) {
	conn := newFakeConnection(datasource.DialectPostgres)
	provider := &fakeProvider{conn: conn}
	exec, _ := newLLMExecutor(t, "SELECT missing FROM nowhere", provider)

	ds := testDatasource()
	// warm the schema memo so only the generated query hits the failing connection
	_, err := exec.(*queryExecutor).introspector.Describe(context.Background(), ds.ID, conn)
	require.NoError(t, err)

	conn.queryErr = fmt.Errorf("relation \"nowhere\" does not exist")
	res := exec.Execute(context.Background(), ExecuteRequest{DataSource: ds, NaturalLanguageQuery: "q"})

	assert.Equal(t, models.QueryStatusFailed, res.Status)
	assert.Equal(t, "SELECT missing FROM nowhere\nLIMIT 1000", res.SQLQuery)
	assert.Contains(t, res.Error, "does not exist")
}

func TestQueryExecutor_CapsRows(t *testing.T) {
	rows := make([]map[string]any, 1500)
	for i := range rows {
		rows[i] = map[string]any{"n": i}
	}
	conn := newFakeConnection(datasource.DialectSQLServer, rows...)
	provider := &fakeProvider{conn: conn}
	exec, _ := newLLMExecutor(t, "SELECT n FROM big", provider)

	res := exec.RunSQL(context.Background(), testDatasource(), "SELECT n FROM big")

	assert.Equal(t, models.QueryStatusCompleted, res.Status)
	assert.Len(t, res.Result, 1000)
	assert.True(t, res.Truncated)
	assert.Equal(t, []int{1000}, conn.Limits())
}

func TestQueryExecutor_ExactRowCapIsNotTruncated(t *testing.T) {
	rows := make([]map[string]any, 1000)
	for i := range rows {
		rows[i] = map[string]any{"n": i}
	}
	provider := &fakeProvider{conn: newFakeConnection(datasource.DialectPostgres, rows...)}
	exec, _ := newLLMExecutor(t, "SELECT n FROM big", provider)

	res := exec.RunSQL(context.Background(), testDatasource(), "SELECT n FROM big")

	assert.Len(t, res.Result, 1000)
	assert.False(t, res.Truncated)
}

func TestQueryExecutor_RunSQL_Validates(t *testing.T) {
	provider := &fakeProvider{conn: newFakeConnection(datasource.DialectPostgres)}
	exec, _ := newLLMExecutor(t, "", provider)

	res := exec.RunSQL(context.Background(), testDatasource(), "DELETE FROM orders")

	assert.Equal(t, models.QueryStatusFailed, res.Status)
	assert.Contains(t, res.Error, "delete")
	assert.Equal(t, 0, provider.Calls())
}

func TestQueryExecutor_NilDatasource(t *testing.T) {
	exec, _ := newLLMExecutor(t, "SELECT 1", &fakeProvider{})

	res := exec.Execute(context.Background(), ExecuteRequest{NaturalLanguageQuery: "q"})
	assert.Equal(t, models.QueryStatusFailed, res.Status)
	assert.NotNil(t, res.Result)
}
