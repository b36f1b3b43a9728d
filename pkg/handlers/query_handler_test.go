package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/services"
)

type mockQueryService struct {
	result *services.AskResult
	err    error
	got    []services.AskRequest
}

func (m *mockQueryService) Ask(ctx context.Context, req services.AskRequest) (*services.AskResult, error) {
	m.got = append(m.got, req)
	return m.result, m.err
}

func postJSON(t *testing.T, mux *http.ServeMux, path, caller, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func newQueryMux(svc *mockQueryService) *http.ServeMux {
	mux := http.NewServeMux()
	NewQueryHandler(svc, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestQueryHandler_Ask(t *testing.T) {
	dsID := uuid.New()
	svc := &mockQueryService{result: &services.AskResult{
		QueryExecutionResult: services.QueryExecutionResult{
			SQLQuery: "SELECT 1 LIMIT 1000",
			Result:   []map[string]any{{"n": 1}},
			Status:   models.QueryStatusCompleted,
		},
		FromCache: true,
		Strategy:  services.StrategyLLM,
	}}

	rec := postJSON(t, newQueryMux(svc), "/api/queries/ask", "user-1",
		fmt.Sprintf(`{"datasource_id":%q,"question":"how many orders"}`, dsID))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, svc.got, 1)
	assert.Equal(t, "user-1", svc.got[0].CallerID)
	assert.Equal(t, "how many orders", svc.got[0].NaturalLanguageQuery)
	require.NotNil(t, svc.got[0].DatasourceID)
	assert.Equal(t, dsID, *svc.got[0].DatasourceID)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "SELECT 1 LIMIT 1000", body["sql_query"])
	assert.Equal(t, true, body["from_cache"])
}

func TestQueryHandler_Ask_DemoWhenNoDatasource(t *testing.T) {
	svc := &mockQueryService{result: &services.AskResult{Strategy: services.StrategyKeyword}}

	rec := postJSON(t, newQueryMux(svc), "/api/queries/ask", "user-1", `{"question":"total sales"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.got, 1)
	assert.Nil(t, svc.got[0].DatasourceID)
}

func TestQueryHandler_Ask_RequestErrors(t *testing.T) {
	tests := []struct {
		name   string
		caller string
		body   string
		status int
	}{
		{"missing caller", "", `{"question":"x"}`, http.StatusUnauthorized},
		{"bad json", "user-1", `{`, http.StatusBadRequest},
		{"blank question", "user-1", `{"question":"  "}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockQueryService{}
			rec := postJSON(t, newQueryMux(svc), "/api/queries/ask", tt.caller, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, svc.got)
		})
	}
}

func TestQueryHandler_Ask_ServiceErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("load data source: %w", apperrors.ErrNotFound), http.StatusNotFound, "datasource_not_found"},
		{apperrors.ErrDatasourceInactive, http.StatusConflict, "datasource_inactive"},
		{fmt.Errorf("%w: %q", apperrors.ErrUnsupportedDatasourceType, "oracle"), http.StatusUnprocessableEntity, "unsupported_datasource_type"},
		{apperrors.ErrMissingLLMCredential, http.StatusServiceUnavailable, "llm_not_configured"},
		{services.ErrDemoDisabled, http.StatusBadRequest, "demo_disabled"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			svc := &mockQueryService{err: tt.err}
			rec := postJSON(t, newQueryMux(svc), "/api/queries/ask", "user-1", `{"question":"x"}`)
			require.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body["error"])
		})
	}
}
