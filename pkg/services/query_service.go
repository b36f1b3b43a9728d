package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/repositories"
)

// AskRequest is an ad-hoc question from an authenticated caller.
// A nil DatasourceID selects the credential-free demo path.
type AskRequest struct {
	DatasourceID         *uuid.UUID
	NaturalLanguageQuery string
	CallerID             string
}

// AskResult is an execution result plus where it came from.
type AskResult struct {
	QueryExecutionResult
	QueryID   *uuid.UUID `json:"query_id,omitempty"`
	FromCache bool       `json:"from_cache"`
	Strategy  Strategy   `json:"strategy"`
}

// QueryService answers ad-hoc questions through the cache and the executor
// and saves each answer as a query owned by the caller.
type QueryService interface {
	// Ask returns an error only for conditions the caller must translate into a
	// transport error: unknown or inactive data source, unsupported type, or
	// no language model configured. Execution failures are in the result.
	Ask(ctx context.Context, req AskRequest) (*AskResult, error)
}

type queryService struct {
	datasourceRepo   repositories.DatasourceRepository
	queryRepo        repositories.QueryRepository
	cache            CacheService
	executor         QueryExecutor
	demoExecutor     QueryExecutor
	demoDatasourceID *uuid.UUID
	cacheTTLMinutes  int
	logger           *zap.Logger
}

// NewQueryService creates the ad-hoc query service. executor may be nil when no
// language model is configured; demoExecutor and demoDatasourceID may be nil
// when the demo path is disabled.
func NewQueryService(
	datasourceRepo repositories.DatasourceRepository,
	queryRepo repositories.QueryRepository,
	cache CacheService,
	executor QueryExecutor,
	demoExecutor QueryExecutor,
	demoDatasourceID *uuid.UUID,
	cacheTTLMinutes int,
	logger *zap.Logger,
) QueryService {
	return &queryService{
		datasourceRepo:   datasourceRepo,
		queryRepo:        queryRepo,
		cache:            cache,
		executor:         executor,
		demoExecutor:     demoExecutor,
		demoDatasourceID: demoDatasourceID,
		cacheTTLMinutes:  cacheTTLMinutes,
		logger:           logger.Named("query-service"),
	}
}

var _ QueryService = (*queryService)(nil)

// ErrDemoDisabled is returned when a question names no data source and no demo is configured.
var ErrDemoDisabled = errors.New("no data source given and no demo data source is configured")

func (s *queryService) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	executor := s.executor
	datasourceID := req.DatasourceID

	if datasourceID == nil {
		if s.demoExecutor == nil || s.demoDatasourceID == nil {
			return nil, ErrDemoDisabled
		}
		executor = s.demoExecutor
		datasourceID = s.demoDatasourceID
	} else {
		if executor == nil {
			return nil, apperrors.ErrMissingLLMCredential
		}
	}

	ds, err := s.datasourceRepo.GetByID(ctx, *datasourceID)
	if err != nil {
		return nil, fmt.Errorf("load data source %s: %w", *datasourceID, err)
	}
	if !ds.IsActive {
		return nil, apperrors.ErrDatasourceInactive
	}
	if !datasource.IsRegistered(ds.DatasourceType) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedDatasourceType, ds.DatasourceType)
	}

	result := &AskResult{Strategy: executor.Strategy()}

	if cached := s.cache.Get(ctx, req.NaturalLanguageQuery, &ds.ID); cached != nil {
		result.QueryExecutionResult = QueryExecutionResult{
			SQLQuery: cached.SQLQuery,
			Result:   cached.Data,
			Status:   models.QueryStatusCompleted,
		}
		result.FromCache = true
	} else {
		result.QueryExecutionResult = *executor.Execute(ctx, ExecuteRequest{
			DataSource:           ds,
			NaturalLanguageQuery: req.NaturalLanguageQuery,
		})
		if !result.Failed() {
			s.cache.Set(ctx, req.NaturalLanguageQuery, result.SQLQuery, result.Result, s.cacheTTLMinutes, &ds.ID)
		}
	}

	result.QueryID = s.save(ctx, req, ds.ID, result)

	s.logger.Info("Answered question",
		zap.String("datasource_id", ds.ID.String()),
		zap.String("status", string(result.Status)),
		zap.Bool("from_cache", result.FromCache),
		zap.String("strategy", string(result.Strategy)),
		zap.Int64("execution_time_ms", result.ExecutionTimeMs))

	return result, nil
}

// save records the answer as a query owned by the caller. A failed save is
// logged and does not affect the answer.
func (s *queryService) save(ctx context.Context, req AskRequest, datasourceID uuid.UUID, result *AskResult) *uuid.UUID {
	q := &models.Query{
		OwnerID:              req.CallerID,
		DatasourceID:         &datasourceID,
		NaturalLanguageQuery: req.NaturalLanguageQuery,
		SQLQuery:             result.SQLQuery,
		Status:               result.Status,
		Result:               result.Result,
		ExecutionTimeMs:      result.ExecutionTimeMs,
	}
	if result.Error != "" {
		msg := result.Error
		q.ErrorMessage = &msg
	}

	if err := s.queryRepo.Create(ctx, q); err != nil {
		s.logger.Error("Failed to save query", zap.Error(err))
		return nil
	}
	return &q.ID
}
