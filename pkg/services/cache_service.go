package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/repositories"
)

// DefaultCacheTTLMinutes applies when a caller passes a non-positive TTL.
const DefaultCacheTTLMinutes = 60

// defaultCacheSentinel stands in for the data source id of queries that have none.
const defaultCacheSentinel = "default"

// CachedResult is a live cache hit.
type CachedResult struct {
	Data      []map[string]any
	SQLQuery  string
	CachedAt  time.Time
	ExpiresAt time.Time
}

// CacheService stores query results keyed by query text and data source.
// Storage failures are logged and reported as a miss or a no-op; they never
// fail the caller.
type CacheService interface {
	// Get returns nil when there is no live entry. An expired entry is deleted on read.
	Get(ctx context.Context, query string, datasourceID *uuid.UUID) *CachedResult
	// Set replaces any entry for the key; hit statistics start over. sqlQuery is
	// the statement that produced data and is returned with later hits.
	Set(ctx context.Context, query, sqlQuery string, data []map[string]any, ttlMinutes int, datasourceID *uuid.UUID)
	Invalidate(ctx context.Context, query string, datasourceID *uuid.UUID)
	InvalidateForDatasource(ctx context.Context, datasourceID uuid.UUID) int64
	// Cleanup removes every expired entry and returns how many were removed.
	Cleanup(ctx context.Context) int64
	Clear(ctx context.Context) int64
	Stats(ctx context.Context) (*models.CacheStats, error)

	// RunCleanup starts a background loop calling Cleanup every interval.
	// Cancel the context to stop it.
	RunCleanup(ctx context.Context, interval time.Duration)
}

type cacheService struct {
	repo    repositories.CacheRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewCacheService creates a cache service over the given repository.
func NewCacheService(repo repositories.CacheRepository, m *metrics.Metrics, logger *zap.Logger) CacheService {
	return &cacheService{
		repo:    repo,
		metrics: m,
		logger:  logger.Named("cache-service"),
		now:     time.Now,
	}
}

var _ CacheService = (*cacheService)(nil)

// CacheKey derives the fingerprint of a query against a data source.
func CacheKey(query string, datasourceID *uuid.UUID) string {
	scope := defaultCacheSentinel
	if datasourceID != nil {
		scope = datasourceID.String()
	}
	sum := sha256.Sum256([]byte(query + ":" + scope))
	return hex.EncodeToString(sum[:])
}

func (s *cacheService) Get(ctx context.Context, query string, datasourceID *uuid.UUID) *CachedResult {
	key := CacheKey(query, datasourceID)

	entry, err := s.repo.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Cache read failed, treating as miss", zap.Error(err))
		s.metrics.CacheMisses.Inc()
		return nil
	}
	if entry == nil {
		s.metrics.CacheMisses.Inc()
		return nil
	}

	now := s.now()
	if entry.IsExpired(now) {
		if _, err := s.repo.DeleteIfExpired(ctx, key, now); err != nil {
			s.logger.Warn("Failed to delete expired cache entry", zap.Error(err))
		}
		s.metrics.CacheMisses.Inc()
		return nil
	}

	if err := s.repo.RecordHit(ctx, key, now); err != nil {
		s.logger.Warn("Failed to record cache hit", zap.Error(err))
	}
	s.metrics.CacheHits.Inc()

	return &CachedResult{
		Data:      entry.Result,
		SQLQuery:  entry.SQLQuery,
		CachedAt:  entry.UpdatedAt,
		ExpiresAt: entry.ExpiresAt,
	}
}

func (s *cacheService) Set(ctx context.Context, query, sqlQuery string, data []map[string]any, ttlMinutes int, datasourceID *uuid.UUID) {
	if ttlMinutes <= 0 {
		ttlMinutes = DefaultCacheTTLMinutes
	}
	if data == nil {
		data = []map[string]any{}
	}

	now := s.now()
	entry := &models.CacheEntry{
		CacheKey:     CacheKey(query, datasourceID),
		QueryText:    query,
		SQLQuery:     sqlQuery,
		DatasourceID: datasourceID,
		Result:       data,
		RecordCount:  len(data),
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(ttlMinutes) * time.Minute),
	}
	if err := s.repo.Upsert(ctx, entry); err != nil {
		s.logger.Warn("Cache write failed", zap.Error(err))
	}
}

func (s *cacheService) Invalidate(ctx context.Context, query string, datasourceID *uuid.UUID) {
	if _, err := s.repo.Delete(ctx, CacheKey(query, datasourceID)); err != nil {
		s.logger.Warn("Cache invalidation failed", zap.Error(err))
	}
}

func (s *cacheService) InvalidateForDatasource(ctx context.Context, datasourceID uuid.UUID) int64 {
	n, err := s.repo.DeleteByDatasource(ctx, datasourceID)
	if err != nil {
		s.logger.Warn("Cache invalidation failed",
			zap.String("datasource_id", datasourceID.String()),
			zap.Error(err))
		return 0
	}
	return n
}

func (s *cacheService) Cleanup(ctx context.Context) int64 {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		s.logger.Error("Cache cleanup failed", zap.Error(err))
		return 0
	}
	s.metrics.CacheCleanupRows.Add(float64(n))
	if n > 0 {
		s.logger.Info("Removed expired cache entries", zap.Int64("removed", n))
	}
	return n
}

func (s *cacheService) Clear(ctx context.Context) int64 {
	n, err := s.repo.DeleteAll(ctx)
	if err != nil {
		s.logger.Error("Cache clear failed", zap.Error(err))
		return 0
	}
	return n
}

func (s *cacheService) Stats(ctx context.Context) (*models.CacheStats, error) {
	return s.repo.Stats(ctx)
}

func (s *cacheService) RunCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Cache cleanup started", zap.Duration("interval", interval))

		s.Cleanup(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Cache cleanup stopped")
				return
			case <-ticker.C:
				s.Cleanup(ctx)
			}
		}
	}()
}
