package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/database"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
)

// CacheRepository provides data access for cached query results.
type CacheRepository interface {
	// Get returns nil, nil when no row exists for the key. Expired rows are returned as-is.
	Get(ctx context.Context, cacheKey string) (*models.CacheEntry, error)
	// Upsert replaces the row for entry.CacheKey atomically, resetting hit count and last hit.
	Upsert(ctx context.Context, entry *models.CacheEntry) error
	RecordHit(ctx context.Context, cacheKey string, at time.Time) error
	Delete(ctx context.Context, cacheKey string) (int64, error)
	// DeleteIfExpired removes the row for the key only if it is expired at now,
	// so a concurrent Upsert of a fresh entry survives.
	DeleteIfExpired(ctx context.Context, cacheKey string, now time.Time) (int64, error)
	DeleteByDatasource(ctx context.Context, datasourceID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*models.CacheStats, error)
}

type cacheRepository struct {
	db *database.DB
}

// NewCacheRepository creates a cache repository.
func NewCacheRepository(db *database.DB) CacheRepository {
	return &cacheRepository{db: db}
}

var _ CacheRepository = (*cacheRepository)(nil)

func (r *cacheRepository) Get(ctx context.Context, cacheKey string) (*models.CacheEntry, error) {
	var e models.CacheEntry
	var resultJSON []byte
	err := r.db.QueryRow(ctx, `
		SELECT cache_key, query_text, sql_query, datasource_id, result, record_count,
		       created_at, updated_at, expires_at, hit_count, last_hit_at
		FROM engine_query_cache
		WHERE cache_key = $1`, cacheKey).
		Scan(&e.CacheKey, &e.QueryText, &e.SQLQuery, &e.DatasourceID, &resultJSON, &e.RecordCount,
			&e.CreatedAt, &e.UpdatedAt, &e.ExpiresAt, &e.HitCount, &e.LastHitAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	e.Result, err = unmarshalRows(resultJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	return &e, nil
}

func (r *cacheRepository) Upsert(ctx context.Context, entry *models.CacheEntry) error {
	resultJSON, err := marshalRows(entry.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal cached result: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO engine_query_cache (
			cache_key, query_text, sql_query, datasource_id, result, record_count,
			created_at, updated_at, expires_at, hit_count, last_hit_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8, 0, NULL)
		ON CONFLICT (cache_key) DO UPDATE SET
			query_text = EXCLUDED.query_text,
			sql_query = EXCLUDED.sql_query,
			datasource_id = EXCLUDED.datasource_id,
			result = EXCLUDED.result,
			record_count = EXCLUDED.record_count,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at,
			hit_count = 0,
			last_hit_at = NULL`,
		entry.CacheKey, entry.QueryText, entry.SQLQuery, entry.DatasourceID, resultJSON, entry.RecordCount,
		entry.UpdatedAt, entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

func (r *cacheRepository) RecordHit(ctx context.Context, cacheKey string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE engine_query_cache
		SET hit_count = hit_count + 1, last_hit_at = $2
		WHERE cache_key = $1`, cacheKey, at)
	if err != nil {
		return fmt.Errorf("failed to record cache hit: %w", err)
	}
	return nil
}

func (r *cacheRepository) Delete(ctx context.Context, cacheKey string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM engine_query_cache WHERE cache_key = $1`, cacheKey)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *cacheRepository) DeleteIfExpired(ctx context.Context, cacheKey string, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM engine_query_cache WHERE cache_key = $1 AND expires_at <= $2`, cacheKey, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entry: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *cacheRepository) DeleteByDatasource(ctx context.Context, datasourceID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM engine_query_cache WHERE datasource_id = $1`, datasourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache entries for datasource: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *cacheRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM engine_query_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *cacheRepository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM engine_query_cache`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *cacheRepository) Stats(ctx context.Context) (*models.CacheStats, error) {
	var s models.CacheStats
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(hit_count), 0)::BIGINT, COALESCE(SUM(record_count), 0)::BIGINT
		FROM engine_query_cache`).Scan(&s.TotalEntries, &s.TotalHits, &s.TotalRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache stats: %w", err)
	}
	if s.TotalEntries > 0 {
		s.HitRate = float64(s.TotalHits) / float64(s.TotalEntries)
	}
	return &s, nil
}
