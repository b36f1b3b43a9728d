package models

import (
	"time"

	"github.com/google/uuid"
)

// CacheEntry is a cached query result keyed by a fingerprint of the query
// text and data source.
type CacheEntry struct {
	CacheKey     string           `json:"cache_key"`
	QueryText    string           `json:"query_text"`
	SQLQuery     string           `json:"sql_query"`
	DatasourceID *uuid.UUID       `json:"datasource_id,omitempty"`
	Result       []map[string]any `json:"result"`
	RecordCount  int              `json:"record_count"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
	HitCount     int64            `json:"hit_count"`
	LastHitAt    *time.Time       `json:"last_hit_at,omitempty"`
}

// IsExpired reports whether the entry is no longer servable at now.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CacheStats summarizes the cache table.
// HitRate is total hits divided by entry count, not hits over lookups.
type CacheStats struct {
	TotalEntries int64   `json:"total_entries"`
	TotalHits    int64   `json:"total_hits"`
	HitRate      float64 `json:"hit_rate"`
	TotalRecords int64   `json:"total_records"`
}
