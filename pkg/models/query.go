package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryStatus is the outcome of the latest execution of a query.
type QueryStatus string

const (
	QueryStatusPending   QueryStatus = "pending"
	QueryStatusRunning   QueryStatus = "running"
	QueryStatusCompleted QueryStatus = "completed"
	QueryStatusFailed    QueryStatus = "failed"
)

// Query is a saved natural-language question together with the SQL that
// answered it and the result of its latest run.
type Query struct {
	ID                   uuid.UUID        `json:"id"`
	OwnerID              string           `json:"owner_id"`
	DatasourceID         *uuid.UUID       `json:"datasource_id,omitempty"`
	NaturalLanguageQuery string           `json:"natural_language_query"`
	SQLQuery             string           `json:"sql_query"`
	Status               QueryStatus      `json:"status"`
	Result               []map[string]any `json:"result,omitempty"`
	ExecutionTimeMs      int64            `json:"execution_time_ms"`
	ErrorMessage         *string          `json:"error_message,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}
