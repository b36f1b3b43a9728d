package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshTargetType names what a schedule refreshes.
type RefreshTargetType string

const (
	RefreshTargetDashboard RefreshTargetType = "dashboard"
	RefreshTargetQuery     RefreshTargetType = "query"
)

// ScheduleKind is the trigger mechanism of a refresh schedule.
type ScheduleKind string

const (
	ScheduleKindManual   ScheduleKind = "manual"
	ScheduleKindInterval ScheduleKind = "interval"
	ScheduleKindCron     ScheduleKind = "cron"
	// ScheduleKindRealtime is reserved; it never produces a next run.
	ScheduleKindRealtime ScheduleKind = "realtime"
)

// ValidScheduleKinds lists all schedule kinds accepted on create.
var ValidScheduleKinds = []ScheduleKind{
	ScheduleKindManual,
	ScheduleKindInterval,
	ScheduleKindCron,
	ScheduleKindRealtime,
}

// IsValid reports whether k is a known schedule kind.
func (k ScheduleKind) IsValid() bool {
	for _, v := range ValidScheduleKinds {
		if k == v {
			return true
		}
	}
	return false
}

// RefreshSchedule keeps a dashboard or query current.
// IntervalMinutes is set for interval schedules and CronExpression for cron
// schedules; the other is nil.
type RefreshSchedule struct {
	ID              uuid.UUID         `json:"id"`
	TargetType      RefreshTargetType `json:"target_type"`
	TargetID        uuid.UUID         `json:"target_id"`
	OwnerID         string            `json:"owner_id"`
	Kind            ScheduleKind      `json:"kind"`
	IntervalMinutes *int              `json:"interval_minutes,omitempty"`
	CronExpression  *string           `json:"cron_expression,omitempty"`
	IsActive        bool              `json:"is_active"`
	LastRunAt       *time.Time        `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time        `json:"next_run_at,omitempty"`
	RunCount        int               `json:"run_count"`
	ErrorCount      int               `json:"error_count"`
	LastError       *string           `json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ScheduleRun is what a single execution attempt writes back to its schedule.
type ScheduleRun struct {
	LastRunAt time.Time
	NextRunAt *time.Time
	Succeeded bool
	Error     *string
}

// ExecutionStatus is the lifecycle state of a refresh execution.
type ExecutionStatus string

const (
	ExecutionStatusQueued    ExecutionStatus = "queued"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// RefreshExecution is one append-only history row per execution attempt.
type RefreshExecution struct {
	ID              uuid.UUID       `json:"id"`
	ScheduleID      uuid.UUID       `json:"schedule_id"`
	Status          ExecutionStatus `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DurationMs      *int64          `json:"duration_ms,omitempty"`
	RecordsAffected int             `json:"records_affected"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// RefreshResult is the structured outcome of a refresh. Refresh operations
// report failures here instead of returning errors.
type RefreshResult struct {
	Success         bool           `json:"success"`
	RecordsAffected int            `json:"records_affected"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Error           string         `json:"error,omitempty"`
}
