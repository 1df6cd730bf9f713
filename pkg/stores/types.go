// Package stores provides run-history persistence: playbook runs,
// per-task results, and run events, stored in SQLite. The engine does
// not depend on this package; callers record results after a run.
package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of a recorded run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// EventLevel represents the severity level of a run event.
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one playbook execution.
type Run struct {
	ID           string     `json:"id"`
	PlaybookPath string     `json:"playbook_path"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// PlayRecord represents the aggregate outcome of one play in a run.
type PlayRecord struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	Play        string        `json:"play"`
	Ok          int           `json:"ok"`
	Changed     int           `json:"changed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Unreachable int           `json:"unreachable"`
	Duration    time.Duration `json:"duration"`
	CreatedAt   time.Time     `json:"created_at"`
}

// TaskPhase distinguishes ordinary tasks from handler executions.
type TaskPhase string

const (
	TaskPhaseTask    TaskPhase = "task"
	TaskPhaseHandler TaskPhase = "handler"
)

// TaskRecord represents one task execution on one host.
type TaskRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Play      string    `json:"play"`
	Host      string    `json:"host"`
	Task      string    `json:"task"`
	Phase     TaskPhase `json:"phase"`
	Status    string    `json:"status"`
	Skipped   bool      `json:"skipped"`
	Output    string    `json:"output"`
	CreatedAt time.Time `json:"created_at"`
}

// Event represents a timeline event during a run.
type Event struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}

// Store is the run-history persistence interface.
type Store interface {
	// CreateRun records the start of a run.
	CreateRun(ctx context.Context, run *Run) error

	// CompleteRun marks a run finished with the given status and
	// optional error message.
	CompleteRun(ctx context.Context, runID string, status RunStatus, errMsg *string) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns lists runs newest-first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// SavePlayRecord records a play's aggregate outcome.
	SavePlayRecord(ctx context.Context, rec *PlayRecord) error

	// SaveTaskRecord records one task execution.
	SaveTaskRecord(ctx context.Context, rec *TaskRecord) error

	// ListTaskRecords lists a run's task records in insertion order.
	ListTaskRecords(ctx context.Context, runID string) ([]*TaskRecord, error)

	// AppendEvent appends a run event.
	AppendEvent(ctx context.Context, event *Event) error

	// ListEvents lists a run's events in insertion order.
	ListEvents(ctx context.Context, runID string) ([]*Event, error)

	// Close releases the underlying database.
	Close() error
}
