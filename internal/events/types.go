package events

import (
	"fmt"
	"strings"
	"time"
)

// Event represents a single occurrence in the supervisor lifecycle
type Event struct {
	// Time is when the event occurred (set by bus on emit)
	Time time.Time `json:"time"`

	// Type identifies what happened
	Type EventType `json:"type"`

	// TaskID is the task this event relates to (empty for system events)
	TaskID string `json:"taskId,omitempty"`

	// WorkerID is the worker this event relates to (empty if not worker-related)
	WorkerID string `json:"workerId,omitempty"`

	// ScheduleID is the schedule this event relates to (empty if not schedule-related)
	ScheduleID string `json:"scheduleId,omitempty"`

	// Payload contains event-specific data (type varies by event)
	Payload any `json:"payload,omitempty"`

	// Error contains the error message if this is a failure event
	Error string `json:"error,omitempty"`
}

// EventType is a string constant identifying the event category
type EventType string

// Task lifecycle events
const (
	TaskDelegated             EventType = "task.delegated"
	TaskCancellationRequested EventType = "task.cancellation.requested"
	TaskCompleted             EventType = "task.completed"
	TaskFailed                EventType = "task.failed"
	TaskTimeout               EventType = "task.timeout"
	TaskResumed               EventType = "task.resumed"
)

// Worker lifecycle events
const (
	WorkerKilled EventType = "worker.killed"
)

// System lifecycle events
const (
	SystemResourcesUpdated EventType = "system.resources.updated"
	WorkersTerminating     EventType = "system.workers.terminating"
	DatabaseClosing        EventType = "system.database.closing"
	ShutdownInitiated      EventType = "system.shutdown.initiated"
	ShutdownComplete       EventType = "system.shutdown.complete"
)

// Request names. Each has exactly one responder; the bus returns the
// responder's result to the caller.
const (
	TaskStatusQuery          EventType = "query.task.status"
	TaskLogsQuery            EventType = "query.task.logs"
	WorktreeListQuery        EventType = "query.worktree.list"
	WorktreeStatusQuery      EventType = "query.worktree.status"
	WorktreeCleanupRequested EventType = "request.worktree.cleanup"
)

// DelegatedPayload announces a newly persisted task.
// Ready is false when the task is blocked on unresolved dependencies.
type DelegatedPayload struct {
	Priority string `json:"priority"`
	Ready    bool   `json:"ready"`
}

// CompletionPayload accompanies task.completed and task.failed.
type CompletionPayload struct {
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
}

// TimeoutPayload accompanies task.timeout.
type TimeoutPayload struct {
	TimeoutMS int64 `json:"timeoutMs"`
}

// CancellationPayload accompanies task.cancellation.requested.
type CancellationPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ResourcesPayload accompanies system.resources.updated.
type ResourcesPayload struct {
	CPUPercent      float64    `json:"cpuPercent"`
	TotalMemory     uint64     `json:"totalMemory"`
	AvailableMemory uint64     `json:"availableMemory"`
	LoadAverage     [3]float64 `json:"loadAverage"`
	WorkerCount     int        `json:"workerCount"`
}

// StatusQueryPayload asks for one task (TaskID set) or a page of tasks.
type StatusQueryPayload struct {
	TaskID string `json:"taskId,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// LogsQueryPayload asks for the tail of a task's captured output.
type LogsQueryPayload struct {
	TaskID string `json:"taskId"`
	Tail   int    `json:"tail,omitempty"`
}

// WorktreeQueryPayload addresses a single worktree by task or path.
type WorktreeQueryPayload struct {
	TaskID string `json:"taskId,omitempty"`
	Path   string `json:"path,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// NewEvent creates an event with the given type and task id
func NewEvent(eventType EventType, taskID string) Event {
	return Event{
		Type:   eventType,
		TaskID: taskID,
	}
}

// WithWorker returns a copy of the event with the worker id set
func (e Event) WithWorker(workerID string) Event {
	e.WorkerID = workerID
	return e
}

// WithSchedule returns a copy of the event with the schedule id set
func (e Event) WithSchedule(scheduleID string) Event {
	e.ScheduleID = scheduleID
	return e
}

// WithPayload returns a copy of the event with the payload set
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// WithError returns a copy of the event with the error message set
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// IsFailure returns true if this is a failure event type
func (e Event) IsFailure() bool {
	return strings.HasSuffix(string(e.Type), ".failed") || e.Type == TaskTimeout
}

// String returns a human-readable representation of the event
func (e Event) String() string {
	parts := []string{fmt.Sprintf("[%s]", e.Type)}

	if e.TaskID != "" {
		parts = append(parts, e.TaskID)
	}
	if e.WorkerID != "" {
		parts = append(parts, e.WorkerID)
	}
	if e.ScheduleID != "" {
		parts = append(parts, e.ScheduleID)
	}
	if e.Error != "" {
		parts = append(parts, "error="+e.Error)
	}

	return strings.Join(parts, " ")
}
