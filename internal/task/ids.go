package task

import (
	"fmt"

	"github.com/google/uuid"
)

// NewTaskID returns a fresh opaque task identifier.
func NewTaskID() string {
	return "task-" + uuid.NewString()
}

// NewScheduleID returns a fresh opaque schedule identifier.
func NewScheduleID() string {
	return "schedule-" + uuid.NewString()
}

// WorkerIDFor derives the worker identifier from the child's OS pid.
func WorkerIDFor(pid int) string {
	return fmt.Sprintf("worker-%d", pid)
}
