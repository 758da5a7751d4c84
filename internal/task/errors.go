package task

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories surfaced to clients.
type ErrorKind string

const (
	KindTaskNotFound          ErrorKind = "TASK_NOT_FOUND"
	KindTaskAlreadyRunning    ErrorKind = "TASK_ALREADY_RUNNING"
	KindTaskCannotCancel      ErrorKind = "TASK_CANNOT_CANCEL"
	KindInvalidOperation      ErrorKind = "INVALID_OPERATION"
	KindInvalidInput          ErrorKind = "INVALID_INPUT"
	KindInvalidDirectory      ErrorKind = "INVALID_DIRECTORY"
	KindInsufficientResources ErrorKind = "INSUFFICIENT_RESOURCES"
	KindResourceExhausted     ErrorKind = "RESOURCE_EXHAUSTED"
	KindProcessSpawnFailed    ErrorKind = "PROCESS_SPAWN_FAILED"
	KindProcessKillFailed     ErrorKind = "PROCESS_KILL_FAILED"
	KindWorkerNotFound        ErrorKind = "WORKER_NOT_FOUND"
	KindWorkerSpawnFailed     ErrorKind = "WORKER_SPAWN_FAILED"
	KindWorkerKillFailed      ErrorKind = "WORKER_KILL_FAILED"
	KindTaskTimeout           ErrorKind = "TASK_TIMEOUT"
	KindTaskExecutionFailed   ErrorKind = "TASK_EXECUTION_FAILED"
	KindConfigurationError    ErrorKind = "CONFIGURATION_ERROR"
	KindSystemError           ErrorKind = "SYSTEM_ERROR"
)

// Error is a tagged error carrying one of the closed kinds. Operations return
// it so the client layer can map kinds to diagnostics and exit codes.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a tagged error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError tags an underlying error with a kind while keeping it unwrappable.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err. Untagged errors report SYSTEM_ERROR,
// matching the handler-boundary mapping for store and OS failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindSystemError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}
