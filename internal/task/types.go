package task

import "time"

// Priority is one of the three scheduling bands.
type Priority string

const (
	PriorityCritical Priority = "P0"
	PriorityHigh     Priority = "P1"
	PriorityNormal   Priority = "P2"
)

// Rank returns the band index, 0 being the most urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	default:
		return 2
	}
}

// Valid reports whether p is one of the known bands.
func (p Priority) Valid() bool {
	return p == PriorityCritical || p == PriorityHigh || p == PriorityNormal
}

// Status represents the task's lifecycle state
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed" // Terminal
	StatusFailed    Status = "failed"    // Terminal
	StatusCancelled Status = "cancelled" // Terminal
)

// ValidTransitions defines allowed state transitions.
// Terminal states have no outgoing transitions; a task never moves backward.
var ValidTransitions = map[Status][]Status{
	StatusQueued:    {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// IsTerminal returns true if the status is a final state
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanCancel returns true if a task in this status accepts cancellation.
func (s Status) CanCancel() bool {
	return s == StatusQueued || s == StatusRunning
}

// CanTransition checks if a transition from -> to is valid
func CanTransition(from, to Status) bool {
	validTargets, exists := ValidTransitions[from]
	if !exists {
		return false
	}
	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// CleanupPolicy controls what happens to a task's worktree after completion.
type CleanupPolicy string

const (
	CleanupAuto   CleanupPolicy = "auto"
	CleanupKeep   CleanupPolicy = "keep"
	CleanupDelete CleanupPolicy = "delete"
)

// MergeStrategy selects how worktree changes land after the agent finishes.
type MergeStrategy string

const (
	MergeNone   MergeStrategy = ""
	MergePR     MergeStrategy = "pr"
	MergeAuto   MergeStrategy = "auto"
	MergeManual MergeStrategy = "manual"
	MergePatch  MergeStrategy = "patch"
)

// WorktreeOptions carries the per-task worktree flags from the delegate request.
type WorktreeOptions struct {
	Enabled       bool
	Cleanup       CleanupPolicy
	MergeStrategy MergeStrategy
	BranchName    string
	BaseBranch    string
	AutoCommit    bool
	PushToRemote  bool
	PRTitle       string
	PRBody        string
}

// DependencyState tracks whether a task is gated on unresolved edges.
type DependencyState string

const (
	DepStateNone    DependencyState = ""
	DepStateBlocked DependencyState = "blocked"
	DepStateReady   DependencyState = "ready"
)

// Task is the persisted record of one delegated prompt. Tasks are treated as
// values; mutation helpers return an updated copy and bump UpdatedAt.
type Task struct {
	ID               string
	Prompt           string
	Priority         Priority
	Status           Status
	WorkingDirectory string
	Worktree         WorktreeOptions

	// Recorded when a worktree is actually created, so cleanup can run
	// during recovery even if the supervisor crashed mid-task.
	WorktreePath   string
	WorktreeBranch string

	TimeoutMS       int64
	MaxOutputBuffer int64

	ParentTaskID string // root of the retry chain
	RetryOf      string // immediate predecessor
	RetryCount   int

	DependsOn       []string
	ContinueFrom    string
	DependencyState DependencyState

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	WorkerID     string
	ExitCode     *int
	ErrorKind    ErrorKind
	ErrorMessage string

	CancelRequestedAt *time.Time
}

// Touched returns a copy with UpdatedAt set to now.
func (t Task) Touched(now time.Time) Task {
	t.UpdatedAt = now
	return t
}

// Worker is the transient record of an active child process.
type Worker struct {
	ID             string
	TaskID         string
	PID            int
	StartedAt      time.Time
	Deadline       *time.Time
	WorktreePath   string
	WorktreeBranch string
}

// ScheduleKind distinguishes recurring cron schedules from one-shot triggers.
type ScheduleKind string

const (
	ScheduleCron    ScheduleKind = "cron"
	ScheduleOneTime ScheduleKind = "one_time"
)

// MissedRunPolicy selects the behavior for cron slots that elapsed while the
// supervisor was unavailable.
type MissedRunPolicy string

const (
	MissedRunSkip    MissedRunPolicy = "skip"
	MissedRunCatchup MissedRunPolicy = "catchup"
	MissedRunFail    MissedRunPolicy = "fail"
)

// ScheduleStatus represents the schedule's lifecycle state.
type ScheduleStatus string

const (
	ScheduleActive    ScheduleStatus = "active"
	SchedulePaused    ScheduleStatus = "paused"
	ScheduleCompleted ScheduleStatus = "completed"
	ScheduleCancelled ScheduleStatus = "cancelled"
	ScheduleExpired   ScheduleStatus = "expired"
	ScheduleFailed    ScheduleStatus = "failed"
)

// IsActive returns true when the scheduler should still evaluate the schedule.
func (s ScheduleStatus) IsActive() bool {
	return s == ScheduleActive
}

// TaskTemplate is the delegate-request shape a schedule materializes on fire.
type TaskTemplate struct {
	Prompt           string
	Priority         Priority
	WorkingDirectory string
	Worktree         WorktreeOptions
	TimeoutMS        int64
	MaxOutputBuffer  int64
}

// Schedule is the persisted record of a cron or one-shot trigger.
type Schedule struct {
	ID              string
	Kind            ScheduleKind
	CronExpr        string
	RunAtMS         int64 // one-shot fire time, epoch milliseconds
	Timezone        string
	MissedRunPolicy MissedRunPolicy
	Status          ScheduleStatus

	RunCount  int
	LastRunAt *time.Time
	NextRunAt *time.Time

	MaxRuns         int // 0 = unlimited
	ExpiresAt       *time.Time
	AfterScheduleID string

	Template TaskTemplate

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleExecution records one materialized run of a schedule.
type ScheduleExecution struct {
	ID          string // ULID, sortable by creation time
	ScheduleID  string
	TaskID      string
	ScheduledAt time.Time // the slot this run covers
	ExecutedAt  time.Time
}

// CheckpointKind mirrors the terminal event that produced the checkpoint.
type CheckpointKind string

const (
	CheckpointCompleted CheckpointKind = "completed"
	CheckpointFailed    CheckpointKind = "failed"
	CheckpointCancelled CheckpointKind = "cancelled"
)

// Checkpoint is the persisted snapshot of a task's terminal state, used to
// enrich a resume prompt.
type Checkpoint struct {
	ID            int64
	TaskID        string
	Kind          CheckpointKind
	OutputSummary string
	ErrorSummary  string
	GitBranch     string
	GitCommit     string

	// nil means no snapshot was taken; an empty non-nil slice means the
	// tree was clean. The distinction survives persistence.
	GitDirtyFiles []string

	Note      string
	CreatedAt time.Time
}

// Resolution is the state of one dependency edge.
type Resolution string

const (
	ResolutionPending   Resolution = "pending"
	ResolutionSatisfied Resolution = "satisfied"
	ResolutionFailed    Resolution = "failed"
	ResolutionCancelled Resolution = "cancelled"
)

// DependencyEdge is a directed "task depends on dep" edge. The
// (TaskID, DependsOnTaskID) pair uniquely identifies the edge.
type DependencyEdge struct {
	TaskID          string
	DependsOnTaskID string
	Resolution      Resolution
	CreatedAt       time.Time
}

// ResolutionForStatus maps a terminal task status to the resolution its
// outgoing edges receive.
func ResolutionForStatus(s Status) Resolution {
	switch s {
	case StatusCompleted:
		return ResolutionSatisfied
	case StatusCancelled:
		return ResolutionCancelled
	default:
		return ResolutionFailed
	}
}

// CheckpointKindForStatus maps a terminal task status to its checkpoint kind.
func CheckpointKindForStatus(s Status) CheckpointKind {
	switch s {
	case StatusCompleted:
		return CheckpointCompleted
	case StatusCancelled:
		return CheckpointCancelled
	default:
		return CheckpointFailed
	}
}
