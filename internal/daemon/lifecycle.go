package daemon

import (
	"fmt"
	"strings"
	"time"

	"github.com/RevCBH/taskd/internal/daemon/db"
	"github.com/RevCBH/taskd/internal/events"
	"github.com/RevCBH/taskd/internal/task"
)

// Cancel requests cancellation of a task. Queued tasks are cancelled
// immediately; running tasks are killed when this process owns the worker,
// otherwise the request is recorded for the owning supervisor's reconcile
// tick. Terminal tasks cannot be cancelled.
func (s *Supervisor) Cancel(taskID, reason string) error {
	t, err := s.store.FindTaskByID(taskID)
	if err != nil {
		return err
	}
	if t == nil {
		return task.NewError(task.KindTaskNotFound, "task %s not found", taskID)
	}
	if t.Status.IsTerminal() {
		return task.NewError(task.KindTaskCannotCancel,
			"task %s is already %s", taskID, t.Status)
	}

	s.bus.Emit(events.NewEvent(events.TaskCancellationRequested, taskID).
		WithPayload(events.CancellationPayload{Reason: reason}))

	switch t.Status {
	case task.StatusQueued:
		now := time.Now()
		cancelled := task.StatusCancelled
		msg := reason
		patch := db.TaskPatch{Status: &cancelled, CompletedAt: &now}
		if msg != "" {
			patch.ErrorMessage = &msg
		}
		if err := s.store.UpdateTask(taskID, patch); err != nil {
			return err
		}
		s.queue.Remove(taskID)
		s.captureCheckpoint(taskID, task.StatusCancelled, reason)
		s.resolveDependents(taskID, task.StatusCancelled)
		s.log.Info().Str("task_id", taskID).Msg("queued task cancelled")
		return nil

	default: // running
		if s.pool != nil {
			if err := s.pool.Kill(taskID); err == nil {
				// The pool's WorkerKilled event finishes the bookkeeping.
				return nil
			} else if !task.IsKind(err, task.KindWorkerNotFound) {
				return err
			}
		}
		// Another process owns the worker; leave a request for it.
		now := time.Now()
		if err := s.store.UpdateTask(taskID, db.TaskPatch{CancelRequestedAt: &now}); err != nil {
			return err
		}
		s.log.Info().Str("task_id", taskID).Msg("cancellation recorded for owning supervisor")
		return nil
	}
}

// Retry re-delegates a terminal task's original prompt. The new task links
// back with RetryOf (immediate predecessor) and ParentTaskID (chain root)
// and an incremented RetryCount.
func (s *Supervisor) Retry(taskID string) (*task.Task, error) {
	prev, err := s.terminalTask(taskID, "retry")
	if err != nil {
		return nil, err
	}
	return s.redelegate(prev, prev.Prompt)
}

// Resume re-delegates a terminal task with a prompt enriched by its last
// checkpoint: status, original prompt, output and error tails, and git
// state. extraContext, when non-empty, is appended as additional context.
func (s *Supervisor) Resume(taskID, extraContext string) (*task.Task, error) {
	prev, err := s.terminalTask(taskID, "resume")
	if err != nil {
		return nil, err
	}

	cp, err := s.store.FindLatestCheckpoint(taskID)
	if err != nil {
		return nil, err
	}

	t, err := s.redelegate(prev, buildResumePrompt(prev, cp, extraContext))
	if err != nil {
		return nil, err
	}

	s.bus.Emit(events.NewEvent(events.TaskResumed, t.ID))
	return t, nil
}

// terminalTask loads a task and verifies it finished; retry and resume only
// apply to terminal tasks.
func (s *Supervisor) terminalTask(taskID, op string) (*task.Task, error) {
	t, err := s.store.FindTaskByID(taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, task.NewError(task.KindTaskNotFound, "task %s not found", taskID)
	}
	if !t.Status.IsTerminal() {
		return nil, task.NewError(task.KindInvalidOperation,
			"cannot %s task %s while it is %s", op, taskID, t.Status)
	}
	return t, nil
}

// redelegate creates the linked successor task and submits it.
func (s *Supervisor) redelegate(prev *task.Task, prompt string) (*task.Task, error) {
	parent := prev.ParentTaskID
	if parent == "" {
		parent = prev.ID
	}

	now := time.Now()
	next := task.Task{
		ID:               task.NewTaskID(),
		Prompt:           prompt,
		Priority:         prev.Priority,
		Status:           task.StatusQueued,
		WorkingDirectory: prev.WorkingDirectory,
		Worktree:         prev.Worktree,
		TimeoutMS:        prev.TimeoutMS,
		MaxOutputBuffer:  prev.MaxOutputBuffer,
		ParentTaskID:     parent,
		RetryOf:          prev.ID,
		RetryCount:       prev.RetryCount + 1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return s.submit(next)
}

// buildResumePrompt assembles the enriched prompt from the previous task and
// its checkpoint. Missing pieces are omitted rather than rendered empty.
func buildResumePrompt(prev *task.Task, cp *task.Checkpoint, extraContext string) string {
	var b strings.Builder
	b.WriteString("PREVIOUS TASK CONTEXT:\n")
	fmt.Fprintf(&b, "status: %s\n", prev.Status)
	fmt.Fprintf(&b, "Original prompt: %s\n", prev.Prompt)

	if cp != nil {
		if cp.OutputSummary != "" {
			fmt.Fprintf(&b, "Last output: %s\n", cp.OutputSummary)
		}
		if cp.ErrorSummary != "" {
			fmt.Fprintf(&b, "Error: %s\n", cp.ErrorSummary)
		}
		if cp.GitBranch != "" || cp.GitCommit != "" {
			fmt.Fprintf(&b, "Git state: branch=%s, commit=%s\n", cp.GitBranch, cp.GitCommit)
		}
		if len(cp.GitDirtyFiles) > 0 {
			fmt.Fprintf(&b, "Modified files: %s\n", strings.Join(cp.GitDirtyFiles, ", "))
		}
	}
	if extraContext != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", extraContext)
	}

	b.WriteString("\nContinue the work described in the original prompt, taking the context above into account.")
	return b.String()
}
