package daemon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RevCBH/taskd/internal/daemon/db"
	"github.com/RevCBH/taskd/internal/events"
	"github.com/RevCBH/taskd/internal/git"
	"github.com/RevCBH/taskd/internal/task"
)

// handleCompletion processes the pool's terminal events: persist the
// outcome, capture a checkpoint, resolve outgoing dependency edges, and
// unblock (or fail) dependents.
func (s *Supervisor) handleCompletion(ev events.Event) error {
	status, kind, message := outcomeFor(ev)

	now := time.Now()
	patch := db.TaskPatch{
		Status:      &status,
		CompletedAt: &now,
	}
	if payload, ok := ev.Payload.(events.CompletionPayload); ok {
		code := payload.ExitCode
		patch.ExitCode = &code
	}
	if kind != "" {
		patch.ErrorKind = &kind
		patch.ErrorMessage = &message
	}

	if err := s.store.UpdateTask(ev.TaskID, patch); err != nil {
		s.log.Error().Err(err).Str("task_id", ev.TaskID).Msg("failed to persist task outcome")
		return err
	}

	s.captureCheckpoint(ev.TaskID, status, message)
	s.resolveDependents(ev.TaskID, status)
	return nil
}

// outcomeFor maps a terminal event to the row's status and error fields.
func outcomeFor(ev events.Event) (task.Status, task.ErrorKind, string) {
	switch ev.Type {
	case events.TaskCompleted:
		return task.StatusCompleted, "", ""
	case events.TaskTimeout:
		msg := "task exceeded its timeout"
		if p, ok := ev.Payload.(events.TimeoutPayload); ok {
			msg = fmt.Sprintf("task exceeded its %dms timeout", p.TimeoutMS)
		}
		return task.StatusFailed, task.KindTaskTimeout, msg
	case events.WorkerKilled:
		return task.StatusCancelled, "", ""
	default: // TaskFailed
		msg := ev.Error
		if msg == "" {
			msg = "agent process failed"
		}
		return task.StatusFailed, task.KindTaskExecutionFailed, msg
	}
}

// captureCheckpoint persists the task's output tails and a git snapshot of
// its effective working directory, then releases the retained capture.
func (s *Supervisor) captureCheckpoint(taskID string, status task.Status, errSummary string) {
	t, err := s.store.FindTaskByID(taskID)
	if err != nil || t == nil {
		s.log.Warn().Err(err).Str("task_id", taskID).Msg("checkpoint skipped, task unavailable")
		return
	}

	cp := task.Checkpoint{
		TaskID:       taskID,
		Kind:         task.CheckpointKindForStatus(status),
		ErrorSummary: errSummary,
		CreatedAt:    time.Now(),
	}

	if s.pool != nil {
		if stdout, stderr, ok := s.pool.OutputTail(taskID, s.cfg.CheckpointTailLines); ok {
			cp.OutputSummary = strings.Join(stdout, "\n")
			if cp.ErrorSummary == "" {
				cp.ErrorSummary = strings.Join(stderr, "\n")
			} else if tail := strings.Join(stderr, "\n"); tail != "" {
				cp.ErrorSummary += "\n" + tail
			}
		}
	}

	dir := t.WorktreePath
	if dir == "" {
		dir = t.WorkingDirectory
	}
	if dir != "" {
		if state, err := git.Snapshot(context.Background(), s.runner, dir); err != nil {
			s.log.Warn().Err(err).Str("task_id", taskID).Msg("git snapshot failed")
		} else if state != nil {
			cp.GitBranch = state.Branch
			cp.GitCommit = state.Commit
			cp.GitDirtyFiles = state.DirtyFiles
		}
	}

	if _, err := s.store.SaveCheckpoint(cp); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Msg("failed to save checkpoint")
	}
	if s.pool != nil {
		s.pool.ReleaseOutput(taskID)
	}
}

// resolveDependents updates every edge that depended on the finished task.
// Satisfied edges may unblock dependents; failed or cancelled outcomes
// propagate failure through the whole dependent closure.
func (s *Supervisor) resolveDependents(taskID string, status task.Status) {
	resolution := task.ResolutionForStatus(status)

	// Capture the transitive closure before edges leave the graph.
	var closure []string
	if resolution != task.ResolutionSatisfied {
		closure = s.graph.AllDependents(taskID)
	}

	edges, err := s.store.ListEdgesForDependency(taskID)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Msg("failed to list dependent edges")
		return
	}

	for _, edge := range edges {
		if edge.Resolution != task.ResolutionPending {
			continue
		}
		if err := s.store.SetResolution(edge.TaskID, taskID, resolution); err != nil {
			s.log.Error().Err(err).Str("task_id", edge.TaskID).Msg("failed to resolve edge")
			continue
		}
		s.graph.RemoveEdge(edge.TaskID, taskID)

		if resolution == task.ResolutionSatisfied {
			s.maybeUnblock(edge.TaskID)
		}
	}

	if resolution != task.ResolutionSatisfied {
		verb := "failed"
		if status == task.StatusCancelled {
			verb = "was cancelled"
		}
		for _, depID := range closure {
			s.failTask(depID, task.KindTaskExecutionFailed,
				fmt.Sprintf("dependency %s %s", taskID, verb))
		}
	}

	s.graph.RemoveTask(taskID)
}

// maybeUnblock enqueues a dependent whose last pending edge just resolved.
func (s *Supervisor) maybeUnblock(taskID string) {
	edges, err := s.store.ListEdgesForTask(taskID)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Msg("failed to inspect dependent edges")
		return
	}
	for _, e := range edges {
		if e.Resolution == task.ResolutionPending {
			return
		}
	}

	t, err := s.store.FindTaskByID(taskID)
	if err != nil || t == nil || t.Status != task.StatusQueued {
		return
	}

	ready := task.DepStateReady
	if err := s.store.UpdateTask(taskID, db.TaskPatch{DependencyState: &ready}); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Msg("failed to mark task ready")
		return
	}
	if err := s.queue.Enqueue(*t); err != nil && !task.IsKind(err, task.KindInvalidOperation) {
		s.log.Warn().Err(err).Str("task_id", taskID).Msg("failed to enqueue unblocked task")
		return
	}
	s.log.Info().Str("task_id", taskID).Msg("task unblocked")
}

// failTask marks a non-terminal task failed with the given error, removing
// it from the queue and the graph. Used for dependency-failure propagation
// and spawn failures.
func (s *Supervisor) failTask(taskID string, kind task.ErrorKind, message string) {
	t, err := s.store.FindTaskByID(taskID)
	if err != nil || t == nil {
		return
	}
	if t.Status.IsTerminal() {
		return
	}

	now := time.Now()
	failed := task.StatusFailed
	if err := s.store.UpdateTask(taskID, db.TaskPatch{
		Status:       &failed,
		CompletedAt:  &now,
		ErrorKind:    &kind,
		ErrorMessage: &message,
	}); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Msg("failed to mark task failed")
		return
	}

	s.queue.Remove(taskID)
	s.graph.RemoveTask(taskID)
	s.log.Warn().Str("task_id", taskID).Str("error_kind", string(kind)).
		Str("reason", message).Msg("task failed")
}
