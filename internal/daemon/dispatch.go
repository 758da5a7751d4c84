package daemon

import (
	"context"
	"time"

	"github.com/RevCBH/taskd/internal/daemon/db"
	"github.com/RevCBH/taskd/internal/task"
)

// Dispatch drains the queue head while admission allows. Triggered by
// TaskDelegated, SystemResourcesUpdated, and WorkerKilled, and by the
// reconcile tick; concurrent triggers coalesce into one extra pass.
func (s *Supervisor) Dispatch() {
	if s.pool == nil || s.mon == nil {
		return // client mode
	}

	s.dispatchMu.Lock()
	if s.dispatching {
		s.dispatchAgain = true
		s.dispatchMu.Unlock()
		return
	}
	s.dispatching = true
	s.dispatchMu.Unlock()

	for {
		s.dispatchPass()

		s.dispatchMu.Lock()
		if !s.dispatchAgain {
			s.dispatching = false
			s.dispatchMu.Unlock()
			return
		}
		s.dispatchAgain = false
		s.dispatchMu.Unlock()
	}
}

func (s *Supervisor) dispatchPass() {
	for {
		if ok, reason := s.mon.CanSpawnWorker(); !ok {
			s.log.Debug().Str("reason", reason).Msg("dispatch paused, admission denied")
			return
		}

		t, ok := s.queue.Dequeue()
		if !ok {
			return
		}

		if err := s.startTask(t); err != nil {
			if task.IsKind(err, task.KindInsufficientResources) {
				// Resources moved between the admission check and the
				// spawn; put the task back and wait for the next trigger.
				if qerr := s.queue.Enqueue(t); qerr != nil {
					s.log.Error().Err(qerr).Str("task_id", t.ID).Msg("failed to requeue task")
				}
				return
			}
			if task.IsKind(err, task.KindTaskAlreadyRunning) {
				s.log.Warn().Str("task_id", t.ID).Msg("task already has a worker, dropping from queue")
				continue
			}
			s.failTask(t.ID, task.KindWorkerSpawnFailed, err.Error())
		}
	}
}

// startTask spawns the worker and records the running state on the row.
func (s *Supervisor) startTask(t task.Task) error {
	rec, err := s.pool.Spawn(context.Background(), t)
	if err != nil {
		return err
	}

	now := time.Now()
	running := task.StatusRunning
	patch := db.TaskPatch{
		Status:    &running,
		StartedAt: &now,
		WorkerID:  &rec.ID,
	}
	if rec.WorktreePath != "" {
		patch.WorktreePath = &rec.WorktreePath
		patch.WorktreeBranch = &rec.WorktreeBranch
	}
	if err := s.store.UpdateTask(t.ID, patch); err != nil {
		s.log.Error().Err(err).Str("task_id", t.ID).Msg("failed to mark task running")
	}
	return nil
}

// Reconcile folds store state produced by other processes into the
// supervisor's caches: newly delegated queued tasks enter the queue and
// graph, and out-of-process cancellation requests reach the pool.
func (s *Supervisor) Reconcile() {
	s.adoptQueuedTasks()
	s.honorCancelRequests()
	s.Dispatch()
}

func (s *Supervisor) adoptQueuedTasks() {
	rows, err := s.store.FindAllTasksByStatus(task.StatusQueued)
	if err != nil {
		s.log.Error().Err(err).Msg("reconcile failed to list queued tasks")
		return
	}

	for _, t := range rows {
		if s.queue.Contains(t.ID) {
			continue
		}
		if t.DependencyState == task.DepStateBlocked {
			// Mirror its pending edges so resolution can unblock it here.
			edges, err := s.store.ListEdgesForTask(t.ID)
			if err != nil {
				continue
			}
			for _, e := range edges {
				if e.Resolution == task.ResolutionPending {
					s.graph.AddEdge(t.ID, e.DependsOnTaskID) //nolint:errcheck
				}
			}
			continue
		}
		if _, running := s.pool.WorkerFor(t.ID); running {
			continue
		}
		if err := s.queue.Enqueue(*t); err != nil {
			if !task.IsKind(err, task.KindInvalidOperation) {
				s.log.Warn().Err(err).Str("task_id", t.ID).Msg("reconcile failed to enqueue task")
			}
			continue
		}
		s.log.Debug().Str("task_id", t.ID).Msg("adopted externally delegated task")
	}
}

func (s *Supervisor) honorCancelRequests() {
	rows, err := s.store.FindCancelRequested()
	if err != nil {
		s.log.Error().Err(err).Msg("reconcile failed to list cancellation requests")
		return
	}

	for _, t := range rows {
		if err := s.pool.Kill(t.ID); err != nil {
			if task.IsKind(err, task.KindWorkerNotFound) {
				// Row says running but no worker here: either mid-reap or
				// the owning supervisor died. Recovery semantics apply.
				s.failTask(t.ID, task.KindSystemError, "worker lost before cancellation completed")
				continue
			}
			s.log.Error().Err(err).Str("task_id", t.ID).Msg("failed to kill worker for cancellation")
		}
	}
}
