package daemon

import (
	"time"

	"github.com/RevCBH/taskd/internal/daemon/db"
	"github.com/RevCBH/taskd/internal/task"
)

// CrashExitCode marks rows whose worker was lost to a supervisor crash; no
// real child exit ever produces it.
const CrashExitCode = -1

const crashMessage = "supervisor restarted while task was running"

// Recover reconciles the store after an unclean shutdown: rows stuck in
// running are failed with the crash exit code, and queued rows re-enter the
// queue in their original FIFO order. Runs before any poller starts.
func (s *Supervisor) Recover() error {
	running, err := s.store.FindAllTasksByStatus(task.StatusRunning)
	if err != nil {
		return err
	}
	for _, t := range running {
		now := time.Now()
		failed := task.StatusFailed
		code := CrashExitCode
		kind := task.KindSystemError
		msg := crashMessage
		if err := s.store.UpdateTask(t.ID, db.TaskPatch{
			Status:       &failed,
			CompletedAt:  &now,
			ExitCode:     &code,
			ErrorKind:    &kind,
			ErrorMessage: &msg,
		}); err != nil {
			s.log.Error().Err(err).Str("task_id", t.ID).Msg("failed to fail crashed task")
			continue
		}
		s.log.Warn().Str("task_id", t.ID).Msg("marked crashed task failed")

		// Its dependents can never run; propagate like any other failure.
		s.resolveDependents(t.ID, task.StatusFailed)
	}

	queued, err := s.store.FindAllTasksByStatus(task.StatusQueued)
	if err != nil {
		return err
	}
	requeued := 0
	for _, t := range queued {
		if t.DependencyState == task.DepStateBlocked {
			continue // stays out of the queue until its edges resolve
		}
		if err := s.queue.Enqueue(*t); err != nil {
			s.log.Error().Err(err).Str("task_id", t.ID).Msg("failed to requeue task")
			continue
		}
		requeued++
	}

	s.log.Info().Int("crashed", len(running)).Int("requeued", requeued).
		Msg("recovery complete")
	return nil
}
