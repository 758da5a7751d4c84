package daemon

import (
	"fmt"
	"strings"
	"time"

	"github.com/RevCBH/taskd/internal/daemon/db"
	"github.com/RevCBH/taskd/internal/events"
	"github.com/RevCBH/taskd/internal/task"
)

// DelegateRequest is the client-facing shape of a new task.
type DelegateRequest struct {
	Prompt           string
	Priority         task.Priority
	WorkingDirectory string
	Worktree         task.WorktreeOptions
	TimeoutMS        int64
	MaxOutputBuffer  int64
	DependsOn        []string
	ContinueFrom     string
}

// Delegate validates, persists, and (when unblocked) enqueues a new task.
// The queue cap is enforced before anything reaches the store. A dependency
// edge that would form a cycle rejects the whole request and leaves the
// store untouched.
func (s *Supervisor) Delegate(req DelegateRequest) (*task.Task, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	queued, err := s.store.CountTasksByStatus(task.StatusQueued)
	if err != nil {
		return nil, task.WrapError(task.KindSystemError, err, "failed to check queue capacity")
	}
	if queued >= s.cfg.QueueMaxSize {
		return nil, task.NewError(task.KindResourceExhausted,
			"task queue is full (%d tasks)", s.cfg.QueueMaxSize)
	}

	now := time.Now()
	t := task.Task{
		ID:               task.NewTaskID(),
		Prompt:           req.Prompt,
		Priority:         req.Priority,
		Status:           task.StatusQueued,
		WorkingDirectory: req.WorkingDirectory,
		Worktree:         req.Worktree,
		TimeoutMS:        req.TimeoutMS,
		MaxOutputBuffer:  req.MaxOutputBuffer,
		DependsOn:        req.DependsOn,
		ContinueFrom:     req.ContinueFrom,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	return s.submit(t)
}

// validateRequest normalizes and validates the request in place.
func validateRequest(req *DelegateRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return task.NewError(task.KindInvalidInput, "prompt must not be empty")
	}
	if req.Priority == "" {
		req.Priority = task.PriorityNormal
	}
	if !req.Priority.Valid() {
		return task.NewError(task.KindInvalidInput, "invalid priority %q", req.Priority)
	}
	if err := task.ValidateWorkingDirectory(req.WorkingDirectory); err != nil {
		return err
	}
	if err := task.ValidateTimeout(req.TimeoutMS); err != nil {
		return err
	}
	if err := task.ValidateOutputBuffer(req.MaxOutputBuffer); err != nil {
		return err
	}

	// continue-from is a dependency like any other; fold it in when the
	// client did not list it explicitly.
	if req.ContinueFrom != "" {
		found := false
		for _, dep := range req.DependsOn {
			if dep == req.ContinueFrom {
				found = true
				break
			}
		}
		if !found {
			req.DependsOn = append(req.DependsOn, req.ContinueFrom)
		}
	}
	return nil
}

// submit persists a fully-formed task with its dependency edges and
// enqueues it when nothing blocks it. Shared by Delegate, Retry, Resume,
// and the scheduler's materialization path.
func (s *Supervisor) submit(t task.Task) (*task.Task, error) {
	edges, ready, doomed, err := s.prepareEdges(&t)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveTaskWithEdges(t, edges); err != nil {
		return nil, task.WrapError(task.KindSystemError, err, "failed to persist task")
	}

	// Graph mutations follow the successful store write.
	for _, e := range edges {
		if e.Resolution == task.ResolutionPending {
			if err := s.graph.AddEdge(t.ID, e.DependsOnTaskID); err != nil {
				s.log.Warn().Err(err).Str("task_id", t.ID).Msg("failed to mirror edge into graph")
			}
		}
	}

	if doomed != "" {
		// A dependency already failed or was cancelled; the new task can
		// never run.
		s.failTask(t.ID, task.KindTaskExecutionFailed,
			fmt.Sprintf("dependency %s did not complete", doomed))
		saved, ferr := s.store.FindTaskByID(t.ID)
		if ferr != nil {
			return nil, ferr
		}
		return saved, nil
	}

	if ready {
		if err := s.queue.Enqueue(t); err != nil {
			s.log.Warn().Err(err).Str("task_id", t.ID).Msg("failed to enqueue task")
		}
	}

	s.bus.Emit(events.NewEvent(events.TaskDelegated, t.ID).
		WithPayload(events.DelegatedPayload{Priority: string(t.Priority), Ready: ready}))

	s.log.Info().Str("task_id", t.ID).Str("priority", string(t.Priority)).
		Bool("ready", ready).Msg("task delegated")

	out := t
	return &out, nil
}

// prepareEdges verifies the depends-on list, runs the cycle check, and
// derives the task's initial dependency state. It returns the edges to
// persist, whether the task is immediately runnable, and (when a dependency
// already ended badly) the id of the doomed dependency.
func (s *Supervisor) prepareEdges(t *task.Task) ([]task.DependencyEdge, bool, string, error) {
	if len(t.DependsOn) == 0 {
		return nil, true, "", nil
	}

	now := time.Now()
	var edges []task.DependencyEdge
	pending := 0
	doomed := ""

	for _, depID := range t.DependsOn {
		if depID == t.ID {
			return nil, false, "", task.NewError(task.KindInvalidOperation,
				"dependency cycle: task cannot depend on itself")
		}

		dep, err := s.store.FindTaskByID(depID)
		if err != nil {
			return nil, false, "", err
		}
		if dep == nil {
			return nil, false, "", task.NewError(task.KindTaskNotFound,
				"dependency task %s not found", depID)
		}

		if s.graph.WouldCreateCycle(t.ID, depID) {
			return nil, false, "", task.NewError(task.KindInvalidOperation,
				"dependency %s -> %s would form a cycle", t.ID, depID)
		}

		resolution := task.ResolutionPending
		if dep.Status.IsTerminal() {
			resolution = task.ResolutionForStatus(dep.Status)
		}
		switch resolution {
		case task.ResolutionPending:
			pending++
		case task.ResolutionFailed, task.ResolutionCancelled:
			if doomed == "" {
				doomed = depID
			}
		}

		edges = append(edges, task.DependencyEdge{
			TaskID:          t.ID,
			DependsOnTaskID: depID,
			Resolution:      resolution,
			CreatedAt:       now,
		})
	}

	if pending > 0 {
		t.DependencyState = task.DepStateBlocked
		return edges, false, doomed, nil
	}
	t.DependencyState = task.DepStateReady
	return edges, doomed == "", doomed, nil
}

// AddDependency inserts an edge between two existing tasks. Cycles are
// rejected with the store untouched.
func (s *Supervisor) AddDependency(taskID, dependsOnID string) error {
	if taskID == dependsOnID {
		return task.NewError(task.KindInvalidOperation,
			"dependency cycle: task cannot depend on itself")
	}

	for _, id := range []string{taskID, dependsOnID} {
		t, err := s.store.FindTaskByID(id)
		if err != nil {
			return err
		}
		if t == nil {
			return task.NewError(task.KindTaskNotFound, "task %s not found", id)
		}
	}

	if s.graph.WouldCreateCycle(taskID, dependsOnID) {
		return task.NewError(task.KindInvalidOperation,
			"dependency %s -> %s would form a cycle", taskID, dependsOnID)
	}

	edge := task.DependencyEdge{
		TaskID:          taskID,
		DependsOnTaskID: dependsOnID,
		Resolution:      task.ResolutionPending,
		CreatedAt:       time.Now(),
	}
	if err := s.store.AddEdge(edge); err != nil {
		return err
	}
	if err := s.graph.AddEdge(taskID, dependsOnID); err != nil {
		return err
	}

	// The dependent may have been runnable before; it is blocked now.
	blocked := task.DepStateBlocked
	if err := s.store.UpdateTask(taskID, db.TaskPatch{DependencyState: &blocked}); err != nil {
		return err
	}
	s.queue.Remove(taskID)
	return nil
}

// DelegateTemplate materializes a schedule's task template through the
// normal delegation path. It is the scheduler's DelegateFunc.
func (s *Supervisor) DelegateTemplate(tmpl task.TaskTemplate, scheduleID string) (string, error) {
	t, err := s.Delegate(DelegateRequest{
		Prompt:           tmpl.Prompt,
		Priority:         tmpl.Priority,
		WorkingDirectory: tmpl.WorkingDirectory,
		Worktree:         tmpl.Worktree,
		TimeoutMS:        tmpl.TimeoutMS,
		MaxOutputBuffer:  tmpl.MaxOutputBuffer,
	})
	if err != nil {
		return "", err
	}
	s.log.Debug().Str("task_id", t.ID).Str("schedule_id", scheduleID).
		Msg("scheduled task materialized")
	return t.ID, nil
}
