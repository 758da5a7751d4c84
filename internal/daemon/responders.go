package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/RevCBH/taskd/internal/events"
	"github.com/RevCBH/taskd/internal/git"
	"github.com/RevCBH/taskd/internal/task"
)

// TaskStatusResult answers a TaskStatusQuery.
type TaskStatusResult struct {
	Task  *task.Task
	Tasks []*task.Task
}

// TaskLogsResult answers a TaskLogsQuery with the tail of the task's log
// file.
type TaskLogsResult struct {
	Lines []string
}

// registerResponders wires the query plane: status, logs, and worktree
// inspection run through the bus so any front-end shares one code path.
func (s *Supervisor) registerResponders() error {
	responders := map[events.EventType]events.Responder{
		events.TaskStatusQuery:          s.respondTaskStatus,
		events.TaskLogsQuery:            s.respondTaskLogs,
		events.WorktreeListQuery:        s.respondWorktreeList,
		events.WorktreeStatusQuery:      s.respondWorktreeStatus,
		events.WorktreeCleanupRequested: s.respondWorktreeCleanup,
	}
	for name, fn := range responders {
		if err := s.bus.Respond(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// Status loads a single task by id.
func (s *Supervisor) Status(taskID string) (*task.Task, error) {
	t, err := s.store.FindTaskByID(taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, task.NewError(task.KindTaskNotFound, "task %s not found", taskID)
	}
	return t, nil
}

// StatusPage loads a page of tasks, newest first.
func (s *Supervisor) StatusPage(limit, offset int) ([]*task.Task, error) {
	return s.store.FindTasks(limit, offset)
}

func (s *Supervisor) respondTaskStatus(ctx context.Context, payload any) (any, error) {
	q, ok := payload.(events.StatusQueryPayload)
	if !ok {
		return nil, task.NewError(task.KindInvalidInput, "malformed status query")
	}

	if q.TaskID != "" {
		t, err := s.store.FindTaskByID(q.TaskID)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, task.NewError(task.KindTaskNotFound, "task %s not found", q.TaskID)
		}
		return TaskStatusResult{Task: t}, nil
	}

	tasks, err := s.store.FindTasks(q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	return TaskStatusResult{Tasks: tasks}, nil
}

func (s *Supervisor) respondTaskLogs(ctx context.Context, payload any) (any, error) {
	q, ok := payload.(events.LogsQueryPayload)
	if !ok {
		return nil, task.NewError(task.KindInvalidInput, "malformed logs query")
	}

	t, err := s.store.FindTaskByID(q.TaskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, task.NewError(task.KindTaskNotFound, "task %s not found", q.TaskID)
	}

	lines, err := s.TailLogs(q.TaskID, q.Tail)
	if err != nil {
		return nil, err
	}
	return TaskLogsResult{Lines: lines}, nil
}

// TailLogs reads the last n lines of a task's log file. n <= 0 returns the
// whole file.
func (s *Supervisor) TailLogs(taskID string, n int) ([]string, error) {
	path := filepath.Join(s.cfg.LogDir, taskID+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // task produced no output yet
		}
		return nil, task.WrapError(task.KindSystemError, err, "failed to read task log")
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func (s *Supervisor) respondWorktreeList(ctx context.Context, payload any) (any, error) {
	if s.wts == nil {
		return []*git.Worktree{}, nil
	}
	repoRoot, err := s.currentRepoRoot(ctx)
	if err != nil {
		return nil, err
	}
	return s.wts.List(ctx, repoRoot)
}

func (s *Supervisor) respondWorktreeStatus(ctx context.Context, payload any) (any, error) {
	q, ok := payload.(events.WorktreeQueryPayload)
	if !ok {
		return nil, task.NewError(task.KindInvalidInput, "malformed worktree query")
	}

	dir := q.Path
	if dir == "" && q.TaskID != "" {
		t, err := s.store.FindTaskByID(q.TaskID)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, task.NewError(task.KindTaskNotFound, "task %s not found", q.TaskID)
		}
		dir = t.WorktreePath
	}
	if dir == "" {
		return nil, task.NewError(task.KindInvalidInput, "worktree status requires a path or task id")
	}

	state, err := git.Snapshot(ctx, s.runner, dir)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, task.NewError(task.KindInvalidDirectory, "%s is not inside a repository", dir)
	}
	return state, nil
}

func (s *Supervisor) respondWorktreeCleanup(ctx context.Context, payload any) (any, error) {
	q, ok := payload.(events.WorktreeQueryPayload)
	if !ok {
		return nil, task.NewError(task.KindInvalidInput, "malformed worktree cleanup request")
	}
	if s.wts == nil {
		return nil, task.NewError(task.KindInvalidOperation, "worktree management is not configured")
	}

	repoRoot, err := s.currentRepoRoot(ctx)
	if err != nil {
		return nil, err
	}

	if q.Path != "" {
		if err := s.wts.Remove(ctx, repoRoot, q.Path); err != nil {
			return nil, err
		}
		return 1, nil
	}

	// No path: prune stale registrations.
	if err := s.wts.Prune(ctx, repoRoot); err != nil {
		return nil, err
	}
	return 0, nil
}

func (s *Supervisor) currentRepoRoot(ctx context.Context) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", task.WrapError(task.KindSystemError, err, "failed to resolve working directory")
	}
	root, err := git.RepoRoot(ctx, s.runner, cwd)
	if err != nil {
		return "", task.WrapError(task.KindInvalidDirectory, err, "not inside a git repository")
	}
	return root, nil
}
