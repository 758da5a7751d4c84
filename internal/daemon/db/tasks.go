package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/RevCBH/taskd/internal/task"
)

const taskColumns = `id, prompt, priority, status, working_directory,
	use_worktree, worktree_cleanup, merge_strategy, branch_name, base_branch,
	auto_commit, push_to_remote, pr_title, pr_body, worktree_path, worktree_branch,
	timeout_ms, max_output_buffer, parent_task_id, retry_of, retry_count,
	continue_from, dependency_state, created_at, updated_at, started_at,
	completed_at, worker_id, exit_code, error_kind, error_message, cancel_requested_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	t := &task.Task{}
	err := row.Scan(
		&t.ID,
		&t.Prompt,
		&t.Priority,
		&t.Status,
		&t.WorkingDirectory,
		&t.Worktree.Enabled,
		&t.Worktree.Cleanup,
		&t.Worktree.MergeStrategy,
		&t.Worktree.BranchName,
		&t.Worktree.BaseBranch,
		&t.Worktree.AutoCommit,
		&t.Worktree.PushToRemote,
		&t.Worktree.PRTitle,
		&t.Worktree.PRBody,
		&t.WorktreePath,
		&t.WorktreeBranch,
		&t.TimeoutMS,
		&t.MaxOutputBuffer,
		&t.ParentTaskID,
		&t.RetryOf,
		&t.RetryCount,
		&t.ContinueFrom,
		&t.DependencyState,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.StartedAt,
		&t.CompletedAt,
		&t.WorkerID,
		&t.ExitCode,
		&t.ErrorKind,
		&t.ErrorMessage,
		&t.CancelRequestedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func insertTask(exec func(query string, args ...any) (sql.Result, error), t task.Task) error {
	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := exec(
		query,
		t.ID,
		t.Prompt,
		t.Priority,
		t.Status,
		t.WorkingDirectory,
		t.Worktree.Enabled,
		t.Worktree.Cleanup,
		t.Worktree.MergeStrategy,
		t.Worktree.BranchName,
		t.Worktree.BaseBranch,
		t.Worktree.AutoCommit,
		t.Worktree.PushToRemote,
		t.Worktree.PRTitle,
		t.Worktree.PRBody,
		t.WorktreePath,
		t.WorktreeBranch,
		t.TimeoutMS,
		t.MaxOutputBuffer,
		t.ParentTaskID,
		t.RetryOf,
		t.RetryCount,
		t.ContinueFrom,
		t.DependencyState,
		t.CreatedAt,
		t.UpdatedAt,
		t.StartedAt,
		t.CompletedAt,
		t.WorkerID,
		t.ExitCode,
		t.ErrorKind,
		t.ErrorMessage,
		t.CancelRequestedAt,
	)
	return err
}

// SaveTask inserts a new task row.
func (s *Store) SaveTask(t task.Task) error {
	if err := insertTask(s.conn.Exec, t); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// SaveTaskWithEdges inserts the task and its dependency edges in one
// transaction, so a rejected edge leaves no partial task behind.
func (s *Store) SaveTaskWithEdges(t task.Task, edges []task.DependencyEdge) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := insertTask(tx.Exec, t); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save task: %w", err)
	}
	for _, edge := range edges {
		if err := insertEdge(tx.Exec, edge); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save dependency edge %s -> %s: %w",
				edge.TaskID, edge.DependsOnTaskID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task: %w", err)
	}
	return nil
}

// TaskPatch is the updatable subset of a task row. Nil fields are left
// untouched; updated_at always advances.
type TaskPatch struct {
	Status            *task.Status
	DependencyState   *task.DependencyState
	StartedAt         *time.Time
	CompletedAt       *time.Time
	WorkerID          *string
	ExitCode          *int
	ErrorKind         *task.ErrorKind
	ErrorMessage      *string
	RetryCount        *int
	WorktreePath      *string
	WorktreeBranch    *string
	CancelRequestedAt *time.Time
}

// UpdateTask applies the patch. Fails with TASK_NOT_FOUND for unknown ids.
func (s *Store) UpdateTask(id string, patch TaskPatch) error {
	var sets []string
	var args []any

	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.DependencyState != nil {
		add("dependency_state", *patch.DependencyState)
	}
	if patch.StartedAt != nil {
		add("started_at", *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	if patch.WorkerID != nil {
		add("worker_id", *patch.WorkerID)
	}
	if patch.ExitCode != nil {
		add("exit_code", *patch.ExitCode)
	}
	if patch.ErrorKind != nil {
		add("error_kind", *patch.ErrorKind)
	}
	if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}
	if patch.RetryCount != nil {
		add("retry_count", *patch.RetryCount)
	}
	if patch.WorktreePath != nil {
		add("worktree_path", *patch.WorktreePath)
	}
	if patch.WorktreeBranch != nil {
		add("worktree_branch", *patch.WorktreeBranch)
	}
	if patch.CancelRequestedAt != nil {
		add("cancel_requested_at", *patch.CancelRequestedAt)
	}

	add("updated_at", time.Now())

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)

	result, err := s.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return task.NewError(task.KindTaskNotFound, "task %s not found", id)
	}
	return nil
}

// FindTaskByID retrieves one task with its depends-on list populated.
// Returns nil, nil if the task does not exist.
func (s *Store) FindTaskByID(id string) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	t, err := scanTask(s.conn.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	edges, err := s.ListEdgesForTask(id)
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		t.DependsOn = append(t.DependsOn, edge.DependsOnTaskID)
	}

	return t, nil
}

// FindTasks returns a page of tasks, newest first. The depends-on list is
// not populated on bulk reads.
func (s *Store) FindTasks(limit, offset int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + taskColumns + ` FROM tasks
		ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	return s.queryTasks(query, limit, offset)
}

// FindTasksByStatus returns a page of tasks in the given status, newest
// first.
func (s *Store) FindTasksByStatus(status task.Status, limit, offset int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	return s.queryTasks(query, status, limit, offset)
}

// FindAllTasksByStatus is the unbounded variant reserved for recovery. Rows
// come back oldest first so re-queueing preserves the original FIFO order.
func (s *Store) FindAllTasksByStatus(status task.Status) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = ? ORDER BY created_at ASC, id`
	return s.queryTasks(query, status)
}

// FindCancelRequested returns running tasks whose cancellation was requested
// out-of-process, oldest request first.
func (s *Store) FindCancelRequested() ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = ? AND cancel_requested_at IS NOT NULL
		ORDER BY cancel_requested_at ASC`
	return s.queryTasks(query, task.StatusRunning)
}

func (s *Store) queryTasks(query string, args ...any) ([]*task.Task, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// CountTasksByStatus returns the number of rows in the given status. The
// delegation cap consults it before persisting.
func (s *Store) CountTasksByStatus(status task.Status) (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM tasks WHERE status = ?`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

// CountTasks returns the total number of task rows.
func (s *Store) CountTasks() (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

// DeleteTask removes a task; dependency edges and checkpoints cascade.
func (s *Store) DeleteTask(id string) error {
	result, err := s.conn.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return task.NewError(task.KindTaskNotFound, "task %s not found", id)
	}
	return nil
}
