package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/RevCBH/taskd/internal/task"
)

// SaveCheckpoint persists a terminal-state snapshot and returns its
// auto-increment id. A nil dirty-file slice is stored as NULL; an empty
// non-nil slice round-trips as an empty list.
func (s *Store) SaveCheckpoint(cp task.Checkpoint) (int64, error) {
	var dirtyFiles any
	if cp.GitDirtyFiles != nil {
		encoded, err := json.Marshal(cp.GitDirtyFiles)
		if err != nil {
			return 0, fmt.Errorf("failed to encode dirty files: %w", err)
		}
		dirtyFiles = string(encoded)
	}

	result, err := s.conn.Exec(
		`INSERT INTO task_checkpoints
			(task_id, kind, output_summary, error_summary, git_branch, git_commit, git_dirty_files, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.TaskID, cp.Kind, cp.OutputSummary, cp.ErrorSummary,
		cp.GitBranch, cp.GitCommit, dirtyFiles, cp.Note, cp.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint id: %w", err)
	}
	return id, nil
}

const checkpointColumns = `id, task_id, kind, output_summary, error_summary,
	git_branch, git_commit, git_dirty_files, note, created_at`

func scanCheckpoint(row rowScanner) (*task.Checkpoint, error) {
	cp := &task.Checkpoint{}
	var dirtyFiles sql.NullString
	err := row.Scan(
		&cp.ID,
		&cp.TaskID,
		&cp.Kind,
		&cp.OutputSummary,
		&cp.ErrorSummary,
		&cp.GitBranch,
		&cp.GitCommit,
		&dirtyFiles,
		&cp.Note,
		&cp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dirtyFiles.Valid {
		files := []string{}
		if err := json.Unmarshal([]byte(dirtyFiles.String), &files); err != nil {
			return nil, fmt.Errorf("failed to decode dirty files: %w", err)
		}
		cp.GitDirtyFiles = files
	}
	return cp, nil
}

// FindLatestCheckpoint returns the most recent checkpoint for a task.
// Returns nil, nil when the task has none.
func (s *Store) FindLatestCheckpoint(taskID string) (*task.Checkpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM task_checkpoints
		WHERE task_id = ? ORDER BY id DESC LIMIT 1`

	cp, err := scanCheckpoint(s.conn.QueryRow(query, taskID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return cp, nil
}

// FindCheckpoints returns a task's checkpoints, newest first.
func (s *Store) FindCheckpoints(taskID string, limit int) ([]task.Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryCheckpoints(
		`SELECT `+checkpointColumns+` FROM task_checkpoints
		 WHERE task_id = ? ORDER BY id DESC LIMIT ?`, taskID, limit)
}

// FindAllCheckpoints returns checkpoints across all tasks, newest first.
func (s *Store) FindAllCheckpoints(limit int) ([]task.Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryCheckpoints(
		`SELECT `+checkpointColumns+` FROM task_checkpoints
		 ORDER BY id DESC LIMIT ?`, limit)
}

func (s *Store) queryCheckpoints(query string, args ...any) ([]task.Checkpoint, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []task.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}
	return checkpoints, nil
}
