package db

import (
	"database/sql"
	"fmt"

	"github.com/RevCBH/taskd/internal/task"
)

func insertEdge(exec func(query string, args ...any) (sql.Result, error), edge task.DependencyEdge) error {
	_, err := exec(
		`INSERT INTO task_dependencies (task_id, depends_on_task_id, resolution, created_at)
		 VALUES (?, ?, ?, ?)`,
		edge.TaskID, edge.DependsOnTaskID, edge.Resolution, edge.CreatedAt,
	)
	return err
}

// AddEdge inserts one dependency edge. The (task, dependsOn) pair is unique.
func (s *Store) AddEdge(edge task.DependencyEdge) error {
	if err := insertEdge(s.conn.Exec, edge); err != nil {
		return fmt.Errorf("failed to add dependency edge: %w", err)
	}
	return nil
}

// RemoveEdge deletes one dependency edge.
func (s *Store) RemoveEdge(taskID, dependsOnID string) error {
	_, err := s.conn.Exec(
		`DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_task_id = ?`,
		taskID, dependsOnID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove dependency edge: %w", err)
	}
	return nil
}

// SetResolution updates one edge's resolution state.
func (s *Store) SetResolution(taskID, dependsOnID string, resolution task.Resolution) error {
	result, err := s.conn.Exec(
		`UPDATE task_dependencies SET resolution = ? WHERE task_id = ? AND depends_on_task_id = ?`,
		resolution, taskID, dependsOnID,
	)
	if err != nil {
		return fmt.Errorf("failed to set edge resolution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return task.NewError(task.KindTaskNotFound,
			"dependency edge %s -> %s not found", taskID, dependsOnID)
	}
	return nil
}

// ListEdges returns every dependency edge, insertion order.
func (s *Store) ListEdges() ([]task.DependencyEdge, error) {
	return s.queryEdges(
		`SELECT task_id, depends_on_task_id, resolution, created_at
		 FROM task_dependencies ORDER BY created_at, task_id`)
}

// ListEdgesForTask returns the task's outgoing edges (what it depends on).
func (s *Store) ListEdgesForTask(taskID string) ([]task.DependencyEdge, error) {
	return s.queryEdges(
		`SELECT task_id, depends_on_task_id, resolution, created_at
		 FROM task_dependencies WHERE task_id = ? ORDER BY created_at`, taskID)
}

// ListEdgesForDependency returns the edges pointing at a dependency (who
// depends on it). The completion handler walks these to unblock dependents.
func (s *Store) ListEdgesForDependency(dependsOnID string) ([]task.DependencyEdge, error) {
	return s.queryEdges(
		`SELECT task_id, depends_on_task_id, resolution, created_at
		 FROM task_dependencies WHERE depends_on_task_id = ? ORDER BY created_at`, dependsOnID)
}

// ListPendingEdges returns all unresolved edges; recovery rebuilds the
// in-memory graph from them.
func (s *Store) ListPendingEdges() ([]task.DependencyEdge, error) {
	return s.queryEdges(
		`SELECT task_id, depends_on_task_id, resolution, created_at
		 FROM task_dependencies WHERE resolution = ? ORDER BY created_at, task_id`,
		task.ResolutionPending)
}

func (s *Store) queryEdges(query string, args ...any) ([]task.DependencyEdge, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependency edges: %w", err)
	}
	defer rows.Close()

	var edges []task.DependencyEdge
	for rows.Next() {
		var edge task.DependencyEdge
		if err := rows.Scan(&edge.TaskID, &edge.DependsOnTaskID, &edge.Resolution, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dependency edge: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependency edges: %w", err)
	}
	return edges, nil
}
