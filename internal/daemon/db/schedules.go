package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/RevCBH/taskd/internal/task"
)

const scheduleColumns = `id, kind, cron_expr, run_at_ms, timezone,
	missed_run_policy, status, run_count, last_run_at, next_run_at,
	max_runs, expires_at, after_schedule_id, template_json, created_at, updated_at`

// SaveSchedule inserts a new schedule row. The task template is stored as
// JSON alongside the trigger fields.
func (s *Store) SaveSchedule(sched task.Schedule) error {
	template, err := json.Marshal(sched.Template)
	if err != nil {
		return fmt.Errorf("failed to encode schedule template: %w", err)
	}

	_, err = s.conn.Exec(
		`INSERT INTO schedules (`+scheduleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID,
		sched.Kind,
		sched.CronExpr,
		sched.RunAtMS,
		sched.Timezone,
		sched.MissedRunPolicy,
		sched.Status,
		sched.RunCount,
		sched.LastRunAt,
		sched.NextRunAt,
		sched.MaxRuns,
		sched.ExpiresAt,
		sched.AfterScheduleID,
		string(template),
		sched.CreatedAt,
		sched.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

// SchedulePatch is the updatable subset of a schedule row.
type SchedulePatch struct {
	Status    *task.ScheduleStatus
	RunCount  *int
	LastRunAt *time.Time
	NextRunAt *time.Time
}

// UpdateSchedule applies the patch. Fails with TASK_NOT_FOUND for unknown
// ids.
func (s *Store) UpdateSchedule(id string, patch SchedulePatch) error {
	var sets []string
	var args []any

	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.RunCount != nil {
		add("run_count", *patch.RunCount)
	}
	if patch.LastRunAt != nil {
		add("last_run_at", *patch.LastRunAt)
	}
	if patch.NextRunAt != nil {
		add("next_run_at", *patch.NextRunAt)
	}

	add("updated_at", time.Now())

	query := "UPDATE schedules SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)

	result, err := s.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return task.NewError(task.KindTaskNotFound, "schedule %s not found", id)
	}
	return nil
}

func scanSchedule(row rowScanner) (*task.Schedule, error) {
	sched := &task.Schedule{}
	var template string
	err := row.Scan(
		&sched.ID,
		&sched.Kind,
		&sched.CronExpr,
		&sched.RunAtMS,
		&sched.Timezone,
		&sched.MissedRunPolicy,
		&sched.Status,
		&sched.RunCount,
		&sched.LastRunAt,
		&sched.NextRunAt,
		&sched.MaxRuns,
		&sched.ExpiresAt,
		&sched.AfterScheduleID,
		&template,
		&sched.CreatedAt,
		&sched.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(template), &sched.Template); err != nil {
		return nil, fmt.Errorf("failed to decode schedule template: %w", err)
	}
	return sched, nil
}

// FindScheduleByID retrieves one schedule. Returns nil, nil if absent.
func (s *Store) FindScheduleByID(id string) (*task.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`

	sched, err := scanSchedule(s.conn.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return sched, nil
}

// ScheduleFilter narrows ListSchedules. Zero values mean "no constraint".
type ScheduleFilter struct {
	Status task.ScheduleStatus
	Limit  int
	Offset int
}

// ListSchedules returns schedules matching the filter, newest first.
func (s *Store) ListSchedules(filter ScheduleFilter) ([]*task.Schedule, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*task.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}
	return schedules, nil
}

// ListActiveSchedules returns every schedule the ticker should evaluate.
func (s *Store) ListActiveSchedules() ([]*task.Schedule, error) {
	return s.ListSchedules(ScheduleFilter{Status: task.ScheduleActive, Limit: 10000})
}

// AppendScheduleExecution records one materialized run.
func (s *Store) AppendScheduleExecution(exec task.ScheduleExecution) error {
	_, err := s.conn.Exec(
		`INSERT INTO schedule_executions (id, schedule_id, task_id, scheduled_at, executed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		exec.ID, exec.ScheduleID, exec.TaskID, exec.ScheduledAt, exec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append schedule execution: %w", err)
	}
	return nil
}

// ListScheduleExecutions returns a schedule's run history, newest first.
func (s *Store) ListScheduleExecutions(scheduleID string, limit int) ([]task.ScheduleExecution, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.conn.Query(
		`SELECT id, schedule_id, task_id, scheduled_at, executed_at
		 FROM schedule_executions WHERE schedule_id = ?
		 ORDER BY id DESC LIMIT ?`, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule executions: %w", err)
	}
	defer rows.Close()

	var executions []task.ScheduleExecution
	for rows.Next() {
		var exec task.ScheduleExecution
		if err := rows.Scan(&exec.ID, &exec.ScheduleID, &exec.TaskID, &exec.ScheduledAt, &exec.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule execution: %w", err)
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule executions: %w", err)
	}
	return executions, nil
}

// LatestExecutionTask returns the task id of the schedule's most recent run,
// or empty when the schedule has never fired. Chained schedules gate on it.
func (s *Store) LatestExecutionTask(scheduleID string) (string, error) {
	var taskID string
	err := s.conn.QueryRow(
		`SELECT task_id FROM schedule_executions WHERE schedule_id = ?
		 ORDER BY id DESC LIMIT 1`, scheduleID).Scan(&taskID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get latest execution: %w", err)
	}
	return taskID, nil
}
