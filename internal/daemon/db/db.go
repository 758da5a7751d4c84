package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite connection with supervisor-specific operations.
// One file, WAL-enabled, shared by the serve process and one-shot commands.
type Store struct {
	conn *sql.DB
}

// Open creates or opens the database at the given path. It enables WAL mode
// and foreign keys, then applies any pending forward migrations.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// WAL readers from other processes spin on busy writers briefly
	// instead of failing outright.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection. The container calls it exactly once,
// after the worker pool has quiesced.
func (s *Store) Close() error {
	return s.conn.Close()
}

// migrations is the forward-only schema history. Append new statements; the
// version row in schema_version records how many have been applied.
var migrations = []string{
	// v1: full schema. Enum columns carry CHECK constraints so invalid
	// writes are rejected even if application-level validation regresses.
	`
CREATE TABLE IF NOT EXISTS tasks (
    id                  TEXT PRIMARY KEY,
    prompt              TEXT NOT NULL,
    priority            TEXT NOT NULL CHECK (priority IN ('P0','P1','P2')),
    status              TEXT NOT NULL CHECK (status IN ('queued','running','completed','failed','cancelled')),
    working_directory   TEXT NOT NULL DEFAULT '',
    use_worktree        INTEGER NOT NULL DEFAULT 0,
    worktree_cleanup    TEXT NOT NULL DEFAULT 'auto' CHECK (worktree_cleanup IN ('auto','keep','delete')),
    merge_strategy      TEXT NOT NULL DEFAULT '' CHECK (merge_strategy IN ('','pr','auto','manual','patch')),
    branch_name         TEXT NOT NULL DEFAULT '',
    base_branch         TEXT NOT NULL DEFAULT '',
    auto_commit         INTEGER NOT NULL DEFAULT 1,
    push_to_remote      INTEGER NOT NULL DEFAULT 1,
    pr_title            TEXT NOT NULL DEFAULT '',
    pr_body             TEXT NOT NULL DEFAULT '',
    worktree_path       TEXT NOT NULL DEFAULT '',
    worktree_branch     TEXT NOT NULL DEFAULT '',
    timeout_ms          INTEGER NOT NULL DEFAULT 0,
    max_output_buffer   INTEGER NOT NULL DEFAULT 0,
    parent_task_id      TEXT NOT NULL DEFAULT '',
    retry_of            TEXT NOT NULL DEFAULT '',
    retry_count         INTEGER NOT NULL DEFAULT 0,
    continue_from       TEXT NOT NULL DEFAULT '',
    dependency_state    TEXT NOT NULL DEFAULT '' CHECK (dependency_state IN ('','blocked','ready')),
    created_at          DATETIME NOT NULL,
    updated_at          DATETIME NOT NULL,
    started_at          DATETIME,
    completed_at        DATETIME,
    worker_id           TEXT NOT NULL DEFAULT '',
    exit_code           INTEGER,
    error_kind          TEXT NOT NULL DEFAULT '',
    error_message       TEXT NOT NULL DEFAULT '',
    cancel_requested_at DATETIME
);

CREATE TABLE IF NOT EXISTS task_dependencies (
    task_id             TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    depends_on_task_id  TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    resolution          TEXT NOT NULL DEFAULT 'pending' CHECK (resolution IN ('pending','satisfied','failed','cancelled')),
    created_at          DATETIME NOT NULL,
    UNIQUE(task_id, depends_on_task_id)
);

CREATE TABLE IF NOT EXISTS task_checkpoints (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id         TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    kind            TEXT NOT NULL CHECK (kind IN ('completed','failed','cancelled')),
    output_summary  TEXT NOT NULL DEFAULT '',
    error_summary   TEXT NOT NULL DEFAULT '',
    git_branch      TEXT NOT NULL DEFAULT '',
    git_commit      TEXT NOT NULL DEFAULT '',
    git_dirty_files TEXT,
    note            TEXT NOT NULL DEFAULT '',
    created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS schedules (
    id                 TEXT PRIMARY KEY,
    kind               TEXT NOT NULL CHECK (kind IN ('cron','one_time')),
    cron_expr          TEXT NOT NULL DEFAULT '',
    run_at_ms          INTEGER NOT NULL DEFAULT 0,
    timezone           TEXT NOT NULL DEFAULT 'UTC',
    missed_run_policy  TEXT NOT NULL DEFAULT 'skip' CHECK (missed_run_policy IN ('skip','catchup','fail')),
    status             TEXT NOT NULL CHECK (status IN ('active','paused','completed','cancelled','expired','failed')),
    run_count          INTEGER NOT NULL DEFAULT 0,
    last_run_at        DATETIME,
    next_run_at        DATETIME,
    max_runs           INTEGER NOT NULL DEFAULT 0,
    expires_at         DATETIME,
    after_schedule_id  TEXT NOT NULL DEFAULT '',
    template_json      TEXT NOT NULL,
    created_at         DATETIME NOT NULL,
    updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS schedule_executions (
    id           TEXT PRIMARY KEY,
    schedule_id  TEXT NOT NULL REFERENCES schedules(id) ON DELETE CASCADE,
    task_id      TEXT NOT NULL,
    scheduled_at DATETIME NOT NULL,
    executed_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at);
CREATE INDEX IF NOT EXISTS idx_deps_task ON task_dependencies(task_id);
CREATE INDEX IF NOT EXISTS idx_deps_depends_on ON task_dependencies(depends_on_task_id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_task ON task_checkpoints(task_id);
CREATE INDEX IF NOT EXISTS idx_schedules_status ON schedules(status);
CREATE INDEX IF NOT EXISTS idx_executions_schedule ON schedule_executions(schedule_id);
`,
}

// migrate applies pending migrations in order, recording progress in
// schema_version. Each migration runs in its own transaction.
func (s *Store) migrate() error {
	if _, err := s.conn.Exec(
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to clear schema version: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
	}

	return nil
}

// schemaVersion reads the applied migration count, 0 for a fresh database.
func (s *Store) schemaVersion() (int, error) {
	var version int
	err := s.conn.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// SchemaVersion exposes the current migration level.
func (s *Store) SchemaVersion() (int, error) {
	return s.schemaVersion()
}
