// Package config loads the taskd configuration: defaults, then an optional
// yaml file, then TASKD_* environment overrides, then path resolution and
// validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the supervisor and the CLI.
// It is immutable after creation via Load().
type Config struct {
	// DataDir is where the database, logs, and worktrees live
	DataDir string `yaml:"data_dir"`

	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Queue     QueueConfig     `yaml:"queue"`
	Resources ResourcesConfig `yaml:"resources"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Worker    WorkerConfig    `yaml:"worker"`
	Worktree  WorktreeConfig  `yaml:"worktree"`
	Events    EventsConfig    `yaml:"events"`
}

// DatabaseConfig locates the sqlite file.
type DatabaseConfig struct {
	// Path defaults to <data_dir>/taskd.db
	Path string `yaml:"path"`
}

// LoggingConfig controls the structured logger and per-task output files.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error
	Level string `yaml:"level"`

	// Format is "console" or "json"
	Format string `yaml:"format"`

	// Dir holds per-task output files; defaults to <data_dir>/logs
	Dir string `yaml:"dir"`
}

// QueueConfig bounds the pending-task queue.
type QueueConfig struct {
	MaxSize int `yaml:"max_size"`
}

// ResourcesConfig tunes the resource monitor and its admission thresholds.
type ResourcesConfig struct {
	PollInterval   Duration `yaml:"poll_interval"`
	MaxCPUPercent  float64  `yaml:"max_cpu_percent"`
	MinMemoryBytes uint64   `yaml:"min_memory_bytes"`
}

// SchedulerConfig tunes schedule evaluation.
type SchedulerConfig struct {
	TickInterval   Duration `yaml:"tick_interval"`
	MaxCatchupRuns int      `yaml:"max_catchup_runs"`
}

// WorkerConfig controls agent child processes.
type WorkerConfig struct {
	// DefaultTimeout applies to tasks without an explicit timeout; 0 = none
	DefaultTimeout Duration `yaml:"default_timeout"`

	// MaxOutputBuffer caps the in-memory output buffer per worker, in bytes
	MaxOutputBuffer int `yaml:"max_output_buffer"`

	// KillGracePeriod is the SIGTERM-to-SIGKILL window
	KillGracePeriod Duration `yaml:"kill_grace_period"`

	// CheckpointTailLines is how many output lines a checkpoint captures
	CheckpointTailLines int `yaml:"checkpoint_tail_lines"`

	// AgentCommand is the agent CLI binary name or path
	AgentCommand string `yaml:"agent_command"`
}

// WorktreeConfig controls git worktree placement.
type WorktreeConfig struct {
	// BaseDir defaults to <data_dir>/worktrees
	BaseDir string `yaml:"base_dir"`

	// DefaultBaseBranch is used when a task does not name a base branch
	DefaultBaseBranch string `yaml:"default_base_branch"`
}

// EventsConfig bounds event bus subscriptions.
type EventsConfig struct {
	MaxSubscribersPerEvent int      `yaml:"max_subscribers_per_event"`
	MaxTotalSubscribers    int      `yaml:"max_total_subscribers"`
	TombstonePurgeInterval Duration `yaml:"tombstone_purge_interval"`
}

// Load builds the configuration. It applies defaults, then file values
// (missing file is not an error), then environment overrides, then resolves
// paths and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// DefaultPath is the config file consulted when --config is not given.
func DefaultPath() string {
	return filepath.Join(expandHome(DefaultDataDir), "config.yaml")
}

// resolvePaths expands ~ and fills derived paths from DataDir.
func (c *Config) resolvePaths() error {
	c.DataDir = expandHome(c.DataDir)
	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data_dir: %w", err)
	}
	c.DataDir = abs

	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "taskd.db")
	} else {
		c.Database.Path = expandHome(c.Database.Path)
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = filepath.Join(c.DataDir, "logs")
	} else {
		c.Logging.Dir = expandHome(c.Logging.Dir)
	}
	if c.Worktree.BaseDir == "" {
		c.Worktree.BaseDir = filepath.Join(c.DataDir, "worktrees")
	} else {
		c.Worktree.BaseDir = expandHome(c.Worktree.BaseDir)
	}
	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path == "~" || len(path) >= 2 && path[0] == '~' && path[1] == filepath.Separator {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
