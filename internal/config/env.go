package config

import (
	"os"
	"strconv"
	"time"
)

// envOverrides maps environment variables to config field setters.
var envOverrides = []struct {
	envVar string
	apply  func(*Config, string)
}{
	{
		envVar: "TASKD_DATA_DIR",
		apply: func(c *Config, v string) {
			c.DataDir = v
		},
	},
	{
		envVar: "TASKD_DB_PATH",
		apply: func(c *Config, v string) {
			c.Database.Path = v
		},
	},
	{
		envVar: "TASKD_LOG_LEVEL",
		apply: func(c *Config, v string) {
			c.Logging.Level = v
		},
	},
	{
		envVar: "TASKD_LOG_FORMAT",
		apply: func(c *Config, v string) {
			c.Logging.Format = v
		},
	},
	{
		envVar: "TASKD_AGENT_CMD",
		apply: func(c *Config, v string) {
			c.Worker.AgentCommand = v
		},
	},
	{
		envVar: "TASKD_WORKTREE_BASE",
		apply: func(c *Config, v string) {
			c.Worktree.BaseDir = v
		},
	},
	{
		envVar: "TASKD_QUEUE_MAX_SIZE",
		apply: func(c *Config, v string) {
			if n, err := strconv.Atoi(v); err == nil {
				c.Queue.MaxSize = n
			}
		},
	},
	{
		envVar: "TASKD_MAX_CPU_PERCENT",
		apply: func(c *Config, v string) {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.Resources.MaxCPUPercent = f
			}
		},
	},
	{
		envVar: "TASKD_MIN_MEMORY_BYTES",
		apply: func(c *Config, v string) {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				c.Resources.MinMemoryBytes = n
			}
		},
	},
	{
		envVar: "TASKD_TICK_INTERVAL",
		apply: func(c *Config, v string) {
			if d, err := time.ParseDuration(v); err == nil {
				c.Scheduler.TickInterval = Duration(d)
			}
		},
	},
	{
		envVar: "TASKD_DEFAULT_TIMEOUT",
		apply: func(c *Config, v string) {
			if d, err := time.ParseDuration(v); err == nil {
				c.Worker.DefaultTimeout = Duration(d)
			}
		},
	},
}

// applyEnvOverrides modifies config in place with environment variable values.
func applyEnvOverrides(cfg *Config) {
	for _, override := range envOverrides {
		if val := os.Getenv(override.envVar); val != "" {
			override.apply(cfg, val)
		}
	}
}
