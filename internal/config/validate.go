package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks the resolved configuration. It runs after defaults, file,
// and environment are merged, so every field has its final value.
func (c *Config) Validate() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q (must be trace, debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format %q (must be console or json)", c.Logging.Format)
	}

	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("queue max_size must be positive: %d", c.Queue.MaxSize)
	}

	if c.Resources.PollInterval.Std() <= 0 {
		return fmt.Errorf("resources poll_interval must be positive: %s", c.Resources.PollInterval)
	}
	if c.Resources.MaxCPUPercent <= 0 || c.Resources.MaxCPUPercent > 100 {
		return fmt.Errorf("resources max_cpu_percent must be in (0, 100]: %g", c.Resources.MaxCPUPercent)
	}

	if c.Scheduler.TickInterval.Std() <= 0 {
		return fmt.Errorf("scheduler tick_interval must be positive: %s", c.Scheduler.TickInterval)
	}
	if c.Scheduler.MaxCatchupRuns <= 0 {
		return fmt.Errorf("scheduler max_catchup_runs must be positive: %d", c.Scheduler.MaxCatchupRuns)
	}

	if d := c.Worker.DefaultTimeout.Std(); d != 0 && (d < time.Second || d > 24*time.Hour) {
		return fmt.Errorf("worker default_timeout must be 0 or between 1s and 24h: %s", c.Worker.DefaultTimeout)
	}
	if b := c.Worker.MaxOutputBuffer; b < 1<<10 || b > 1<<30 {
		return fmt.Errorf("worker max_output_buffer must be between 1 KiB and 1 GiB: %d", b)
	}
	if c.Worker.KillGracePeriod.Std() <= 0 {
		return fmt.Errorf("worker kill_grace_period must be positive: %s", c.Worker.KillGracePeriod)
	}
	if c.Worker.CheckpointTailLines <= 0 {
		return fmt.Errorf("worker checkpoint_tail_lines must be positive: %d", c.Worker.CheckpointTailLines)
	}
	if c.Worker.AgentCommand == "" {
		return fmt.Errorf("worker agent_command must not be empty")
	}

	if c.Worktree.DefaultBaseBranch == "" {
		return fmt.Errorf("worktree default_base_branch must not be empty")
	}

	if c.Events.MaxSubscribersPerEvent <= 0 {
		return fmt.Errorf("events max_subscribers_per_event must be positive: %d", c.Events.MaxSubscribersPerEvent)
	}
	if c.Events.MaxTotalSubscribers <= 0 {
		return fmt.Errorf("events max_total_subscribers must be positive: %d", c.Events.MaxTotalSubscribers)
	}

	return nil
}

// Dump renders the resolved configuration as yaml for `taskd config`.
func (c *Config) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("render config: %w", err)
	}
	return string(out), nil
}
