package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	// Point at a nonexistent file: defaults apply.
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 1000, cfg.Queue.MaxSize)
	assert.Equal(t, time.Second, cfg.Resources.PollInterval.Std())
	assert.Equal(t, float64(90), cfg.Resources.MaxCPUPercent)
	assert.Equal(t, uint64(256<<20), cfg.Resources.MinMemoryBytes)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval.Std())
	assert.Equal(t, time.Duration(0), cfg.Worker.DefaultTimeout.Std())
	assert.Equal(t, 5*time.Second, cfg.Worker.KillGracePeriod.Std())
	assert.Equal(t, "claude", cfg.Worker.AgentCommand)
	assert.Equal(t, "main", cfg.Worktree.DefaultBaseBranch)

	// Derived paths hang off data_dir.
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, filepath.Join(cfg.DataDir, "taskd.db"), cfg.Database.Path)
	assert.Equal(t, filepath.Join(cfg.DataDir, "logs"), cfg.Logging.Dir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "worktrees"), cfg.Worktree.BaseDir)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, `
data_dir: `+dataDir+`
logging:
  level: debug
  format: json
queue:
  max_size: 50
resources:
  poll_interval: 250ms
  max_cpu_percent: 75
scheduler:
  tick_interval: 5s
worker:
  default_timeout: 2h
  kill_grace_period: 10s
  agent_command: my-agent
worktree:
  default_base_branch: trunk
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 50, cfg.Queue.MaxSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Resources.PollInterval.Std())
	assert.Equal(t, float64(75), cfg.Resources.MaxCPUPercent)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.TickInterval.Std())
	assert.Equal(t, 2*time.Hour, cfg.Worker.DefaultTimeout.Std())
	assert.Equal(t, 10*time.Second, cfg.Worker.KillGracePeriod.Std())
	assert.Equal(t, "my-agent", cfg.Worker.AgentCommand)
	assert.Equal(t, "trunk", cfg.Worktree.DefaultBaseBranch)

	// Unset sections keep defaults.
	assert.Equal(t, 1<<20, cfg.Worker.MaxOutputBuffer)
	assert.Equal(t, 100, cfg.Events.MaxSubscribersPerEvent)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
worker:
  agent_command: from-file
`)
	t.Setenv("TASKD_LOG_LEVEL", "error")
	t.Setenv("TASKD_AGENT_CMD", "from-env")
	t.Setenv("TASKD_QUEUE_MAX_SIZE", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "from-env", cfg.Worker.AgentCommand)
	assert.Equal(t, 7, cfg.Queue.MaxSize)
}

func TestLoadRejectsMalformedYaml(t *testing.T) {
	path := writeConfig(t, "queue: [not a map")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"zero queue size", "queue:\n  max_size: 0\n"},
		{"cpu over 100", "resources:\n  max_cpu_percent: 150\n"},
		{"timeout too short", "worker:\n  default_timeout: 500ms\n"},
		{"timeout too long", "worker:\n  default_timeout: 48h\n"},
		{"buffer too small", "worker:\n  max_output_buffer: 512\n"},
		{"empty agent command", "worker:\n  agent_command: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestDurationAcceptsBareSeconds(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  tick_interval: 45\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.TickInterval.Std())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".taskd"), expandHome("~/.taskd"))
	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	assert.Equal(t, "rel/path", expandHome("rel/path"))
}

func TestDump(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	out, err := cfg.Dump()
	require.NoError(t, err)
	assert.Contains(t, out, "data_dir:")
	assert.Contains(t, out, "poll_interval: 1s")
}
