package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	app := New()

	want := []string{
		"delegate", "status", "logs", "cancel", "retry", "resume",
		"schedule", "pipeline", "worktree", "serve", "config", "version",
	}
	got := map[string]bool{}
	for _, cmd := range app.rootCmd.Commands() {
		got[cmd.Name()] = true
	}
	for _, name := range want {
		assert.True(t, got[name], "missing command %q", name)
	}
}

func TestScheduleSubcommands(t *testing.T) {
	app := New()

	sched, _, err := app.rootCmd.Find([]string{"schedule", "create"})
	require.NoError(t, err)
	assert.Equal(t, "create", sched.Name())

	for _, sub := range []string{"list", "get", "cancel", "pause", "resume"} {
		cmd, _, err := app.rootCmd.Find([]string{"schedule", sub})
		require.NoError(t, err)
		assert.Equal(t, sub, cmd.Name())
	}
}

func TestDelegateFlagDefaults(t *testing.T) {
	app := New()
	cmd, _, err := app.rootCmd.Find([]string{"delegate"})
	require.NoError(t, err)

	assert.Equal(t, "P2", cmd.Flags().Lookup("priority").DefValue)
	for _, flag := range []string{
		"working-directory", "use-worktree", "worktree-cleanup",
		"merge-strategy", "branch-name", "base-branch", "no-auto-commit",
		"no-push", "pr-title", "pr-body", "timeout", "max-output-buffer",
		"depends-on", "continue-from",
	} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "missing flag %q", flag)
	}
}

func TestPipelineDelayParsing(t *testing.T) {
	app := New()
	cmd, _, err := app.rootCmd.Find([]string{"pipeline"})
	require.NoError(t, err)

	require.NoError(t, cmd.Flags().Set("delay", "5m"))
	require.NoError(t, cmd.Flags().Set("delay", "10m"))

	delays, err := cmd.Flags().GetDurationSlice("delay")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Minute, 10 * time.Minute}, delays)
}

func TestPipelineRejectsExcessDelays(t *testing.T) {
	app := New()
	err := app.RunPipeline([]string{"only stage"},
		[]time.Duration{time.Minute, time.Minute}, "P2", "")
	assert.Error(t, err)
}
