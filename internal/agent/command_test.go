package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgs(t *testing.T) {
	args := BuildArgs("Refactor the parser to emit better errors")
	assert.Equal(t, []string{
		"--print",
		"--dangerously-skip-permissions",
		"--output-format", "json",
		"Refactor the parser to emit better errors",
	}, args)
}

func TestWrapPrompt(t *testing.T) {
	tests := []struct {
		name    string
		prompt  string
		wrapped bool
	}{
		{"bare two-token command", "ls -la", true},
		{"bare three-token command", "git status -s", true},
		{"single word", "make", true},
		{"four tokens", "git log --oneline -5", false},
		{"run verb", "run tests", false},
		{"execute verb", "execute migration", false},
		{"bash verb", "bash deploy.sh", false},
		{"natural language", "Fix the race condition in the file watcher and add a regression test", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapPrompt(tt.prompt)
			if tt.wrapped {
				assert.Equal(t, "Execute the following bash command: "+tt.prompt, got)
			} else {
				assert.Equal(t, tt.prompt, got)
			}
		})
	}
}

func TestEnv(t *testing.T) {
	env := Env("task-abc")
	assert.Contains(t, env, "TASKD_WORKER=1")
	assert.Contains(t, env, "TASKD_TASK_ID=task-abc")
}
