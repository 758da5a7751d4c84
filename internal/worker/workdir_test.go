package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RevCBH/taskd/internal/logging"
)

func TestEffectiveWorkDir(t *testing.T) {
	log := logging.Nop()

	tests := []struct {
		name       string
		workingDir string
		want       string
	}{
		{"empty uses worktree root", "", "/wt"},
		{"relative joins worktree", "pkg/api", "/wt/pkg/api"},
		{"absolute re-rooted by repo-relative path", "/repo/pkg/api", "/wt/pkg/api"},
		{"absolute at repo root", "/repo", "/wt"},
		{"absolute outside repo falls back", "/elsewhere/dir", "/wt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := effectiveWorkDir("/wt", tt.workingDir, "/repo", log)
			assert.Equal(t, tt.want, got)
		})
	}
}
