package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Worktree represents an isolated checkout created for one task.
type Worktree struct {
	// Path is the absolute path to the worktree directory
	Path string

	// Branch is the branch name checked out in this worktree
	Branch string

	// TaskID is the task this worktree belongs to
	TaskID string

	CreatedAt time.Time
}

// Manager handles creation and removal of git worktrees. All worktrees live
// under BaseDir, one directory per task id.
type Manager struct {
	// BaseDir is the directory worktrees are created under
	BaseDir string

	runner Runner
	log    zerolog.Logger
}

// NewManager creates a worktree manager rooted at baseDir.
func NewManager(baseDir string, runner Runner, log zerolog.Logger) *Manager {
	if runner == nil {
		runner = NewRunner()
	}
	return &Manager{BaseDir: baseDir, runner: runner, log: log}
}

// Create adds a worktree for the task on a fresh branch off baseBranch. The
// branch name is sanitized before use.
func (m *Manager) Create(ctx context.Context, repoRoot, taskID, branch, baseBranch string) (*Worktree, error) {
	if err := os.MkdirAll(m.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktree base directory: %w", err)
	}

	branch = BranchForTask(taskID, branch)
	path := filepath.Join(m.BaseDir, taskID)

	if _, err := m.runner.Exec(ctx, repoRoot, "worktree", "add", "-b", branch, path, baseBranch); err != nil {
		return nil, fmt.Errorf("failed to create worktree: %w", err)
	}

	m.log.Info().Str("task_id", taskID).Str("branch", branch).Str("path", path).
		Msg("worktree created")

	return &Worktree{
		Path:      path,
		Branch:    branch,
		TaskID:    taskID,
		CreatedAt: time.Now(),
	}, nil
}

// Remove detaches the worktree from the repository and deletes its directory.
func (m *Manager) Remove(ctx context.Context, repoRoot, path string) error {
	if _, err := m.runner.Exec(ctx, repoRoot, "worktree", "remove", path, "--force"); err != nil {
		return fmt.Errorf("failed to remove worktree: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove worktree directory: %w", err)
	}
	return nil
}

// List returns the worktrees under BaseDir, parsed from the porcelain
// listing of the given repository.
func (m *Manager) List(ctx context.Context, repoRoot string) ([]*Worktree, error) {
	output, err := m.runner.Exec(ctx, repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	// Resolve BaseDir so symlinked temp dirs (such as /var on macOS)
	// still match the porcelain paths.
	resolvedBase, err := filepath.EvalSymlinks(m.BaseDir)
	if err != nil {
		resolvedBase = m.BaseDir
	}

	var worktrees []*Worktree
	var currentPath, currentBranch string

	flush := func() {
		if currentPath == "" {
			return
		}
		resolvedPath, err := filepath.EvalSymlinks(currentPath)
		if err != nil {
			resolvedPath = currentPath
		}
		if rel, err := filepath.Rel(resolvedBase, resolvedPath); err == nil &&
			rel != "." && rel != "" && !strings.HasPrefix(rel, "..") {
			worktrees = append(worktrees, &Worktree{
				Path:   currentPath,
				Branch: currentBranch,
				TaskID: rel,
			})
		}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			currentPath = ""
			currentBranch = ""
			continue
		}
		if after, ok := strings.CutPrefix(line, "worktree "); ok {
			currentPath = after
		} else if after, ok := strings.CutPrefix(line, "branch "); ok {
			currentBranch = strings.TrimPrefix(after, "refs/heads/")
		}
	}
	flush()

	return worktrees, nil
}

// Prune drops bookkeeping for worktrees whose directories disappeared.
func (m *Manager) Prune(ctx context.Context, repoRoot string) error {
	if _, err := m.runner.Exec(ctx, repoRoot, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}
