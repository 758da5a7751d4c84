package git

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevCBH/taskd/internal/logging"
	"github.com/RevCBH/taskd/internal/testutil"
)

func TestManagerCreate(t *testing.T) {
	base := t.TempDir()
	runner := testutil.NewStubRunner()
	m := NewManager(base, runner, logging.Nop())

	path := filepath.Join(base, "task-1")
	runner.Stub(fmt.Sprintf("worktree add -b taskd/task-1 %s main", path), "", nil)

	wt, err := m.Create(context.Background(), "/repo", "task-1", "", "main")
	require.NoError(t, err)
	assert.Equal(t, path, wt.Path)
	assert.Equal(t, "taskd/task-1", wt.Branch)
	assert.Equal(t, "task-1", wt.TaskID)
}

func TestManagerCreateFailure(t *testing.T) {
	base := t.TempDir()
	runner := testutil.NewStubRunner()
	m := NewManager(base, runner, logging.Nop())

	path := filepath.Join(base, "task-1")
	runner.Stub(fmt.Sprintf("worktree add -b taskd/task-1 %s main", path),
		"", fmt.Errorf("fatal: not a git repository"))

	_, err := m.Create(context.Background(), "/repo", "task-1", "", "main")
	require.Error(t, err)
}

func TestManagerList(t *testing.T) {
	base := t.TempDir()
	runner := testutil.NewStubRunner()
	m := NewManager(base, runner, logging.Nop())

	porcelain := fmt.Sprintf(`worktree /repo
HEAD 1111111111111111111111111111111111111111
branch refs/heads/main

worktree %s
HEAD 2222222222222222222222222222222222222222
branch refs/heads/taskd/task-a

worktree %s
HEAD 3333333333333333333333333333333333333333
branch refs/heads/taskd/task-b
`, filepath.Join(base, "task-a"), filepath.Join(base, "task-b"))

	runner.Stub("worktree list --porcelain", porcelain, nil)

	worktrees, err := m.List(context.Background(), "/repo")
	require.NoError(t, err)
	require.Len(t, worktrees, 2)
	assert.Equal(t, "task-a", worktrees[0].TaskID)
	assert.Equal(t, "taskd/task-a", worktrees[0].Branch)
	assert.Equal(t, "task-b", worktrees[1].TaskID)
}

func TestManagerListSkipsMainCheckout(t *testing.T) {
	base := t.TempDir()
	runner := testutil.NewStubRunner()
	m := NewManager(base, runner, logging.Nop())

	runner.Stub("worktree list --porcelain", "worktree /repo\nbranch refs/heads/main\n", nil)

	worktrees, err := m.List(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Empty(t, worktrees)
}
