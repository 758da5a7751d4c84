package git

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevCBH/taskd/internal/testutil"
)

func TestSnapshot(t *testing.T) {
	runner := testutil.NewStubRunner()
	runner.Stub("rev-parse --is-inside-work-tree", "true\n", nil)
	runner.Stub("rev-parse --abbrev-ref HEAD", "feat/x\n", nil)
	runner.Stub("rev-parse HEAD", "abc1234def\n", nil)
	runner.Stub("status --porcelain", " M a.txt\n?? b.txt\n", nil)

	state, err := Snapshot(context.Background(), runner, "/repo")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "feat/x", state.Branch)
	assert.Equal(t, "abc1234def", state.Commit)
	assert.Equal(t, []string{"a.txt", "b.txt"}, state.DirtyFiles)
}

func TestSnapshotCleanTree(t *testing.T) {
	runner := testutil.NewStubRunner()
	runner.Stub("rev-parse --is-inside-work-tree", "true\n", nil)
	runner.Stub("rev-parse --abbrev-ref HEAD", "main\n", nil)
	runner.Stub("rev-parse HEAD", "abc1234\n", nil)
	runner.Stub("status --porcelain", "", nil)

	state, err := Snapshot(context.Background(), runner, "/repo")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.NotNil(t, state.DirtyFiles)
	assert.Empty(t, state.DirtyFiles)
}

func TestSnapshotOutsideRepository(t *testing.T) {
	runner := testutil.NewStubRunner()
	runner.StubDefault("rev-parse --is-inside-work-tree", "", assertError{})

	state, err := Snapshot(context.Background(), runner, "/tmp")
	require.NoError(t, err)
	assert.Nil(t, state)
}

type assertError struct{}

func (assertError) Error() string { return "not a repository" }
