package git

import (
	"context"
	"strings"
)

// State is a point-in-time snapshot of a working directory's git position,
// captured into checkpoints at task termination.
type State struct {
	Branch string
	Commit string

	// DirtyFiles lists paths with uncommitted changes. Non-nil and empty
	// means the tree was clean; callers that skip the snapshot leave it nil.
	DirtyFiles []string
}

// Snapshot reads branch, HEAD commit, and dirty files from dir. Returns
// nil without error when dir is not inside a repository.
func Snapshot(ctx context.Context, runner Runner, dir string) (*State, error) {
	if runner == nil {
		runner = NewRunner()
	}
	if !IsRepository(ctx, runner, dir) {
		return nil, nil
	}

	branch, err := runner.Exec(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, err
	}

	// HEAD may not resolve in a repository with no commits yet.
	commit := ""
	if out, err := runner.Exec(ctx, dir, "rev-parse", "HEAD"); err == nil {
		commit = strings.TrimSpace(out)
	}

	status, err := runner.Exec(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	dirty := []string{}
	for _, line := range strings.Split(status, "\n") {
		if len(line) > 3 {
			dirty = append(dirty, strings.TrimSpace(line[3:]))
		}
	}

	return &State{
		Branch:     strings.TrimSpace(branch),
		Commit:     commit,
		DirtyFiles: dirty,
	}, nil
}
