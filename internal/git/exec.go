package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes git commands. The OS runner shells out to the git binary;
// tests substitute a scripted implementation.
type Runner interface {
	Exec(ctx context.Context, dir string, args ...string) (string, error)
}

// osRunner executes real git commands via exec.CommandContext.
type osRunner struct{}

func (osRunner) Exec(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %w\nstderr: %s",
			strings.Join(args, " "), err, stderr.String())
	}

	return stdout.String(), nil
}

// NewRunner returns the OS-backed runner.
func NewRunner() Runner {
	return osRunner{}
}

// RepoRoot resolves the repository root containing dir.
func RepoRoot(ctx context.Context, runner Runner, dir string) (string, error) {
	out, err := runner.Exec(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("failed to resolve repository root for %s: %w", dir, err)
	}
	return strings.TrimSpace(out), nil
}

// IsRepository reports whether dir is inside a git work tree.
func IsRepository(ctx context.Context, runner Runner, dir string) bool {
	out, err := runner.Exec(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}
