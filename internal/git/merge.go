package git

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/RevCBH/taskd/internal/task"
)

// Outcome records how a worktree's changes landed after task completion.
type Outcome string

const (
	OutcomeMerged       Outcome = "merged"
	OutcomePRCreated    Outcome = "pr_created"
	OutcomeBranchPushed Outcome = "branch_pushed"
	OutcomePatchCreated Outcome = "patch_created"
	OutcomeError        Outcome = "error"
)

// MergeResult describes the completer's decision for one task.
type MergeResult struct {
	Outcome Outcome
	Detail  string
}

// Completer applies a task's merge strategy to its worktree branch after the
// agent finishes. A failed merge preserves the worktree for manual recovery;
// the caller must not clean up when Complete returns an error.
type Completer struct {
	// PatchDir receives format-patch output for the patch strategy
	PatchDir string

	runner Runner
	log    zerolog.Logger
}

// NewCompleter creates a completer writing patches under patchDir.
func NewCompleter(patchDir string, runner Runner, log zerolog.Logger) *Completer {
	if runner == nil {
		runner = NewRunner()
	}
	return &Completer{PatchDir: patchDir, runner: runner, log: log}
}

// Complete commits outstanding work when auto-commit is on, then applies the
// task's merge strategy. repoRoot is the main repository the worktree was
// created from.
func (c *Completer) Complete(ctx context.Context, t task.Task, wt *Worktree, repoRoot string) (MergeResult, error) {
	if t.Worktree.AutoCommit {
		if err := c.commitOutstanding(ctx, t, wt.Path); err != nil {
			return MergeResult{Outcome: OutcomeError}, err
		}
	}

	baseBranch := t.Worktree.BaseBranch
	if baseBranch == "" {
		baseBranch = "main"
	}

	switch t.Worktree.MergeStrategy {
	case task.MergeAuto:
		return c.mergeAuto(ctx, wt, repoRoot, baseBranch)
	case task.MergePR:
		return c.pushForPR(ctx, t, wt)
	case task.MergePatch:
		return c.createPatch(ctx, wt, repoRoot, baseBranch)
	case task.MergeManual:
		if t.Worktree.PushToRemote {
			if _, err := c.runner.Exec(ctx, wt.Path, "push", "-u", "origin", wt.Branch); err != nil {
				return MergeResult{Outcome: OutcomeError}, err
			}
			return MergeResult{Outcome: OutcomeBranchPushed, Detail: wt.Branch}, nil
		}
		// Manual strategy without push leaves the branch where it is.
		return MergeResult{Outcome: OutcomeBranchPushed, Detail: "local branch " + wt.Branch}, nil
	default:
		return MergeResult{}, task.NewError(task.KindInvalidOperation,
			"unknown merge strategy %q", t.Worktree.MergeStrategy)
	}
}

// commitOutstanding stages and commits dirty files in the worktree. A clean
// tree is not an error.
func (c *Completer) commitOutstanding(ctx context.Context, t task.Task, worktreePath string) error {
	status, err := c.runner.Exec(ctx, worktreePath, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("failed to check worktree status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}

	if _, err := c.runner.Exec(ctx, worktreePath, "add", "-A"); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}
	message := fmt.Sprintf("taskd: %s", firstLine(t.Prompt))
	if _, err := c.runner.Exec(ctx, worktreePath, "commit", "-m", message); err != nil {
		return fmt.Errorf("failed to commit changes: %w", err)
	}
	return nil
}

// mergeAuto merges the worktree branch into the base branch with a merge
// commit, then deletes the branch.
func (c *Completer) mergeAuto(ctx context.Context, wt *Worktree, repoRoot, baseBranch string) (MergeResult, error) {
	if _, err := c.runner.Exec(ctx, repoRoot, "checkout", baseBranch); err != nil {
		return MergeResult{Outcome: OutcomeError}, err
	}
	if _, err := c.runner.Exec(ctx, repoRoot, "merge", "--no-ff", wt.Branch); err != nil {
		// Leave the repository for the operator to resolve; abort the
		// half-applied merge so the base branch stays usable.
		if _, abortErr := c.runner.Exec(ctx, repoRoot, "merge", "--abort"); abortErr != nil {
			c.log.Warn().Err(abortErr).Msg("merge abort failed")
		}
		return MergeResult{Outcome: OutcomeError}, fmt.Errorf("merge of %s into %s failed: %w", wt.Branch, baseBranch, err)
	}
	if _, err := c.runner.Exec(ctx, repoRoot, "branch", "-D", wt.Branch); err != nil {
		c.log.Warn().Err(err).Str("branch", wt.Branch).Msg("failed to delete merged branch")
	}
	return MergeResult{Outcome: OutcomeMerged, Detail: wt.Branch + " -> " + baseBranch}, nil
}

// pushForPR publishes the branch so the external PR collaborator can open a
// pull request against it.
func (c *Completer) pushForPR(ctx context.Context, t task.Task, wt *Worktree) (MergeResult, error) {
	if _, err := c.runner.Exec(ctx, wt.Path, "push", "-u", "origin", wt.Branch); err != nil {
		return MergeResult{Outcome: OutcomeError}, err
	}
	detail := wt.Branch
	if t.Worktree.PRTitle != "" {
		detail = fmt.Sprintf("%s (%s)", wt.Branch, t.Worktree.PRTitle)
	}
	return MergeResult{Outcome: OutcomePRCreated, Detail: detail}, nil
}

// createPatch writes the branch's commits as patch files under PatchDir.
func (c *Completer) createPatch(ctx context.Context, wt *Worktree, repoRoot, baseBranch string) (MergeResult, error) {
	if err := os.MkdirAll(c.PatchDir, 0o755); err != nil {
		return MergeResult{Outcome: OutcomeError}, fmt.Errorf("failed to create patch directory: %w", err)
	}
	out, err := c.runner.Exec(ctx, repoRoot, "format-patch",
		baseBranch+".."+wt.Branch, "-o", c.PatchDir)
	if err != nil {
		return MergeResult{Outcome: OutcomeError}, err
	}
	return MergeResult{Outcome: OutcomePatchCreated, Detail: strings.TrimSpace(out)}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 72 {
		s = s[:72]
	}
	return s
}
