package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RevCBH/taskd/internal/daemon"
	"github.com/RevCBH/taskd/internal/task"
)

// DelegateOptions holds flags for the delegate command.
type DelegateOptions struct {
	Priority         string
	WorkingDirectory string
	UseWorktree      bool
	WorktreeCleanup  string
	MergeStrategy    string
	BranchName       string
	BaseBranch       string
	NoAutoCommit     bool
	NoPush           bool
	PRTitle          string
	PRBody           string
	TimeoutMS        int64
	MaxOutputBuffer  int64
	DependsOn        []string
	ContinueFrom     string
	Quiet            bool
}

// NewDelegateCmd creates the delegate command.
func NewDelegateCmd(app *App) *cobra.Command {
	var opts DelegateOptions

	cmd := &cobra.Command{
		Use:   "delegate <prompt>",
		Short: "Submit a prompt for an agent to execute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunDelegate(args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Priority, "priority", "p", "P2",
		"Priority band (P0|P1|P2)")
	cmd.Flags().StringVar(&opts.WorkingDirectory, "working-directory", "",
		"Working directory for the agent (absolute path)")
	cmd.Flags().BoolVar(&opts.UseWorktree, "use-worktree", false,
		"Run in an isolated git worktree")
	cmd.Flags().StringVar(&opts.WorktreeCleanup, "worktree-cleanup", "auto",
		"Worktree disposal after the task finishes (auto|keep|delete)")
	cmd.Flags().StringVar(&opts.MergeStrategy, "merge-strategy", "",
		"How worktree changes land (pr|auto|manual|patch)")
	cmd.Flags().StringVar(&opts.BranchName, "branch-name", "",
		"Worktree branch name (default derived from task id)")
	cmd.Flags().StringVar(&opts.BaseBranch, "base-branch", "",
		"Branch the worktree starts from")
	cmd.Flags().BoolVar(&opts.NoAutoCommit, "no-auto-commit", false,
		"Leave agent changes uncommitted in the worktree")
	cmd.Flags().BoolVar(&opts.NoPush, "no-push", false,
		"Do not push the worktree branch to the remote")
	cmd.Flags().StringVar(&opts.PRTitle, "pr-title", "",
		"Pull request title for the pr merge strategy")
	cmd.Flags().StringVar(&opts.PRBody, "pr-body", "",
		"Pull request body for the pr merge strategy")
	cmd.Flags().Int64Var(&opts.TimeoutMS, "timeout", 0,
		"Kill the agent after this many milliseconds (0 = no limit)")
	cmd.Flags().Int64Var(&opts.MaxOutputBuffer, "max-output-buffer", 0,
		"Per-task output capture cap in bytes (0 = default)")
	cmd.Flags().StringArrayVar(&opts.DependsOn, "depends-on", nil,
		"Task id this task waits for (repeatable)")
	cmd.Flags().StringVar(&opts.ContinueFrom, "continue-from", "",
		"Run after the named task, as a dependency")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false,
		"Print only the new task id")

	return cmd
}

// RunDelegate submits the task and prints its id.
func (a *App) RunDelegate(prompt string, opts DelegateOptions) error {
	s, cleanup, err := a.openSupervisor()
	if err != nil {
		return err
	}
	defer cleanup()

	t, err := s.Delegate(daemon.DelegateRequest{
		Prompt:           prompt,
		Priority:         task.Priority(opts.Priority),
		WorkingDirectory: opts.WorkingDirectory,
		Worktree: task.WorktreeOptions{
			Enabled:       opts.UseWorktree,
			Cleanup:       task.CleanupPolicy(opts.WorktreeCleanup),
			MergeStrategy: task.MergeStrategy(opts.MergeStrategy),
			BranchName:    opts.BranchName,
			BaseBranch:    opts.BaseBranch,
			AutoCommit:    !opts.NoAutoCommit,
			PushToRemote:  !opts.NoPush,
			PRTitle:       opts.PRTitle,
			PRBody:        opts.PRBody,
		},
		TimeoutMS:       opts.TimeoutMS,
		MaxOutputBuffer: opts.MaxOutputBuffer,
		DependsOn:       opts.DependsOn,
		ContinueFrom:    opts.ContinueFrom,
	})
	if err != nil {
		return err
	}

	if opts.Quiet {
		fmt.Fprintln(os.Stdout, t.ID)
		return nil
	}

	fmt.Fprintf(os.Stdout, "delegated %s (%s, %s)\n", t.ID, t.Priority, t.Status)
	if t.DependencyState == task.DepStateBlocked {
		fmt.Fprintf(os.Stdout, "waiting on: %s\n", joinIDs(t.DependsOn))
	}
	return nil
}
