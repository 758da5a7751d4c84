package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RevCBH/taskd/internal/git"
	"github.com/RevCBH/taskd/internal/logging"
	"github.com/RevCBH/taskd/internal/task"
)

// NewWorktreeCmd creates the worktree command group.
func NewWorktreeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Inspect and clean up task worktrees",
	}

	cmd.AddCommand(
		newWorktreeListCmd(app),
		newWorktreeStatusCmd(app),
		newWorktreeCleanupCmd(app),
	)
	return cmd
}

// worktreeManager builds a manager rooted at the configured base dir.
func (a *App) worktreeManager() (*git.Manager, string, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, "", err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", task.WrapError(task.KindSystemError, err,
			"failed to resolve working directory")
	}
	root, err := git.RepoRoot(context.Background(), git.NewRunner(), cwd)
	if err != nil {
		return nil, "", task.WrapError(task.KindInvalidDirectory, err,
			"not inside a git repository")
	}

	mgr := git.NewManager(cfg.Worktree.BaseDir, git.NewRunner(),
		logging.WithComponent("worktree"))
	return mgr, root, nil
}

func newWorktreeListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List worktrees registered under the current repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, root, err := app.worktreeManager()
			if err != nil {
				return err
			}

			worktrees, err := mgr.List(cmd.Context(), root)
			if err != nil {
				return err
			}
			if len(worktrees) == 0 {
				fmt.Fprintln(os.Stdout, "no worktrees")
				return nil
			}
			for _, wt := range worktrees {
				fmt.Fprintf(os.Stdout, "%-50s %s\n", wt.Path, wt.Branch)
			}
			return nil
		},
	}
}

func newWorktreeStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status <path-or-task-id>",
		Short: "Show branch, commit, and dirty files for a worktree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.ShowWorktreeStatus(cmd.Context(), args[0])
		},
	}
}

// ShowWorktreeStatus resolves the argument as a path or a task id and prints
// the git state.
func (a *App) ShowWorktreeStatus(ctx context.Context, arg string) error {
	dir := arg
	if _, err := os.Stat(arg); err != nil {
		// Not a path; try it as a task id.
		s, cleanup, serr := a.openSupervisor()
		if serr != nil {
			return serr
		}
		t, terr := s.Status(arg)
		cleanup()
		if terr != nil {
			return terr
		}
		if t.WorktreePath == "" {
			return task.NewError(task.KindInvalidOperation,
				"task %s has no worktree", arg)
		}
		dir = t.WorktreePath
	}

	state, err := git.Snapshot(ctx, git.NewRunner(), dir)
	if err != nil {
		return err
	}
	if state == nil {
		return task.NewError(task.KindInvalidDirectory,
			"%s is not inside a repository", dir)
	}

	fmt.Fprintf(os.Stdout, "Branch:  %s\n", state.Branch)
	fmt.Fprintf(os.Stdout, "Commit:  %s\n", state.Commit)
	if len(state.DirtyFiles) == 0 {
		fmt.Fprintln(os.Stdout, "Clean working tree")
		return nil
	}
	fmt.Fprintf(os.Stdout, "Dirty files (%d):\n", len(state.DirtyFiles))
	for _, f := range state.DirtyFiles {
		fmt.Fprintf(os.Stdout, "  %s\n", f)
	}
	return nil
}

func newWorktreeCleanupCmd(app *App) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "cleanup [path]",
		Short: "Remove a worktree, or prune stale registrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, root, err := app.worktreeManager()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				if err := mgr.Remove(cmd.Context(), root, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "removed %s\n", args[0])
				return nil
			}
			if !all {
				return task.NewError(task.KindInvalidInput,
					"cleanup requires a path, or --all to prune stale registrations")
			}
			if err := mgr.Prune(cmd.Context(), root); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "pruned stale worktree registrations")
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Prune every stale registration")
	return cmd
}
