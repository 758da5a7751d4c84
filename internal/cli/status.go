package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	Limit  int
	Offset int
	JSON   bool
}

// NewStatusCmd creates the status command.
func NewStatusCmd(app *App) *cobra.Command {
	var opts StatusOptions

	cmd := &cobra.Command{
		Use:   "status [task-id]",
		Short: "Show one task or a page of recent tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) > 0 {
				id = args[0]
			}
			return app.ShowStatus(id, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "Page size when listing")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Page offset when listing")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output as JSON")

	return cmd
}

// ShowStatus prints one task in detail or a page of tasks as a table.
func (a *App) ShowStatus(taskID string, opts StatusOptions) error {
	s, cleanup, err := a.openSupervisor()
	if err != nil {
		return err
	}
	defer cleanup()

	if taskID != "" {
		t, err := s.Status(taskID)
		if err != nil {
			return err
		}
		if opts.JSON {
			return outputJSON(os.Stdout, t)
		}
		fmt.Fprint(os.Stdout, formatTaskDetail(t))
		return nil
	}

	tasks, err := s.StatusPage(opts.Limit, opts.Offset)
	if err != nil {
		return err
	}
	if opts.JSON {
		return outputJSON(os.Stdout, tasks)
	}
	fmt.Fprint(os.Stdout, formatTaskTable(tasks))
	return nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewLogsCmd creates the logs command.
func NewLogsCmd(app *App) *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Print the tail of a task's captured output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.ShowLogs(args[0], tail)
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 100, "Number of trailing lines (0 = all)")
	return cmd
}

// ShowLogs prints a task's log tail.
func (a *App) ShowLogs(taskID string, tail int) error {
	s, cleanup, err := a.openSupervisor()
	if err != nil {
		return err
	}
	defer cleanup()

	// Verify the task exists so a typo'd id errors instead of printing
	// nothing.
	if _, err := s.Status(taskID); err != nil {
		return err
	}

	lines, err := s.TailLogs(taskID, tail)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		fmt.Fprintln(os.Stderr, "no output captured")
		return nil
	}
	for _, line := range lines {
		fmt.Fprintln(os.Stdout, line)
	}
	return nil
}

// NewCancelCmd creates the cancel command.
func NewCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id> [reason]",
		Short: "Cancel a queued or running task",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason := ""
			if len(args) > 1 {
				reason = args[1]
			}

			s, cleanup, err := app.openSupervisor()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := s.Cancel(args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

// NewRetryCmd creates the retry command.
func NewRetryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Re-run a finished task with its original prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := app.openSupervisor()
			if err != nil {
				return err
			}
			defer cleanup()

			t, err := s.Retry(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "retrying %s as %s (attempt %d)\n",
				args[0], t.ID, t.RetryCount)
			return nil
		},
	}
}

// NewResumeCmd creates the resume command.
func NewResumeCmd(app *App) *cobra.Command {
	var extraContext string

	cmd := &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Re-run a finished task with checkpoint context in the prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := app.openSupervisor()
			if err != nil {
				return err
			}
			defer cleanup()

			t, err := s.Resume(args[0], extraContext)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "resuming %s as %s\n", args[0], t.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&extraContext, "context", "",
		"Extra guidance appended to the resume prompt")
	return cmd
}
