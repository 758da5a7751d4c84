package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/RevCBH/taskd/internal/daemon"
	"github.com/RevCBH/taskd/internal/daemon/db"
	"github.com/RevCBH/taskd/internal/task"
)

// ScheduleCreateOptions holds flags for schedule create.
type ScheduleCreateOptions struct {
	Type     string
	Cron     string
	At       string
	Timezone string
	Policy   string
	MaxRuns  int
	Expires  string
	After    string
	Priority string
	Dir      string
	Timeout  int64
}

// NewScheduleCmd creates the schedule command group.
func NewScheduleCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron and one-shot schedules",
	}

	cmd.AddCommand(
		newScheduleCreateCmd(app),
		newScheduleListCmd(app),
		newScheduleGetCmd(app),
		newScheduleCancelCmd(app),
		newSchedulePauseCmd(app),
		newScheduleResumeCmd(app),
	)
	return cmd
}

func newScheduleCreateCmd(app *App) *cobra.Command {
	var opts ScheduleCreateOptions

	cmd := &cobra.Command{
		Use:   "create <prompt>",
		Short: "Create a schedule that delegates the prompt when it fires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.CreateSchedule(args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "",
		"Schedule type (cron|one_time)")
	cmd.Flags().StringVar(&opts.Cron, "cron", "",
		"Five-field cron expression (e.g. \"0 9 * * 1-5\")")
	cmd.Flags().StringVar(&opts.At, "at", "",
		"One-shot fire time, RFC 3339 (e.g. 2026-09-01T09:00:00Z)")
	cmd.Flags().StringVar(&opts.Timezone, "timezone", "",
		"IANA timezone for cron evaluation (default UTC)")
	cmd.Flags().StringVar(&opts.Policy, "missed-run-policy", "",
		"Policy for slots missed while down (skip|catchup|fail)")
	cmd.Flags().IntVar(&opts.MaxRuns, "max-runs", 0,
		"Stop after this many runs (0 = unlimited)")
	cmd.Flags().StringVar(&opts.Expires, "expires-at", "",
		"Stop evaluating after this time, RFC 3339")
	cmd.Flags().StringVar(&opts.After, "after-schedule-id", "",
		"Gate each fire on the named schedule's latest task finishing")
	cmd.Flags().StringVarP(&opts.Priority, "priority", "p", "P2",
		"Priority band for delegated tasks")
	cmd.Flags().StringVar(&opts.Dir, "working-directory", "",
		"Working directory for delegated tasks")
	cmd.Flags().Int64Var(&opts.Timeout, "timeout", 0,
		"Timeout for delegated tasks in milliseconds (0 = no limit)")

	return cmd
}

// CreateSchedule builds the request from flags and persists the schedule.
func (a *App) CreateSchedule(prompt string, opts ScheduleCreateOptions) error {
	req := daemon.ScheduleRequest{
		Timezone:        opts.Timezone,
		MissedRunPolicy: task.MissedRunPolicy(opts.Policy),
		MaxRuns:         opts.MaxRuns,
		AfterScheduleID: opts.After,
		Template: task.TaskTemplate{
			Prompt:           prompt,
			Priority:         task.Priority(opts.Priority),
			WorkingDirectory: opts.Dir,
			TimeoutMS:        opts.Timeout,
		},
	}

	kind := task.ScheduleKind(opts.Type)
	if kind == "" {
		// The selector flags imply the type.
		switch {
		case opts.Cron != "":
			kind = task.ScheduleCron
		case opts.At != "":
			kind = task.ScheduleOneTime
		default:
			return task.NewError(task.KindInvalidInput,
				"schedule create requires --type with --cron or --at")
		}
	}
	req.Kind = kind

	switch kind {
	case task.ScheduleCron:
		if opts.Cron == "" {
			return task.NewError(task.KindInvalidInput,
				"cron schedules require --cron")
		}
		req.CronExpr = opts.Cron
	case task.ScheduleOneTime:
		if opts.At == "" {
			return task.NewError(task.KindInvalidInput,
				"one_time schedules require --at")
		}
		at, err := time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return task.NewError(task.KindInvalidInput,
				"invalid --at time %q: use RFC 3339", opts.At)
		}
		req.RunAt = at
	}

	if opts.Expires != "" {
		exp, err := time.Parse(time.RFC3339, opts.Expires)
		if err != nil {
			return task.NewError(task.KindInvalidInput,
				"invalid --expires-at time %q: use RFC 3339", opts.Expires)
		}
		req.ExpiresAt = &exp
	}

	s, cleanup, err := a.openSupervisor()
	if err != nil {
		return err
	}
	defer cleanup()

	sched, err := s.CreateSchedule(req)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "created %s", sched.ID)
	if sched.NextRunAt != nil {
		fmt.Fprintf(os.Stdout, ", first run %s",
			sched.NextRunAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintln(os.Stdout)
	return nil
}

func newScheduleListCmd(app *App) *cobra.Command {
	var status string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := app.openSupervisor()
			if err != nil {
				return err
			}
			defer cleanup()

			schedules, err := s.ListSchedules(db.ScheduleFilter{
				Status: task.ScheduleStatus(status),
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, formatScheduleTable(schedules))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "",
		"Filter by status (active|paused|completed|cancelled|failed|expired)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	return cmd
}

func newScheduleGetCmd(app *App) *cobra.Command {
	var history bool
	var historyLimit int

	cmd := &cobra.Command{
		Use:   "get <schedule-id>",
		Short: "Show one schedule, optionally with its recent executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := app.openSupervisor()
			if err != nil {
				return err
			}
			defer cleanup()

			limit := 0
			if history {
				limit = historyLimit
			}
			sched, execs, err := s.GetSchedule(args[0], limit)
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, formatScheduleDetail(sched, execs))
			return nil
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "Include recent executions")
	cmd.Flags().IntVar(&historyLimit, "history-limit", 10, "Executions to show")
	return cmd
}

func newScheduleCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <schedule-id> [reason]",
		Short: "Cancel a schedule permanently",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := app.openSupervisor()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := s.CancelSchedule(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "cancelled %s\n", args[0])
			return nil
		},
	}
}

func newSchedulePauseCmd(app *App) *cobra.Command {
	return scheduleActionCmd(app, "pause", "Suspend schedule evaluation",
		func(s *daemon.Supervisor, id string) error { return s.PauseSchedule(id) })
}

func newScheduleResumeCmd(app *App) *cobra.Command {
	return scheduleActionCmd(app, "resume", "Reactivate a paused schedule",
		func(s *daemon.Supervisor, id string) error { return s.ResumeSchedule(id) })
}

func scheduleActionCmd(app *App, verb, short string, fn func(*daemon.Supervisor, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <schedule-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := app.openSupervisor()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := fn(s, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s: %s\n", verb, args[0])
			return nil
		},
	}
}

// NewPipelineCmd creates the pipeline command: a chain of one-shot schedules
// where each stage waits for both its delay and its predecessor's task.
func NewPipelineCmd(app *App) *cobra.Command {
	var delays []time.Duration
	var priority, dir string

	cmd := &cobra.Command{
		Use:   "pipeline <prompt> [<prompt> ...]",
		Short: "Chain prompts into a staged pipeline",
		Long: `Each prompt becomes a one-shot schedule gated on the previous stage's
task finishing. The Nth --delay offsets stage N+1 from its predecessor
(e.g. taskd pipeline "migrate" "seed" --delay 5m).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunPipeline(args, delays, priority, dir)
		},
	}

	cmd.Flags().DurationSliceVar(&delays, "delay", nil,
		"Delay before the next stage (repeatable, applied in order)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "P2",
		"Priority band for all stages")
	cmd.Flags().StringVar(&dir, "working-directory", "",
		"Working directory for all stages")

	return cmd
}

// RunPipeline materializes the schedule chain. delays[i] is the gap before
// prompt i+1; the first stage fires immediately.
func (a *App) RunPipeline(prompts []string, delays []time.Duration, priority, dir string) error {
	if len(delays) > len(prompts)-1 {
		return task.NewError(task.KindInvalidInput,
			"%d delays given for %d stages; at most one per gap", len(delays), len(prompts))
	}

	stages := make([]daemon.PipelineStage, len(prompts))
	for i, prompt := range prompts {
		stages[i] = daemon.PipelineStage{Prompt: prompt}
		if i > 0 && i-1 < len(delays) {
			stages[i].Delay = delays[i-1]
		}
	}

	s, cleanup, err := a.openSupervisor()
	if err != nil {
		return err
	}
	defer cleanup()

	schedules, err := s.Pipeline(stages, task.TaskTemplate{
		Priority:         task.Priority(priority),
		WorkingDirectory: dir,
	})
	if err != nil {
		return err
	}

	for i, sched := range schedules {
		fmt.Fprintf(os.Stdout, "stage %d: %s fires %s\n", i+1, sched.ID,
			sched.NextRunAt.Local().Format(time.RFC3339))
	}
	return nil
}
