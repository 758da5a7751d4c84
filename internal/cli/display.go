package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/RevCBH/taskd/internal/task"
)

// formatTaskTable renders a page of tasks as a fixed-width table.
func formatTaskTable(tasks []*task.Task) string {
	if len(tasks) == 0 {
		return "no tasks\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-4s %-10s %-9s %-20s %s\n",
		"ID", "PRI", "STATUS", "DURATION", "CREATED", "PROMPT")

	for _, t := range tasks {
		fmt.Fprintf(&b, "%-24s %-4s %-10s %-9s %-20s %s\n",
			t.ID,
			t.Priority,
			string(t.Status),
			formatTaskDuration(t),
			t.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(t.Prompt, 48),
		)
	}
	return b.String()
}

// formatTaskDetail renders one task with every recorded field that has a
// value.
func formatTaskDetail(t *task.Task) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task:      %s\n", t.ID)
	fmt.Fprintf(&b, "Status:    %s\n", t.Status)
	fmt.Fprintf(&b, "Priority:  %s\n", t.Priority)
	fmt.Fprintf(&b, "Prompt:    %s\n", t.Prompt)
	fmt.Fprintf(&b, "Created:   %s\n", t.CreatedAt.Local().Format(time.RFC3339))

	if t.StartedAt != nil {
		fmt.Fprintf(&b, "Started:   %s\n", t.StartedAt.Local().Format(time.RFC3339))
	}
	if t.CompletedAt != nil {
		fmt.Fprintf(&b, "Finished:  %s\n", t.CompletedAt.Local().Format(time.RFC3339))
	}
	if d := formatTaskDuration(t); d != "-" {
		fmt.Fprintf(&b, "Duration:  %s\n", d)
	}
	if t.WorkingDirectory != "" {
		fmt.Fprintf(&b, "Directory: %s\n", t.WorkingDirectory)
	}
	if t.WorktreePath != "" {
		fmt.Fprintf(&b, "Worktree:  %s (%s)\n", t.WorktreePath, t.WorktreeBranch)
	}
	if len(t.DependsOn) > 0 {
		fmt.Fprintf(&b, "Depends:   %s", joinIDs(t.DependsOn))
		if t.DependencyState == task.DepStateBlocked {
			b.WriteString(" (blocked)")
		}
		b.WriteString("\n")
	}
	if t.RetryOf != "" {
		fmt.Fprintf(&b, "Retry of:  %s (attempt %d)\n", t.RetryOf, t.RetryCount)
	}
	if t.WorkerID != "" {
		fmt.Fprintf(&b, "Worker:    %s\n", t.WorkerID)
	}
	if t.ExitCode != nil {
		fmt.Fprintf(&b, "Exit code: %d\n", *t.ExitCode)
	}
	if t.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error:     %s", t.ErrorMessage)
		if t.ErrorKind != "" {
			fmt.Fprintf(&b, " [%s]", t.ErrorKind)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// formatScheduleTable renders schedules as a fixed-width table.
func formatScheduleTable(schedules []*task.Schedule) string {
	if len(schedules) == 0 {
		return "no schedules\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-28s %-9s %-10s %-5s %-20s %s\n",
		"ID", "KIND", "STATUS", "RUNS", "NEXT RUN", "PROMPT")

	for _, s := range schedules {
		next := "-"
		if s.NextRunAt != nil {
			next = s.NextRunAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(&b, "%-28s %-9s %-10s %-5d %-20s %s\n",
			s.ID, s.Kind, s.Status, s.RunCount, next, truncate(s.Template.Prompt, 40))
	}
	return b.String()
}

// formatScheduleDetail renders one schedule with its recent executions.
func formatScheduleDetail(s *task.Schedule, history []task.ScheduleExecution) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Schedule:  %s\n", s.ID)
	fmt.Fprintf(&b, "Kind:      %s\n", s.Kind)
	fmt.Fprintf(&b, "Status:    %s\n", s.Status)
	if s.CronExpr != "" {
		fmt.Fprintf(&b, "Cron:      %s (%s)\n", s.CronExpr, s.Timezone)
		fmt.Fprintf(&b, "Policy:    %s\n", s.MissedRunPolicy)
	}
	if s.Kind == task.ScheduleOneTime {
		fmt.Fprintf(&b, "Fires at:  %s\n",
			time.UnixMilli(s.RunAtMS).Local().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Prompt:    %s\n", s.Template.Prompt)
	fmt.Fprintf(&b, "Runs:      %d", s.RunCount)
	if s.MaxRuns > 0 {
		fmt.Fprintf(&b, "/%d", s.MaxRuns)
	}
	b.WriteString("\n")
	if s.NextRunAt != nil {
		fmt.Fprintf(&b, "Next run:  %s\n", s.NextRunAt.Local().Format(time.RFC3339))
	}
	if s.ExpiresAt != nil {
		fmt.Fprintf(&b, "Expires:   %s\n", s.ExpiresAt.Local().Format(time.RFC3339))
	}
	if s.AfterScheduleID != "" {
		fmt.Fprintf(&b, "After:     %s\n", s.AfterScheduleID)
	}

	if len(history) > 0 {
		b.WriteString("\nRecent executions:\n")
		for _, ex := range history {
			fmt.Fprintf(&b, "  slot %s  ran %s  task %s\n",
				ex.ScheduledAt.Local().Format("2006-01-02 15:04:05"),
				ex.ExecutedAt.Local().Format("15:04:05"),
				ex.TaskID)
		}
	}
	return b.String()
}

// formatTaskDuration returns running or total elapsed time, or "-" when the
// task has not started.
func formatTaskDuration(t *task.Task) string {
	if t.StartedAt == nil {
		return "-"
	}
	end := time.Now()
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	return end.Sub(*t.StartedAt).Round(time.Second).String()
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ", ")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
