package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/RevCBH/taskd/internal/task"
)

// parseCron parses a standard 5-field expression and resolves the schedule's
// timezone. Day-of-month and day-of-week follow POSIX OR semantics when both
// are restricted, which is what the standard parser implements.
func parseCron(expr, timezone string) (cron.Schedule, *time.Location, error) {
	spec, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, nil, err
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return spec, loc, nil
}

// ValidateCron checks an expression and timezone without scheduling
// anything. The CLI runs it before persisting a schedule.
func ValidateCron(expr, timezone string) error {
	if _, _, err := parseCron(expr, timezone); err != nil {
		return task.WrapError(task.KindInvalidInput, err, "invalid cron expression %q", expr)
	}
	return nil
}

// NextCron returns the first fire time strictly after the given instant.
func NextCron(expr, timezone string, after time.Time) (time.Time, error) {
	spec, loc, err := parseCron(expr, timezone)
	if err != nil {
		return time.Time{}, task.WrapError(task.KindInvalidInput, err, "invalid cron expression %q", expr)
	}
	return spec.Next(after.In(loc)), nil
}
