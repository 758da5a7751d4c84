package daemon

import (
	"time"

	"github.com/RevCBH/taskd/internal/daemon/db"
	"github.com/RevCBH/taskd/internal/scheduler"
	"github.com/RevCBH/taskd/internal/task"
)

// ScheduleRequest is the client-facing shape of a new schedule.
type ScheduleRequest struct {
	Kind            task.ScheduleKind
	CronExpr        string
	RunAt           time.Time // one-shot fire time
	Timezone        string
	MissedRunPolicy task.MissedRunPolicy
	MaxRuns         int
	ExpiresAt       *time.Time
	AfterScheduleID string
	Template        task.TaskTemplate
}

// CreateSchedule validates and persists a schedule, computing its first
// next-run slot.
func (s *Supervisor) CreateSchedule(req ScheduleRequest) (*task.Schedule, error) {
	if req.Template.Prompt == "" {
		return nil, task.NewError(task.KindInvalidInput, "schedule prompt must not be empty")
	}
	if req.Template.Priority == "" {
		req.Template.Priority = task.PriorityNormal
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if req.MissedRunPolicy == "" {
		req.MissedRunPolicy = task.MissedRunSkip
	}

	now := time.Now()
	sched := task.Schedule{
		ID:              task.NewScheduleID(),
		Kind:            req.Kind,
		Timezone:        req.Timezone,
		MissedRunPolicy: req.MissedRunPolicy,
		Status:          task.ScheduleActive,
		MaxRuns:         req.MaxRuns,
		ExpiresAt:       req.ExpiresAt,
		AfterScheduleID: req.AfterScheduleID,
		Template:        req.Template,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	switch req.Kind {
	case task.ScheduleCron:
		if err := scheduler.ValidateCron(req.CronExpr, req.Timezone); err != nil {
			return nil, err
		}
		sched.CronExpr = req.CronExpr
		next, err := scheduler.NextCron(req.CronExpr, req.Timezone, now)
		if err != nil {
			return nil, err
		}
		sched.NextRunAt = &next

	case task.ScheduleOneTime:
		if req.RunAt.IsZero() {
			return nil, task.NewError(task.KindInvalidInput, "one-shot schedule requires a fire time")
		}
		runAt := req.RunAt
		sched.RunAtMS = runAt.UnixMilli()
		sched.NextRunAt = &runAt

	default:
		return nil, task.NewError(task.KindInvalidInput, "invalid schedule kind %q", req.Kind)
	}

	if req.AfterScheduleID != "" {
		pred, err := s.store.FindScheduleByID(req.AfterScheduleID)
		if err != nil {
			return nil, err
		}
		if pred == nil {
			return nil, task.NewError(task.KindTaskNotFound,
				"schedule %s not found", req.AfterScheduleID)
		}
	}

	if err := s.store.SaveSchedule(sched); err != nil {
		return nil, task.WrapError(task.KindSystemError, err, "failed to persist schedule")
	}

	s.log.Info().Str("schedule_id", sched.ID).Str("kind", string(sched.Kind)).
		Time("next_run", *sched.NextRunAt).Msg("schedule created")
	return &sched, nil
}

// GetSchedule returns one schedule, optionally with its execution history.
func (s *Supervisor) GetSchedule(id string, historyLimit int) (*task.Schedule, []task.ScheduleExecution, error) {
	sched, err := s.store.FindScheduleByID(id)
	if err != nil {
		return nil, nil, err
	}
	if sched == nil {
		return nil, nil, task.NewError(task.KindTaskNotFound, "schedule %s not found", id)
	}

	var history []task.ScheduleExecution
	if historyLimit > 0 {
		history, err = s.store.ListScheduleExecutions(id, historyLimit)
		if err != nil {
			return nil, nil, err
		}
	}
	return sched, history, nil
}

// ListSchedules pages through schedules, optionally filtered by status.
func (s *Supervisor) ListSchedules(filter db.ScheduleFilter) ([]*task.Schedule, error) {
	return s.store.ListSchedules(filter)
}

// CancelSchedule stops a schedule permanently.
func (s *Supervisor) CancelSchedule(id string) error {
	return s.setScheduleStatus(id, task.ScheduleCancelled,
		task.ScheduleActive, task.SchedulePaused)
}

// PauseSchedule suspends evaluation; ResumeSchedule undoes it.
func (s *Supervisor) PauseSchedule(id string) error {
	return s.setScheduleStatus(id, task.SchedulePaused, task.ScheduleActive)
}

// ResumeSchedule reactivates a paused schedule. Cron schedules get their
// next-run slot recomputed from now, so slots missed while paused are not
// treated as missed runs.
func (s *Supervisor) ResumeSchedule(id string) error {
	if err := s.setScheduleStatus(id, task.ScheduleActive, task.SchedulePaused); err != nil {
		return err
	}

	sched, err := s.store.FindScheduleByID(id)
	if err != nil || sched == nil || sched.Kind != task.ScheduleCron {
		return err
	}
	next, err := scheduler.NextCron(sched.CronExpr, sched.Timezone, time.Now())
	if err != nil {
		return err
	}
	return s.store.UpdateSchedule(id, db.SchedulePatch{NextRunAt: &next})
}

// setScheduleStatus transitions a schedule, enforcing the allowed source
// states.
func (s *Supervisor) setScheduleStatus(id string, to task.ScheduleStatus, from ...task.ScheduleStatus) error {
	sched, err := s.store.FindScheduleByID(id)
	if err != nil {
		return err
	}
	if sched == nil {
		return task.NewError(task.KindTaskNotFound, "schedule %s not found", id)
	}

	allowed := false
	for _, f := range from {
		if sched.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return task.NewError(task.KindInvalidOperation,
			"cannot move schedule %s from %s to %s", id, sched.Status, to)
	}

	if err := s.store.UpdateSchedule(id, db.SchedulePatch{Status: &to}); err != nil {
		return err
	}
	s.log.Info().Str("schedule_id", id).Str("status", string(to)).Msg("schedule status changed")
	return nil
}

// PipelineStage is one step of a pipeline: a prompt fired after the
// accumulated delay.
type PipelineStage struct {
	Prompt string
	Delay  time.Duration // relative to the previous stage
}

// Pipeline materializes a chain of one-shot schedules. Stage fire times
// accumulate the delays; each stage after the first is gated on its
// predecessor via AfterScheduleID.
func (s *Supervisor) Pipeline(stages []PipelineStage, tmpl task.TaskTemplate) ([]*task.Schedule, error) {
	if len(stages) == 0 {
		return nil, task.NewError(task.KindInvalidInput, "pipeline requires at least one stage")
	}

	now := time.Now()
	at := now
	prevID := ""
	var out []*task.Schedule

	for _, stage := range stages {
		at = at.Add(stage.Delay)

		stageTmpl := tmpl
		stageTmpl.Prompt = stage.Prompt

		sched, err := s.CreateSchedule(ScheduleRequest{
			Kind:            task.ScheduleOneTime,
			RunAt:           at,
			AfterScheduleID: prevID,
			Template:        stageTmpl,
		})
		if err != nil {
			return out, err
		}
		out = append(out, sched)
		prevID = sched.ID
	}
	return out, nil
}
