// Package scheduler materializes cron and one-shot schedules into tasks.
// A single ticker loads active schedules from the store, fires the due ones
// through the normal delegation path, and advances their next-run slots.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/RevCBH/taskd/internal/daemon/db"
	"github.com/RevCBH/taskd/internal/task"
)

// DelegateFunc submits a materialized task template through the delegation
// path and returns the new task's id. Dependency resolution, admission, and
// persistence all apply as if a client had delegated it.
type DelegateFunc func(tmpl task.TaskTemplate, scheduleID string) (string, error)

// Config configures the scheduler.
type Config struct {
	// TickInterval drives schedule evaluation. Zero selects 30 seconds.
	TickInterval time.Duration

	// MaxCatchupRuns caps how many missed slots the catchup policy will
	// backfill in one evaluation. Zero selects 100.
	MaxCatchupRuns int

	// Now overrides the clock; nil selects time.Now.
	Now func() time.Time

	Logger zerolog.Logger
}

// Scheduler drives cron/one-shot schedule evaluation.
type Scheduler struct {
	store      *db.Store
	delegate   DelegateFunc
	interval   time.Duration
	maxCatchup int
	now        func() time.Time
	log        zerolog.Logger

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a scheduler. It does not start ticking; call Start.
func New(store *db.Store, delegate DelegateFunc, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.MaxCatchupRuns <= 0 {
		cfg.MaxCatchupRuns = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		store:      store,
		delegate:   delegate,
		interval:   cfg.TickInterval,
		maxCatchup: cfg.MaxCatchupRuns,
		now:        cfg.Now,
		log:        cfg.Logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the tick loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Evaluate(s.now())
		case <-s.stop:
			return
		}
	}
}

// Stop halts the tick loop. Idempotent; the container stops the scheduler
// before the pool so no timer fires against closed resources.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)

		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			<-s.done
		}
	})
}

// Evaluate runs one evaluation pass at the given instant. Exported so tests
// and the serve loop can tick deterministically.
func (s *Scheduler) Evaluate(now time.Time) {
	schedules, err := s.store.ListActiveSchedules()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load schedules")
		return
	}

	for _, sched := range schedules {
		if err := s.evaluateOne(sched, now); err != nil {
			s.log.Error().Err(err).Str("schedule_id", sched.ID).
				Msg("schedule evaluation failed")
		}
	}
}

func (s *Scheduler) evaluateOne(sched *task.Schedule, now time.Time) error {
	if sched.NextRunAt == nil || sched.NextRunAt.After(now) {
		return nil
	}

	// Chained schedules wait until the predecessor's latest task reached
	// a terminal state.
	if sched.AfterScheduleID != "" {
		ready, err := s.predecessorSettled(sched.AfterScheduleID)
		if err != nil {
			return err
		}
		if !ready {
			s.log.Debug().Str("schedule_id", sched.ID).
				Str("after", sched.AfterScheduleID).Msg("deferring chained schedule")
			return nil
		}
	}

	if sched.Kind == task.ScheduleOneTime {
		return s.fireOneShot(sched, now)
	}
	return s.fireCron(sched, now)
}

// predecessorSettled reports whether the named schedule's most recent task
// is terminal. A predecessor that never fired defers the chain.
func (s *Scheduler) predecessorSettled(scheduleID string) (bool, error) {
	taskID, err := s.store.LatestExecutionTask(scheduleID)
	if err != nil {
		return false, err
	}
	if taskID == "" {
		return false, nil
	}
	t, err := s.store.FindTaskByID(taskID)
	if err != nil {
		return false, err
	}
	if t == nil {
		// Task row deleted out from under the chain; treat as settled
		// rather than wedging the successor forever.
		return true, nil
	}
	return t.Status.IsTerminal(), nil
}

func (s *Scheduler) fireOneShot(sched *task.Schedule, now time.Time) error {
	if err := s.fire(sched, *sched.NextRunAt, now); err != nil {
		return err
	}

	completed := task.ScheduleCompleted
	runs := sched.RunCount + 1
	slot := *sched.NextRunAt
	return s.store.UpdateSchedule(sched.ID, db.SchedulePatch{
		Status:    &completed,
		RunCount:  &runs,
		LastRunAt: &slot,
	})
}

func (s *Scheduler) fireCron(sched *task.Schedule, now time.Time) error {
	spec, loc, err := parseCron(sched.CronExpr, sched.Timezone)
	if err != nil {
		failed := task.ScheduleFailed
		if uerr := s.store.UpdateSchedule(sched.ID, db.SchedulePatch{Status: &failed}); uerr != nil {
			return uerr
		}
		return fmt.Errorf("invalid cron expression %q: %w", sched.CronExpr, err)
	}

	slots := s.dueSlots(spec, loc, *sched.NextRunAt, now)
	if len(slots) == 0 {
		return nil
	}
	missed := len(slots) - 1

	var toFire []time.Time
	switch sched.MissedRunPolicy {
	case task.MissedRunCatchup:
		toFire = slots
		if len(toFire) > s.maxCatchup {
			s.log.Warn().Str("schedule_id", sched.ID).
				Int("missed", missed).Int("cap", s.maxCatchup).
				Msg("catchup backlog exceeds cap, dropping oldest slots")
			toFire = toFire[len(toFire)-s.maxCatchup:]
		}
	case task.MissedRunFail:
		if missed > 0 {
			failed := task.ScheduleFailed
			s.log.Warn().Str("schedule_id", sched.ID).Int("missed", missed).
				Msg("schedule missed runs, failing per policy")
			return s.store.UpdateSchedule(sched.ID, db.SchedulePatch{Status: &failed})
		}
		toFire = slots
	default: // skip
		if missed > 0 {
			s.log.Info().Str("schedule_id", sched.ID).Int("missed", missed).
				Msg("skipping missed runs per policy")
			next := spec.Next(now.In(loc))
			return s.store.UpdateSchedule(sched.ID, db.SchedulePatch{NextRunAt: &next})
		}
		toFire = slots
	}

	fired := 0
	var lastSlot time.Time
	for _, slot := range toFire {
		if err := s.fire(sched, slot, now); err != nil {
			s.log.Error().Err(err).Str("schedule_id", sched.ID).
				Time("slot", slot).Msg("failed to fire schedule slot")
			break
		}
		fired++
		lastSlot = slot
	}
	if fired == 0 {
		return nil
	}

	runs := sched.RunCount + fired
	next := spec.Next(now.In(loc))
	patch := db.SchedulePatch{
		RunCount:  &runs,
		LastRunAt: &lastSlot,
		NextRunAt: &next,
	}

	if sched.MaxRuns > 0 && runs >= sched.MaxRuns {
		completed := task.ScheduleCompleted
		patch.Status = &completed
	} else if sched.ExpiresAt != nil && !now.Before(*sched.ExpiresAt) {
		expired := task.ScheduleExpired
		patch.Status = &expired
	}

	return s.store.UpdateSchedule(sched.ID, patch)
}

// dueSlots collects the slots from the stored next-run time up to now,
// bounded so a pathological backlog cannot spin the loop.
func (s *Scheduler) dueSlots(spec cron.Schedule, loc *time.Location, from, now time.Time) []time.Time {
	var slots []time.Time
	limit := s.maxCatchup + 1

	t := from.In(loc)
	for !t.After(now) {
		slots = append(slots, t)
		if len(slots) > limit {
			slots = slots[1:] // keep the newest; older ones are beyond any policy's reach
		}
		t = spec.Next(t)
	}
	return slots
}

// fire materializes one run: delegate the template, then record the
// execution row.
func (s *Scheduler) fire(sched *task.Schedule, slot, now time.Time) error {
	taskID, err := s.delegate(sched.Template, sched.ID)
	if err != nil {
		return fmt.Errorf("failed to delegate scheduled task: %w", err)
	}

	s.log.Info().Str("schedule_id", sched.ID).Str("task_id", taskID).
		Time("slot", slot).Msg("schedule fired")

	return s.store.AppendScheduleExecution(task.ScheduleExecution{
		ID:          ulid.Make().String(),
		ScheduleID:  sched.ID,
		TaskID:      taskID,
		ScheduledAt: slot,
		ExecutedAt:  now,
	})
}
