package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevCBH/taskd/internal/daemon/db"
	"github.com/RevCBH/taskd/internal/events"
	"github.com/RevCBH/taskd/internal/graph"
	"github.com/RevCBH/taskd/internal/logging"
	"github.com/RevCBH/taskd/internal/queue"
	"github.com/RevCBH/taskd/internal/task"
	"github.com/RevCBH/taskd/internal/testutil"
)

// newTestSupervisor builds a client-mode supervisor (no pool, no monitor)
// over a fresh store.
func newTestSupervisor(t *testing.T) (*Supervisor, *db.Store, *queue.Queue) {
	t.Helper()
	store := testutil.OpenTestStore(t)
	bus := events.NewBus(events.Options{Logger: logging.Nop()})
	t.Cleanup(bus.Dispose)
	q := queue.New(0)

	s, err := New(Config{LogDir: t.TempDir()}, store, bus, q, graph.New(),
		nil, nil, nil, nil, logging.Nop())
	require.NoError(t, err)
	return s, store, q
}

func delegateSimple(t *testing.T, s *Supervisor, prompt string) *task.Task {
	t.Helper()
	created, err := s.Delegate(DelegateRequest{Prompt: prompt})
	require.NoError(t, err)
	return created
}

func markTerminal(t *testing.T, store *db.Store, id string, status task.Status) {
	t.Helper()
	now := time.Now()
	require.NoError(t, store.UpdateTask(id, db.TaskPatch{Status: &status, CompletedAt: &now}))
}

func TestDelegatePersistsAndEnqueues(t *testing.T) {
	s, store, q := newTestSupervisor(t)

	created := delegateSimple(t, s, "build the thing")

	saved, err := store.FindTaskByID(created.ID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, task.StatusQueued, saved.Status)
	assert.Equal(t, task.PriorityNormal, saved.Priority)
	assert.True(t, q.Contains(created.ID))
}

func TestDelegateValidation(t *testing.T) {
	s, _, _ := newTestSupervisor(t)

	_, err := s.Delegate(DelegateRequest{Prompt: "   "})
	assert.Equal(t, task.KindInvalidInput, task.KindOf(err))

	_, err = s.Delegate(DelegateRequest{Prompt: "x", WorkingDirectory: "relative/path"})
	assert.Equal(t, task.KindInvalidDirectory, task.KindOf(err))

	_, err = s.Delegate(DelegateRequest{Prompt: "x", TimeoutMS: 10}) // below 1s
	assert.Equal(t, task.KindInvalidInput, task.KindOf(err))

	_, err = s.Delegate(DelegateRequest{Prompt: "x", DependsOn: []string{"task-missing"}})
	assert.Equal(t, task.KindTaskNotFound, task.KindOf(err))
}

func TestDelegateBlockedOnPendingDependency(t *testing.T) {
	s, store, q := newTestSupervisor(t)

	dep := delegateSimple(t, s, "first")
	child, err := s.Delegate(DelegateRequest{Prompt: "second", DependsOn: []string{dep.ID}})
	require.NoError(t, err)

	assert.False(t, q.Contains(child.ID))
	saved, err := store.FindTaskByID(child.ID)
	require.NoError(t, err)
	assert.Equal(t, task.DepStateBlocked, saved.DependencyState)
	assert.Equal(t, []string{dep.ID}, saved.DependsOn)
}

func TestContinueFromFoldedIntoDependsOn(t *testing.T) {
	s, store, _ := newTestSupervisor(t)

	dep := delegateSimple(t, s, "first")
	markTerminal(t, store, dep.ID, task.StatusCompleted)

	child, err := s.Delegate(DelegateRequest{Prompt: "second", ContinueFrom: dep.ID})
	require.NoError(t, err)

	saved, err := store.FindTaskByID(child.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{dep.ID}, saved.DependsOn)
	assert.Equal(t, dep.ID, saved.ContinueFrom)
}

func TestDelegateOnCompletedDependencyIsReady(t *testing.T) {
	s, store, q := newTestSupervisor(t)

	dep := delegateSimple(t, s, "first")
	markTerminal(t, store, dep.ID, task.StatusCompleted)

	child, err := s.Delegate(DelegateRequest{Prompt: "second", DependsOn: []string{dep.ID}})
	require.NoError(t, err)
	assert.True(t, q.Contains(child.ID))
}

func TestDelegateOnFailedDependencyFailsImmediately(t *testing.T) {
	s, store, q := newTestSupervisor(t)

	dep := delegateSimple(t, s, "first")
	markTerminal(t, store, dep.ID, task.StatusFailed)

	child, err := s.Delegate(DelegateRequest{Prompt: "second", DependsOn: []string{dep.ID}})
	require.NoError(t, err)

	saved, err := store.FindTaskByID(child.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, saved.Status)
	assert.Contains(t, saved.ErrorMessage, dep.ID)
	assert.False(t, q.Contains(child.ID))
}

// Scenario: with edges A->B and B->C in place, the edge C->A must be
// rejected with an error mentioning "cycle", and the store must still hold
// exactly the original two edges.
func TestCycleRejectedAndStoreUntouched(t *testing.T) {
	s, store, _ := newTestSupervisor(t)

	c := delegateSimple(t, s, "c")
	b, err := s.Delegate(DelegateRequest{Prompt: "b", DependsOn: []string{c.ID}})
	require.NoError(t, err)
	a, err := s.Delegate(DelegateRequest{Prompt: "a", DependsOn: []string{b.ID}})
	require.NoError(t, err)

	err = s.AddDependency(c.ID, a.ID)
	require.Error(t, err)
	assert.Equal(t, task.KindInvalidOperation, task.KindOf(err))
	assert.Contains(t, err.Error(), "cycle")

	edges, err := store.ListEdges()
	require.NoError(t, err)
	require.Len(t, edges, 2)
}

func TestQueueCapEnforcedBeforePersist(t *testing.T) {
	store := testutil.OpenTestStore(t)
	bus := events.NewBus(events.Options{Logger: logging.Nop()})
	t.Cleanup(bus.Dispose)

	s, err := New(Config{QueueMaxSize: 2, LogDir: t.TempDir()}, store, bus,
		queue.New(2), graph.New(), nil, nil, nil, nil, logging.Nop())
	require.NoError(t, err)

	delegateSimple(t, s, "one")
	delegateSimple(t, s, "two")

	_, err = s.Delegate(DelegateRequest{Prompt: "three"})
	require.Error(t, err)
	assert.Equal(t, task.KindResourceExhausted, task.KindOf(err))

	// The rejected task never reached the store.
	n, err := store.CountTasks()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCompletionUnblocksDependent(t *testing.T) {
	s, store, q := newTestSupervisor(t)

	dep := delegateSimple(t, s, "first")
	child, err := s.Delegate(DelegateRequest{Prompt: "second", DependsOn: []string{dep.ID}})
	require.NoError(t, err)

	// Simulate the pool finishing dep successfully.
	markTerminal(t, store, dep.ID, task.StatusCompleted)
	q.Remove(dep.ID)
	require.NoError(t, s.handleCompletion(
		events.NewEvent(events.TaskCompleted, dep.ID).
			WithPayload(events.CompletionPayload{ExitCode: 0})))

	saved, err := store.FindTaskByID(child.ID)
	require.NoError(t, err)
	assert.Equal(t, task.DepStateReady, saved.DependencyState)
	assert.True(t, q.Contains(child.ID))

	edges, err := store.ListEdgesForTask(child.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, task.ResolutionSatisfied, edges[0].Resolution)
}

// Every transitive dependent of a failed task ends up failed, with the
// originating dependency named in the error.
func TestFailurePropagatesToTransitiveDependents(t *testing.T) {
	s, store, q := newTestSupervisor(t)

	root := delegateSimple(t, s, "root")
	mid, err := s.Delegate(DelegateRequest{Prompt: "mid", DependsOn: []string{root.ID}})
	require.NoError(t, err)
	leaf, err := s.Delegate(DelegateRequest{Prompt: "leaf", DependsOn: []string{mid.ID}})
	require.NoError(t, err)

	q.Remove(root.ID)
	require.NoError(t, s.handleCompletion(
		events.NewEvent(events.TaskFailed, root.ID).
			WithPayload(events.CompletionPayload{ExitCode: 2}).
			WithError(task.NewError(task.KindTaskExecutionFailed, "agent exited with code 2"))))

	for _, id := range []string{mid.ID, leaf.ID} {
		saved, err := store.FindTaskByID(id)
		require.NoError(t, err)
		assert.Equal(t, task.StatusFailed, saved.Status, id)
		assert.Equal(t, task.KindTaskExecutionFailed, saved.ErrorKind, id)
		assert.Contains(t, saved.ErrorMessage, root.ID, id)
		assert.False(t, q.Contains(id))
	}

	rootRow, err := store.FindTaskByID(root.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, rootRow.Status)
	require.NotNil(t, rootRow.ExitCode)
	assert.Equal(t, 2, *rootRow.ExitCode)
}

func TestCompletionWritesCheckpoint(t *testing.T) {
	s, store, _ := newTestSupervisor(t)

	created := delegateSimple(t, s, "checkpointed")
	require.NoError(t, s.handleCompletion(
		events.NewEvent(events.TaskFailed, created.ID).
			WithPayload(events.CompletionPayload{ExitCode: 1}).
			WithError(task.NewError(task.KindTaskExecutionFailed, "agent exited with code 1"))))

	cp, err := store.FindLatestCheckpoint(created.ID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, task.CheckpointFailed, cp.Kind)
	assert.Contains(t, cp.ErrorSummary, "exited with code 1")
}

// Scenario: retry T1 -> T2 -> T3 builds the chain with retryOf pointing at
// the immediate predecessor and parentTaskID at the root.
func TestRetryChainLinkage(t *testing.T) {
	s, store, _ := newTestSupervisor(t)

	t1 := delegateSimple(t, s, "X")
	markTerminal(t, store, t1.ID, task.StatusFailed)

	t2, err := s.Retry(t1.ID)
	require.NoError(t, err)
	assert.Equal(t, "X", t2.Prompt)
	assert.Equal(t, t1.ID, t2.RetryOf)
	assert.Equal(t, t1.ID, t2.ParentTaskID)
	assert.Equal(t, 1, t2.RetryCount)

	markTerminal(t, store, t2.ID, task.StatusFailed)

	t3, err := s.Retry(t2.ID)
	require.NoError(t, err)
	assert.Equal(t, t2.ID, t3.RetryOf)
	assert.Equal(t, t1.ID, t3.ParentTaskID)
	assert.Equal(t, 2, t3.RetryCount)
}

func TestRetryNonTerminalRejected(t *testing.T) {
	s, _, _ := newTestSupervisor(t)

	created := delegateSimple(t, s, "still queued")
	_, err := s.Retry(created.ID)
	assert.Equal(t, task.KindInvalidOperation, task.KindOf(err))

	_, err = s.Retry("task-missing")
	assert.Equal(t, task.KindTaskNotFound, task.KindOf(err))
}

// Scenario: the resume prompt carries the literal context lines in order.
func TestResumePromptEnrichment(t *testing.T) {
	s, store, _ := newTestSupervisor(t)

	t1 := delegateSimple(t, s, "X")
	markTerminal(t, store, t1.ID, task.StatusFailed)

	_, err := store.SaveCheckpoint(task.Checkpoint{
		TaskID:        t1.ID,
		Kind:          task.CheckpointFailed,
		OutputSummary: "build broke",
		ErrorSummary:  "ENOENT foo",
		GitBranch:     "feat/x",
		GitCommit:     "abc123",
		GitDirtyFiles: []string{"a.txt", "b.txt"},
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)

	resumed, err := s.Resume(t1.ID, "try again")
	require.NoError(t, err)

	wantInOrder := []string{
		"PREVIOUS TASK CONTEXT:",
		"status: failed",
		"Original prompt: X",
		"Last output: build broke",
		"Error: ENOENT foo",
		"Git state: branch=feat/x",
		"Modified files: a.txt, b.txt",
		"Additional context: try again",
	}
	pos := 0
	for _, want := range wantInOrder {
		idx := strings.Index(resumed.Prompt[pos:], want)
		require.GreaterOrEqual(t, idx, 0, "prompt missing %q\n%s", want, resumed.Prompt)
		pos += idx + len(want)
	}

	assert.Equal(t, t1.ID, resumed.RetryOf)
	assert.Equal(t, t1.ID, resumed.ParentTaskID)
	assert.Equal(t, 1, resumed.RetryCount)
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	s, store, _ := newTestSupervisor(t)

	t1 := delegateSimple(t, s, "X")
	markTerminal(t, store, t1.ID, task.StatusFailed)

	resumed, err := s.Resume(t1.ID, "")
	require.NoError(t, err)
	assert.Contains(t, resumed.Prompt, "PREVIOUS TASK CONTEXT:")
	assert.Contains(t, resumed.Prompt, "Original prompt: X")
	assert.NotContains(t, resumed.Prompt, "Last output:")
}

func TestCancelQueuedTask(t *testing.T) {
	s, store, q := newTestSupervisor(t)

	created := delegateSimple(t, s, "doomed")
	require.NoError(t, s.Cancel(created.ID, "changed my mind"))

	saved, err := store.FindTaskByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, saved.Status)
	assert.False(t, q.Contains(created.ID))

	cp, err := store.FindLatestCheckpoint(created.ID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, task.CheckpointCancelled, cp.Kind)
}

func TestCancelRunningWithoutLocalWorkerRecordsRequest(t *testing.T) {
	s, store, _ := newTestSupervisor(t)

	created := delegateSimple(t, s, "remote")
	running := task.StatusRunning
	require.NoError(t, store.UpdateTask(created.ID, db.TaskPatch{Status: &running}))

	require.NoError(t, s.Cancel(created.ID, ""))

	rows, err := store.FindCancelRequested()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, created.ID, rows[0].ID)
}

func TestCancelTerminalRejected(t *testing.T) {
	s, store, _ := newTestSupervisor(t)

	created := delegateSimple(t, s, "done")
	markTerminal(t, store, created.ID, task.StatusCompleted)

	err := s.Cancel(created.ID, "")
	assert.Equal(t, task.KindTaskCannotCancel, task.KindOf(err))

	err = s.Cancel("task-missing", "")
	assert.Equal(t, task.KindTaskNotFound, task.KindOf(err))
}

// Restart semantics: queued rows re-enter the queue in FIFO order, running
// rows fail with the crash exit code.
func TestRecovery(t *testing.T) {
	s, store, q := newTestSupervisor(t)

	first := delegateSimple(t, s, "first")
	second := delegateSimple(t, s, "second")
	crashed := delegateSimple(t, s, "crashed")
	running := task.StatusRunning
	require.NoError(t, store.UpdateTask(crashed.ID, db.TaskPatch{Status: &running}))

	// Fresh supervisor against the same store, as after a restart.
	bus := events.NewBus(events.Options{Logger: logging.Nop()})
	t.Cleanup(bus.Dispose)
	q2 := queue.New(0)
	s2, err := New(Config{LogDir: t.TempDir()}, store, bus, q2, graph.New(),
		nil, nil, nil, nil, logging.Nop())
	require.NoError(t, err)

	require.NoError(t, s2.Recover())

	// Crashed row failed with the crash marker.
	saved, err := store.FindTaskByID(crashed.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, saved.Status)
	require.NotNil(t, saved.ExitCode)
	assert.Equal(t, CrashExitCode, *saved.ExitCode)
	assert.Contains(t, saved.ErrorMessage, "restarted")

	// Queued rows re-entered in creation order.
	got, ok := q2.Dequeue()
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)
	got, ok = q2.Dequeue()
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)

	_ = q // original queue irrelevant after "restart"
}

func TestRecoverySkipsBlockedTasks(t *testing.T) {
	s, store, _ := newTestSupervisor(t)

	dep := delegateSimple(t, s, "dep")
	blocked, err := s.Delegate(DelegateRequest{Prompt: "blocked", DependsOn: []string{dep.ID}})
	require.NoError(t, err)

	bus := events.NewBus(events.Options{Logger: logging.Nop()})
	t.Cleanup(bus.Dispose)
	q2 := queue.New(0)
	s2, err := New(Config{LogDir: t.TempDir()}, store, bus, q2, graph.New(),
		nil, nil, nil, nil, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, s2.Recover())

	assert.True(t, q2.Contains(dep.ID))
	assert.False(t, q2.Contains(blocked.ID))
}

func TestPipelineChainsSchedules(t *testing.T) {
	s, store, _ := newTestSupervisor(t)

	before := time.Now()
	schedules, err := s.Pipeline([]PipelineStage{
		{Prompt: "setup"},
		{Prompt: "migrate", Delay: 5 * time.Minute},
		{Prompt: "seed", Delay: 10 * time.Minute},
	}, task.TaskTemplate{})
	require.NoError(t, err)
	require.Len(t, schedules, 3)

	s1, s2, s3 := schedules[0], schedules[1], schedules[2]
	assert.Empty(t, s1.AfterScheduleID)
	assert.Equal(t, s1.ID, s2.AfterScheduleID)
	assert.Equal(t, s2.ID, s3.AfterScheduleID)

	// Fire times accumulate: now, +5m, +15m.
	assert.WithinDuration(t, before, *s1.NextRunAt, 5*time.Second)
	assert.WithinDuration(t, before.Add(5*time.Minute), *s2.NextRunAt, 5*time.Second)
	assert.WithinDuration(t, before.Add(15*time.Minute), *s3.NextRunAt, 5*time.Second)

	for _, sched := range schedules {
		saved, err := store.FindScheduleByID(sched.ID)
		require.NoError(t, err)
		require.NotNil(t, saved)
		assert.Equal(t, task.ScheduleOneTime, saved.Kind)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	s, _, _ := newTestSupervisor(t)

	sched, err := s.CreateSchedule(ScheduleRequest{
		Kind:     task.ScheduleCron,
		CronExpr: "0 * * * *",
		Template: task.TaskTemplate{Prompt: "hourly"},
	})
	require.NoError(t, err)
	require.NotNil(t, sched.NextRunAt)

	require.NoError(t, s.PauseSchedule(sched.ID))
	err = s.PauseSchedule(sched.ID) // already paused
	assert.Equal(t, task.KindInvalidOperation, task.KindOf(err))

	require.NoError(t, s.ResumeSchedule(sched.ID))
	require.NoError(t, s.CancelSchedule(sched.ID))
	err = s.ResumeSchedule(sched.ID) // cancelled is final
	assert.Equal(t, task.KindInvalidOperation, task.KindOf(err))
}

func TestCreateScheduleValidation(t *testing.T) {
	s, _, _ := newTestSupervisor(t)

	_, err := s.CreateSchedule(ScheduleRequest{
		Kind:     task.ScheduleCron,
		CronExpr: "bogus",
		Template: task.TaskTemplate{Prompt: "x"},
	})
	assert.Equal(t, task.KindInvalidInput, task.KindOf(err))

	_, err = s.CreateSchedule(ScheduleRequest{
		Kind:     task.ScheduleOneTime,
		Template: task.TaskTemplate{Prompt: "x"},
	})
	assert.Equal(t, task.KindInvalidInput, task.KindOf(err))

	_, err = s.CreateSchedule(ScheduleRequest{
		Kind:            task.ScheduleOneTime,
		RunAt:           time.Now().Add(time.Hour),
		AfterScheduleID: "schedule-missing",
		Template:        task.TaskTemplate{Prompt: "x"},
	})
	assert.Equal(t, task.KindTaskNotFound, task.KindOf(err))
}

func writeTaskLog(t *testing.T, dir, taskID, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, taskID+".log"), []byte(content), 0o644))
}

func TestTailLogs(t *testing.T) {
	s, _, _ := newTestSupervisor(t)

	created := delegateSimple(t, s, "logged")

	lines, err := s.TailLogs(created.ID, 10)
	require.NoError(t, err)
	assert.Nil(t, lines) // no log file yet

	writeTaskLog(t, s.cfg.LogDir, created.ID, "one\ntwo\nthree\n")
	lines, err = s.TailLogs(created.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three"}, lines)

	lines, err = s.TailLogs(created.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}
