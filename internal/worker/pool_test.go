package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevCBH/taskd/internal/events"
	"github.com/RevCBH/taskd/internal/logging"
	"github.com/RevCBH/taskd/internal/monitor"
	"github.com/RevCBH/taskd/internal/task"
)

// fakeProber reports a quiet host so admission always passes unless a test
// overrides the readings.
type fakeProber struct {
	load      [3]float64
	total     uint64
	available uint64
}

func (f fakeProber) LoadAverage() ([3]float64, error) { return f.load, nil }
func (f fakeProber) Memory() (uint64, uint64, error)  { return f.total, f.available, nil }
func (f fakeProber) CoreCount() int                   { return 4 }

func quietProber() fakeProber {
	return fakeProber{load: [3]float64{0.1, 0.1, 0.1}, total: 8 << 30, available: 4 << 30}
}

// writeAgentScript creates a stand-in agent binary. The real agent's flags
// arrive as $1-$4 and the prompt as $5.
func writeAgentScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestPool(t *testing.T, agentScript string, cfg Config) (*Pool, *events.Bus) {
	t.Helper()
	bus := events.NewBus(events.Options{Logger: logging.Nop()})
	t.Cleanup(bus.Dispose)

	mon := monitor.New(bus, monitor.Config{Prober: quietProber(), Logger: logging.Nop()})

	cfg.AgentCommand = agentScript
	if cfg.KillGracePeriod == 0 {
		cfg.KillGracePeriod = 200 * time.Millisecond
	}
	pool := NewPool(cfg, bus, mon, nil, nil, nil, logging.Nop())
	t.Cleanup(pool.Dispose)
	return pool, bus
}

func watchEvents(t *testing.T, bus *events.Bus, types ...events.EventType) <-chan events.Event {
	t.Helper()
	ch := make(chan events.Event, 16)
	for _, typ := range types {
		_, err := bus.Subscribe(typ, func(e events.Event) error {
			ch <- e
			return nil
		})
		require.NoError(t, err)
	}
	return ch
}

func waitEvent(t *testing.T, ch <-chan events.Event, timeout time.Duration) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestSpawnAndComplete(t *testing.T) {
	script := writeAgentScript(t, `echo "prompt: $5"`)
	pool, bus := newTestPool(t, script, Config{})
	done := watchEvents(t, bus, events.TaskCompleted, events.TaskFailed)

	tk := task.Task{ID: "task-ok", Prompt: "Summarize the build failures from yesterday"}
	rec, err := pool.Spawn(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, "task-ok", rec.TaskID)
	assert.Contains(t, rec.ID, "worker-")

	e := waitEvent(t, done, 5*time.Second)
	assert.Equal(t, events.TaskCompleted, e.Type)
	assert.Equal(t, "task-ok", e.TaskID)

	stdout, _, ok := pool.OutputTail("task-ok", 10)
	require.True(t, ok)
	assert.Contains(t, stdout, "prompt: Summarize the build failures from yesterday")

	assert.Equal(t, 0, pool.Count())
}

func TestSpawnFailureEmitsTaskFailed(t *testing.T) {
	script := writeAgentScript(t, `echo "boom" >&2; exit 3`)
	pool, bus := newTestPool(t, script, Config{})
	done := watchEvents(t, bus, events.TaskCompleted, events.TaskFailed)

	_, err := pool.Spawn(context.Background(), task.Task{ID: "task-bad", Prompt: "Do the failing thing please"})
	require.NoError(t, err)

	e := waitEvent(t, done, 5*time.Second)
	assert.Equal(t, events.TaskFailed, e.Type)
	payload := e.Payload.(events.CompletionPayload)
	assert.Equal(t, 3, payload.ExitCode)

	_, stderr, ok := pool.OutputTail("task-bad", 10)
	require.True(t, ok)
	assert.Contains(t, stderr, "boom")
}

func TestTimeoutKillsWorker(t *testing.T) {
	script := writeAgentScript(t, `sleep 30`)
	pool, bus := newTestPool(t, script, Config{})
	done := watchEvents(t, bus, events.TaskTimeout, events.TaskCompleted, events.TaskFailed)

	tk := task.Task{ID: "task-slow", Prompt: "Crunch the numbers until the heat death", TimeoutMS: 200}
	_, err := pool.Spawn(context.Background(), tk)
	require.NoError(t, err)

	e := waitEvent(t, done, 10*time.Second)
	assert.Equal(t, events.TaskTimeout, e.Type)
	assert.Equal(t, "task-slow", e.TaskID)
	assert.Equal(t, 0, pool.Count())
}

func TestNoTimeoutTimerWhenUnset(t *testing.T) {
	script := writeAgentScript(t, `sleep 1`)
	pool, bus := newTestPool(t, script, Config{})
	done := watchEvents(t, bus, events.TaskTimeout, events.TaskCompleted)

	// Zero timeout must mean "no deadline", not "fire immediately".
	rec, err := pool.Spawn(context.Background(), task.Task{ID: "task-open", Prompt: "Wait around for a bit quietly", TimeoutMS: 0})
	require.NoError(t, err)
	assert.Nil(t, rec.Deadline)

	e := waitEvent(t, done, 10*time.Second)
	assert.Equal(t, events.TaskCompleted, e.Type)
}

func TestKillEmitsWorkerKilled(t *testing.T) {
	script := writeAgentScript(t, `sleep 30`)
	pool, bus := newTestPool(t, script, Config{})
	done := watchEvents(t, bus, events.WorkerKilled)

	_, err := pool.Spawn(context.Background(), task.Task{ID: "task-cancel", Prompt: "Keep going until somebody stops you"})
	require.NoError(t, err)

	require.NoError(t, pool.Kill("task-cancel"))

	e := waitEvent(t, done, 10*time.Second)
	assert.Equal(t, events.WorkerKilled, e.Type)
	assert.Equal(t, "task-cancel", e.TaskID)
	assert.Equal(t, 0, pool.Count())
}

func TestKillUnknownWorker(t *testing.T) {
	script := writeAgentScript(t, `true`)
	pool, _ := newTestPool(t, script, Config{})

	err := pool.Kill("task-ghost")
	assert.True(t, task.IsKind(err, task.KindWorkerNotFound))
}

func TestAtMostOneWorkerPerTask(t *testing.T) {
	script := writeAgentScript(t, `sleep 5`)
	pool, bus := newTestPool(t, script, Config{})
	done := watchEvents(t, bus, events.WorkerKilled)

	tk := task.Task{ID: "task-dup", Prompt: "Occupy the only slot for this id"}
	_, err := pool.Spawn(context.Background(), tk)
	require.NoError(t, err)

	_, err = pool.Spawn(context.Background(), tk)
	assert.True(t, task.IsKind(err, task.KindTaskAlreadyRunning))

	require.NoError(t, pool.Kill("task-dup"))
	waitEvent(t, done, 10*time.Second)
}

func TestAdmissionDenied(t *testing.T) {
	bus := events.NewBus(events.Options{Logger: logging.Nop()})
	t.Cleanup(bus.Dispose)

	loaded := fakeProber{load: [3]float64{50, 50, 50}, total: 8 << 30, available: 4 << 30}
	mon := monitor.New(bus, monitor.Config{Prober: loaded, Logger: logging.Nop()})

	pool := NewPool(Config{AgentCommand: "/bin/true"}, bus, mon, nil, nil, nil, logging.Nop())
	t.Cleanup(pool.Dispose)

	_, err := pool.Spawn(context.Background(), task.Task{ID: "task-denied", Prompt: "This should never get to start"})
	assert.True(t, task.IsKind(err, task.KindInsufficientResources))
}

func TestKillAll(t *testing.T) {
	script := writeAgentScript(t, `sleep 30`)
	pool, bus := newTestPool(t, script, Config{})
	done := watchEvents(t, bus, events.WorkerKilled)

	for _, id := range []string{"task-a", "task-b", "task-c"} {
		_, err := pool.Spawn(context.Background(), task.Task{ID: id, Prompt: "Run until the shutdown sweep arrives"})
		require.NoError(t, err)
	}
	require.Equal(t, 3, pool.Count())

	require.NoError(t, pool.KillAll())
	assert.Equal(t, 0, pool.Count())

	seen := map[string]bool{}
	for range 3 {
		seen[waitEvent(t, done, 10*time.Second).TaskID] = true
	}
	assert.Len(t, seen, 3)
}

func TestReleaseOutput(t *testing.T) {
	script := writeAgentScript(t, `echo hi`)
	pool, bus := newTestPool(t, script, Config{})
	done := watchEvents(t, bus, events.TaskCompleted)

	_, err := pool.Spawn(context.Background(), task.Task{ID: "task-out", Prompt: "Say hello and exit right away"})
	require.NoError(t, err)
	waitEvent(t, done, 5*time.Second)

	_, _, ok := pool.OutputTail("task-out", 1)
	require.True(t, ok)

	pool.ReleaseOutput("task-out")
	_, _, ok = pool.OutputTail("task-out", 1)
	assert.False(t, ok)
}

func TestTaskLogFileWritten(t *testing.T) {
	logDir := t.TempDir()
	script := writeAgentScript(t, `echo "logged line"`)
	pool, bus := newTestPool(t, script, Config{LogDir: logDir})
	done := watchEvents(t, bus, events.TaskCompleted)

	_, err := pool.Spawn(context.Background(), task.Task{ID: "task-log", Prompt: "Write something to your log file"})
	require.NoError(t, err)
	waitEvent(t, done, 5*time.Second)

	data, err := os.ReadFile(filepath.Join(logDir, "task-log.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "logged line")
}
