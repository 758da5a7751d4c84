package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevCBH/taskd/internal/task"
)

func newTestBus(t *testing.T, opts Options) *Bus {
	t.Helper()
	b := NewBus(opts)
	t.Cleanup(b.Dispose)
	return b
}

func TestEmitDeliversInRegistrationOrder(t *testing.T) {
	b := newTestBus(t, Options{})

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		_, err := b.Subscribe(TaskDelegated, func(Event) error {
			order = append(order, name)
			return nil
		})
		require.NoError(t, err)
	}

	b.Emit(NewEvent(TaskDelegated, "task-1"))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestEmitReturnsAfterAllHandlers(t *testing.T) {
	b := newTestBus(t, Options{})

	count := 0
	for i := 0; i < 5; i++ {
		_, err := b.Subscribe(TaskCompleted, func(Event) error {
			count++
			return nil
		})
		require.NoError(t, err)
	}

	b.Emit(NewEvent(TaskCompleted, "task-1"))
	assert.Equal(t, 5, count)
}

func TestHandlerFailureDoesNotAbortOthers(t *testing.T) {
	b := newTestBus(t, Options{})

	_, err := b.Subscribe(TaskFailed, func(Event) error {
		return errors.New("handler one broke")
	})
	require.NoError(t, err)

	reached := false
	_, err = b.Subscribe(TaskFailed, func(Event) error {
		reached = true
		return nil
	})
	require.NoError(t, err)

	b.Emit(NewEvent(TaskFailed, "task-1"))
	assert.True(t, reached)
}

func TestHandlerPanicIsContained(t *testing.T) {
	b := newTestBus(t, Options{})

	_, err := b.Subscribe(TaskCompleted, func(Event) error {
		panic("boom")
	})
	require.NoError(t, err)

	reached := false
	_, err = b.Subscribe(TaskCompleted, func(Event) error {
		reached = true
		return nil
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		b.Emit(NewEvent(TaskCompleted, "task-1"))
	})
	assert.True(t, reached)
}

func TestEmitSetsTime(t *testing.T) {
	b := newTestBus(t, Options{})

	var got Event
	_, err := b.Subscribe(TaskDelegated, func(e Event) error {
		got = e
		return nil
	})
	require.NoError(t, err)

	b.Emit(NewEvent(TaskDelegated, "task-1"))
	assert.False(t, got.Time.IsZero())
}

func TestPerEventSubscriberCap(t *testing.T) {
	b := newTestBus(t, Options{MaxPerEvent: 2})

	nop := func(Event) error { return nil }
	_, err := b.Subscribe(TaskDelegated, nop)
	require.NoError(t, err)
	_, err = b.Subscribe(TaskDelegated, nop)
	require.NoError(t, err)

	_, err = b.Subscribe(TaskDelegated, nop)
	require.Error(t, err)
	assert.True(t, task.IsKind(err, task.KindConfigurationError))

	// Other event names are unaffected.
	_, err = b.Subscribe(TaskCompleted, nop)
	assert.NoError(t, err)
}

func TestGlobalSubscriberCap(t *testing.T) {
	b := newTestBus(t, Options{MaxPerEvent: 10, MaxTotal: 3})

	nop := func(Event) error { return nil }
	_, err := b.Subscribe(TaskDelegated, nop)
	require.NoError(t, err)
	_, err = b.Subscribe(TaskCompleted, nop)
	require.NoError(t, err)
	_, err = b.Subscribe(TaskFailed, nop)
	require.NoError(t, err)

	_, err = b.Subscribe(TaskTimeout, nop)
	require.Error(t, err)
	assert.True(t, task.IsKind(err, task.KindConfigurationError))
}

func TestUnsubscribeStopsDeliveryAndFreesSlot(t *testing.T) {
	b := newTestBus(t, Options{MaxPerEvent: 1})

	calls := 0
	sub, err := b.Subscribe(TaskDelegated, func(Event) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	b.Emit(NewEvent(TaskDelegated, "task-1"))
	require.Equal(t, 1, calls)

	sub.Unsubscribe()
	b.Emit(NewEvent(TaskDelegated, "task-2"))
	assert.Equal(t, 1, calls)

	// The tombstoned slot no longer counts against the cap.
	_, err = b.Subscribe(TaskDelegated, func(Event) error { return nil })
	assert.NoError(t, err)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := newTestBus(t, Options{})

	sub, err := b.Subscribe(TaskDelegated, func(Event) error { return nil })
	require.NoError(t, err)

	sub.Unsubscribe()
	assert.NotPanics(t, sub.Unsubscribe)
	assert.Equal(t, 0, b.SubscriberCount(TaskDelegated))
}

func TestJanitorPurgesTombstones(t *testing.T) {
	b := newTestBus(t, Options{PurgeInterval: 10 * time.Millisecond})

	sub, err := b.Subscribe(TaskDelegated, func(Event) error { return nil })
	require.NoError(t, err)
	sub.Unsubscribe()

	assert.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.subs[TaskDelegated]) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRequestRoutesToResponder(t *testing.T) {
	b := newTestBus(t, Options{})

	err := b.Respond(TaskStatusQuery, func(_ context.Context, payload any) (any, error) {
		q := payload.(StatusQueryPayload)
		return "status of " + q.TaskID, nil
	})
	require.NoError(t, err)

	result, err := b.Request(context.Background(), TaskStatusQuery, StatusQueryPayload{TaskID: "task-9"})
	require.NoError(t, err)
	assert.Equal(t, "status of task-9", result)
}

func TestRequestWithoutResponder(t *testing.T) {
	b := newTestBus(t, Options{})

	_, err := b.Request(context.Background(), TaskLogsQuery, LogsQueryPayload{TaskID: "task-1"})
	require.Error(t, err)
	assert.True(t, task.IsKind(err, task.KindInvalidOperation))
}

func TestDuplicateResponderRejected(t *testing.T) {
	b := newTestBus(t, Options{})

	fn := func(context.Context, any) (any, error) { return nil, nil }
	require.NoError(t, b.Respond(TaskStatusQuery, fn))

	err := b.Respond(TaskStatusQuery, fn)
	require.Error(t, err)
	assert.True(t, task.IsKind(err, task.KindConfigurationError))
}

func TestDisposeClearsTables(t *testing.T) {
	b := NewBus(Options{PurgeInterval: 10 * time.Millisecond})

	called := false
	_, err := b.Subscribe(TaskDelegated, func(Event) error {
		called = true
		return nil
	})
	require.NoError(t, err)

	b.Dispose()
	b.Emit(NewEvent(TaskDelegated, "task-1"))
	assert.False(t, called)

	_, err = b.Subscribe(TaskDelegated, func(Event) error { return nil })
	assert.Error(t, err)

	assert.NotPanics(t, b.Dispose)
}

func TestChannelHandlerDropsWhenFull(t *testing.T) {
	ch := make(chan Event, 1)
	h := ChannelHandler(ch)

	require.NoError(t, h(NewEvent(TaskDelegated, "task-1")))
	err := h(NewEvent(TaskDelegated, "task-2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dropped")
}

func TestLogHandlerWritesLine(t *testing.T) {
	var sb strings.Builder
	h := LogHandler(LogConfig{Writer: &sb})

	e := NewEvent(TaskCompleted, "task-1").WithWorker("worker-42")
	e.Time = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h(e))

	out := sb.String()
	assert.Contains(t, out, "[task.completed]")
	assert.Contains(t, out, "task-1")
	assert.Contains(t, out, "worker-42")
}

func TestEventString(t *testing.T) {
	e := NewEvent(TaskFailed, "task-7").WithError(errors.New("exit 2"))
	s := e.String()
	assert.Contains(t, s, "[task.failed]")
	assert.Contains(t, s, "task-7")
	assert.Contains(t, s, "error=exit 2")
}
