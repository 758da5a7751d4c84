package container

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevCBH/taskd/internal/events"
	"github.com/RevCBH/taskd/internal/logging"
	"github.com/RevCBH/taskd/internal/task"
)

func newTestContainer() *Container {
	return New(logging.Nop())
}

func TestSingletonMemoized(t *testing.T) {
	c := newTestContainer()
	calls := 0
	require.NoError(t, c.Register("svc", func(*Container) (any, error) {
		calls++
		return &struct{ n int }{calls}, nil
	}))

	a, err := c.Resolve("svc")
	require.NoError(t, err)
	b, err := c.Resolve("svc")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, calls)
}

func TestTransientBuildsEveryTime(t *testing.T) {
	c := newTestContainer()
	calls := 0
	require.NoError(t, c.RegisterTransient("svc", func(*Container) (any, error) {
		calls++
		return calls, nil
	}))

	a, _ := c.Resolve("svc")
	b, _ := c.Resolve("svc")
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestRegisterValue(t *testing.T) {
	c := newTestContainer()
	val := &sync.Mutex{}
	require.NoError(t, c.RegisterValue("mu", val))

	got, err := c.Resolve("mu")
	require.NoError(t, err)
	assert.Same(t, val, got)
}

func TestDuplicateRegistration(t *testing.T) {
	c := newTestContainer()
	require.NoError(t, c.RegisterValue("svc", 1))

	err := c.RegisterValue("svc", 2)
	require.Error(t, err)
	assert.Equal(t, task.KindConfigurationError, task.KindOf(err))
}

func TestUnknownService(t *testing.T) {
	c := newTestContainer()
	_, err := c.Resolve("nope")
	require.Error(t, err)
	assert.Equal(t, task.KindConfigurationError, task.KindOf(err))
}

func TestFactoryResolvesDependencies(t *testing.T) {
	c := newTestContainer()
	require.NoError(t, c.RegisterValue("dep", "shared"))
	require.NoError(t, c.Register("svc", func(c *Container) (any, error) {
		dep, err := c.Resolve("dep")
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("svc(%v)", dep), nil
	}))

	got, err := c.Resolve("svc")
	require.NoError(t, err)
	assert.Equal(t, "svc(shared)", got)
}

func TestCircularDependencyDetected(t *testing.T) {
	c := newTestContainer()
	require.NoError(t, c.Register("a", func(c *Container) (any, error) {
		return c.Resolve("b")
	}))
	require.NoError(t, c.Register("b", func(c *Container) (any, error) {
		return c.Resolve("a")
	}))

	_, err := c.Resolve("a")
	require.Error(t, err)
	assert.Equal(t, task.KindConfigurationError, task.KindOf(err))
	assert.Contains(t, err.Error(), "circular dependency detected: a -> b -> a")
}

func TestResolvingSetClearedAfterFailure(t *testing.T) {
	c := newTestContainer()
	fail := true
	require.NoError(t, c.Register("a", func(c *Container) (any, error) {
		if fail {
			return c.Resolve("a") // self-cycle on the first attempt
		}
		return "ok", nil
	}))

	_, err := c.Resolve("a")
	require.Error(t, err)

	// The failed resolve must not leave "a" marked in-flight.
	fail = false
	got, err := c.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestMustResolvePanicsOnMissing(t *testing.T) {
	c := newTestContainer()
	assert.Panics(t, func() { c.MustResolve("missing") })
}

func TestChildInheritsRegistrationsNotInstances(t *testing.T) {
	parent := newTestContainer()
	calls := 0
	require.NoError(t, parent.Register("svc", func(*Container) (any, error) {
		calls++
		return calls, nil
	}))

	fromParent, err := parent.Resolve("svc")
	require.NoError(t, err)

	child := parent.Child()
	fromChild, err := child.Resolve("svc")
	require.NoError(t, err)

	assert.Equal(t, 1, fromParent)
	assert.Equal(t, 2, fromChild, "child builds its own instance")

	again, err := child.Resolve("svc")
	require.NoError(t, err)
	assert.Equal(t, 2, again, "child memoizes its own singleton")
}

// orderedService records shutdown calls into a shared log so the dispose
// sequence can be asserted.
type orderedService struct {
	name string
	log  *[]string
	mu   *sync.Mutex
}

func (s orderedService) record(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.log = append(*s.log, s.name+"."+action)
}

type fakeStoppable struct{ orderedService }

func (s fakeStoppable) Stop() { s.record("stop") }

type fakePool struct{ orderedService }

func (p fakePool) KillAll() error {
	p.record("killall")
	return nil
}

type fakeStore struct{ orderedService }

func (s fakeStore) Close() error {
	s.record("close")
	return nil
}

func TestDisposeRunsFixedSequence(t *testing.T) {
	c := newTestContainer()

	var calls []string
	var mu sync.Mutex
	svc := func(name string) orderedService {
		return orderedService{name: name, log: &calls, mu: &mu}
	}

	bus := events.NewBus(events.Options{Logger: logging.Nop()})
	var seen []events.EventType
	for _, et := range []events.EventType{
		events.ShutdownInitiated, events.WorkersTerminating,
		events.DatabaseClosing, events.ShutdownComplete,
	} {
		et := et
		_, err := bus.Subscribe(et, func(events.Event) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, "emit."+string(et))
			seen = append(seen, et)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, c.RegisterValue(ServiceBus, bus))
	require.NoError(t, c.RegisterValue(ServiceMonitor, fakeStoppable{svc("monitor")}))
	require.NoError(t, c.RegisterValue(ServiceScheduler, fakeStoppable{svc("scheduler")}))
	require.NoError(t, c.RegisterValue(ServicePool, fakePool{svc("pool")}))
	require.NoError(t, c.RegisterValue(ServiceStore, fakeStore{svc("store")}))

	// Dispose only walks built instances, so resolve each service first.
	for _, name := range []string{ServiceBus, ServiceMonitor, ServiceScheduler, ServicePool, ServiceStore} {
		_, err := c.Resolve(name)
		require.NoError(t, err)
	}

	c.Dispose()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"emit." + string(events.ShutdownInitiated),
		"monitor.stop",
		"scheduler.stop",
		"emit." + string(events.WorkersTerminating),
		"pool.killall",
		"emit." + string(events.DatabaseClosing),
		"store.close",
		"emit." + string(events.ShutdownComplete),
	}, calls)
	assert.Len(t, seen, 4)
}

func TestDisposeIdempotentAndBlocksFurtherUse(t *testing.T) {
	c := newTestContainer()
	var mu sync.Mutex
	require.NoError(t, c.RegisterValue(ServiceStore, fakeStore{orderedService{
		name: "store", log: &[]string{}, mu: &mu,
	}}))

	_, err := c.Resolve(ServiceStore)
	require.NoError(t, err)

	c.Dispose()
	c.Dispose() // second call is a no-op

	err = c.RegisterValue("late", 1)
	require.Error(t, err)
	assert.Equal(t, task.KindConfigurationError, task.KindOf(err))

	_, err = c.Resolve(ServiceStore)
	require.Error(t, err)
}
