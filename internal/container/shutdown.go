package container

import (
	"github.com/RevCBH/taskd/internal/events"
)

// Consumer-side views of the services the shutdown sequence drives. The
// concrete types satisfy these without knowing about this package.
type stoppable interface {
	Stop()
}

type killer interface {
	KillAll() error
}

type closer interface {
	Close() error
}

type eventBus interface {
	Emit(events.Event)
	Dispose()
}

// Dispose tears the container down in a fixed order: announce shutdown, stop
// producers (monitor, scheduler), terminate workers, close the store, then
// dispose the bus and clear the registry. Every step is best-effort; a
// missing or misbehaving service is logged and the sequence continues.
// Idempotent.
func (c *Container) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	instances := c.instances
	c.instances = make(map[string]any)
	c.registrations = make(map[string]registration)
	c.resolving = nil
	c.mu.Unlock()

	bus, _ := instances[ServiceBus].(eventBus)
	emit := func(t events.EventType) {
		if bus != nil {
			bus.Emit(events.Event{Type: t})
		}
	}

	c.log.Info().Msg("shutdown initiated")
	emit(events.ShutdownInitiated)

	if mon, ok := instances[ServiceMonitor].(stoppable); ok {
		mon.Stop()
	}
	if sched, ok := instances[ServiceScheduler].(stoppable); ok {
		sched.Stop()
	}

	emit(events.WorkersTerminating)
	if pool, ok := instances[ServicePool].(killer); ok {
		if err := pool.KillAll(); err != nil {
			c.log.Error().Err(err).Msg("failed to terminate workers during shutdown")
		}
	}

	emit(events.DatabaseClosing)
	if store, ok := instances[ServiceStore].(closer); ok {
		if err := store.Close(); err != nil {
			c.log.Error().Err(err).Msg("failed to close store during shutdown")
		}
	}

	emit(events.ShutdownComplete)
	if bus != nil {
		bus.Dispose()
	}

	c.log.Info().Msg("shutdown complete")
}
