// Package container is a small named-service registry used to wire the
// supervisor together and to tear it down in a fixed order.
package container

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/RevCBH/taskd/internal/task"
)

// Well-known service names the shutdown sequence looks up.
const (
	ServiceBus       = "bus"
	ServiceStore     = "store"
	ServiceMonitor   = "monitor"
	ServiceScheduler = "scheduler"
	ServicePool      = "pool"
)

// Factory builds one service instance. It may resolve its own dependencies
// from the container it is given.
type Factory func(c *Container) (any, error)

type registration struct {
	factory   Factory
	singleton bool
}

// Container is a named registry of service factories. Singletons are memoized
// per container; a child inherits the parent's registrations but builds its
// own instances. Registration and resolution happen on the wiring goroutine
// during startup; Dispose may be called from a signal handler later.
type Container struct {
	parent *Container
	log    zerolog.Logger

	mu            sync.Mutex
	registrations map[string]registration
	instances     map[string]any
	resolving     []string
	disposed      bool
}

// New creates an empty container.
func New(log zerolog.Logger) *Container {
	return &Container{
		log:           log,
		registrations: make(map[string]registration),
		instances:     make(map[string]any),
	}
}

// Register adds a singleton factory. The factory runs at most once; Resolve
// returns the memoized instance afterwards.
func (c *Container) Register(name string, factory Factory) error {
	return c.register(name, registration{factory: factory, singleton: true})
}

// RegisterTransient adds a factory that runs on every Resolve.
func (c *Container) RegisterTransient(name string, factory Factory) error {
	return c.register(name, registration{factory: factory})
}

// RegisterValue adds an already-built instance under the given name.
func (c *Container) RegisterValue(name string, value any) error {
	return c.register(name, registration{
		factory:   func(*Container) (any, error) { return value, nil },
		singleton: true,
	})
}

func (c *Container) register(name string, reg registration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return task.NewError(task.KindConfigurationError, "container is disposed")
	}
	if _, exists := c.registrations[name]; exists {
		return task.NewError(task.KindConfigurationError, "service %q is already registered", name)
	}
	c.registrations[name] = reg
	return nil
}

// Resolve builds (or returns the memoized) instance for name. Factories
// resolve their own dependencies recursively; cycles are detected and
// reported with the full chain, and the in-flight set is cleared on failure
// so a later correct resolve succeeds.
func (c *Container) Resolve(name string) (any, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, task.NewError(task.KindConfigurationError, "container is disposed")
	}
	if v, ok := c.instances[name]; ok {
		c.mu.Unlock()
		return v, nil
	}
	for _, active := range c.resolving {
		if active == name {
			chain := strings.Join(append(c.resolving, name), " -> ")
			c.resolving = nil
			c.mu.Unlock()
			return nil, task.NewError(task.KindConfigurationError,
				"circular dependency detected: %s", chain)
		}
	}
	reg, ok := c.lookupLocked(name)
	if !ok {
		c.mu.Unlock()
		return nil, task.NewError(task.KindConfigurationError, "service %q is not registered", name)
	}
	c.resolving = append(c.resolving, name)
	c.mu.Unlock()

	// The lock is released while the factory runs so it can resolve its own
	// dependencies through this same container.
	v, err := reg.factory(c)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.resolving = nil
		return nil, fmt.Errorf("failed to build service %q: %w", name, err)
	}
	if n := len(c.resolving); n > 0 && c.resolving[n-1] == name {
		c.resolving = c.resolving[:n-1]
	}
	if reg.singleton {
		if existing, ok := c.instances[name]; ok {
			return existing, nil
		}
		c.instances[name] = v
	}
	return v, nil
}

// lookupLocked walks the parent chain for a registration. The receiver's
// mutex is held; ancestor maps take their own locks.
func (c *Container) lookupLocked(name string) (registration, bool) {
	if reg, ok := c.registrations[name]; ok {
		return reg, true
	}
	for cur := c.parent; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		reg, ok := cur.registrations[name]
		cur.mu.Unlock()
		if ok {
			return reg, true
		}
	}
	return registration{}, false
}

// MustResolve panics on failure. Wiring code uses it where a missing service
// is a programming error, not a runtime condition.
func (c *Container) MustResolve(name string) any {
	v, err := c.Resolve(name)
	if err != nil {
		panic(err)
	}
	return v
}

// Child creates a container that inherits this one's registrations but none
// of its instances.
func (c *Container) Child() *Container {
	return &Container{
		parent:        c,
		log:           c.log,
		registrations: make(map[string]registration),
		instances:     make(map[string]any),
	}
}

// Has reports whether a registration exists for name here or in an ancestor.
func (c *Container) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lookupLocked(name)
	return ok
}
