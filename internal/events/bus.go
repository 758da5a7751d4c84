package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RevCBH/taskd/internal/task"
)

// Handler receives emitted events. A handler error is logged by the bus and
// does not stop delivery to later handlers.
type Handler func(Event) error

// Responder answers a Request. Exactly one responder may be registered per
// event name.
type Responder func(ctx context.Context, payload any) (any, error)

// Subscription is the handle returned by Subscribe. Unsubscribe tombstones
// the slot; a periodic janitor compacts tombstones out of the tables.
type Subscription struct {
	bus   *Bus
	event EventType
	id    uint64
}

// Unsubscribe detaches the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.unsubscribe(s.event, s.id)
}

type subscriber struct {
	id   uint64
	fn   Handler
	dead bool
}

// Options bounds the bus's fan-out tables.
type Options struct {
	// MaxPerEvent caps live subscriptions per event name (0 = default 100).
	MaxPerEvent int
	// MaxTotal caps live subscriptions across all names (0 = default 1000).
	MaxTotal int
	// PurgeInterval controls tombstone compaction (0 disables the janitor;
	// compaction then happens opportunistically during unsubscribe).
	PurgeInterval time.Duration
	Logger        zerolog.Logger
}

// Bus is the in-process pub/sub plane. Emit dispatches serially in
// registration order within the publisher's call; Request routes to a single
// responder. The bus holds no durable state and nothing is replayed after a
// restart; recovery rebuilds from the store.
//
// Cross-goroutine emit ordering is the owner's concern: the supervisor
// serializes its handler plane, the bus only guards its own tables.
type Bus struct {
	mu         sync.Mutex
	subs       map[EventType][]*subscriber
	responders map[EventType]Responder
	liveTotal  int
	nextID     uint64
	disposed   bool

	maxPerEvent int
	maxTotal    int

	janitorStop chan struct{}
	janitorDone chan struct{}

	log zerolog.Logger
}

// NewBus creates a bus and starts its tombstone janitor when a purge
// interval is configured.
func NewBus(opts Options) *Bus {
	if opts.MaxPerEvent <= 0 {
		opts.MaxPerEvent = 100
	}
	if opts.MaxTotal <= 0 {
		opts.MaxTotal = 1000
	}

	b := &Bus{
		subs:        make(map[EventType][]*subscriber),
		responders:  make(map[EventType]Responder),
		maxPerEvent: opts.MaxPerEvent,
		maxTotal:    opts.MaxTotal,
		log:         opts.Logger,
	}

	if opts.PurgeInterval > 0 {
		b.janitorStop = make(chan struct{})
		b.janitorDone = make(chan struct{})
		go b.janitor(opts.PurgeInterval)
	}

	return b
}

// Subscribe registers a handler for an event name. Handlers run in
// registration order. Fails with CONFIGURATION_ERROR when a subscription cap
// is exceeded or the bus is disposed.
func (b *Bus) Subscribe(event EventType, fn Handler) (*Subscription, error) {
	if fn == nil {
		return nil, task.NewError(task.KindConfigurationError, "nil handler for %s", event)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return nil, task.NewError(task.KindConfigurationError, "event bus is disposed")
	}
	if b.liveCount(event) >= b.maxPerEvent {
		return nil, task.NewError(task.KindConfigurationError,
			"subscriber limit reached for %s (max %d)", event, b.maxPerEvent)
	}
	if b.liveTotal >= b.maxTotal {
		return nil, task.NewError(task.KindConfigurationError,
			"total subscriber limit reached (max %d)", b.maxTotal)
	}

	b.nextID++
	sub := &subscriber{id: b.nextID, fn: fn}
	b.subs[event] = append(b.subs[event], sub)
	b.liveTotal++

	return &Subscription{bus: b, event: event, id: sub.id}, nil
}

// Respond registers the single responder for a request name. A second
// registration fails with CONFIGURATION_ERROR.
func (b *Bus) Respond(event EventType, fn Responder) error {
	if fn == nil {
		return task.NewError(task.KindConfigurationError, "nil responder for %s", event)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return task.NewError(task.KindConfigurationError, "event bus is disposed")
	}
	if _, exists := b.responders[event]; exists {
		return task.NewError(task.KindConfigurationError, "responder already registered for %s", event)
	}
	b.responders[event] = fn
	return nil
}

// Emit dispatches the event to every live subscriber in registration order
// and returns after all of them ran. Handler failures are logged and do not
// abort later handlers.
func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	slots := b.subs[e.Type]
	handlers := make([]Handler, 0, len(slots))
	for _, s := range slots {
		if !s.dead {
			handlers = append(handlers, s.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		b.dispatch(e, fn)
	}
}

func (b *Bus) dispatch(e Event, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("event", string(e.Type)).Any("panic", r).
				Msg("event handler panicked")
		}
	}()
	if err := fn(e); err != nil {
		b.log.Error().Str("event", string(e.Type)).Err(err).
			Msg("event handler failed")
	}
}

// Request routes the payload to the event's responder and returns its result.
// Fails with INVALID_OPERATION when no responder is registered.
func (b *Bus) Request(ctx context.Context, event EventType, payload any) (any, error) {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil, task.NewError(task.KindInvalidOperation, "event bus is disposed")
	}
	fn, ok := b.responders[event]
	b.mu.Unlock()

	if !ok {
		return nil, task.NewError(task.KindInvalidOperation, "no responder registered for %s", event)
	}
	return fn(ctx, payload)
}

// Dispose stops the janitor and clears all subscription tables. Idempotent.
func (b *Bus) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	b.subs = make(map[EventType][]*subscriber)
	b.responders = make(map[EventType]Responder)
	b.liveTotal = 0
	stop := b.janitorStop
	done := b.janitorDone
	b.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// SubscriberCount returns the number of live subscriptions for an event.
func (b *Bus) SubscriberCount(event EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.liveCount(event)
}

func (b *Bus) liveCount(event EventType) int {
	n := 0
	for _, s := range b.subs[event] {
		if !s.dead {
			n++
		}
	}
	return n
}

func (b *Bus) unsubscribe(event EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs[event] {
		if s.id == id && !s.dead {
			s.dead = true
			s.fn = nil
			b.liveTotal--
			return
		}
	}
}

func (b *Bus) janitor(interval time.Duration) {
	defer close(b.janitorDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.purgeTombstones()
		case <-b.janitorStop:
			return
		}
	}
}

// purgeTombstones compacts dead slots out of every subscription list and
// drops event entries that end up empty.
func (b *Bus) purgeTombstones() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for event, slots := range b.subs {
		live := slots[:0]
		for _, s := range slots {
			if !s.dead {
				live = append(live, s)
			}
		}
		if len(live) == 0 {
			delete(b.subs, event)
			continue
		}
		b.subs[event] = live
	}
}
