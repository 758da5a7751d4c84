// Package daemon hosts the supervisor: the handler suite that ties the
// store, queue, graph, pool, monitor, and scheduler together, plus crash
// recovery and the serve lifecycle. One-shot CLI commands construct the same
// supervisor in client mode (no dispatch, no pollers) against the shared
// WAL store.
package daemon

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RevCBH/taskd/internal/daemon/db"
	"github.com/RevCBH/taskd/internal/events"
	"github.com/RevCBH/taskd/internal/git"
	"github.com/RevCBH/taskd/internal/graph"
	"github.com/RevCBH/taskd/internal/monitor"
	"github.com/RevCBH/taskd/internal/queue"
	"github.com/RevCBH/taskd/internal/worker"
)

// Config carries the supervisor's tunables.
type Config struct {
	// QueueMaxSize caps pending tasks; enforced before any row is written.
	QueueMaxSize int

	// CheckpointTailLines is how many output lines a checkpoint captures.
	CheckpointTailLines int

	// ReconcileInterval drives the tick that picks up cross-process
	// delegations and cancellation requests. Zero selects 2 seconds.
	ReconcileInterval time.Duration

	// LogDir holds per-task output files, for the logs responder.
	LogDir string
}

// Supervisor owns the in-memory caches (queue, graph) derived from the store
// and runs the handler suite over the event bus.
type Supervisor struct {
	cfg    Config
	store  *db.Store
	bus    *events.Bus
	queue  *queue.Queue
	graph  *graph.Graph
	pool   *worker.Pool
	mon    *monitor.Monitor
	runner git.Runner
	wts    *git.Manager
	log    zerolog.Logger

	// dispatchMu serializes dispatch passes; dispatchAgain coalesces
	// triggers that arrive while one is running.
	dispatchMu    sync.Mutex
	dispatching   bool
	dispatchAgain bool

	subs []*events.Subscription
}

// New creates a supervisor over already-constructed components and rebuilds
// the dependency graph from the store's pending edges. The pool, monitor,
// and worktree manager may be nil in client mode.
func New(cfg Config, store *db.Store, bus *events.Bus, q *queue.Queue, g *graph.Graph,
	pool *worker.Pool, mon *monitor.Monitor, wts *git.Manager, runner git.Runner,
	log zerolog.Logger) (*Supervisor, error) {

	if cfg.QueueMaxSize <= 0 {
		cfg.QueueMaxSize = queue.DefaultMaxSize
	}
	if cfg.CheckpointTailLines <= 0 {
		cfg.CheckpointTailLines = 50
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 2 * time.Second
	}
	if runner == nil {
		runner = git.NewRunner()
	}

	s := &Supervisor{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		queue:  q,
		graph:  g,
		pool:   pool,
		mon:    mon,
		wts:    wts,
		runner: runner,
		log:    log,
	}

	if err := s.rebuildGraph(); err != nil {
		return nil, err
	}
	return s, nil
}

// rebuildGraph loads every pending dependency edge into the in-memory DAG.
func (s *Supervisor) rebuildGraph() error {
	edges, err := s.store.ListPendingEdges()
	if err != nil {
		return err
	}
	for _, e := range edges {
		if err := s.graph.AddEdge(e.TaskID, e.DependsOnTaskID); err != nil {
			s.log.Warn().Err(err).Str("task_id", e.TaskID).
				Str("depends_on", e.DependsOnTaskID).Msg("skipping bad edge during graph rebuild")
		}
	}
	return nil
}

// StartHandlers subscribes the completion and dispatch handlers. Serve mode
// only; client-mode supervisors operate synchronously.
func (s *Supervisor) StartHandlers() error {
	completionEvents := []events.EventType{
		events.TaskCompleted, events.TaskFailed, events.TaskTimeout, events.WorkerKilled,
	}
	for _, et := range completionEvents {
		sub, err := s.bus.Subscribe(et, s.handleCompletion)
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}

	dispatchTriggers := []events.EventType{
		events.TaskDelegated, events.SystemResourcesUpdated, events.WorkerKilled,
	}
	for _, et := range dispatchTriggers {
		sub, err := s.bus.Subscribe(et, func(events.Event) error {
			s.Dispatch()
			return nil
		})
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}

	return s.registerResponders()
}

// StopHandlers unsubscribes everything StartHandlers registered.
func (s *Supervisor) StopHandlers() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}
