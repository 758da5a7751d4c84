package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/RevCBH/taskd/internal/config"
	"github.com/RevCBH/taskd/internal/container"
	"github.com/RevCBH/taskd/internal/daemon"
	"github.com/RevCBH/taskd/internal/daemon/db"
	"github.com/RevCBH/taskd/internal/events"
	"github.com/RevCBH/taskd/internal/git"
	"github.com/RevCBH/taskd/internal/graph"
	"github.com/RevCBH/taskd/internal/logging"
	"github.com/RevCBH/taskd/internal/monitor"
	"github.com/RevCBH/taskd/internal/queue"
	"github.com/RevCBH/taskd/internal/scheduler"
	"github.com/RevCBH/taskd/internal/worker"

	"github.com/RevCBH/taskd/internal/cli/tui"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	NoTUI bool
}

// NewServeCmd creates the serve command.
func NewServeCmd(app *App) *cobra.Command {
	var opts ServeOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor",
		Long: `Run the supervisor in the foreground: crash recovery, the dispatch
loop, resource monitoring, and schedule evaluation. On an interactive
terminal a dashboard is shown unless --no-tui is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoTUI, "no-tui", false,
		"Disable the dashboard even on a terminal")
	return cmd
}

// RunServe wires every component through the container and drives the serve
// loop until a signal or the dashboard asks to stop.
func (a *App) RunServe(ctx context.Context, opts ServeOptions) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := ensureDataDirs(cfg); err != nil {
		return err
	}

	pid := daemon.NewPIDFile(filepath.Join(cfg.DataDir, "taskd.pid"))
	if err := pid.Acquire(); err != nil {
		return err
	}
	defer pid.Release()

	log := logging.WithComponent("serve")

	c := container.New(log)
	registerServices(c, cfg)
	defer c.Dispose()

	bus := c.MustResolve(container.ServiceBus).(*events.Bus)
	store, err := c.Resolve(container.ServiceStore)
	if err != nil {
		return err
	}
	mon := c.MustResolve(container.ServiceMonitor).(*monitor.Monitor)
	pool := c.MustResolve(container.ServicePool).(*worker.Pool)

	runner := git.NewRunner()
	wts := git.NewManager(cfg.Worktree.BaseDir, runner, logging.WithComponent("worktree"))
	q := queue.New(cfg.Queue.MaxSize)

	sup, err := daemon.New(daemon.Config{
		QueueMaxSize:        cfg.Queue.MaxSize,
		CheckpointTailLines: cfg.Worker.CheckpointTailLines,
		LogDir:              cfg.Logging.Dir,
	}, store.(*db.Store), bus, q, graph.New(), pool, mon, wts, runner,
		logging.WithComponent("supervisor"))
	if err != nil {
		return err
	}

	sched := scheduler.New(store.(*db.Store), sup.DelegateTemplate, scheduler.Config{
		TickInterval:   cfg.Scheduler.TickInterval.Std(),
		MaxCatchupRuns: cfg.Scheduler.MaxCatchupRuns,
		Logger:         logging.WithComponent("scheduler"),
	})
	if err := c.RegisterValue(container.ServiceScheduler, sched); err != nil {
		return err
	}
	c.MustResolve(container.ServiceScheduler)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if useTUI(opts) {
		stopTUI := startDashboard(bus, cancel, func() tui.Stats {
			return tui.Stats{QueueDepth: q.Size(), WorkerCount: pool.Count()}
		})
		defer stopTUI()
	} else {
		log.Info().Str("db", cfg.Database.Path).Msg("supervisor started")
	}

	return sup.Serve(ctx, func() {
		mon.Start()
		sched.Start()
	})
}

// registerServices binds the component factories. The scheduler is bound
// later as a value because it closes over the supervisor.
func registerServices(c *container.Container, cfg *config.Config) {
	c.Register(container.ServiceBus, func(c *container.Container) (any, error) {
		return events.NewBus(events.Options{
			MaxPerEvent:   cfg.Events.MaxSubscribersPerEvent,
			MaxTotal:      cfg.Events.MaxTotalSubscribers,
			PurgeInterval: cfg.Events.TombstonePurgeInterval.Std(),
			Logger:        logging.WithComponent("bus"),
		}), nil
	})

	c.Register(container.ServiceStore, func(c *container.Container) (any, error) {
		return db.Open(cfg.Database.Path)
	})

	c.Register(container.ServiceMonitor, func(c *container.Container) (any, error) {
		bus, err := c.Resolve(container.ServiceBus)
		if err != nil {
			return nil, err
		}
		return monitor.New(bus.(*events.Bus), monitor.Config{
			MaxCPUPercent:  cfg.Resources.MaxCPUPercent,
			MinMemoryBytes: cfg.Resources.MinMemoryBytes,
			PollInterval:   cfg.Resources.PollInterval.Std(),
			Logger:         logging.WithComponent("monitor"),
		}), nil
	})

	c.Register(container.ServicePool, func(c *container.Container) (any, error) {
		bus, err := c.Resolve(container.ServiceBus)
		if err != nil {
			return nil, err
		}
		mon, err := c.Resolve(container.ServiceMonitor)
		if err != nil {
			return nil, err
		}

		runner := git.NewRunner()
		wts := git.NewManager(cfg.Worktree.BaseDir, runner, logging.WithComponent("worktree"))
		completer := git.NewCompleter(filepath.Join(cfg.DataDir, "patches"),
			runner, logging.WithComponent("merge"))

		return worker.NewPool(worker.Config{
			AgentCommand:      cfg.Worker.AgentCommand,
			DefaultTimeout:    cfg.Worker.DefaultTimeout.Std(),
			MaxOutputBuffer:   int64(cfg.Worker.MaxOutputBuffer),
			KillGracePeriod:   cfg.Worker.KillGracePeriod.Std(),
			LogDir:            cfg.Logging.Dir,
			DefaultBaseBranch: cfg.Worktree.DefaultBaseBranch,
		}, bus.(*events.Bus), mon.(*monitor.Monitor), wts, completer, runner,
			logging.WithComponent("pool")), nil
	})
}

// useTUI decides whether to run the dashboard: interactive stdout only,
// unless explicitly disabled.
func useTUI(opts ServeOptions) bool {
	if opts.NoTUI {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// startDashboard runs the bubbletea program on its own goroutine, bridged to
// the bus. Quitting the dashboard cancels the serve context. The returned
// stop function detaches the bridge and waits for the program to exit.
func startDashboard(bus *events.Bus, cancel context.CancelFunc, statsFunc func() tui.Stats) func() {
	model := tui.NewModel(statsFunc)
	program := tea.NewProgram(model)
	bridge := tui.NewBridge(program)

	var subs []*events.Subscription
	for _, et := range bridge.Events() {
		if sub, err := bus.Subscribe(et, bridge.Handler()); err == nil {
			subs = append(subs, sub)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := program.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
		}
		// User quit (q / ctrl-c inside the TUI) stops the supervisor.
		cancel()
	}()

	return func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		bridge.SendQuit()
		<-done
	}
}

// ensureDataDirs creates the directories the supervisor writes into.
func ensureDataDirs(cfg *config.Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.Logging.Dir, cfg.Worktree.BaseDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
