// Package cli wires the cobra command tree. Every command except serve runs
// in client mode: it opens the shared WAL store directly, performs its
// operation through a supervisor with no pool or monitor, and exits. The
// running daemon picks up cross-process work (new tasks, cancellation
// requests) on its reconcile tick.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/RevCBH/taskd/internal/config"
	"github.com/RevCBH/taskd/internal/daemon"
	"github.com/RevCBH/taskd/internal/daemon/db"
	"github.com/RevCBH/taskd/internal/events"
	"github.com/RevCBH/taskd/internal/graph"
	"github.com/RevCBH/taskd/internal/logging"
	"github.com/RevCBH/taskd/internal/queue"
)

// App carries the flags and lazily-loaded configuration shared by all
// commands.
type App struct {
	rootCmd *cobra.Command

	configPath string
	logLevel   string

	cfg *config.Config

	version string
	commit  string
	date    string
}

// New creates the CLI application with the full command tree.
func New() *App {
	app := &App{}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI application.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion sets the build information for the version command.
func (a *App) SetVersion(version, commit, date string) {
	a.version = version
	a.commit = commit
	a.date = date
}

func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "taskd",
		Short: "Local task delegation supervisor",
		Long: `taskd delegates prompts to agent child processes: a priority queue,
a dependency graph, resource-aware admission, and cron scheduling over a
durable local store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	a.rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "",
		"Config file (default "+config.DefaultPath()+")")
	a.rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"Override log level (trace|debug|info|warn|error)")

	a.rootCmd.AddCommand(
		NewDelegateCmd(a),
		NewStatusCmd(a),
		NewLogsCmd(a),
		NewCancelCmd(a),
		NewRetryCmd(a),
		NewResumeCmd(a),
		NewScheduleCmd(a),
		NewPipelineCmd(a),
		NewWorktreeCmd(a),
		NewServeCmd(a),
		NewConfigCmd(a),
		NewVersionCmd(a),
	)
}

// loadConfig loads configuration once per process and initializes logging.
func (a *App) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	a.cfg = cfg
	return cfg, nil
}

// openSupervisor builds a client-mode supervisor over the shared store. The
// returned cleanup closes the store and bus.
func (a *App) openSupervisor() (*daemon.Supervisor, func(), error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}

	bus := events.NewBus(events.Options{Logger: logging.WithComponent("bus")})

	s, err := daemon.New(daemon.Config{
		QueueMaxSize:        cfg.Queue.MaxSize,
		CheckpointTailLines: cfg.Worker.CheckpointTailLines,
		LogDir:              cfg.Logging.Dir,
	}, store, bus, queue.New(cfg.Queue.MaxSize), graph.New(),
		nil, nil, nil, nil, logging.WithComponent("cli"))
	if err != nil {
		store.Close()
		bus.Dispose()
		return nil, nil, err
	}

	cleanup := func() {
		bus.Dispose()
		store.Close()
	}
	return s, cleanup, nil
}
