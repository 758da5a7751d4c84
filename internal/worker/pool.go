package worker

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/RevCBH/taskd/internal/agent"
	"github.com/RevCBH/taskd/internal/events"
	"github.com/RevCBH/taskd/internal/git"
	"github.com/RevCBH/taskd/internal/monitor"
	"github.com/RevCBH/taskd/internal/task"
)

// Config configures the pool.
type Config struct {
	// AgentCommand is the external agent binary. Empty selects the
	// default resolved from PATH.
	AgentCommand string

	// DefaultTimeout applies to tasks that carry no timeout of their own.
	// Zero means such tasks run unbounded.
	DefaultTimeout time.Duration

	// MaxOutputBuffer caps each task's in-memory output capture.
	MaxOutputBuffer int64

	// KillGracePeriod is the interval between SIGTERM and SIGKILL.
	// Zero selects five seconds.
	KillGracePeriod time.Duration

	// LogDir receives one <taskID>.log file per task. Empty disables
	// log files.
	LogDir string

	// DefaultBaseBranch seeds worktrees when the task names none.
	DefaultBaseBranch string
}

// phase tracks why a worker is leaving. The three exit paths converge on the
// same reap logic; the phase selects which event announces it.
type phase int

const (
	phaseRunning phase = iota
	phaseTimingOut
	phaseCancelling
)

type procWorker struct {
	rec      task.Worker
	t        task.Task
	cmd      *exec.Cmd
	phase    phase
	timeout  *time.Timer
	grace    *time.Timer
	worktree *git.Worktree
	repoRoot string
	started  time.Time
	done     chan struct{}
}

type capture struct {
	stdout  *OutputBuffer
	stderr  *OutputBuffer
	logFile *os.File
}

// Pool spawns and reaps agent child processes. It owns every running child:
// nothing else in the supervisor terminates them, including during shutdown.
type Pool struct {
	cfg       Config
	bus       *events.Bus
	monitor   *monitor.Monitor
	worktrees *git.Manager
	completer *git.Completer
	runner    git.Runner
	log       zerolog.Logger

	mu       sync.Mutex
	workers  map[string]*procWorker
	outputs  map[string]*capture
	disposed bool
}

// NewPool creates a pool. The worktree manager and completer may be nil when
// worktree isolation is not in use.
func NewPool(cfg Config, bus *events.Bus, mon *monitor.Monitor, worktrees *git.Manager, completer *git.Completer, runner git.Runner, log zerolog.Logger) *Pool {
	if cfg.AgentCommand == "" {
		cfg.AgentCommand = agent.DefaultCommand
	}
	if cfg.KillGracePeriod <= 0 {
		cfg.KillGracePeriod = 5 * time.Second
	}
	if cfg.DefaultBaseBranch == "" {
		cfg.DefaultBaseBranch = "main"
	}
	if runner == nil {
		runner = git.NewRunner()
	}
	return &Pool{
		cfg:       cfg,
		bus:       bus,
		monitor:   mon,
		worktrees: worktrees,
		completer: completer,
		runner:    runner,
		log:       log,
		workers:   make(map[string]*procWorker),
		outputs:   make(map[string]*capture),
	}
}

// Spawn launches the agent process for a task. It enforces admission
// control, at most one worker per task, worktree setup with fallback, and
// the timeout timer. The returned record is a snapshot.
func (p *Pool) Spawn(ctx context.Context, t task.Task) (task.Worker, error) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return task.Worker{}, task.NewError(task.KindInvalidOperation, "worker pool is disposed")
	}
	if _, exists := p.workers[t.ID]; exists {
		p.mu.Unlock()
		return task.Worker{}, task.NewError(task.KindTaskAlreadyRunning,
			"task %s already has a worker", t.ID)
	}
	p.mu.Unlock()

	if ok, reason := p.monitor.CanSpawnWorker(); !ok {
		return task.Worker{}, task.NewError(task.KindInsufficientResources,
			"cannot spawn worker: %s", reason)
	}

	workDir, wt, repoRoot := p.resolveWorkDir(ctx, t)

	cmd := exec.Command(p.cfg.AgentCommand, agent.BuildArgs(t.Prompt)...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), agent.Env(t.ID)...)
	// Children get their own process group so a kill reaches any shells
	// the agent itself spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cap := p.newCapture(t)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return task.Worker{}, task.WrapError(task.KindProcessSpawnFailed, err, "failed to pipe stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return task.Worker{}, task.WrapError(task.KindProcessSpawnFailed, err, "failed to pipe stderr")
	}

	if err := cmd.Start(); err != nil {
		cap.close()
		return task.Worker{}, task.WrapError(task.KindProcessSpawnFailed, err,
			"failed to start agent for task %s", t.ID)
	}

	now := time.Now()
	workerID := task.WorkerIDFor(cmd.Process.Pid)
	rec := task.Worker{
		ID:        workerID,
		TaskID:    t.ID,
		PID:       cmd.Process.Pid,
		StartedAt: now,
	}
	if wt != nil {
		rec.WorktreePath = wt.Path
		rec.WorktreeBranch = wt.Branch
	}

	w := &procWorker{
		rec:      rec,
		t:        t,
		cmd:      cmd,
		worktree: wt,
		repoRoot: repoRoot,
		started:  now,
		done:     make(chan struct{}),
	}

	if timeout := p.timeoutFor(t); timeout > 0 {
		deadline := now.Add(timeout)
		w.rec.Deadline = &deadline
		rec.Deadline = &deadline
		w.timeout = time.AfterFunc(timeout, func() { p.timeoutWorker(t.ID) })
	}

	p.mu.Lock()
	p.workers[t.ID] = w
	p.outputs[t.ID] = cap
	p.mu.Unlock()
	p.monitor.IncrementWorkers()

	p.log.Info().Str("task_id", t.ID).Str("worker_id", workerID).
		Str("dir", workDir).Msg("worker spawned")

	go p.collect(w, cap, stdout, stderr)

	return rec, nil
}

// timeoutFor resolves the effective timeout. Tasks with no timeout of their
// own inherit the configured default; a result of zero arms no timer at all.
func (p *Pool) timeoutFor(t task.Task) time.Duration {
	if t.TimeoutMS > 0 {
		return time.Duration(t.TimeoutMS) * time.Millisecond
	}
	return p.cfg.DefaultTimeout
}

func (p *Pool) newCapture(t task.Task) *capture {
	maxBytes := t.MaxOutputBuffer
	if maxBytes <= 0 {
		maxBytes = p.cfg.MaxOutputBuffer
	}

	cap := &capture{
		stdout: NewOutputBuffer(maxBytes),
		stderr: NewOutputBuffer(maxBytes),
	}

	if p.cfg.LogDir != "" {
		if err := os.MkdirAll(p.cfg.LogDir, 0o755); err != nil {
			p.log.Warn().Err(err).Msg("failed to create log directory")
		} else if f, err := os.OpenFile(
			filepath.Join(p.cfg.LogDir, t.ID+".log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
			p.log.Warn().Err(err).Str("task_id", t.ID).Msg("failed to open task log file")
		} else {
			cap.logFile = f
		}
	}
	return cap
}

func (c *capture) stdoutWriter() io.Writer {
	if c.logFile != nil {
		return io.MultiWriter(c.stdout, c.logFile)
	}
	return c.stdout
}

func (c *capture) stderrWriter() io.Writer {
	if c.logFile != nil {
		return io.MultiWriter(c.stderr, c.logFile)
	}
	return c.stderr
}

func (c *capture) close() {
	if c.logFile != nil {
		c.logFile.Close()
		c.logFile = nil
	}
}

// resolveWorkDir computes the child's working directory, creating a worktree
// when the task asks for one. Worktree failures fall back to the task's
// working directory (or the process cwd) rather than failing the spawn.
func (p *Pool) resolveWorkDir(ctx context.Context, t task.Task) (string, *git.Worktree, string) {
	baseDir := t.WorkingDirectory
	if baseDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			baseDir = cwd
		}
	}

	if !t.Worktree.Enabled || p.worktrees == nil {
		return baseDir, nil, ""
	}

	repoRoot, err := git.RepoRoot(ctx, p.runner, baseDir)
	if err != nil {
		p.log.Warn().Err(err).Str("task_id", t.ID).
			Msg("worktree requested outside a repository, falling back to working directory")
		return baseDir, nil, ""
	}

	base := t.Worktree.BaseBranch
	if base == "" {
		base = p.cfg.DefaultBaseBranch
	}

	wt, err := p.worktrees.Create(ctx, repoRoot, t.ID, t.Worktree.BranchName, base)
	if err != nil {
		p.log.Warn().Err(err).Str("task_id", t.ID).
			Msg("worktree creation failed, falling back to working directory")
		return baseDir, nil, ""
	}

	return effectiveWorkDir(wt.Path, t.WorkingDirectory, repoRoot, p.log), wt, repoRoot
}

// collect streams child output into the capture, waits for exit, and reaps.
func (p *Pool) collect(w *procWorker, cap *capture, stdout, stderr io.Reader) {
	var copiers sync.WaitGroup
	copiers.Add(2)
	go func() {
		defer copiers.Done()
		io.Copy(cap.stdoutWriter(), stdout) //nolint:errcheck
	}()
	go func() {
		defer copiers.Done()
		io.Copy(cap.stderrWriter(), stderr) //nolint:errcheck
	}()
	copiers.Wait()

	exitCode := 0
	if err := w.cmd.Wait(); err != nil {
		exitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}

	p.reap(w, cap, exitCode)
}

// reap unwinds worker state after the child exited, on all three exit paths.
func (p *Pool) reap(w *procWorker, cap *capture, exitCode int) {
	p.mu.Lock()
	exitPhase := w.phase
	if w.timeout != nil {
		w.timeout.Stop()
	}
	if w.grace != nil {
		w.grace.Stop()
	}
	delete(p.workers, w.t.ID)
	p.mu.Unlock()

	p.finishWorktree(w, exitPhase, exitCode)

	cap.close()
	p.monitor.DecrementWorkers()
	close(w.done)

	duration := time.Since(w.started)
	ev := events.NewEvent("", w.t.ID).WithWorker(w.rec.ID)

	switch exitPhase {
	case phaseTimingOut:
		ev.Type = events.TaskTimeout
		ev = ev.WithPayload(events.TimeoutPayload{TimeoutMS: w.t.TimeoutMS})
		p.log.Warn().Str("task_id", w.t.ID).Str("worker_id", w.rec.ID).
			Dur("duration", duration).Msg("worker timed out")
	case phaseCancelling:
		ev.Type = events.WorkerKilled
		ev = ev.WithPayload(events.CompletionPayload{ExitCode: exitCode, Duration: duration})
		p.log.Info().Str("task_id", w.t.ID).Str("worker_id", w.rec.ID).
			Msg("worker killed")
	default:
		if exitCode == 0 {
			ev.Type = events.TaskCompleted
			ev = ev.WithPayload(events.CompletionPayload{ExitCode: 0, Duration: duration})
		} else {
			ev.Type = events.TaskFailed
			ev = ev.WithPayload(events.CompletionPayload{ExitCode: exitCode, Duration: duration})
			ev = ev.WithError(task.NewError(task.KindTaskExecutionFailed,
				"agent exited with code %d", exitCode))
		}
		p.log.Info().Str("task_id", w.t.ID).Str("worker_id", w.rec.ID).
			Int("exit_code", exitCode).Dur("duration", duration).Msg("worker exited")
	}

	p.bus.Emit(ev)
}

// finishWorktree runs the merge step (natural exits only) and the cleanup
// decision. A failed merge preserves the worktree regardless of the
// configured cleanup policy.
func (p *Pool) finishWorktree(w *procWorker, exitPhase phase, exitCode int) {
	if w.worktree == nil {
		return
	}

	ctx := context.Background()
	mergeFailed := false

	if exitPhase == phaseRunning && w.t.Worktree.MergeStrategy != task.MergeNone && p.completer != nil {
		result, err := p.completer.Complete(ctx, w.t, w.worktree, w.repoRoot)
		if err != nil {
			mergeFailed = true
			p.log.Error().Err(err).Str("task_id", w.t.ID).
				Str("worktree", w.worktree.Path).
				Msg("merge failed, preserving worktree for manual recovery")
		} else {
			p.log.Info().Str("task_id", w.t.ID).
				Str("outcome", string(result.Outcome)).Str("detail", result.Detail).
				Msg("worktree merge completed")
		}
	}

	if mergeFailed || !shouldCleanup(w.t.Worktree.Cleanup, w.t.Worktree.MergeStrategy) {
		return
	}
	if err := p.worktrees.Remove(ctx, w.repoRoot, w.worktree.Path); err != nil {
		p.log.Warn().Err(err).Str("task_id", w.t.ID).Msg("worktree cleanup failed")
	}
}

// shouldCleanup applies the cleanup policy: auto removes unless the strategy
// is manual, keep never removes, delete always does.
func shouldCleanup(policy task.CleanupPolicy, strategy task.MergeStrategy) bool {
	switch policy {
	case task.CleanupKeep:
		return false
	case task.CleanupDelete:
		return true
	default:
		return strategy != task.MergeManual
	}
}

// timeoutWorker is the timer callback for a task's deadline. It reuses the
// kill path; the phase makes the reap emit TaskTimeout.
func (p *Pool) timeoutWorker(taskID string) {
	p.mu.Lock()
	w, ok := p.workers[taskID]
	if !ok || w.phase != phaseRunning {
		p.mu.Unlock()
		return
	}
	w.phase = phaseTimingOut
	p.mu.Unlock()

	if err := p.kill(w); err != nil {
		p.log.Error().Err(err).Str("task_id", taskID).Msg("timeout kill failed")
	}
}

// Kill terminates a task's worker on external request (cancellation). The
// reap emits WorkerKilled once the process is gone.
func (p *Pool) Kill(taskID string) error {
	p.mu.Lock()
	w, ok := p.workers[taskID]
	if !ok {
		p.mu.Unlock()
		return task.NewError(task.KindWorkerNotFound, "no worker for task %s", taskID)
	}
	if w.phase == phaseRunning {
		w.phase = phaseCancelling
	}
	p.mu.Unlock()

	return p.kill(w)
}

// kill sends SIGTERM to the process group and arms a grace timer that
// escalates to SIGKILL. The timer is tracked on the worker so reap and
// Dispose can cancel it.
func (p *Pool) kill(w *procWorker) error {
	pgid := -w.rec.PID
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return task.WrapError(task.KindProcessKillFailed, err,
			"failed to signal worker %s", w.rec.ID)
	}

	grace := time.AfterFunc(p.cfg.KillGracePeriod, func() {
		if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			p.log.Error().Err(err).Str("worker_id", w.rec.ID).Msg("force kill failed")
		}
	})

	p.mu.Lock()
	w.grace = grace
	p.mu.Unlock()
	return nil
}

// KillAll terminates every worker concurrently and waits for all of them to
// be reaped. Individual failures are logged; the first is returned.
func (p *Pool) KillAll() error {
	p.mu.Lock()
	workers := make([]*procWorker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			if err := p.Kill(w.t.ID); err != nil {
				if task.IsKind(err, task.KindWorkerNotFound) {
					return nil // reaped while we iterated
				}
				p.log.Error().Err(err).Str("task_id", w.t.ID).Msg("kill failed during shutdown")
				return err
			}
			<-w.done
			return nil
		})
	}
	return g.Wait()
}

// Dispose cancels outstanding timers and refuses further spawns. Callers run
// KillAll first; Dispose only sweeps up timers for workers that never
// finished reaping.
func (p *Pool) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.disposed = true
	for _, w := range p.workers {
		if w.timeout != nil {
			w.timeout.Stop()
		}
		if w.grace != nil {
			w.grace.Stop()
		}
	}
}

// WorkerFor returns the live worker record for a task.
func (p *Pool) WorkerFor(taskID string) (task.Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[taskID]
	if !ok {
		return task.Worker{}, false
	}
	return w.rec, true
}

// Workers returns a snapshot of all live worker records.
func (p *Pool) Workers() []task.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]task.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.rec)
	}
	return out
}

// Count returns the number of live workers.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// OutputTail returns the last n lines of the task's captured stdout and
// stderr. Captures survive worker reaping until ReleaseOutput.
func (p *Pool) OutputTail(taskID string, n int) (stdout, stderr []string, ok bool) {
	p.mu.Lock()
	cap, ok := p.outputs[taskID]
	p.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	return cap.stdout.Tail(n), cap.stderr.Tail(n), true
}

// ReleaseOutput drops the retained capture for a task. The checkpoint
// handler calls it after persisting the tails.
func (p *Pool) ReleaseOutput(taskID string) {
	p.mu.Lock()
	delete(p.outputs, taskID)
	p.mu.Unlock()
}
