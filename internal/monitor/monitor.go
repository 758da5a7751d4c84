package monitor

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/RevCBH/taskd/internal/events"
)

// loadFactorLimit bounds load-average relative to core count; spawning stops
// once load1 reaches this multiple of the cores.
const loadFactorLimit = 3.0

// Resources is one sample of host state plus the supervisor's worker count.
type Resources struct {
	CPUPercent      float64
	TotalMemory     uint64
	AvailableMemory uint64
	LoadAverage     [3]float64
	CoreCount       int
	WorkerCount     int
}

// Thresholds are the admission-control limits in effect.
type Thresholds struct {
	MaxCPUPercent  float64
	MinMemoryBytes uint64
	MaxLoadAverage float64
}

// Prober reads host load and memory. The default implementation samples the
// OS via gopsutil; tests inject scripted readings.
type Prober interface {
	LoadAverage() ([3]float64, error)
	Memory() (total, available uint64, err error)
	CoreCount() int
}

type hostProber struct{}

func (hostProber) LoadAverage() ([3]float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return [3]float64{}, fmt.Errorf("reading load average: %w", err)
	}
	return [3]float64{avg.Load1, avg.Load5, avg.Load15}, nil
}

func (hostProber) Memory() (uint64, uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, fmt.Errorf("reading virtual memory: %w", err)
	}
	return vm.Total, vm.Available, nil
}

func (hostProber) CoreCount() int {
	return runtime.NumCPU()
}

// Config configures the monitor.
type Config struct {
	// MaxCPUPercent denies spawns at or above this derived CPU load
	// (load1 / cores * 100). Zero selects 90.
	MaxCPUPercent float64

	// MinMemoryBytes denies spawns when available memory drops below it.
	// Zero selects 256 MiB.
	MinMemoryBytes uint64

	// PollInterval drives the SystemResourcesUpdated emitter. Zero
	// selects one second.
	PollInterval time.Duration

	// Prober overrides host sampling; nil selects the OS prober.
	Prober Prober

	Logger zerolog.Logger
}

// Monitor polls host resources, publishes updates on the bus, and answers
// the admission predicate for worker spawns.
type Monitor struct {
	prober   Prober
	bus      *events.Bus
	interval time.Duration
	log      zerolog.Logger

	maxCPUPercent  float64
	minMemoryBytes uint64

	mu          sync.Mutex
	workerCount int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

// New creates a monitor. It does not start polling; call Start.
func New(bus *events.Bus, cfg Config) *Monitor {
	if cfg.MaxCPUPercent <= 0 {
		cfg.MaxCPUPercent = 90
	}
	if cfg.MinMemoryBytes == 0 {
		cfg.MinMemoryBytes = 256 << 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Prober == nil {
		cfg.Prober = hostProber{}
	}

	return &Monitor{
		prober:         cfg.Prober,
		bus:            bus,
		interval:       cfg.PollInterval,
		log:            cfg.Logger,
		maxCPUPercent:  cfg.MaxCPUPercent,
		minMemoryBytes: cfg.MinMemoryBytes,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// GetResources samples the host and attaches the current worker count.
func (m *Monitor) GetResources() (Resources, error) {
	loadAvg, err := m.prober.LoadAverage()
	if err != nil {
		return Resources{}, err
	}
	total, available, err := m.prober.Memory()
	if err != nil {
		return Resources{}, err
	}

	cores := m.prober.CoreCount()
	if cores < 1 {
		cores = 1
	}

	m.mu.Lock()
	workers := m.workerCount
	m.mu.Unlock()

	return Resources{
		CPUPercent:      loadAvg[0] / float64(cores) * 100,
		TotalMemory:     total,
		AvailableMemory: available,
		LoadAverage:     loadAvg,
		CoreCount:       cores,
		WorkerCount:     workers,
	}, nil
}

// CanSpawnWorker evaluates the admission predicate. The reason string names
// the first violated limit and is empty when admission passes.
func (m *Monitor) CanSpawnWorker() (bool, string) {
	res, err := m.GetResources()
	if err != nil {
		// A host we cannot sample is not a host we should load further.
		return false, fmt.Sprintf("resource sampling failed: %v", err)
	}

	if res.CPUPercent >= m.maxCPUPercent {
		return false, fmt.Sprintf("cpu at %.1f%% exceeds limit %.1f%%", res.CPUPercent, m.maxCPUPercent)
	}
	if res.AvailableMemory < m.minMemoryBytes {
		return false, fmt.Sprintf("available memory %d below minimum %d", res.AvailableMemory, m.minMemoryBytes)
	}
	maxLoad := loadFactorLimit * float64(res.CoreCount)
	if res.LoadAverage[0] >= maxLoad {
		return false, fmt.Sprintf("load average %.2f exceeds limit %.2f", res.LoadAverage[0], maxLoad)
	}
	return true, ""
}

// GetThresholds returns the limits in effect.
func (m *Monitor) GetThresholds() Thresholds {
	cores := m.prober.CoreCount()
	if cores < 1 {
		cores = 1
	}
	return Thresholds{
		MaxCPUPercent:  m.maxCPUPercent,
		MinMemoryBytes: m.minMemoryBytes,
		MaxLoadAverage: loadFactorLimit * float64(cores),
	}
}

// IncrementWorkers records a spawned worker.
func (m *Monitor) IncrementWorkers() {
	m.mu.Lock()
	m.workerCount++
	m.mu.Unlock()
}

// DecrementWorkers records a reaped worker.
func (m *Monitor) DecrementWorkers() {
	m.mu.Lock()
	if m.workerCount > 0 {
		m.workerCount--
	}
	m.mu.Unlock()
}

// WorkerCount returns the tracked number of live workers.
func (m *Monitor) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workerCount
}

// Start launches the poll loop. Each tick samples the host and emits
// SystemResourcesUpdated; sampling failures are logged and skipped.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.poll()
}

func (m *Monitor) poll() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.publish()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) publish() {
	res, err := m.GetResources()
	if err != nil {
		m.log.Warn().Err(err).Msg("resource sample failed")
		return
	}

	m.bus.Emit(events.Event{
		Type: events.SystemResourcesUpdated,
		Payload: events.ResourcesPayload{
			CPUPercent:      res.CPUPercent,
			TotalMemory:     res.TotalMemory,
			AvailableMemory: res.AvailableMemory,
			LoadAverage:     res.LoadAverage,
			WorkerCount:     res.WorkerCount,
		},
	})
}

// Stop halts the poll loop. Idempotent; it is the first subsystem stopped at
// shutdown so teardown does not race a tick.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)

		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if started {
			<-m.done
		}
	})
}
