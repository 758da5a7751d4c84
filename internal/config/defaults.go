package config

import "time"

const (
	DefaultDataDir             = "~/.taskd"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "console"
	DefaultQueueMaxSize        = 1000
	DefaultPollInterval        = time.Second
	DefaultMaxCPUPercent       = 90
	DefaultMinMemoryBytes      = 256 << 20
	DefaultTickInterval        = 30 * time.Second
	DefaultMaxCatchupRuns      = 100
	DefaultMaxOutputBuffer     = 1 << 20
	DefaultKillGracePeriod     = 5 * time.Second
	DefaultCheckpointTailLines = 50
	DefaultAgentCommand        = "claude"
	DefaultBaseBranch          = "main"
	DefaultMaxPerEvent         = 100
	DefaultMaxTotal            = 1000
	DefaultPurgeInterval       = 60 * time.Second
)

// Default returns a Config with all default values applied. Derived paths
// (database, logs, worktrees) stay empty until resolvePaths fills them from
// DataDir.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir,
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Queue: QueueConfig{
			MaxSize: DefaultQueueMaxSize,
		},
		Resources: ResourcesConfig{
			PollInterval:   Duration(DefaultPollInterval),
			MaxCPUPercent:  DefaultMaxCPUPercent,
			MinMemoryBytes: DefaultMinMemoryBytes,
		},
		Scheduler: SchedulerConfig{
			TickInterval:   Duration(DefaultTickInterval),
			MaxCatchupRuns: DefaultMaxCatchupRuns,
		},
		Worker: WorkerConfig{
			DefaultTimeout:      0, // no timeout unless a task sets one
			MaxOutputBuffer:     DefaultMaxOutputBuffer,
			KillGracePeriod:     Duration(DefaultKillGracePeriod),
			CheckpointTailLines: DefaultCheckpointTailLines,
			AgentCommand:        DefaultAgentCommand,
		},
		Worktree: WorktreeConfig{
			DefaultBaseBranch: DefaultBaseBranch,
		},
		Events: EventsConfig{
			MaxSubscribersPerEvent: DefaultMaxPerEvent,
			MaxTotalSubscribers:    DefaultMaxTotal,
			TombstonePurgeInterval: Duration(DefaultPurgeInterval),
		},
	}
}
