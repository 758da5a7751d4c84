package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Components derive child loggers
// from it via WithComponent rather than using it directly.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// Config holds logging configuration.
type Config struct {
	Level  string // trace|debug|info|warn|error
	Format string // console|json
	Output io.Writer
}

// Init configures the root logger. Safe to call once at process start; tests
// may call it again to redirect output.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if strings.EqualFold(cfg.Format, "json") {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// WithComponent creates a child logger with a component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTaskID creates a child logger with a task_id field
func WithTaskID(taskID string) zerolog.Logger {
	return Logger.With().Str("task_id", taskID).Logger()
}

// WithWorkerID creates a child logger with a worker_id field
func WithWorkerID(workerID string) zerolog.Logger {
	return Logger.With().Str("worker_id", workerID).Logger()
}

// Nop returns a disabled logger for tests that want silence.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
