package events

import (
	"fmt"
	"io"
	"os"
	"time"
)

// LogConfig configures the logging handler
type LogConfig struct {
	// Writer is where lines are written (default: os.Stderr)
	Writer io.Writer

	// IncludePayload includes the event payload in log output
	IncludePayload bool

	// TimeFormat is the timestamp format (default: RFC3339)
	TimeFormat string
}

// LogHandler returns a handler that mirrors events to the configured writer.
// Format: 2006-01-02T15:04:05Z [task.completed] task-abc worker-123
func LogHandler(cfg LogConfig) Handler {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}

	return func(e Event) error {
		line := fmt.Sprintf("%s %s", e.Time.Format(cfg.TimeFormat), e.String())
		if cfg.IncludePayload && e.Payload != nil {
			line += fmt.Sprintf(" payload=%v", e.Payload)
		}
		_, err := fmt.Fprintln(cfg.Writer, line)
		return err
	}
}

// ChannelHandler returns a handler that forwards events into ch without
// blocking the emit path; events are dropped when the channel is full. The
// serve dashboard consumes its feed through this.
func ChannelHandler(ch chan<- Event) Handler {
	return func(e Event) error {
		select {
		case ch <- e:
			return nil
		default:
			return fmt.Errorf("event channel full, dropped %s", e.Type)
		}
	}
}

// SubscribeAll attaches the handler to every listed event type and returns
// the subscriptions for later teardown.
func SubscribeAll(b *Bus, types []EventType, fn Handler) ([]*Subscription, error) {
	subs := make([]*Subscription, 0, len(types))
	for _, t := range types {
		sub, err := b.Subscribe(t, fn)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// LifecycleEventTypes lists every emitted (non-request) event type, for
// handlers that mirror the full stream.
func LifecycleEventTypes() []EventType {
	return []EventType{
		TaskDelegated,
		TaskCancellationRequested,
		TaskCompleted,
		TaskFailed,
		TaskTimeout,
		TaskResumed,
		WorkerKilled,
		SystemResourcesUpdated,
		WorkersTerminating,
		DatabaseClosing,
		ShutdownInitiated,
		ShutdownComplete,
	}
}
