package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/RevCBH/taskd/internal/events"
)

// Bridge forwards bus events to the bubbletea program as messages.
type Bridge struct {
	program *tea.Program
}

// NewBridge creates a bridge for the given program.
func NewBridge(program *tea.Program) *Bridge {
	return &Bridge{program: program}
}

// Events lists the event types the bridge wants subscribed.
func (b *Bridge) Events() []events.EventType {
	return []events.EventType{
		events.TaskDelegated,
		events.TaskCompleted,
		events.TaskFailed,
		events.TaskTimeout,
		events.WorkerKilled,
		events.TaskCancellationRequested,
		events.TaskResumed,
		events.SystemResourcesUpdated,
		events.ShutdownInitiated,
	}
}

// Handler returns the bus handler that feeds the program.
func (b *Bridge) Handler() events.Handler {
	return func(evt events.Event) error {
		if msg := b.eventToMsg(evt); msg != nil {
			b.program.Send(msg)
		}
		return nil
	}
}

func (b *Bridge) eventToMsg(evt events.Event) tea.Msg {
	switch evt.Type {
	case events.TaskDelegated:
		text := fmt.Sprintf("delegated %s", evt.TaskID)
		if p, ok := evt.Payload.(events.DelegatedPayload); ok {
			if p.Ready {
				text = fmt.Sprintf("delegated %s (%s)", evt.TaskID, p.Priority)
			} else {
				text = fmt.Sprintf("delegated %s (%s, blocked)", evt.TaskID, p.Priority)
			}
		}
		return TaskEventMsg{TaskID: evt.TaskID, Icon: IconDelegated, Text: text}

	case events.TaskCompleted:
		text := fmt.Sprintf("completed %s", evt.TaskID)
		if p, ok := evt.Payload.(events.CompletionPayload); ok {
			text = fmt.Sprintf("completed %s in %s", evt.TaskID, p.Duration.Round(time.Second))
		}
		return TaskEventMsg{TaskID: evt.TaskID, Icon: IconComplete, Text: text, Outcome: "completed"}

	case events.TaskFailed:
		text := fmt.Sprintf("failed %s", evt.TaskID)
		if p, ok := evt.Payload.(events.CompletionPayload); ok {
			text = fmt.Sprintf("failed %s (exit %d)", evt.TaskID, p.ExitCode)
		}
		return TaskEventMsg{TaskID: evt.TaskID, Icon: IconFailed, Text: text, Outcome: "failed"}

	case events.TaskTimeout:
		return TaskEventMsg{
			TaskID:  evt.TaskID,
			Icon:    IconTimeout,
			Text:    fmt.Sprintf("timed out %s", evt.TaskID),
			Outcome: "failed",
		}

	case events.WorkerKilled:
		return TaskEventMsg{
			TaskID:  evt.TaskID,
			Icon:    IconKilled,
			Text:    fmt.Sprintf("killed %s", evt.TaskID),
			Outcome: "cancelled",
		}

	case events.TaskCancellationRequested:
		return TaskEventMsg{
			TaskID: evt.TaskID,
			Icon:   IconCancel,
			Text:   fmt.Sprintf("cancellation requested for %s", evt.TaskID),
		}

	case events.TaskResumed:
		return TaskEventMsg{
			TaskID: evt.TaskID,
			Icon:   IconResumed,
			Text:   fmt.Sprintf("resumed as %s", evt.TaskID),
		}

	case events.SystemResourcesUpdated:
		if p, ok := evt.Payload.(events.ResourcesPayload); ok {
			return ResourcesMsg{
				CPUPercent:      p.CPUPercent,
				AvailableMemory: p.AvailableMemory,
				TotalMemory:     p.TotalMemory,
				LoadAverage:     p.LoadAverage,
			}
		}
		return nil

	case events.ShutdownInitiated:
		return QuitMsg{}

	default:
		return nil
	}
}

// SendQuit asks the program to exit.
func (b *Bridge) SendQuit() {
	b.program.Send(QuitMsg{})
}
