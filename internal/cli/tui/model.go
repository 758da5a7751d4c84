// Package tui renders the serve-mode dashboard: queue depth, active
// workers, host resources, and a rolling feed of recent events.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Stats is the point-in-time state the dashboard polls from the supervisor.
type Stats struct {
	QueueDepth  int
	WorkerCount int
}

// Resources mirrors the monitor's last published sample.
type Resources struct {
	CPUPercent      float64
	AvailableMemory uint64
	TotalMemory     uint64
	LoadAverage     [3]float64
}

// eventLine is one rendered entry in the recent-events feed.
type eventLine struct {
	At   time.Time
	Icon string
	Text string
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	Styles Styles

	// StatsFunc is polled on every tick; nil leaves the counters at zero.
	StatsFunc func() Stats

	Stats     Stats
	Resources Resources
	HasSample bool

	Completed int
	Failed    int
	Cancelled int

	Recent    []eventLine
	FeedLimit int

	StartTime time.Time
	Width     int
	Height    int

	Quitting bool
}

// NewModel creates a dashboard model. statsFunc may be nil.
func NewModel(statsFunc func() Stats) *Model {
	return &Model{
		Styles:    DefaultStyles(),
		StatsFunc: statsFunc,
		FeedLimit: 12,
		StartTime: time.Now(),
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tickCmd()
}

// TickMsg refreshes the uptime display and polls StatsFunc.
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// QuitMsg asks the program to exit; the bridge sends it when the supervisor
// begins shutting down.
type QuitMsg struct{}

// TaskEventMsg is a task lifecycle entry for the feed.
type TaskEventMsg struct {
	TaskID  string
	Icon    string
	Text    string
	Outcome string // "completed", "failed", "cancelled", or ""
}

// ResourcesMsg carries the monitor's latest sample.
type ResourcesMsg Resources
