package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.Quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case TickMsg:
		if m.StatsFunc != nil {
			m.Stats = m.StatsFunc()
		}
		return m, tickCmd()

	case QuitMsg:
		m.Quitting = true
		return m, tea.Quit

	case ResourcesMsg:
		m.Resources = Resources(msg)
		m.HasSample = true

	case TaskEventMsg:
		switch msg.Outcome {
		case "completed":
			m.Completed++
		case "failed":
			m.Failed++
		case "cancelled":
			m.Cancelled++
		}
		m.Recent = append(m.Recent, eventLine{
			At:   time.Now(),
			Icon: msg.Icon,
			Text: msg.Text,
		})
		if len(m.Recent) > m.FeedLimit {
			m.Recent = m.Recent[len(m.Recent)-m.FeedLimit:]
		}
	}

	return m, nil
}
