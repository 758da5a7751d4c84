package tui

import "github.com/charmbracelet/lipgloss"

// Styles contains all lipgloss styles for the dashboard.
type Styles struct {
	Title  lipgloss.Style
	Uptime lipgloss.Style

	Label lipgloss.Style
	Value lipgloss.Style

	GaugeOK   lipgloss.Style
	GaugeWarn lipgloss.Style

	CountComplete  lipgloss.Style
	CountFailed    lipgloss.Style
	CountCancelled lipgloss.Style
	CountActive    lipgloss.Style

	FeedTitle lipgloss.Style
	FeedTime  lipgloss.Style
	FeedLine  lipgloss.Style

	Footer    lipgloss.Style
	FooterKey lipgloss.Style
}

// DefaultStyles returns the default dashboard styles.
func DefaultStyles() Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Uptime: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),

		Label: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Value: lipgloss.NewStyle().Foreground(lipgloss.Color("250")),

		GaugeOK:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		GaugeWarn: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),

		CountComplete:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		CountFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		CountCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		CountActive:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),

		FeedTitle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Bold(true),
		FeedTime:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		FeedLine:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),

		Footer:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")).MarginTop(1),
		FooterKey: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
}

// Icons used in the event feed
const (
	IconDelegated = "＋"
	IconComplete  = "✓"
	IconFailed    = "✗"
	IconTimeout   = "⏱"
	IconKilled    = "⛔"
	IconResumed   = "↻"
	IconCancel    = "−"
)
