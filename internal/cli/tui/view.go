package tui

import (
	"fmt"
	"strings"
	"time"
)

// View implements tea.Model.
func (m *Model) View() string {
	if m.Quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderCounters())
	b.WriteString("\n")
	b.WriteString(m.renderResources())
	b.WriteString("\n\n")
	b.WriteString(m.renderFeed())
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m *Model) renderHeader() string {
	uptime := time.Since(m.StartTime).Round(time.Second)
	return fmt.Sprintf("%s  %s",
		m.Styles.Title.Render("taskd"),
		m.Styles.Uptime.Render(fmt.Sprintf("[up %s]", formatDuration(uptime))),
	)
}

func (m *Model) renderCounters() string {
	queued := m.Styles.Value.Render(fmt.Sprintf("%d queued", m.Stats.QueueDepth))
	active := m.Styles.CountActive.Render(fmt.Sprintf("%d running", m.Stats.WorkerCount))
	complete := m.Styles.CountComplete.Render(fmt.Sprintf("%d completed", m.Completed))
	failed := m.Styles.CountFailed.Render(fmt.Sprintf("%d failed", m.Failed))
	cancelled := m.Styles.CountCancelled.Render(fmt.Sprintf("%d cancelled", m.Cancelled))

	return fmt.Sprintf("  %s | %s | %s | %s | %s",
		queued, active, complete, failed, cancelled)
}

func (m *Model) renderResources() string {
	if !m.HasSample {
		return "  " + m.Styles.Label.Render("waiting for resource sample...")
	}

	cpuStyle := m.Styles.GaugeOK
	if m.Resources.CPUPercent >= 80 {
		cpuStyle = m.Styles.GaugeWarn
	}
	cpu := cpuStyle.Render(fmt.Sprintf("%.0f%%", m.Resources.CPUPercent))

	mem := fmt.Sprintf("%s free / %s",
		formatBytes(m.Resources.AvailableMemory),
		formatBytes(m.Resources.TotalMemory))

	load := fmt.Sprintf("%.2f %.2f %.2f",
		m.Resources.LoadAverage[0], m.Resources.LoadAverage[1], m.Resources.LoadAverage[2])

	return fmt.Sprintf("  %s %s   %s %s   %s %s",
		m.Styles.Label.Render("cpu"), cpu,
		m.Styles.Label.Render("mem"), m.Styles.Value.Render(mem),
		m.Styles.Label.Render("load"), m.Styles.Value.Render(load),
	)
}

func (m *Model) renderFeed() string {
	var b strings.Builder
	b.WriteString("  " + m.Styles.FeedTitle.Render("Recent events") + "\n")

	if len(m.Recent) == 0 {
		b.WriteString("  " + m.Styles.FeedLine.Render("none yet") + "\n")
		return b.String()
	}

	for _, line := range m.Recent {
		ts := m.Styles.FeedTime.Render(line.At.Format("15:04:05"))
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			ts, line.Icon, m.Styles.FeedLine.Render(line.Text)))
	}
	return b.String()
}

func (m *Model) renderFooter() string {
	key := m.Styles.FooterKey.Render("q")
	return m.Styles.Footer.Render(fmt.Sprintf("  Press %s to stop the supervisor", key))
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	min := d / time.Minute
	d -= min * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, min, s)
}

// formatBytes renders a byte count with a binary unit.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
