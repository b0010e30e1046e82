package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Status colors
	colorPending  = lipgloss.Color("240") // gray
	colorWatching = lipgloss.Color("33")  // blue
	colorBlocked  = lipgloss.Color("214") // orange
	colorTimeout  = lipgloss.Color("220") // yellow
	colorError    = lipgloss.Color("196") // red
	colorReady    = lipgloss.Color("46")  // green
	colorMerged   = lipgloss.Color("135") // purple

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			PaddingLeft(1).
			PaddingRight(1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginTop(1)

	treeRepoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("cyan"))

	treePRStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

func statusIcon(status string) string {
	switch status {
	case "draft":
		return "📝"
	case "pending":
		return "⏳"
	case "watching":
		return "👀"
	case "blocked":
		return "📋"
	case "timeout":
		return "⏰"
	case "error", "gone":
		return "❌"
	case "ready":
		return "🟢"
	case "merged":
		return "✅"
	case "closed":
		return "🚪"
	default:
		return "❓"
	}
}

func statusColor(status string) lipgloss.Color {
	switch status {
	case "draft", "pending", "closed", "gone":
		return colorPending
	case "watching":
		return colorWatching
	case "blocked":
		return colorBlocked
	case "timeout":
		return colorTimeout
	case "error":
		return colorError
	case "ready":
		return colorReady
	case "merged":
		return colorMerged
	default:
		return lipgloss.Color("252")
	}
}
