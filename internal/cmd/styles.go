package cmd

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	detailStyle = lipgloss.NewStyle().Faint(true)
)

// phaseStyle picks a color for a phase name in status output.
func phaseStyle(phase string) lipgloss.Style {
	switch phase {
	case "completed":
		return okStyle
	case "failed":
		return errStyle
	case "stopped":
		return warnStyle
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	}
}
