package main

import "github.com/charmbracelet/lipgloss"

// theme holds the lipgloss styles used by the console renderers.
type theme struct {
	Agent    lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Danger   lipgloss.Style
	Badge    lipgloss.Style
	Status   lipgloss.Style
	ToolCall lipgloss.Style
	Chat     lipgloss.Style
}

func newTheme() theme {
	accent := lipgloss.Color("#00FFFF")
	secondary := lipgloss.Color("#7D7D7D")
	success := lipgloss.Color("#00FF00")
	warning := lipgloss.Color("#FFBF00")
	danger := lipgloss.Color("#FF0055")

	return theme{
		Agent:    lipgloss.NewStyle().Foreground(accent).Bold(true),
		Muted:    lipgloss.NewStyle().Foreground(secondary),
		Success:  lipgloss.NewStyle().Foreground(success),
		Warning:  lipgloss.NewStyle().Foreground(warning),
		Danger:   lipgloss.NewStyle().Foreground(danger).Bold(true),
		Badge:    lipgloss.NewStyle().Foreground(lipgloss.Color("#000000")).Background(accent).Padding(0, 1),
		Status:   lipgloss.NewStyle().Foreground(secondary).Italic(true),
		ToolCall: lipgloss.NewStyle().Foreground(secondary),
		Chat:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")),
	}
}
