// Package report renders step logs, run summaries and errors for the
// terminal.
package report

import "github.com/charmbracelet/lipgloss"

// Colors
var (
	primaryColor   = lipgloss.Color("39")  // Blue
	secondaryColor = lipgloss.Color("245") // Gray
	errorColor     = lipgloss.Color("196") // Red
	successColor   = lipgloss.Color("82")  // Green
	warningColor   = lipgloss.Color("214") // Orange
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	pendingStyle = lipgloss.NewStyle().Foreground(secondaryColor)
	runningStyle = lipgloss.NewStyle().Foreground(warningColor)
	doneStyle    = lipgloss.NewStyle().Foreground(successColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)

	detailStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Italic(true)

	// Run summary box
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Width(12)
)
