// Package ui holds the lipgloss styles shared by the CLI commands.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("205")
	colorSecondary = lipgloss.Color("241")
	colorSuccess   = lipgloss.Color("42")
	colorError     = lipgloss.Color("160")
	colorWarning   = lipgloss.Color("214")

	StyleSubtle  = lipgloss.NewStyle().Foreground(colorSecondary)
	StylePrimary = lipgloss.NewStyle().Foreground(colorPrimary)
	StyleSuccess = lipgloss.NewStyle().Foreground(colorSuccess)
	StyleError   = lipgloss.NewStyle().Foreground(colorError)
	StyleWarning = lipgloss.NewStyle().Foreground(colorWarning)

	StyleHeader = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			Padding(0, 1)
)

// StatusStyle maps a task status to its display style.
func StatusStyle(status string) lipgloss.Style {
	return statusStyles[status]
}

var statusStyles = map[string]lipgloss.Style{
	"pending":   StyleSubtle,
	"claimed":   StyleWarning,
	"running":   StyleWarning,
	"completed": StyleSuccess,
	"failed":    StyleError,
	"cancelled": StyleError,
}
