// Package ui is the terminal inbox: a split-pane Bubble Tea page over
// the resolution queue.
package ui

import "github.com/charmbracelet/lipgloss"

// Styles holds the inbox color scheme.
type Styles struct {
	Header  lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Border  lipgloss.Color
	Focus   lipgloss.Color
}

// DefaultStyles returns the standard scheme.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Border:  lipgloss.Color("240"),
		Focus:   lipgloss.Color("205"),
	}
}
