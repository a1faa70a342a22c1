package main

import "github.com/charmbracelet/lipgloss"

type styles struct {
	prompt    lipgloss.Style
	response  lipgloss.Style
	toolName  lipgloss.Style
	toolError lipgloss.Style
	dim       lipgloss.Style
}

func newStyles() styles {
	return styles{
		prompt:    lipgloss.NewStyle().Foreground(lipgloss.Color("69")).Bold(true),
		response:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		toolName:  lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		toolError: lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}
