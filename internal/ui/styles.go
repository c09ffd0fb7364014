// Package ui holds the console's terminal styling.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/record"
)

var (
	// TitleStyle renders screen and table titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	// HeaderStyle renders table headers.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252"))

	// FaintStyle renders secondary detail (timestamps, ids).
	FaintStyle = lipgloss.NewStyle().
			Faint(true)

	// ErrStyle renders error lines.
	ErrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	samBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("160")).
			Padding(0, 1)

	mamBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("214")).
			Padding(0, 1)

	normalBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("28")).
			Padding(0, 1)
)

// HasDarkBackground reports whether the terminal background is dark, for
// palettes that care.
func HasDarkBackground() bool {
	return termenv.HasDarkBackground()
}

// StatusBadge renders a colored nutrition-status badge.
func StatusBadge(s record.NutritionStatus) string {
	switch s {
	case record.StatusSAM:
		return samBadge.Render("SAM")
	case record.StatusMAM:
		return mamBadge.Render("MAM")
	case record.StatusNormal:
		return normalBadge.Render("OK")
	default:
		return string(s)
	}
}

// Coords formats a fix for display.
func Coords(f *record.Fix) string {
	if f == nil {
		return FaintStyle.Render("no fix")
	}
	return fmt.Sprintf("%.5f, %.5f (±%.0fm)", f.Latitude, f.Longitude, f.Accuracy)
}
