package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title     *color.Color
	Label     *color.Color
	Value     *color.Color
	Good      *color.Color
	Warn      *color.Color
	Bad       *color.Color
	Dim       *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.Bold),
		Label:     color.New(color.FgWhite),
		Value:     color.New(color.FgCyan),
		Good:      color.New(color.FgGreen, color.Bold),
		Warn:      color.New(color.FgYellow, color.Bold),
		Bad:       color.New(color.FgRed, color.Bold),
		Dim:       color.New(color.Faint),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// SchemeFor returns the default scheme when enabled is true and the
// colorless one otherwise.
func SchemeFor(enabled bool) *ColorScheme {
	if enabled {
		scheme := DefaultColorScheme()
		for _, c := range scheme.all() {
			c.EnableColor()
		}
		return scheme
	}
	return NoColorScheme()
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Label, s.Value, s.Good, s.Warn, s.Bad, s.Dim, s.Highlight}
}

// SuccessIcon returns a checkmark symbol with appropriate color
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}

// WarningIcon returns a warning symbol with appropriate color
func WarningIcon(noColor bool) string {
	if noColor {
		return "⚠"
	}
	return color.New(color.FgYellow).Sprint("⚠")
}
