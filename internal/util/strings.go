// Package util holds small helpers shared across packages.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// TruncateANSI truncates a string to maxWidth visual columns, appending
// "..." when it shortens anything. Escape sequences and wide runes are
// measured by rendered width, not byte length, so styled terminal output
// survives truncation intact.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	// ansi.Truncate counts the tail against the final width.
	return ansi.Truncate(s, maxWidth, "...")
}
