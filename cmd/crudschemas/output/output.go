// Package output prints styled CLI messages.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Out receives every message. Tests replace it.
var Out io.Writer = os.Stdout

var (
	colorSuccess = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorInfo    = lipgloss.Color("#3B82F6")
	colorMuted   = lipgloss.Color("#6B7280")
	colorPrimary = lipgloss.Color("#7C3AED")

	successStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(colorInfo)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	primaryStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	sqlStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA"))
)

func line(icon lipgloss.Style, mark, format string, args ...any) {
	_, _ = fmt.Fprint(Out, icon.Render(mark+" "))
	_, _ = fmt.Fprintf(Out, format+"\n", args...)
}

// Success prints a success message
func Success(format string, args ...any) { line(successStyle, "✓", format, args...) }

// Warning prints a warning message
func Warning(format string, args ...any) { line(warningStyle, "⚠", format, args...) }

// Error prints an error message
func Error(format string, args ...any) { line(errorStyle, "✗", format, args...) }

// Info prints an info message
func Info(format string, args ...any) { line(infoStyle, "ℹ", format, args...) }

// Muted prints a muted message
func Muted(format string, args ...any) {
	_, _ = fmt.Fprintln(Out, mutedStyle.Render(fmt.Sprintf(format, args...)))
}

// Section prints a section header
func Section(title string) {
	_, _ = fmt.Fprintln(Out)
	_, _ = fmt.Fprintln(Out, primaryStyle.Render(title))
	_, _ = fmt.Fprintln(Out, mutedStyle.Render(strings.Repeat("═", lipgloss.Width(title))))
	_, _ = fmt.Fprintln(Out)
}

// SQL prints a script, one statement per block.
func SQL(script string) {
	_, _ = fmt.Fprintln(Out, sqlStyle.Render(strings.TrimSpace(script)))
}

// Change prints one schema change line, colored by its leading marker.
func Change(change string) {
	style := infoStyle
	switch {
	case strings.HasPrefix(change, "+"):
		style = successStyle
	case strings.HasPrefix(change, "-"):
		style = errorStyle
	}
	_, _ = fmt.Fprintln(Out, "  "+style.Render(change))
}

// StatusIcon returns a colored status icon
func StatusIcon(status string) string {
	switch status {
	case "applied":
		return successStyle.Render("✓")
	case "pending":
		return warningStyle.Render("○")
	case "failed":
		return errorStyle.Render("✗")
	default:
		return mutedStyle.Render("•")
	}
}
