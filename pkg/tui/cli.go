// Package tui provides terminal output for the spikeflow commands: styled
// status lines, listings, and transfer progress bars.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
)

var (
	accent  = lipgloss.Color("#7D56F4")
	muted   = lipgloss.Color("#666666")
	good    = lipgloss.Color("#00CC66")
	bad     = lipgloss.Color("#FF5F56")
	white   = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(good).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(bad).Bold(true)
)

// Banner prints the startup header.
func Banner(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  SPIKEFLOW") + mutedStyle.Render(" "+version))
	fmt.Println(mutedStyle.Render("  Multi-channel recording server"))
	fmt.Println()
}

// Section prints a section heading.
func Section(name string) {
	fmt.Println(accentStyle.Render("▸ " + name))
}

// Field prints an aligned label/value line.
func Field(label, value string) {
	fmt.Printf("  %s %s\n", mutedStyle.Render(label+":"), titleStyle.Render(value))
}

// Success prints a completed-action line.
func Success(msg string) {
	fmt.Println(successStyle.Render("  ✓ " + msg))
}

// Failure prints a failed-action line.
func Failure(msg string) {
	fmt.Println(errorStyle.Render("  ✗ " + msg))
}

// Note prints a secondary line.
func Note(msg string) {
	fmt.Println(mutedStyle.Render("  " + msg))
}

// Rule prints a horizontal divider.
func Rule() {
	fmt.Println(mutedStyle.Render("  ─────────────────────────────────────"))
}

// TransferBar returns a byte-counting progress bar for up/downloads. It
// implements io.Writer, so it tees directly into a copy.
func TransferBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// CountBar returns a progress bar counting items, for channel conversion.
func CountBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// FormatDuration renders a duration the way the status lines expect.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
