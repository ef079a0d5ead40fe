// Package ui renders the human-facing console output: colors, symbols,
// status lines, and the in-place transfer progress bar.
package ui

import (
	"os"
	"strings"
)

// ANSI color codes - exported for use across packages.
var (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[91m"
	ColorGreen  = "\033[92m"
	ColorYellow = "\033[93m"
	ColorBlue   = "\033[94m"
	ColorPurple = "\033[95m"
	ColorCyan   = "\033[96m"
	ColorBold   = "\033[1m"
)

// Unicode symbols
var (
	SymbolCheck    = "✓"
	SymbolCross    = "✗"
	SymbolArrow    = "→"
	SymbolUpload   = "⬆"
	SymbolDownload = "⬇"
	SymbolInfo     = "ℹ"
	SymbolWarning  = "⚠"
	SymbolSkip     = "↷"
)

func init() {
	InitColorPalette()
}

// InitColorPalette upgrades the basic ANSI palette when the terminal
// advertises richer color support. YD2YT_THEME=plain disables colors
// entirely (useful for log capture).
func InitColorPalette() {
	theme := strings.ToLower(strings.TrimSpace(os.Getenv("YD2YT_THEME")))
	if theme == "plain" {
		ColorReset = ""
		ColorRed = ""
		ColorGreen = ""
		ColorYellow = ""
		ColorBlue = ""
		ColorPurple = ""
		ColorCyan = ""
		ColorBold = ""
		return
	}

	if SupportsTruecolor() {
		ColorRed = "\033[1;38;2;224;108;117m"
		ColorGreen = "\033[1;38;2;152;195;121m"
		ColorYellow = "\033[1;38;2;229;192;123m"
		ColorBlue = "\033[1;38;2;143;188;255m"
		ColorPurple = "\033[1;38;2;180;142;255m"
		ColorCyan = "\033[1;38;2;136;220;255m"
		return
	}
	if Supports256Color() {
		ColorRed = "\033[1;38;5;210m"
		ColorGreen = "\033[1;38;5;114m"
		ColorYellow = "\033[1;38;5;222m"
		ColorBlue = "\033[1;38;5;111m"
		ColorPurple = "\033[1;38;5;183m"
		ColorCyan = "\033[1;38;5;159m"
	}
}

// SupportsTruecolor checks if the terminal supports 24-bit color.
func SupportsTruecolor() bool {
	term := strings.ToLower(os.Getenv("TERM"))
	colorTerm := strings.ToLower(os.Getenv("COLORTERM"))
	return strings.Contains(colorTerm, "truecolor") ||
		strings.Contains(colorTerm, "24bit") ||
		strings.Contains(term, "truecolor") ||
		strings.Contains(term, "24bit")
}

// Supports256Color checks if the terminal supports 256 colors.
func Supports256Color() bool {
	term := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(term, "256color")
}
