package ui

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/term"
)

// Box drawing characters
const (
	BoxHorizontal = "─"
	BoxVertical   = "│"

	BoxDoubleHorizontal  = "═"
	BoxDoubleTopLeft     = "╔"
	BoxDoubleTopRight    = "╗"
	BoxDoubleBottomLeft  = "╚"
	BoxDoubleBottomRight = "╝"

	BulletDiamond = "◆"
)

// AnsiRegex is compiled once for performance.
var AnsiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

const termWidthCacheTTL = 500 * time.Millisecond

var (
	termWidthMu         sync.Mutex
	cachedTermWidth     = 80
	cachedTermWidthTime time.Time
)

// GetTermWidth returns the terminal width, defaulting to 80.
func GetTermWidth() int {
	termWidthMu.Lock()
	if time.Since(cachedTermWidthTime) <= termWidthCacheTTL && cachedTermWidth > 0 {
		width := cachedTermWidth
		termWidthMu.Unlock()
		return width
	}
	termWidthMu.Unlock()

	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width == 0 {
		width = 80
	}

	termWidthMu.Lock()
	cachedTermWidth = width
	cachedTermWidthTime = time.Now()
	termWidthMu.Unlock()

	return width
}

// StripAnsiCodes removes ANSI escape sequences from a string.
func StripAnsiCodes(s string) string {
	return AnsiRegex.ReplaceAllString(s, "")
}

// VisibleLength returns the visible length of a string (excluding ANSI codes).
func VisibleLength(s string) int {
	return utf8.RuneCountInString(StripAnsiCodes(s))
}

// TruncateWithEllipsis truncates a string to maxLen with ellipsis if needed.
func TruncateWithEllipsis(s string, maxLen int) string {
	visibleLen := VisibleLength(s)
	if visibleLen <= maxLen {
		return s
	}
	if maxLen <= 3 {
		stripped := StripAnsiCodes(s)
		runes := []rune(stripped)
		if len(runes) <= maxLen {
			return stripped
		}
		return string(runes[:maxLen])
	}

	codes := AnsiRegex.FindAllString(s, -1)
	stripped := StripAnsiCodes(s)
	runes := []rune(stripped)
	truncated := string(runes[:maxLen-3]) + "..."

	if len(codes) > 0 {
		return codes[0] + truncated + ColorReset
	}

	return truncated
}

// PadCenter centers a string in the specified width using visible length.
func PadCenter(s string, width int) string {
	visLen := VisibleLength(s)
	if visLen >= width {
		return s
	}
	padding := width - visLen
	leftPad := padding / 2
	rightPad := padding - leftPad
	return strings.Repeat(" ", leftPad) + s + strings.Repeat(" ", rightPad)
}

// PrintHeader prints a styled header with box drawing.
func PrintHeader(title string) {
	width := GetTermWidth()
	titleLen := VisibleLength(title) + 4

	if titleLen > width-4 {
		title = TruncateWithEllipsis(title, width-10)
	}

	lineLen := width - 2

	fmt.Printf("\n%s%s%s%s%s\n",
		ColorCyan, BoxDoubleTopLeft,
		strings.Repeat(BoxDoubleHorizontal, lineLen),
		BoxDoubleTopRight, ColorReset)

	fmt.Printf("%s%s%s %s %s%s%s\n",
		ColorCyan, BoxVertical, ColorReset,
		ColorBold+PadCenter(title, lineLen-2)+ColorReset,
		ColorCyan, BoxVertical, ColorReset)

	fmt.Printf("%s%s%s%s%s\n\n",
		ColorCyan, BoxDoubleBottomLeft,
		strings.Repeat(BoxDoubleHorizontal, lineLen),
		BoxDoubleBottomRight, ColorReset)
}

// PrintSection prints a section title with underline.
func PrintSection(title string) {
	fmt.Printf("\n%s%s %s%s\n", ColorBold, BulletDiamond, title, ColorReset)
	fmt.Printf("%s%s%s\n\n", ColorCyan, strings.Repeat(BoxHorizontal, len(title)+2), ColorReset)
}

// RenderProgress draws an in-place progress bar line.
// label is a short phase tag ("DL" or "UP"). Values outside 0–100 are clamped.
func RenderProgress(label string, percentage int, speed, transferred, total, fillColor string) {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}

	barWidth := 30
	filled := (percentage * barWidth) / 100
	empty := barWidth - filled

	bar := strings.Repeat("█", filled) + strings.Repeat("░", empty)

	line := fmt.Sprintf("%s%s%s %s[%s%s%s]%s %s%3d%%%s @ %s/s, %s/%s ",
		ColorBold, label, ColorReset,
		ColorCyan, fillColor, bar, ColorCyan, ColorReset,
		ColorBold, percentage, ColorReset,
		speed, transferred, total)
	width := GetTermWidth()
	if VisibleLength(line) > width-1 {
		line = TruncateWithEllipsis(line, width-1)
	}
	fmt.Printf("\r%s", line)
}

// ProgressDone terminates an in-place progress line.
func ProgressDone() {
	fmt.Println()
}
