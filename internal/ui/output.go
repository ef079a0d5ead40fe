package ui

import "fmt"

// RunErrorCount and RunWarningCount track errors/warnings during a run.
var RunErrorCount int
var RunWarningCount int

// PrintSuccess prints a success message.
func PrintSuccess(msg string) {
	fmt.Printf("%s%s%s %s%s\n", ColorGreen, SymbolCheck, ColorReset, msg, ColorReset)
}

// PrintError prints an error message and increments the error counter.
func PrintError(msg string) {
	RunErrorCount++
	fmt.Printf("%s%s%s %s%s\n", ColorRed, SymbolCross, ColorReset, msg, ColorReset)
}

// PrintInfo prints an info message.
func PrintInfo(msg string) {
	fmt.Printf("%s%s%s %s%s\n", ColorBlue, SymbolInfo, ColorReset, msg, ColorReset)
}

// PrintWarning prints a warning message and increments the warning counter.
func PrintWarning(msg string) {
	RunWarningCount++
	fmt.Printf("%s%s%s %s%s\n", ColorYellow, SymbolWarning, ColorReset, msg, ColorReset)
}

// PrintDownload prints a download-phase message.
func PrintDownload(msg string) {
	fmt.Printf("%s%s%s %s%s\n", ColorCyan, SymbolDownload, ColorReset, msg, ColorReset)
}

// PrintUpload prints an upload-phase message.
func PrintUpload(msg string) {
	fmt.Printf("%s%s%s %s%s\n", ColorPurple, SymbolUpload, ColorReset, msg, ColorReset)
}

// PrintSkip prints a skipped-item message.
func PrintSkip(msg string) {
	fmt.Printf("%s%s%s %s%s\n", ColorYellow, SymbolSkip, ColorReset, msg, ColorReset)
}
