package common

import "github.com/fatih/color"

// LogStyle holds the small set of terminal-emphasis helpers the dispatcher
// and swap state machine use when narrating a swap's progress with bold
// state-transition banners.
var (
	boldGreen = color.New(color.FgGreen, color.Bold).SprintFunc()
	boldRed   = color.New(color.FgRed, color.Bold).SprintFunc()
	bold      = color.New(color.Bold).SprintFunc()
)

// BrightGreenBold renders v the way a successful state transition is
// announced.
func BrightGreenBold(v interface{}) string {
	return boldGreen(v)
}

// RedBold renders v the way the state being left behind is announced.
func RedBold(v interface{}) string {
	return boldRed(v)
}

// Bold renders v for swap-outcome banners.
func Bold(v interface{}) string {
	return bold(v)
}
