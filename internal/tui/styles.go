package tui

import "github.com/charmbracelet/lipgloss"

// Colors
var (
	// Job state colors
	runningColor   = lipgloss.Color("10") // Green
	pendingColor   = lipgloss.Color("8")  // Gray
	waitingColor   = lipgloss.Color("11") // Yellow
	succeededColor = lipgloss.Color("2")  // Dark green
	failedColor    = lipgloss.Color("9")  // Red
	canceledColor  = lipgloss.Color("13") // Magenta

	// UI colors
	headerBg   = lipgloss.Color("235")
	statusBg   = lipgloss.Color("236")
	selectedBg = lipgloss.Color("238")
	helpBg     = lipgloss.Color("234")
	errorColor = lipgloss.Color("9")
	dimColor   = lipgloss.Color("8")

	// Job name colors (for log lines)
	jobColorList = []lipgloss.Color{
		lipgloss.Color("14"),  // Cyan
		lipgloss.Color("13"),  // Magenta
		lipgloss.Color("12"),  // Blue
		lipgloss.Color("11"),  // Yellow
		lipgloss.Color("10"),  // Green
		lipgloss.Color("208"), // Orange
		lipgloss.Color("207"), // Pink
		lipgloss.Color("159"), // Light blue
		lipgloss.Color("156"), // Light green
	}
)

// Styles
var (
	runningStyle = lipgloss.NewStyle().
			Foreground(runningColor).
			Bold(true)

	pendingStyle = lipgloss.NewStyle().
			Foreground(pendingColor)

	waitingStyle = lipgloss.NewStyle().
			Foreground(waitingColor)

	succeededStyle = lipgloss.NewStyle().
			Foreground(succeededColor)

	failedStyle = lipgloss.NewStyle().
			Foreground(failedColor).
			Bold(true)

	canceledStyle = lipgloss.NewStyle().
			Foreground(canceledColor)

	defaultJobStyle = lipgloss.NewStyle()

	// Job table header row
	tableHeaderStyle = lipgloss.NewStyle().
				Background(headerBg).
				Bold(true)

	selectedRowStyle = lipgloss.NewStyle().
				Background(selectedBg)

	// Status bar style
	statusStyle = lipgloss.NewStyle().
			Background(statusBg).
			Padding(0, 1)

	// Help overlay style
	helpStyle = lipgloss.NewStyle().
			Background(helpBg).
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))

	// Stderr indicator style
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(errorColor).
			Bold(true)

	// Dim style for timestamps and system lines
	dimStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	// Job colors for log lines
	jobColors []lipgloss.Style
)

func init() {
	for _, color := range jobColorList {
		jobColors = append(jobColors, lipgloss.NewStyle().Foreground(color))
	}
}
