package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	colorRed     = lipgloss.Color("#ff5555")
	colorGreen   = lipgloss.Color("#50fa7b")
	colorYellow  = lipgloss.Color("#f1fa8c")
	colorBlue    = lipgloss.Color("#8be9fd")
	colorPurple  = lipgloss.Color("#bd93f9")
	colorDim     = lipgloss.Color("#6272a4")
	colorBgLight = lipgloss.Color("#343746")
	colorFg      = lipgloss.Color("#f8f8f2")
	colorOrange  = lipgloss.Color("#ffb86c")
	colorBorder  = lipgloss.Color("#44475a")
)

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true).
			Padding(0, 0, 1, 0)

	// Step list
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	stepReviewStyle = lipgloss.NewStyle().
			Foreground(colorBlue)

	stepScoreStyle = lipgloss.NewStyle().
			Foreground(colorPurple)

	stepPatchStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	stepDoneStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	stepAbortStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(colorPurple)

	// Scores table
	scoreHeaderStyle = lipgloss.NewStyle().
				Foreground(colorFg).
				Bold(true)

	scoreHighStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	scoreMidStyle = lipgloss.NewStyle().
			Foreground(colorOrange)

	scoreLowStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	lineNumberStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Width(4).
			Align(lipgloss.Right)

	// Status bar
	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorFg).
			Background(colorBgLight).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	// Help bar
	helpBarStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(colorYellow)
)

// scoreStyle colors a 1..10 score against the pass threshold.
func scoreStyle(score, threshold float64) lipgloss.Style {
	switch {
	case score >= threshold:
		return scoreHighStyle
	case score >= threshold-2:
		return scoreMidStyle
	default:
		return scoreLowStyle
	}
}
