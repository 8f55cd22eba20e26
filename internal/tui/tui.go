// Package tui implements the Bubble Tea terminal user interface.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/revloop/internal/diff"
	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/refine"
	"github.com/sprite-ai/revloop/internal/review"
	"github.com/sprite-ai/revloop/internal/trace"
)

// RunFunc performs one review run, reporting transitions to obs.
type RunFunc func(ctx context.Context, obs refine.Observer) (*review.Result, error)

// eventMsg carries a loop transition into the program.
type eventMsg refine.Event

// doneMsg ends the run.
type doneMsg struct {
	res *review.Result
	err error
}

// Model is the top-level Bubble Tea model for a live review.
type Model struct {
	file      string
	threshold float64
	cancel    context.CancelFunc

	spinner  spinner.Model
	recorder *trace.Recorder
	state    refine.State

	done       bool
	cancelling bool
	result     *review.Result
	err        error

	// Final code view
	code         []string
	scrollOffset int

	width    int
	height   int
	showHelp bool
}

// New creates a model for a run on file. cancel aborts the run.
func New(file string, threshold float64, cancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle
	return Model{
		file:      file,
		threshold: threshold,
		cancel:    cancel,
		spinner:   s,
		recorder:  trace.NewRecorder("", file),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		ev := refine.Event(msg)
		m.recorder.Observe(ev)
		m.state = ev.State
		return m, nil

	case doneMsg:
		m.done = true
		m.result = msg.res
		m.err = msg.err
		if msg.res != nil {
			m.code = renderCode(msg.res)
		}
		if m.cancelling {
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			if m.done {
				return m, tea.Quit
			}
			if !m.cancelling {
				m.cancelling = true
				if m.cancel != nil {
					m.cancel()
				}
			}

		case key.Matches(msg, keys.Down):
			if m.scrollOffset < len(m.code)-1 {
				m.scrollOffset++
			}

		case key.Matches(msg, keys.Up):
			if m.scrollOffset > 0 {
				m.scrollOffset--
			}

		case key.Matches(msg, keys.Top):
			m.scrollOffset = 0

		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
		}
	}

	return m, nil
}

func renderCode(res *review.Result) []string {
	hl := diff.HighlightCode(res.File, res.FinalCode)
	lines := make([]string, 0, len(hl))
	for i, l := range hl {
		lines = append(lines, lineNumberStyle.Render(fmt.Sprintf("%d", i+1))+" "+l.Render())
	}
	return lines
}

// Result returns the finished run, if any.
func (m Model) Result() (*review.Result, error) {
	return m.result, m.err
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}

	var sections []string
	sections = append(sections, titleStyle.Render("revloop · "+m.file))
	sections = append(sections, panelStyle.Width(m.width-2).Render(m.renderSteps()))

	if m.done {
		sections = append(sections, m.renderOutcome())
		if len(m.code) > 0 {
			used := 0
			for _, s := range sections {
				used += lipgloss.Height(s)
			}
			sections = append(sections, panelStyle.Width(m.width-2).Render(m.renderCodeView(m.height-used-3)))
		}
	}

	sections = append(sections, m.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderSteps() string {
	steps := m.recorder.Trace().Steps
	var b strings.Builder
	for i, st := range steps {
		var style lipgloss.Style
		switch st.Type {
		case trace.StepReviewing:
			style = stepReviewStyle
		case trace.StepScoring:
			style = stepScoreStyle
		case trace.StepPatching:
			style = stepPatchStyle
		case trace.StepFinalized:
			style = stepDoneStyle
		default:
			style = stepAbortStyle
		}
		fmt.Fprintf(&b, "%s %s", style.Render(fmt.Sprintf("#%d %-9s", st.Iteration, st.Type)), st.Summary)
		if i < len(steps)-1 {
			b.WriteByte('\n')
		}
	}
	if !m.done {
		if len(steps) > 0 {
			b.WriteByte('\n')
		}
		label := m.state.String()
		if m.cancelling {
			label = "cancelling"
		}
		b.WriteString(m.spinner.View() + " " + label + "...")
	}
	return b.String()
}

func (m Model) renderOutcome() string {
	var b strings.Builder
	if m.err != nil && !errors.Is(m.err, review.ErrNoEvaluation) {
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		return b.String()
	}
	res := m.result
	if res == nil {
		return b.String()
	}

	if res.Evaluation == nil {
		b.WriteString(errorStyle.Render("No evaluation obtained."))
		if res.AbortReason != "" {
			b.WriteString(" " + res.AbortReason)
		}
		return b.String()
	}

	b.WriteString(scoreHeaderStyle.Render(fmt.Sprintf("%-12s %5s", "Category", "Score")))
	b.WriteByte('\n')
	for _, c := range model.AllCategories() {
		score := float64(res.Evaluation.Scores[c])
		fmt.Fprintf(&b, "%-12s %s\n", c.Title(), scoreStyle(score, m.threshold).Render(fmt.Sprintf("%5d", res.Evaluation.Scores[c])))
	}
	overall := res.Evaluation.OverallScore
	verdict := "passed"
	if !res.Passed(m.threshold) {
		verdict = "below threshold"
	}
	fmt.Fprintf(&b, "%-12s %s  %s, %d patch cycle(s)",
		"Overall", scoreStyle(overall, m.threshold).Render(fmt.Sprintf("%5.2f", overall)), verdict, res.Iterations)

	if res.Evaluation.Comments != "" {
		b.WriteString("\n" + helpBarStyle.Render(res.Evaluation.Comments))
	}
	if res.Aborted {
		b.WriteString("\n" + warnStyle.Render("Aborted: "+res.AbortReason))
	}
	for _, w := range res.Warnings {
		b.WriteString("\n" + warnStyle.Render("Warning: "+w))
	}
	return b.String()
}

func (m Model) renderCodeView(visible int) string {
	if visible < 1 {
		visible = 1
	}
	end := m.scrollOffset + visible
	if end > len(m.code) {
		end = len(m.code)
	}
	return strings.Join(m.code[m.scrollOffset:end], "\n")
}

func (m Model) renderStatusBar() string {
	left := " " + m.state.String()
	if m.done {
		left = " done"
		if len(m.code) > 0 {
			left += fmt.Sprintf("  Line %d/%d", m.scrollOffset+1, len(m.code))
		}
	}
	right := "q cancel  ? help "
	if m.done {
		right = "q quit  ? help "
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderHelp() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("revloop · Keyboard Shortcuts"))
	b.WriteString("\n")

	helpItems := []struct{ key, desc string }{
		{"↑/k", "Scroll up"},
		{"↓/j", "Scroll down"},
		{"g", "Back to top"},
		{"?", "Toggle this help"},
		{"q", "Cancel the run, or quit when done"},
	}

	for _, item := range helpItems {
		b.WriteString(fmt.Sprintf("  %s  %s\n",
			helpKeyStyle.Width(12).Render(item.key),
			item.desc,
		))
	}

	b.WriteString("\n")
	b.WriteString(helpBarStyle.Render("Press ? to close help"))

	return b.String()
}

// Run starts the TUI and drives run until it finishes or the user cancels.
func Run(ctx context.Context, file string, threshold float64, run RunFunc, opts ...tea.ProgramOption) (*review.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := New(file, threshold, cancel)
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)

	finished := make(chan doneMsg, 1)
	go func() {
		res, err := run(ctx, func(ev refine.Event) { p.Send(eventMsg(ev)) })
		finished <- doneMsg{res: res, err: err}
		p.Send(doneMsg{res: res, err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-finished
		return nil, err
	}
	// The program may exit before the run does; cancel and collect it.
	cancel()
	d := <-finished
	return d.res, d.err
}
