package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/refine"
	"github.com/sprite-ai/revloop/internal/review"
)

func setupModel(t *testing.T, cancel context.CancelFunc) Model {
	t.Helper()
	m := New("app.py", 7, cancel)
	// Simulate window size
	newM, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return newM.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	newM, cmd := m.Update(msg)
	return newM.(Model), cmd
}

func sampleResult() *review.Result {
	eval := &model.EvaluationRecord{
		Scores: model.Scores{
			model.CategoryStyle:       8,
			model.CategoryCorrectness: 9,
			model.CategorySecurity:    7,
			model.CategoryPerformance: 10,
		},
		OverallScore: 8.5,
		Comments:     "Looks reasonable.",
	}
	return &review.Result{
		File:         "app.py",
		Evaluation:   eval,
		OriginalCode: "x=1\n",
		FinalCode:    "x = 1\ny = 2\n",
		Iterations:   1,
	}
}

func feedEvents(t *testing.T, m Model) Model {
	t.Helper()
	now := time.Now()
	rep := model.CombinedReport{File: "app.py"}
	eval := &model.EvaluationRecord{OverallScore: 5, ShouldRetry: true, Instructions: "fix spacing"}
	final := &model.EvaluationRecord{OverallScore: 8.5}
	for _, ev := range []refine.Event{
		{State: refine.StateReviewing, Iteration: 0, Time: now},
		{State: refine.StateScoring, Iteration: 0, Time: now, Report: &rep},
		{State: refine.StatePatching, Iteration: 0, Time: now, Evaluation: eval},
		{State: refine.StateReviewing, Iteration: 1, Time: now},
		{State: refine.StateScoring, Iteration: 1, Time: now, Report: &rep},
		{State: refine.StateFinalized, Iteration: 1, Time: now, Report: &rep, Evaluation: final},
	} {
		m, _ = update(t, m, eventMsg(ev))
	}
	return m
}

func TestModelInit(t *testing.T) {
	m := setupModel(t, nil)

	if m.done {
		t.Error("expected run in progress")
	}
	if m.Init() == nil {
		t.Error("expected spinner tick command")
	}
	if !strings.Contains(m.View(), "app.py") {
		t.Error("expected file name in view")
	}
}

func TestEventsBuildStepList(t *testing.T) {
	m := feedEvents(t, setupModel(t, nil))

	steps := m.recorder.Trace().Steps
	if len(steps) != 6 {
		t.Fatalf("expected 6 steps, got %d", len(steps))
	}
	if m.state != refine.StateFinalized {
		t.Errorf("expected finalized state, got %s", m.state)
	}

	view := m.View()
	for _, want := range []string{"patching", "Patch after score 5.00", "Final score 8.50"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDoneShowsScoresAndCode(t *testing.T) {
	m := feedEvents(t, setupModel(t, nil))
	m, cmd := update(t, m, doneMsg{res: sampleResult()})
	if cmd != nil {
		t.Error("expected the program to stay open after completion")
	}
	if !m.done {
		t.Fatal("expected done")
	}
	if len(m.code) != 2 {
		t.Errorf("expected 2 code lines, got %d", len(m.code))
	}

	view := m.View()
	for _, want := range []string{"Security", "8.50", "passed", "Looks reasonable.", "y = 2"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	res, err := m.Result()
	if err != nil || res == nil {
		t.Errorf("expected result, got %v %v", res, err)
	}
}

func TestScroll(t *testing.T) {
	m := setupModel(t, nil)
	m, _ = update(t, m, doneMsg{res: sampleResult()})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	if m.scrollOffset != 1 {
		t.Errorf("expected scrollOffset 1, got %d", m.scrollOffset)
	}
	// Past the end should stay
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	if m.scrollOffset != 1 {
		t.Errorf("expected scrollOffset 1 at end, got %d", m.scrollOffset)
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'g'}})
	if m.scrollOffset != 0 {
		t.Errorf("expected scrollOffset 0 after top, got %d", m.scrollOffset)
	}
}

func TestQuitCancelsRunningReview(t *testing.T) {
	cancelled := 0
	m := setupModel(t, func() { cancelled++ })

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cancelled != 1 || !m.cancelling {
		t.Fatalf("expected cancel on q, got %d calls", cancelled)
	}
	if cmd != nil {
		t.Error("expected to wait for the run to stop before quitting")
	}

	// A second q does not cancel twice.
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cancelled != 1 {
		t.Errorf("expected a single cancel, got %d", cancelled)
	}

	_, cmd = update(t, m, doneMsg{err: context.Canceled})
	if cmd == nil {
		t.Fatal("expected quit once the cancelled run returns")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestQuitAfterDone(t *testing.T) {
	m := setupModel(t, nil)
	m, _ = update(t, m, doneMsg{res: sampleResult()})

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestErrorOutcome(t *testing.T) {
	m := setupModel(t, nil)
	m, _ = update(t, m, doneMsg{err: errors.New("reviewing app.py: boom")})
	if !strings.Contains(m.View(), "boom") {
		t.Error("expected error in view")
	}

	res := sampleResult()
	res.Evaluation = nil
	res.AbortReason = "scoring failed: unavailable"
	m = setupModel(t, nil)
	m, _ = update(t, m, doneMsg{res: res, err: review.ErrNoEvaluation})
	view := m.View()
	if !strings.Contains(view, "No evaluation obtained") || !strings.Contains(view, "scoring failed") {
		t.Errorf("unexpected view: %s", view)
	}
}

func TestHelpToggle(t *testing.T) {
	m := setupModel(t, nil)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})
	if !m.showHelp {
		t.Error("expected help to be shown")
	}
	if !strings.Contains(m.View(), "Keyboard Shortcuts") {
		t.Error("expected help view")
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})
	if m.showHelp {
		t.Error("expected help to be hidden")
	}
}
