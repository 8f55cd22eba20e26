package trace

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/refine"
)

var t0 = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func sampleEvents() []refine.Event {
	rep := &model.CombinedReport{Results: map[model.Category]model.AnalyzerResult{
		model.CategoryStyle: {Findings: []model.Finding{{Message: "a"}, {Message: "b"}}},
	}}
	first := &model.EvaluationRecord{OverallScore: 5, ShouldRetry: true, Instructions: "fix trailing whitespace"}
	final := &model.EvaluationRecord{OverallScore: 9, Comments: "clean"}
	return []refine.Event{
		{State: refine.StateReviewing, Iteration: 0, Time: t0},
		{State: refine.StateScoring, Iteration: 0, Time: t0.Add(time.Second), Report: rep},
		{State: refine.StatePatching, Iteration: 0, Time: t0.Add(2 * time.Second), Evaluation: first},
		{State: refine.StateReviewing, Iteration: 1, Time: t0.Add(3 * time.Second)},
		{State: refine.StateScoring, Iteration: 1, Time: t0.Add(4 * time.Second), Report: &model.CombinedReport{}},
		{State: refine.StateFinalized, Iteration: 1, Time: t0.Add(5 * time.Second), Evaluation: final},
	}
}

func record(events []refine.Event) *Trace {
	r := NewRecorder("run-1", "app.py")
	for _, ev := range events {
		r.Observe(ev)
	}
	return r.Trace()
}

func TestRecorder(t *testing.T) {
	trace := record(sampleEvents())

	expected := []StepType{StepReviewing, StepScoring, StepPatching, StepReviewing, StepScoring, StepFinalized}
	if len(trace.Steps) != len(expected) {
		t.Fatalf("expected %d steps, got %d", len(expected), len(trace.Steps))
	}
	for i, want := range expected {
		if trace.Steps[i].Type != want {
			t.Errorf("step[%d]: expected %s, got %s", i, want, trace.Steps[i].Type)
		}
	}

	if trace.Steps[1].Findings != 2 {
		t.Errorf("scoring step: expected 2 findings, got %d", trace.Steps[1].Findings)
	}
	if !strings.Contains(trace.Steps[2].Summary, "fix trailing whitespace") {
		t.Errorf("patching step: summary %q lacks instructions", trace.Steps[2].Summary)
	}
	if trace.Steps[5].Score != 9 {
		t.Errorf("final step: expected score 9, got %v", trace.Steps[5].Score)
	}
	if trace.Iterations() != 1 {
		t.Errorf("expected 1 iteration, got %d", trace.Iterations())
	}
	if trace.Duration() != 5*time.Second {
		t.Errorf("expected 5s duration, got %s", trace.Duration())
	}
}

func TestRecorderAborted(t *testing.T) {
	trace := record([]refine.Event{
		{State: refine.StateReviewing, Time: t0},
		{State: refine.StateScoring, Time: t0},
		{State: refine.StateFinalized, Time: t0, Aborted: true, Reason: "scoring failed: oracle unavailable"},
	})

	aborted := trace.StepsOfType(StepAborted)
	if len(aborted) != 1 {
		t.Fatalf("expected 1 aborted step, got %d", len(aborted))
	}
	if aborted[0].Summary != "scoring failed: oracle unavailable" {
		t.Errorf("unexpected summary %q", aborted[0].Summary)
	}
	if len(trace.StepsOfType(StepFinalized)) != 0 {
		t.Error("aborted run should not record a finalized step")
	}
}

func TestRecorderConcurrent(t *testing.T) {
	r := NewRecorder("run-2", "app.py")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Observe(refine.Event{State: refine.StateReviewing, Time: t0})
			_ = r.Trace()
		}()
	}
	wg.Wait()
	if got := len(r.Trace().Steps); got != 20 {
		t.Errorf("expected 20 steps, got %d", got)
	}
}

func TestSummary(t *testing.T) {
	out := record(sampleEvents()).Summary()
	for _, want := range []string{"## Timeline: app.py", "Run run-1, 1 patch cycle(s), 5s", "#1 finalized", "Final score 9.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestJSONL(t *testing.T) {
	orig := record(sampleEvents())

	var buf bytes.Buffer
	if err := orig.WriteJSONL(&buf); err != nil {
		t.Fatalf("WriteJSONL failed: %v", err)
	}
	buf.WriteString("not json\n{\"type\":\"mystery\"}\n")

	got, err := parseJSONLReader(&buf)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got.RunID != "run-1" || got.File != "app.py" {
		t.Errorf("header not restored: %q %q", got.RunID, got.File)
	}
	if len(got.Steps) != len(orig.Steps) {
		t.Fatalf("expected %d steps, got %d", len(orig.Steps), len(got.Steps))
	}
	if !got.StartTime.Equal(orig.StartTime) || !got.EndTime.Equal(orig.EndTime) {
		t.Errorf("times not restored: %s..%s", got.StartTime, got.EndTime)
	}
	if got.Steps[2].Detail != "fix trailing whitespace" {
		t.Errorf("detail not restored: %q", got.Steps[2].Detail)
	}
}

func TestStepTypeString(t *testing.T) {
	tests := []struct {
		st   StepType
		want string
	}{
		{StepReviewing, "reviewing"},
		{StepScoring, "scoring"},
		{StepPatching, "patching"},
		{StepFinalized, "finalized"},
		{StepAborted, "aborted"},
		{StepType(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.st.String(); got != tt.want {
			t.Errorf("StepType(%d).String() = %q, want %q", tt.st, got, tt.want)
		}
	}
}
