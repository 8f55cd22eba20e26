package trace

import (
	"fmt"
	"sync"

	"github.com/sprite-ai/revloop/internal/refine"
)

// Recorder builds a Trace from refine events. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	trace Trace
}

func NewRecorder(runID, file string) *Recorder {
	return &Recorder{trace: Trace{RunID: runID, File: file}}
}

// Observe implements refine.Observer.
func (r *Recorder) Observe(ev refine.Event) {
	step := stepFor(ev)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trace.StartTime.IsZero() {
		r.trace.StartTime = ev.Time
	}
	r.trace.EndTime = ev.Time
	r.trace.Steps = append(r.trace.Steps, step)
}

// Trace returns a snapshot of the recorded timeline.
func (r *Recorder) Trace() *Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.trace
	t.Steps = append([]Step(nil), r.trace.Steps...)
	return &t
}

func stepFor(ev refine.Event) Step {
	s := Step{Timestamp: ev.Time, Iteration: ev.Iteration, Findings: -1}
	if ev.Report != nil {
		s.Findings = ev.Report.TotalFindings()
	}
	if ev.Evaluation != nil {
		s.Score = ev.Evaluation.OverallScore
	}

	switch ev.State {
	case refine.StateReviewing:
		s.Type = StepReviewing
		if ev.Iteration == 0 {
			s.Summary = "Analyze original code"
		} else {
			s.Summary = fmt.Sprintf("Analyze patch %d", ev.Iteration)
		}
	case refine.StateScoring:
		s.Type = StepScoring
		s.Summary = fmt.Sprintf("Score report with %d finding(s)", s.Findings)
		if ev.Report != nil {
			s.Detail = ev.Report.Summary()
		}
	case refine.StatePatching:
		s.Type = StepPatching
		s.Summary = fmt.Sprintf("Patch after score %.2f", s.Score)
		if ev.Evaluation != nil {
			s.Detail = ev.Evaluation.Instructions
			if d := truncateStr(ev.Evaluation.Instructions, 80); d != "" {
				s.Summary += ": " + d
			}
		}
	case refine.StateFinalized:
		s.Type = StepFinalized
		switch {
		case ev.Aborted:
			s.Type = StepAborted
			s.Summary = truncateStr(ev.Reason, 120)
			s.Detail = ev.Reason
		case ev.Evaluation != nil:
			s.Summary = fmt.Sprintf("Final score %.2f", s.Score)
			s.Detail = ev.Evaluation.Comments
		default:
			s.Summary = "Finalized"
		}
	}
	return s
}
