package review

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sprite-ai/revloop/internal/analysis"
	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/scheduler"
)

// workspace is a private directory where each code body under review is
// written under its original base name before analysis.
type workspace struct {
	dir   string
	path  string
	sched *scheduler.Scheduler
}

func newWorkspace(parent, name string, sched *scheduler.Scheduler) (*workspace, error) {
	dir, err := os.MkdirTemp(parent, "revloop-*")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	return &workspace{dir: dir, path: filepath.Join(dir, name), sched: sched}, nil
}

// Review implements refine.Reviewer.
func (w *workspace) Review(ctx context.Context, code string) (model.CombinedReport, error) {
	if err := ctx.Err(); err != nil {
		return model.CombinedReport{}, err
	}
	content := []byte(code)
	if err := os.WriteFile(w.path, content, 0o600); err != nil {
		return model.CombinedReport{}, fmt.Errorf("writing workspace copy: %w", err)
	}
	return w.sched.Run(ctx, analysis.NewSnapshot(w.path, content))
}

func (w *workspace) Close() error {
	return os.RemoveAll(w.dir)
}
