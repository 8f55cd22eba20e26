package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sprite-ai/revloop/internal/diff"
	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/refine"
	"github.com/sprite-ai/revloop/internal/report"
	"github.com/sprite-ai/revloop/internal/review"
	"github.com/sprite-ai/revloop/internal/tui"
)

var reviewCmd = &cobra.Command{
	Use:   "review [path...]",
	Short: "Review, score and repair source files",
	Long: `Review files and directories. Each file is analyzed, scored and, when the
score is below the threshold, patched and re-reviewed up to the retry limit.
The reviewed files are never modified; use --output to write the final code.

Examples:
  revloop review app.py                  # one file
  revloop review src/                    # every .py file under src/
  revloop review --range main..HEAD      # files changed on a branch
  git diff | revloop review --diff -     # files named by any diff

Exit codes:
  0 - every file reached the threshold
  1 - at least one file scored below the threshold
  2 - a review failed`,
	RunE: runReview,
}

func init() {
	f := reviewCmd.Flags()
	f.String("diff", "", "review files changed in a unified diff file (- for stdin)")
	f.String("range", "", "review files changed in a git commit range")
	f.String("repo", ".", "repository root used to resolve diff paths")
	f.StringSlice("ext", diff.DefaultExtensions, "file extensions to review")
	f.StringP("format", "f", "text", "output format: text, json, markdown")
	f.StringP("output", "o", "", "write final code to this file (or directory for several files)")
	f.StringP("timeline-dir", "t", "", "write each run's timeline as JSONL into this directory")
	f.BoolP("interactive", "i", false, "show live progress in a terminal UI (single file)")
	f.IntP("jobs", "j", 0, "files reviewed concurrently (default from config)")
	f.Float64("threshold", 0, "passing overall score (default from config)")
	f.Int("max-retries", 0, "maximum patch cycles (default from config)")
	f.BoolP("verbose", "v", false, "include the report and timeline in text output")
}

// fileOutcome is the result of reviewing one target.
type fileOutcome struct {
	Path   string         `json:"path"`
	Passed bool           `json:"passed"`
	Result *review.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`

	err error
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "text", "json", "markdown":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	targets, err := collectTargets(ctx, cmd, args)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No files to review.")
		return nil
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	interactive, _ := cmd.Flags().GetBool("interactive")
	var outcomes []fileOutcome
	if interactive {
		if len(targets) != 1 {
			return fmt.Errorf("--interactive reviews a single file, got %d", len(targets))
		}
		outcomes = []fileOutcome{reviewInteractive(ctx, a, targets[0])}
	} else {
		outcomes = reviewAll(ctx, a, targets)
	}

	if err := writeArtifacts(cmd, outcomes); err != nil {
		return err
	}
	if !interactive || format != "text" {
		if err := printOutcomes(cmd.OutOrStdout(), cmd, outcomes); err != nil {
			return err
		}
	}
	return outcomeExit(outcomes)
}

// collectTargets expands paths, diffs and commit ranges into a
// deduplicated list of files.
func collectTargets(ctx context.Context, cmd *cobra.Command, args []string) ([]string, error) {
	exts, _ := cmd.Flags().GetStringSlice("ext")
	diffPath, _ := cmd.Flags().GetString("diff")
	commitRange, _ := cmd.Flags().GetString("range")
	repo, _ := cmd.Flags().GetString("repo")

	var targets []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			files, err := diff.ListFiles(arg, exts)
			if err != nil {
				return nil, err
			}
			targets = append(targets, files...)
			continue
		}
		targets = append(targets, arg)
	}

	var raws []string
	if diffPath != "" {
		raw, err := readDiff(cmd.InOrStdin(), diffPath)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	if commitRange != "" {
		root, err := gitRepoRoot(ctx, repo)
		if err != nil {
			return nil, fmt.Errorf("not in a git repository (or git not installed): %w", err)
		}
		repo = root
		raw, err := diff.GitDiffRange(ctx, root, commitRange)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	for _, raw := range raws {
		changed, err := diff.ChangedFiles(raw, exts)
		if err != nil {
			return nil, fmt.Errorf("parsing diff: %w", err)
		}
		for _, name := range changed {
			path := filepath.Join(repo, filepath.FromSlash(name))
			if _, err := os.Stat(path); err != nil {
				continue // not present in the working tree
			}
			targets = append(targets, path)
		}
	}

	if len(args) == 0 && len(raws) == 0 {
		return nil, errors.New("nothing to review: pass files, directories, --diff or --range")
	}
	return dedupe(targets), nil
}

func readDiff(stdin io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading diff: %w", err)
	}
	return string(data), nil
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		key := filepath.Clean(p)
		if abs, err := filepath.Abs(p); err == nil {
			key = abs
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// reviewAll reviews targets with bounded concurrency. Per-file failures are
// recorded in the outcome and never stop the other reviews.
func reviewAll(ctx context.Context, a *app, targets []string) []fileOutcome {
	outcomes := make([]fileOutcome, len(targets))
	var g errgroup.Group
	g.SetLimit(a.cfg.Review.Jobs)
	for i, path := range targets {
		g.Go(func() error {
			res, err := a.orch.Review(ctx, path)
			outcomes[i] = newOutcome(path, res, err, a.cfg.Review.Threshold)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func reviewInteractive(ctx context.Context, a *app, path string) fileOutcome {
	res, err := tui.Run(ctx, filepath.Base(path), a.cfg.Review.Threshold,
		func(ctx context.Context, obs refine.Observer) (*review.Result, error) {
			return a.orch.Review(ctx, path, review.WithObserver(obs))
		})
	return newOutcome(path, res, err, a.cfg.Review.Threshold)
}

func newOutcome(path string, res *review.Result, err error, threshold float64) fileOutcome {
	out := fileOutcome{Path: path, Result: res, Passed: err == nil && res.Passed(threshold), err: err}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// outcomeExit returns 2 if any review failed, 1 if any scored below the
// threshold.
func outcomeExit(outcomes []fileOutcome) error {
	code := 0
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			code = 2
		case !o.Passed && code < 1:
			code = 1
		}
	}
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code}
}

// writeArtifacts writes final code and timelines requested by flags.
func writeArtifacts(cmd *cobra.Command, outcomes []fileOutcome) error {
	output, _ := cmd.Flags().GetString("output")
	timelineDir, _ := cmd.Flags().GetString("timeline-dir")

	if output != "" {
		info, err := os.Stat(output)
		toDir := len(outcomes) > 1 || (err == nil && info.IsDir())
		if toDir {
			if err := os.MkdirAll(output, 0o755); err != nil {
				return err
			}
		}
		var rel map[string]string
		if toDir {
			if rel, err = outputPaths(outcomes); err != nil {
				return err
			}
		}
		for _, o := range outcomes {
			if o.Result == nil {
				continue
			}
			dst := output
			if toDir {
				dst = filepath.Join(output, rel[o.Path])
				if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(dst, []byte(o.Result.FinalCode), 0o644); err != nil {
				return fmt.Errorf("writing final code: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Final code for %s written to %s\n", o.Path, dst)
		}
	}

	if timelineDir != "" {
		if err := os.MkdirAll(timelineDir, 0o755); err != nil {
			return err
		}
		for _, o := range outcomes {
			if o.Result == nil || o.Result.Timeline == nil {
				continue
			}
			if err := writeTimeline(filepath.Join(timelineDir, o.Result.RunID+".jsonl"), o.Result); err != nil {
				return err
			}
		}
	}
	return nil
}

// outputPaths maps each target to its path relative to the deepest
// directory shared by all targets, so same-named files in different
// directories land in distinct places under --output.
func outputPaths(outcomes []fileOutcome) (map[string]string, error) {
	abs := make(map[string]string, len(outcomes))
	var root string
	for i, o := range outcomes {
		a, err := filepath.Abs(o.Path)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", o.Path, err)
		}
		abs[o.Path] = a
		if i == 0 {
			root = filepath.Dir(a)
			continue
		}
		for !withinDir(root, a) {
			parent := filepath.Dir(root)
			if parent == root {
				break
			}
			root = parent
		}
	}

	rel := make(map[string]string, len(abs))
	seen := make(map[string]string, len(abs))
	for p, a := range abs {
		r, err := filepath.Rel(root, a)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		if prev, ok := seen[r]; ok {
			return nil, fmt.Errorf("output collision: %s and %s both map to %s", prev, p, r)
		}
		seen[r] = p
		rel[p] = r
	}
	return rel, nil
}

func withinDir(dir, path string) bool {
	r, err := filepath.Rel(dir, path)
	return err == nil && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}

func writeTimeline(path string, res *review.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing timeline: %w", err)
	}
	if err := res.Timeline.WriteJSONL(f); err != nil {
		f.Close()
		return fmt.Errorf("writing timeline: %w", err)
	}
	return f.Close()
}

func printOutcomes(w io.Writer, cmd *cobra.Command, outcomes []fileOutcome) error {
	format, _ := cmd.Flags().GetString("format")
	verbose, _ := cmd.Flags().GetBool("verbose")
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	case "markdown":
		for _, o := range outcomes {
			printMarkdownOutcome(w, o)
		}
		return nil
	default:
		for _, o := range outcomes {
			printTextOutcome(w, o, verbose)
		}
		return nil
	}
}

func printTextOutcome(w io.Writer, o fileOutcome, verbose bool) {
	res := o.Result
	if res == nil {
		fmt.Fprintf(w, "%s: error: %s\n\n", o.Path, o.Error)
		return
	}
	if res.Evaluation == nil {
		fmt.Fprintf(w, "%s: no evaluation (%s)\n", o.Path, res.AbortReason)
	} else {
		verdict := "passed"
		if !o.Passed {
			verdict = "below threshold"
		}
		fmt.Fprintf(w, "%s: %.2f/10 %s (%d patch cycle(s))\n", o.Path, res.Evaluation.OverallScore, verdict, res.Iterations)
		for _, c := range model.AllCategories() {
			fmt.Fprintf(w, "    %-12s %2d\n", c.Title(), res.Evaluation.Scores[c])
		}
		if res.Evaluation.Comments != "" {
			fmt.Fprintf(w, "    %s\n", res.Evaluation.Comments)
		}
		if res.Evaluation.TrendCommentary != "" {
			fmt.Fprintf(w, "    Trend: %s\n", res.Evaluation.TrendCommentary)
		}
	}
	if res.Aborted && res.Evaluation != nil {
		fmt.Fprintf(w, "    Aborted: %s\n", res.AbortReason)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "    Warning: %s\n", warn)
	}
	if res.Changed() {
		fmt.Fprintln(w, "    Code was changed; use --output to save it.")
	}
	if verbose {
		fmt.Fprintf(w, "    Findings: %s\n", res.Report.Summary())
		for _, c := range model.AllCategories() {
			for _, f := range res.Report.Results[c].Findings {
				fmt.Fprintf(w, "      %s %s\n", severityIcon(f.Severity), f)
			}
		}
		if res.Timeline != nil {
			fmt.Fprintln(w)
			fmt.Fprint(w, indent(res.Timeline.Summary(), "    "))
		}
	}
	fmt.Fprintln(w)
}

func printMarkdownOutcome(w io.Writer, o fileOutcome) {
	res := o.Result
	if res == nil {
		fmt.Fprintf(w, "# %s\n\nReview failed: %s\n\n", o.Path, o.Error)
		return
	}
	fmt.Fprint(w, report.Markdown(res.Report))
	fmt.Fprintln(w)
	if res.Evaluation == nil {
		fmt.Fprintf(w, "**No evaluation obtained.** %s\n\n", res.AbortReason)
		return
	}
	fmt.Fprintln(w, "## Scores")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Category | Score |")
	fmt.Fprintln(w, "|----------|-------|")
	for _, c := range model.AllCategories() {
		fmt.Fprintf(w, "| %s | %d |\n", c.Title(), res.Evaluation.Scores[c])
	}
	fmt.Fprintf(w, "| **Overall** | **%.2f** |\n\n", res.Evaluation.OverallScore)
	if res.Evaluation.Comments != "" {
		fmt.Fprintf(w, "%s\n\n", res.Evaluation.Comments)
	}
	if res.Changed() {
		fmt.Fprintf(w, "## Final Code (%d patch cycle(s))\n\n```\n%s\n```\n\n", res.Iterations, strings.TrimRight(res.FinalCode, "\n"))
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func gitRepoRoot(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
