package cli

import (
	"encoding/json"
	"fmt"
	"html"
	"io"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/revloop/internal/analysis"
	"github.com/sprite-ai/revloop/internal/logging"
	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/oracle"
	"github.com/sprite-ai/revloop/internal/report"
	"github.com/sprite-ai/revloop/internal/review"
	"github.com/sprite-ai/revloop/internal/trend"
)

var checkCmd = &cobra.Command{
	Use:   "check <file...>",
	Short: "Run the analyzers and output a report (no scoring)",
	Long: `Run the four analyzers on each file and output the combined report.
Nothing is scored, patched or recorded. Useful for CI and pre-commit hooks.

Exit codes:
  0 - clean, no issues found
  1 - warnings or informational issues found
  2 - error-level issues found, or an analyzer failed`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringP("format", "f", "text", "output format: text, json, markdown, html")
}

func runCheck(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "text", "json", "markdown", "html":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	// Analysis only: the oracle and trend store are never consulted.
	h := oracle.NewHeuristic()
	orch, err := review.New(review.Deps{
		Analyzers: analysis.Default(analyzerOptions(cfg)),
		Scorer:    h,
		Patcher:   h,
		Store:     trend.NewMemoryStore(),
		Logger:    log,
	}, reviewConfig(cfg))
	if err != nil {
		return err
	}

	reports := make([]model.CombinedReport, 0, len(args))
	for _, path := range args {
		rep, err := orch.Analyze(cmd.Context(), path)
		if err != nil {
			return err
		}
		reports = append(reports, rep)
	}

	w := cmd.OutOrStdout()
	switch format {
	case "json":
		err = outputJSON(w, reports)
	case "markdown":
		for _, rep := range reports {
			fmt.Fprintln(w, report.Markdown(rep))
		}
	case "html":
		outputHTML(w, reports)
	default:
		outputText(w, reports)
	}
	if err != nil {
		return err
	}
	return checkExit(reports)
}

// checkExit maps the worst finding across reports to an exit code.
func checkExit(reports []model.CombinedReport) error {
	code := 0
	for _, rep := range reports {
		if len(rep.FailedCategories()) > 0 {
			code = 2
		}
		for _, res := range rep.Results {
			for _, f := range res.Findings {
				switch {
				case f.Severity >= model.SeverityError:
					code = 2
				case code < 1:
					code = 1
				}
			}
		}
	}
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code}
}

func outputText(w io.Writer, reports []model.CombinedReport) {
	for _, rep := range reports {
		fmt.Fprintf(w, "%s\n", rep.File)
		fmt.Fprintf(w, "Analysis: %s\n", rep.Summary())
		if rep.TotalFindings() == 0 && len(rep.FailedCategories()) == 0 {
			fmt.Fprintln(w, "No issues found.")
			fmt.Fprintln(w)
			continue
		}
		for _, c := range model.AllCategories() {
			res := rep.Results[c]
			if res.Failed() {
				fmt.Fprintf(w, "  !! [%s] analyzer failed: %s\n", c, res.Error)
				continue
			}
			for _, f := range res.Findings {
				fmt.Fprintf(w, "  %s [%s] %s:%d: %s (%s)\n", severityIcon(f.Severity), c, rep.File, f.Line, f.Message, f.Code)
			}
		}
		fmt.Fprintln(w)
	}
}

type jsonCheck struct {
	File    string          `json:"file"`
	Summary string          `json:"summary"`
	Total   int             `json:"total"`
	Report  json.RawMessage `json:"report"`
}

func outputJSON(w io.Writer, reports []model.CombinedReport) error {
	out := make([]jsonCheck, 0, len(reports))
	for _, rep := range reports {
		raw, err := report.JSON(rep)
		if err != nil {
			return err
		}
		out = append(out, jsonCheck{
			File:    rep.File,
			Summary: rep.Summary(),
			Total:   rep.TotalFindings(),
			Report:  json.RawMessage(raw),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func outputHTML(w io.Writer, reports []model.CombinedReport) {
	fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>revloop Analysis Report</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 900px; margin: 40px auto; padding: 0 20px; background: #282a36; color: #f8f8f2; }
  h1 { color: #bd93f9; }
  h2 { color: #8be9fd; }
  .summary { background: #343746; padding: 16px; border-radius: 8px; margin-bottom: 24px; }
  .sev-error { color: #ff5555; font-weight: bold; }
  .sev-warning { color: #f1fa8c; }
  .sev-info { color: #6272a4; }
  table { width: 100%; border-collapse: collapse; margin-bottom: 24px; }
  th { text-align: left; padding: 8px 12px; background: #44475a; color: #f8f8f2; }
  td { padding: 8px 12px; border-bottom: 1px solid #44475a; }
  tr:hover { background: #343746; }
  .category { color: #bd93f9; }
  code { background: #343746; padding: 2px 6px; border-radius: 4px; font-size: 0.9em; }
  .clean { color: #50fa7b; font-size: 1.2em; }
  footer { margin-top: 32px; color: #6272a4; font-size: 0.85em; }
</style>
</head>
<body>
<h1>revloop Analysis Report</h1>
`)

	for _, rep := range reports {
		fmt.Fprintf(w, "<h2>%s</h2>\n<div class=\"summary\">%s</div>\n", html.EscapeString(rep.File), html.EscapeString(rep.Summary()))
		if rep.TotalFindings() == 0 && len(rep.FailedCategories()) == 0 {
			fmt.Fprintln(w, `<p class="clean">No issues found.</p>`)
			continue
		}
		fmt.Fprintln(w, `<table>
<thead><tr><th>Severity</th><th>Category</th><th>Line</th><th>Code</th><th>Message</th></tr></thead>
<tbody>`)
		for _, c := range model.AllCategories() {
			res := rep.Results[c]
			if res.Failed() {
				fmt.Fprintf(w, "<tr><td class=\"sev-error\">failed</td><td class=\"category\">%s</td><td></td><td></td><td>%s</td></tr>\n",
					c, html.EscapeString(res.Error.String()))
				continue
			}
			for _, f := range res.Findings {
				fmt.Fprintf(w, "<tr><td class=\"sev-%s\">%s</td><td class=\"category\">%s</td><td>%d</td><td><code>%s</code></td><td>%s</td></tr>\n",
					f.Severity, f.Severity, c, f.Line, html.EscapeString(f.Code), html.EscapeString(f.Message))
			}
		}
		fmt.Fprintln(w, `</tbody></table>`)
	}

	fmt.Fprintln(w, `<footer>Generated by <strong>revloop</strong></footer>
</body>
</html>`)
}

func severityIcon(s model.Severity) string {
	switch s {
	case model.SeverityError:
		return "! "
	case model.SeverityWarning:
		return "* "
	default:
		return "- "
	}
}
