package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/revloop/internal/trace"
)

var timelineCmd = &cobra.Command{
	Use:   "timeline <file.jsonl>",
	Short: "Print a saved run timeline",
	Long: `Parse a timeline written by "review --timeline-dir" and print it as a
Markdown summary suitable for a pull request description.`,
	Args: cobra.ExactArgs(1),
	RunE: runTimeline,
}

func runTimeline(cmd *cobra.Command, args []string) error {
	t, err := trace.ParseJSONL(args[0])
	if err != nil {
		return fmt.Errorf("loading timeline: %w", err)
	}
	if len(t.Steps) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "Timeline has no steps.")
		return nil
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Run %s (%d steps, %d patch cycle(s))\n\n", t.RunID, len(t.Steps), t.Iterations())
	fmt.Fprint(cmd.OutOrStdout(), t.Summary())
	return nil
}
