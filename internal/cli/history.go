package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/revloop/internal/logging"
	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/trend"
)

var historyCmd = &cobra.Command{
	Use:   "history <file>",
	Short: "Show the recorded evaluation trend of a file",
	Long: `Print every evaluation recorded for a file, oldest first, followed by the
bounded digest the scoring oracle sees on the next review.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringP("format", "f", "text", "output format: text, json")
	historyCmd.Flags().Bool("digest", false, "print only the digest")
}

func runHistory(cmd *cobra.Command, args []string) error {
	id, err := trend.IdentityFor(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := logging.WithFileIdentity(cmd.Context(), id.String())
	entries, digest, err := a.orch.History(ctx, id)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	w := cmd.OutOrStdout()
	if only, _ := cmd.Flags().GetBool("digest"); only {
		fmt.Fprintln(w, digest)
		return nil
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		if entries == nil {
			entries = []trend.Entry{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"identity": id,
			"entries":  entries,
			"digest":   digest,
		})
	}

	fmt.Fprintf(w, "Identity: %s\n", id)
	if len(entries) == 0 {
		fmt.Fprintln(w, "No evaluations recorded.")
		return nil
	}
	fmt.Fprintf(w, "%d evaluation(s)\n\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, "  %s  overall %5.2f  cycles %d ", e.RecordedAt.Local().Format("2006-01-02 15:04:05"), e.Evaluation.OverallScore, e.Iterations)
		for _, c := range model.AllCategories() {
			fmt.Fprintf(w, " %s=%d", c, e.Evaluation.Scores[c])
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\nDigest (%d bytes):\n%s\n", len(digest), digest)
	return nil
}
