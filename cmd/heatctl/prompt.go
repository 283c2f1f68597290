package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
)

// dryRunNarrator stands in for a provider; the composed prompt is printed
// instead of being sent.
type dryRunNarrator struct{}

func (dryRunNarrator) Generate(_ context.Context, _ domain.NarrativeRequest) (string, error) {
	return "", nil
}

var promptFlags requestFlags

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Show the prediction, attributions and composed prompt without calling a provider",
	Long: `Runs row building, prediction, attribution and prompt composition, then
prints what would be sent to the narrative provider. No network access and
no API key are needed.

Examples:
  prompt --set T2M=2.1 --county fresno
  prompt --audience scientific --top-n 3`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		req, err := promptFlags.request(cmd)
		if err != nil {
			return err
		}
		res, err := runOffline(cmd.Context(), req)
		if err != nil {
			return err
		}
		if promptFlags.asJSON {
			return writeResultJSON(cmd.OutOrStdout(), res)
		}
		return printDryRun(cmd.OutOrStdout(), res)
	},
}

func init() {
	promptFlags.register(promptCmd)
	rootCmd.AddCommand(promptCmd)
}

func printDryRun(w io.Writer, res domain.ExplainResult) error {
	var b strings.Builder
	if res.Prediction != nil {
		fmt.Fprintf(&b, "Prediction: %s", domain.LabelPhrase(res.Prediction.Label))
		if p := res.Prediction.Probability; p != nil {
			fmt.Fprintf(&b, " (p=%.3f)", *p)
		}
		b.WriteString("\n")
	}
	if len(res.Attributions) > 0 {
		b.WriteString("\nAttributions:\n")
		for _, a := range res.Attributions {
			fmt.Fprintf(&b, "  %-32s %8.2f  %+8.3f\n", a.Feature, a.Value, a.Contribution)
		}
	}
	if res.State == domain.StateShortCircuited {
		fmt.Fprintf(&b, "\nNo prompt: %s\n", res.Narrative)
	} else {
		fmt.Fprintf(&b, "\nPrompt:\n%s\n", strings.TrimSpace(res.Prompt))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
