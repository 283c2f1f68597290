package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/heat-risk-explainer/internal/adapter/provider"
	"github.com/couchcryptid/heat-risk-explainer/internal/config"
	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	"github.com/couchcryptid/heat-risk-explainer/internal/observability"
	"github.com/couchcryptid/heat-risk-explainer/internal/pipeline"
)

// requestFlags are shared by explain and prompt.
type requestFlags struct {
	set       []string
	county    string
	audience  string
	timeframe string
	topN      int
	asJSON    bool
}

func (r *requestFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringArrayVar(&r.set, "set", nil, "feature override as column=value (repeatable)")
	f.StringVar(&r.county, "county", "", "county to select in the one-hot group (e.g. kern)")
	f.StringVar(&r.audience, "audience", string(domain.AudienceGeneral), "narrative audience (general, policy_maker, scientific)")
	f.StringVar(&r.timeframe, "timeframe", "", "forecast period phrase (default: service default)")
	f.IntVar(&r.topN, "top-n", 0, "number of attributions to include (default: DEFAULT_TOP_N)")
	f.BoolVar(&r.asJSON, "json", false, "print the full result as JSON")
}

// request builds the explain request. TopN is only set when --top-n was
// given, so the configured default applies otherwise.
func (r *requestFlags) request(cmd *cobra.Command) (domain.ExplainRequest, error) {
	overrides, err := parseOverrides(r.set)
	if err != nil {
		return domain.ExplainRequest{}, err
	}
	req := domain.ExplainRequest{
		Overrides: overrides,
		County:    r.county,
		Audience:  r.audience,
		Timeframe: r.timeframe,
	}
	if cmd.Flags().Changed("top-n") {
		topN := r.topN
		req.TopN = &topN
	}
	return req, nil
}

// parseOverrides turns column=value pairs into an override map. Later pairs
// win over earlier ones for the same column.
func parseOverrides(pairs []string) (domain.Override, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(domain.Override, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid override %q: want column=value", p)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid override %q: %w", p, err)
		}
		out[key] = v
	}
	return out, nil
}

var explainFlags requestFlags

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain one prediction with a narrative from the configured provider",
	Long: `Runs the full pipeline for one row and prints the narrative.

The narrative provider is configured through the service environment
(NARRATIVE_PROVIDER, NARRATIVE_MODEL, OPENAI_API_KEY or ANTHROPIC_API_KEY).

Examples:
  # Hot, humid week in Kern county for a policy briefing
  explain --county kern --set T2M=2.1 --set T2MWET=1.6 --audience policy_maker

  # Full result as JSON
  explain --set T2M=1.2 --json`,
	RunE: runExplain,
}

func init() {
	explainFlags.register(explainCmd)
	rootCmd.AddCommand(explainCmd)
}

func runExplain(cmd *cobra.Command, _ []string) error {
	req, err := explainFlags.request(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	metrics := observability.NewUnregisteredMetrics()
	narrator, err := provider.NewNarrator(cfg, logger, metrics)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	explainer := pipeline.New(artifacts, artifacts.Explainer(), narrator, pipeline.Options{
		Timeframe: cfg.DefaultTimeframe,
		TopN:      cfg.DefaultTopN,
		Workers:   1,
	}, logger, metrics)

	res, err := explainer.Explain(ctx, req)
	if explainFlags.asJSON {
		if werr := writeResultJSON(cmd.OutOrStdout(), res); werr != nil {
			return werr
		}
		return err
	}
	if err != nil {
		return err
	}
	return printNarrative(cmd.OutOrStdout(), res.Narrative)
}

// printNarrative writes the narrative verbatim, ending the line only when
// the text does not already.
func printNarrative(w io.Writer, text string) error {
	if _, err := io.WriteString(w, text); err != nil {
		return err
	}
	if strings.HasSuffix(text, "\n") {
		return nil
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func writeResultJSON(w io.Writer, res domain.ExplainResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// runOffline explains req without contacting a narrative provider. Request
// defaults still come from the environment.
func runOffline(ctx context.Context, req domain.ExplainRequest) (domain.ExplainResult, error) {
	defaults, err := config.LoadRequestDefaults()
	if err != nil {
		return domain.ExplainResult{}, fmt.Errorf("load request defaults: %w", err)
	}
	opts := pipeline.DefaultOptions()
	opts.Timeframe, opts.TopN, opts.Workers = defaults.Timeframe, defaults.TopN, 1

	explainer := pipeline.New(artifacts, artifacts.Explainer(), dryRunNarrator{}, opts, logger, nil)
	return explainer.Explain(ctx, req)
}
