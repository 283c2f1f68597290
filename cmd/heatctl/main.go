// Command heatctl runs the explanation pipeline from the command line.
//
// Usage:
//
//	heatctl explain --county kern --set T2M=2.1 --set T2MWET=1.6 --audience policy_maker
//	heatctl prompt --set T2M=2.1 --top-n 3
//	heatctl validate --bundle models/hsp_pred_bundle.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/heat-risk-explainer/internal/model"
	"github.com/couchcryptid/heat-risk-explainer/internal/observability"
)

var (
	bundlePath string
	logLevel   string

	logger    *slog.Logger
	artifacts *model.Artifacts
)

var rootCmd = &cobra.Command{
	Use:           "heatctl",
	Short:         "Explain heat-related hospitalization spike predictions",
	Long:          "Builds a feature row, predicts a spike, attributes the prediction to its features and asks a language model for an audience-specific narrative.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = observability.NewLoggerTo(cmd.ErrOrStderr(), logLevel, "text")

		// validate reports bundle errors itself, phase by phase.
		if cmd.Name() == validateCmd.Name() {
			return nil
		}
		a, err := model.Load(bundlePath)
		if err != nil {
			return fmt.Errorf("load model bundle: %w", err)
		}
		artifacts = a
		logger.Debug("model bundle loaded", "model", a.Name(), "path", bundlePath)
		return nil
	},
}

func init() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	f := rootCmd.PersistentFlags()
	f.StringVar(&bundlePath, "bundle", sharedcfg.EnvOrDefault("MODEL_BUNDLE_PATH", "models/hsp_pred_bundle.yaml"), "path to the model bundle")
	f.StringVar(&logLevel, "log-level", sharedcfg.EnvOrDefault("LOG_LEVEL", "warn"), "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
