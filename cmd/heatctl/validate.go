package main

import (
	"fmt"
	"io"
	"math"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	"github.com/couchcryptid/heat-risk-explainer/internal/model"
)

const (
	countyPrefix    = "county_"
	additivityDelta = 1e-9
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a model bundle for integrity before deployment",
	Long: `Decodes and compiles the bundle, then runs the default row and every
county through preprocessing, prediction and attribution. Attributions must
add up to the classifier logit.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if code := runValidate(cmd.OutOrStdout(), bundlePath); code != 0 {
			return fmt.Errorf("bundle %s failed validation", bundlePath)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(w io.Writer, path string) int {
	fmt.Fprintln(w, "=== Model Bundle Validation ===")
	fmt.Fprintln(w)

	decode := &phase{name: "Phase 1: Bundle decode"}
	bundle, err := model.ReadFile(path)
	if err != nil {
		decode.errorf("%v", err)
		return report(w, []*phase{decode})
	}

	compile := &phase{name: "Phase 2: Schema compile"}
	a, err := bundle.Compile()
	if err != nil {
		compile.errorf("%v", err)
		return report(w, []*phase{decode, compile})
	}

	phases := []*phase{
		decode,
		compile,
		validateDefaultRow(a),
		validateCounties(a),
	}
	fmt.Fprintf(w, "Model: %s, %d input columns, %d output features\n\n",
		a.Name(), len(a.Template().Columns), len(a.FeatureNames()))
	return report(w, phases)
}

func report(w io.Writer, phases []*phase) int {
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

func validateDefaultRow(a *model.Artifacts) *phase {
	p := &phase{name: "Phase 3: Default row smoke test"}
	row, err := domain.BuildRow(a.Template(), nil)
	if err != nil {
		p.errorf("build row: %v", err)
		return p
	}
	checkRow(p, a, "default", row)
	return p
}

func validateCounties(a *model.Artifacts) *phase {
	p := &phase{name: "Phase 4: County one-hot coverage"}
	counties := a.Template().CategoryColumns(countyPrefix)
	if len(counties) == 0 {
		p.errorf("no %s columns in template", countyPrefix)
		return p
	}

	base, err := domain.BuildRow(a.Template(), nil)
	if err != nil {
		p.errorf("build row: %v", err)
		return p
	}
	for _, c := range counties {
		row, err := domain.SelectCategory(base, countyPrefix, c)
		if err != nil {
			p.errorf("%s: %v", c, err)
			continue
		}
		checkRow(p, a, c, row)
	}
	return p
}

// checkRow runs row through every stage and verifies output alignment and
// attribution additivity.
func checkRow(p *phase, a *model.Artifacts, label string, row domain.InputRow) {
	features, err := a.Transform(row)
	if err != nil {
		p.errorf("%s: transform: %v", label, err)
		return
	}
	if len(features.Values) != len(a.FeatureNames()) {
		p.errorf("%s: transform produced %d values, schema declares %d", label, len(features.Values), len(a.FeatureNames()))
		return
	}
	for i, v := range features.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			p.errorf("%s: feature %s is not finite", label, features.Names[i])
		}
	}

	pred, err := a.Predict(row)
	if err != nil {
		p.errorf("%s: predict: %v", label, err)
		return
	}
	if pred.Probability == nil {
		p.errorf("%s: prediction has no probability", label)
		return
	}

	explainer := a.Explainer()
	phi, err := explainer.Explain(features)
	if err != nil {
		p.errorf("%s: explain: %v", label, err)
		return
	}

	prob := *pred.Probability
	logit := math.Log(prob / (1 - prob))
	sum := explainer.BaseValue() + floats.Sum(phi)
	if math.Abs(sum-logit) > additivityDelta*math.Max(1, math.Abs(logit)) {
		p.errorf("%s: base value + attributions = %.9f, logit = %.9f", label, sum, logit)
	}
}
