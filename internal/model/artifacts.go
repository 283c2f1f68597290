package model

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	"gonum.org/v1/gonum/floats"
)

const defaultThreshold = 0.5

// Artifacts is a compiled, immutable model bundle. It implements
// domain.ModelPipeline; Explainer returns the matching domain.Explainer.
type Artifacts struct {
	name      string
	version   string
	template  domain.FeatureTemplate
	steps     []Step
	outNames  []string
	intercept float64
	threshold float64
	weights   []float64
	baseline  []float64
}

// Compile validates the bundle's internal alignment and freezes it.
func (b *Bundle) Compile() (*Artifacts, error) {
	if len(b.Template) == 0 {
		return nil, domain.ErrEmptyTemplate
	}

	a := &Artifacts{
		name:      b.Name,
		version:   b.Version,
		intercept: b.Classifier.Intercept,
		threshold: b.Classifier.Threshold,
	}
	if a.threshold == 0 {
		a.threshold = defaultThreshold
	}
	if a.threshold <= 0 || a.threshold >= 1 {
		return nil, fmt.Errorf("classifier threshold %g must be in (0, 1)", a.threshold)
	}

	seen := make(map[string]bool, len(b.Template))
	for _, c := range b.Template {
		if c.Column == "" {
			return nil, fmt.Errorf("template column with empty name")
		}
		if seen[c.Column] {
			return nil, fmt.Errorf("duplicate template column %q", c.Column)
		}
		seen[c.Column] = true
		a.template.Columns = append(a.template.Columns, c.Column)
		a.template.Defaults = append(a.template.Defaults, c.Default)
	}

	if err := a.compileSteps(b.Preprocess); err != nil {
		return nil, err
	}
	if err := a.compileClassifier(b.Classifier.Coefficients); err != nil {
		return nil, err
	}
	if err := a.compileBaseline(b.Explainer.Baseline); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Artifacts) compileSteps(steps []Step) error {
	covered := make(map[string]bool, len(steps))
	for _, s := range steps {
		if a.template.Index(s.Column) < 0 {
			return &domain.UnknownFeatureError{Key: s.Column}
		}
		if covered[s.Column] {
			return fmt.Errorf("column %q has more than one preprocessing step", s.Column)
		}
		covered[s.Column] = true

		switch s.Kind {
		case KindScale:
			if s.Scale == 0 {
				return fmt.Errorf("scale step for %q has zero scale", s.Column)
			}
		case KindOneHot:
			if len(s.Categories) == 0 {
				return fmt.Errorf("onehot step for %q has no categories", s.Column)
			}
		case KindPassthrough:
		default:
			return fmt.Errorf("unknown preprocessing kind %q for %q", s.Kind, s.Column)
		}
		a.steps = append(a.steps, s)
		a.outNames = append(a.outNames, outputNames(s)...)
	}

	for _, c := range a.template.Columns {
		if !covered[c] {
			return &domain.SchemaMismatchError{
				Stage:    "preprocess",
				Expected: len(a.template.Columns),
				Got:      len(steps),
				Detail:   fmt.Sprintf("no preprocessing step for column %q", c),
			}
		}
	}
	return nil
}

func (a *Artifacts) compileClassifier(coefs []Weight) error {
	if len(coefs) == 0 {
		return errNoClassifier
	}
	if len(coefs) != len(a.outNames) {
		return &domain.SchemaMismatchError{Stage: "predict", Expected: len(a.outNames), Got: len(coefs)}
	}
	a.weights = make([]float64, len(coefs))
	for i, w := range coefs {
		if w.Feature != a.outNames[i] {
			return &domain.SchemaMismatchError{
				Stage:    "predict",
				Expected: len(a.outNames),
				Got:      len(coefs),
				Detail:   fmt.Sprintf("coefficient %d is %q, preprocessing emits %q", i, w.Feature, a.outNames[i]),
			}
		}
		a.weights[i] = w.Value
	}
	return nil
}

func (a *Artifacts) compileBaseline(baseline []Weight) error {
	a.baseline = make([]float64, len(a.outNames))
	for _, w := range baseline {
		i := slices.Index(a.outNames, w.Feature)
		if i < 0 {
			return &domain.UnknownFeatureError{Key: w.Feature}
		}
		a.baseline[i] = w.Value
	}
	return nil
}

func outputNames(s Step) []string {
	switch s.Kind {
	case KindScale:
		return []string{"num__" + s.Column}
	case KindOneHot:
		names := make([]string, len(s.Categories))
		for i, c := range s.Categories {
			names[i] = "cat__" + s.Column + "_" + strconv.FormatFloat(c, 'g', -1, 64)
		}
		return names
	default:
		return []string{"remainder__" + s.Column}
	}
}

// Name returns the bundle name and version.
func (a *Artifacts) Name() string {
	if a.version == "" {
		return a.name
	}
	return a.name + "@" + a.version
}

// Template returns the default input row. The returned template is shared
// and must not be modified.
func (a *Artifacts) Template() *domain.FeatureTemplate {
	return &a.template
}

// FeatureNames returns a copy of the preprocessing output schema.
func (a *Artifacts) FeatureNames() []string {
	return slices.Clone(a.outNames)
}

// Transform applies the preprocessing steps to row.
func (a *Artifacts) Transform(row domain.InputRow) (domain.TransformedFeatures, error) {
	if !slices.Equal(row.Columns, a.template.Columns) || len(row.Values) != len(row.Columns) {
		return domain.TransformedFeatures{}, &domain.SchemaMismatchError{
			Stage:    "preprocess",
			Expected: len(a.template.Columns),
			Got:      len(row.Columns),
			Detail:   "row columns do not match the fitted input schema",
		}
	}

	values := make([]float64, 0, len(a.outNames))
	for _, s := range a.steps {
		x := row.Values[a.template.Index(s.Column)]
		switch s.Kind {
		case KindScale:
			values = append(values, (x-s.Mean)/s.Scale)
		case KindOneHot:
			for _, c := range s.Categories {
				if x == c {
					values = append(values, 1)
				} else {
					values = append(values, 0)
				}
			}
		default:
			values = append(values, x)
		}
	}

	return domain.TransformedFeatures{Names: slices.Clone(a.outNames), Values: values}, nil
}

// Predict transforms row and applies the logistic classifier.
func (a *Artifacts) Predict(row domain.InputRow) (domain.Prediction, error) {
	features, err := a.Transform(row)
	if err != nil {
		return domain.Prediction{}, err
	}
	logit, err := a.logit(features.Values)
	if err != nil {
		return domain.Prediction{}, err
	}

	p := sigmoid(logit)
	label := 0
	if p >= a.threshold {
		label = 1
	}
	return domain.Prediction{Label: label, Probability: &p}, nil
}

func (a *Artifacts) logit(x []float64) (float64, error) {
	if len(x) != len(a.weights) {
		return 0, &domain.SchemaMismatchError{Stage: "predict", Expected: len(a.weights), Got: len(x)}
	}
	return a.intercept + floats.Dot(a.weights, x), nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Explainer returns the linear explainer fitted alongside the classifier.
func (a *Artifacts) Explainer() *LinearExplainer {
	return &LinearExplainer{weights: a.weights, baseline: a.baseline, intercept: a.intercept}
}
