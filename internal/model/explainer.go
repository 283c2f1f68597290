package model

import (
	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// LinearExplainer computes exact Shapley values for a linear model in
// log-odds space, assuming independent features:
//
//	phi_i = w_i * (x_i - E[x_i])
//
// The contributions plus BaseValue sum to the model's logit for the row.
type LinearExplainer struct {
	weights   []float64
	baseline  []float64
	intercept float64
}

// Explain returns one contribution per transformed feature.
func (e *LinearExplainer) Explain(features domain.TransformedFeatures) ([]float64, error) {
	if len(features.Values) != len(e.weights) {
		return nil, &domain.SchemaMismatchError{
			Stage:    "attribution",
			Expected: len(e.weights),
			Got:      len(features.Values),
			Detail:   "explainer fitted on a different feature schema",
		}
	}

	phi := make([]float64, len(e.weights))
	floats.SubTo(phi, features.Values, e.baseline)
	floats.Mul(phi, e.weights)
	return phi, nil
}

// BaseValue is the expected model output (logit) over the background data.
func (e *LinearExplainer) BaseValue() float64 {
	return e.intercept + floats.Dot(e.weights, e.baseline)
}

var _ domain.Explainer = (*LinearExplainer)(nil)
var _ domain.ModelPipeline = (*Artifacts)(nil)
