package domain

import (
	"math"
	"sort"
)

// TransformedFeatures is the preprocessed numeric form of one InputRow.
// Names and Values are positionally aligned with the preprocessing stage's
// declared output schema.
type TransformedFeatures struct {
	Names  []string
	Values []float64
}

// Prediction is the model's decision for one row. Label 1 denotes a
// predicted hospitalization spike.
type Prediction struct {
	Label       int      `json:"label"`
	Probability *float64 `json:"probability,omitempty"`
}

// Attribution is the signed contribution of one output feature.
type Attribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// RankAttributions pairs contributions with the transformed features,
// orders them by absolute contribution (descending, stable) and keeps the
// first topN.
func RankAttributions(features TransformedFeatures, contributions []float64, topN int) ([]Attribution, error) {
	if topN < 0 {
		return nil, ErrInvalidTopN
	}
	if len(features.Values) != len(features.Names) {
		return nil, &SchemaMismatchError{
			Stage:    "attribution",
			Expected: len(features.Names),
			Got:      len(features.Values),
			Detail:   "feature values not aligned with feature names",
		}
	}
	if len(contributions) != len(features.Names) {
		return nil, &SchemaMismatchError{
			Stage:    "attribution",
			Expected: len(features.Names),
			Got:      len(contributions),
			Detail:   "explainer output not aligned with feature names",
		}
	}

	all := make([]Attribution, len(contributions))
	for i := range contributions {
		all[i] = Attribution{
			Feature:      features.Names[i],
			Value:        features.Values[i],
			Contribution: contributions[i],
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return math.Abs(all[i].Contribution) > math.Abs(all[j].Contribution)
	})

	return all[:min(topN, len(all))], nil
}
