package domain

import "context"

// ModelPipeline is a fitted preprocessing + prediction pipeline.
// Implementations must be safe for concurrent use and must not mutate state
// at inference time.
type ModelPipeline interface {
	// Template returns the canonical default row for the model input schema.
	Template() *FeatureTemplate

	// Transform applies the fitted preprocessing stage to row.
	Transform(row InputRow) (TransformedFeatures, error)

	// Predict applies the full pipeline (preprocessing included) to row.
	Predict(row InputRow) (Prediction, error)
}

// Explainer computes one contribution per transformed feature.
type Explainer interface {
	Explain(features TransformedFeatures) ([]float64, error)
}

// Narrator turns a composed request into narrative text.
type Narrator interface {
	Generate(ctx context.Context, req NarrativeRequest) (string, error)
}
