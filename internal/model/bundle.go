// Package model loads fitted model artifacts and adapts them to the domain
// pipeline and explainer capabilities.
//
// A bundle is a single YAML document holding the default feature template,
// the preprocessing steps, a logistic classifier over the preprocessed
// features and the background means used by the linear explainer. Bundles are
// compiled once at startup into immutable Artifacts that are safe to share
// between concurrent requests.
package model

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Step kinds.
const (
	KindScale       = "scale"
	KindOneHot      = "onehot"
	KindPassthrough = "passthrough"
)

// Bundle is the on-disk artifact format.
type Bundle struct {
	Name       string           `yaml:"name"`
	Version    string           `yaml:"version"`
	Template   []TemplateColumn `yaml:"template"`
	Preprocess []Step           `yaml:"preprocess"`
	Classifier ClassifierParams `yaml:"classifier"`
	Explainer  ExplainerParams  `yaml:"explainer"`
}

// TemplateColumn is one column of the default input row.
type TemplateColumn struct {
	Column  string  `yaml:"column"`
	Default float64 `yaml:"default"`
}

// Step transforms one input column.
//
//	scale:       num__<col> = (x - mean) / scale
//	onehot:      cat__<col>_<category> for each category (unknown values encode as all zeros)
//	passthrough: remainder__<col> = x
type Step struct {
	Column     string    `yaml:"column"`
	Kind       string    `yaml:"kind"`
	Mean       float64   `yaml:"mean,omitempty"`
	Scale      float64   `yaml:"scale,omitempty"`
	Categories []float64 `yaml:"categories,omitempty"`
}

// ClassifierParams is a fitted logistic regression over the preprocessed features.
type ClassifierParams struct {
	Intercept    float64  `yaml:"intercept"`
	Threshold    float64  `yaml:"threshold,omitempty"`
	Coefficients []Weight `yaml:"coefficients"`
}

// Weight pairs an output feature name with a value.
type Weight struct {
	Feature string  `yaml:"feature"`
	Value   float64 `yaml:"value"`
}

// ExplainerParams holds the background expectation of each preprocessed
// feature. Features absent from Baseline have an expectation of 0.
type ExplainerParams struct {
	Baseline []Weight `yaml:"baseline,omitempty"`
}

// Parse decodes a bundle, rejecting unknown fields.
func Parse(data []byte) (*Bundle, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var b Bundle
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decode model bundle: %w", err)
	}
	return &b, nil
}

// ReadFile reads and parses a bundle from disk.
func ReadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model bundle: %w", err)
	}
	return Parse(data)
}

// Load reads, parses and compiles the bundle at path.
func Load(path string) (*Artifacts, error) {
	b, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return b.Compile()
}

var errNoClassifier = errors.New("classifier has no coefficients")
