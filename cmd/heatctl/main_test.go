package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	"github.com/couchcryptid/heat-risk-explainer/internal/model"
	"github.com/couchcryptid/heat-risk-explainer/internal/observability"
)

const shippedBundle = "../../models/hsp_pred_bundle.yaml"

func loadShipped(t *testing.T) {
	t.Helper()
	a, err := model.Load(shippedBundle)
	require.NoError(t, err)
	artifacts = a
	logger = observability.NewLoggerTo(&bytes.Buffer{}, "error", "text")
	t.Cleanup(func() { artifacts = nil })
}

func TestParseOverrides(t *testing.T) {
	got, err := parseOverrides([]string{"T2M=1.5", " T2MWET = -0.25 ", "T2M=2"})
	require.NoError(t, err)
	assert.Equal(t, domain.Override{"T2M": 2, "T2MWET": -0.25}, got)

	got, err = parseOverrides(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, bad := range []string{"T2M", "=1", "T2M=hot"} {
		_, err := parseOverrides([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestRunValidate_ShippedBundle(t *testing.T) {
	var out bytes.Buffer
	code := runValidate(&out, shippedBundle)
	assert.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "All validations passed.")
	assert.Contains(t, out.String(), "hsp-pred@2024.07")
}

func TestRunValidate_BrokenBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: broken
template:
  - {column: T2M, default: 0}
  - {column: month, default: 7}
preprocess:
  - {column: T2M, kind: passthrough}
classifier:
  coefficients:
    - {feature: remainder__T2M, value: 1}
`), 0o600))

	var out bytes.Buffer
	code := runValidate(&out, path)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "Phase 2: Schema compile")
	assert.Contains(t, out.String(), "Validation FAILED.")
}

func TestRunValidate_MissingFile(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 1, runValidate(&out, filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Contains(t, out.String(), "Phase 1: Bundle decode")
}

func TestRunOffline_Prompt(t *testing.T) {
	loadShipped(t)

	topN := 3
	res, err := runOffline(context.Background(), domain.ExplainRequest{
		Overrides: domain.Override{"T2M": 2.1, "T2MWET": 1.8},
		County:    "kern",
		Audience:  "general",
		TopN:      &topN,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, res.State)
	require.NotNil(t, res.Prediction)
	assert.Equal(t, 1, res.Prediction.Label)
	assert.Len(t, res.Attributions, 3)

	var out bytes.Buffer
	require.NoError(t, printDryRun(&out, res))
	assert.Contains(t, out.String(), "Prediction: a spike (1)")
	assert.Contains(t, out.String(), "num__T2M")
	assert.Contains(t, out.String(), "the next 7 days")
}

func TestRunOffline_UnknownAudience(t *testing.T) {
	loadShipped(t)

	res, err := runOffline(context.Background(), domain.ExplainRequest{Audience: "pirates"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateShortCircuited, res.State)

	var out bytes.Buffer
	require.NoError(t, printDryRun(&out, res))
	assert.Contains(t, out.String(), "No prompt: Audience type 'pirates' not recognized.")
}

func TestRequestFlags_TopNOnlyWhenSet(t *testing.T) {
	newCmd := func() (*cobra.Command, *requestFlags) {
		var rf requestFlags
		cmd := &cobra.Command{Use: "explain"}
		rf.register(cmd)
		return cmd, &rf
	}

	cmd, rf := newCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--set", "T2M=1"}))
	req, err := rf.request(cmd)
	require.NoError(t, err)
	assert.Nil(t, req.TopN)
	assert.Equal(t, domain.Override{"T2M": 1}, req.Overrides)

	cmd, rf = newCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--top-n", "0"}))
	req, err = rf.request(cmd)
	require.NoError(t, err)
	require.NotNil(t, req.TopN)
	assert.Equal(t, 0, *req.TopN)
}

func TestRunOffline_DefaultTopNFromEnv(t *testing.T) {
	loadShipped(t)
	t.Setenv("DEFAULT_TOP_N", "2")

	res, err := runOffline(context.Background(), domain.ExplainRequest{Audience: "general"})
	require.NoError(t, err)
	assert.Len(t, res.Attributions, 2)
}

func TestPrintNarrative_Verbatim(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printNarrative(&out, "  Heat is driving admissions.\n"))
	assert.Equal(t, "  Heat is driving admissions.\n", out.String())

	out.Reset()
	require.NoError(t, printNarrative(&out, "No trailing newline "))
	assert.Equal(t, "No trailing newline \n", out.String())
}
