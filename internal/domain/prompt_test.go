package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testTimeframe = "the next 7 days"

func rankedHeat() []Attribution {
	return []Attribution{
		{Feature: colTemp, Value: 1.5, Contribution: 0.42},
		{Feature: colWetBulb, Value: 1.2, Contribution: 0.31},
		{Feature: colMonth, Value: 7, Contribution: -0.05},
	}
}

func TestFormatAttributions(t *testing.T) {
	want := "T2M = 1.50, SHAP: +0.42\n" +
		"T2MWET = 1.20, SHAP: +0.31\n" +
		"month = 7.00, SHAP: -0.05"

	assert.Equal(t, want, FormatAttributions(rankedHeat()))
	assert.Empty(t, FormatAttributions(nil))
}

func TestLabelPhrase(t *testing.T) {
	assert.Equal(t, "a spike (1)", LabelPhrase(1))
	assert.Equal(t, "not a spike (0)", LabelPhrase(0))
}

func TestComposePrompt_AllAudiences(t *testing.T) {
	block := FormatAttributions(rankedHeat())

	for _, audience := range Audiences {
		t.Run(string(audience), func(t *testing.T) {
			for _, label := range []int{0, 1} {
				req := ComposePrompt(rankedHeat(), label, string(audience), testTimeframe)

				assert.False(t, req.ShortCircuit)
				assert.Equal(t, audience, req.Audience)
				assert.Contains(t, req.Text, block)
				assert.Contains(t, req.Text, LabelPhrase(label))
				assert.Contains(t, req.Text, testTimeframe)
			}
		})
	}
}

func TestComposePrompt_AudiencesDiffer(t *testing.T) {
	general := ComposePrompt(rankedHeat(), 1, "general", testTimeframe)
	policy := ComposePrompt(rankedHeat(), 1, "policy_maker", testTimeframe)
	science := ComposePrompt(rankedHeat(), 1, "scientific", testTimeframe)

	assert.Contains(t, general.Text, "non-technical audience")
	assert.Contains(t, policy.Text, "policy-relevant interpretations")
	assert.Contains(t, science.Text, "thermoregulation")
	assert.NotEqual(t, general.Text, policy.Text)
	assert.NotEqual(t, policy.Text, science.Text)
}

func TestComposePrompt_Deterministic(t *testing.T) {
	a := ComposePrompt(rankedHeat(), 1, "scientific", testTimeframe)
	b := ComposePrompt(rankedHeat(), 1, "scientific", testTimeframe)
	assert.Equal(t, a, b)
}

func TestComposePrompt_UnrecognizedAudience(t *testing.T) {
	req := ComposePrompt(rankedHeat(), 1, "unknown_value", testTimeframe)

	assert.True(t, req.ShortCircuit)
	assert.Equal(t, "Audience type 'unknown_value' not recognized.", req.Text)
}

func TestParseAudience(t *testing.T) {
	a, ok := ParseAudience("policy_maker")
	assert.True(t, ok)
	assert.Equal(t, AudiencePolicyMaker, a)

	_, ok = ParseAudience("Policy_Maker")
	assert.False(t, ok)
}
