package domain

import (
	"fmt"
	"strings"
)

// Audience selects the tone and terminology of a narrative.
type Audience string

const (
	AudienceGeneral     Audience = "general"
	AudiencePolicyMaker Audience = "policy_maker"
	AudienceScientific  Audience = "scientific"
)

// Audiences lists the recognized audiences in display order.
var Audiences = []Audience{AudienceGeneral, AudiencePolicyMaker, AudienceScientific}

// ParseAudience reports whether s names a recognized audience.
func ParseAudience(s string) (Audience, bool) {
	switch a := Audience(s); a {
	case AudienceGeneral, AudiencePolicyMaker, AudienceScientific:
		return a, true
	default:
		return a, false
	}
}

// NarrativeRequest is the composed prompt for one explanation.
// ShortCircuit is set for unrecognized audiences: Text then holds the
// sentinel message and must be returned as-is without calling a narrator.
type NarrativeRequest struct {
	Audience     Audience
	Text         string
	ShortCircuit bool
}

// LabelPhrase renders a predicted label for prompts.
func LabelPhrase(label int) string {
	if label == 1 {
		return "a spike (1)"
	}
	return "not a spike (0)"
}

// FormatAttributions renders one line per attribution in ranked order.
func FormatAttributions(ranked []Attribution) string {
	lines := make([]string, len(ranked))
	for i, a := range ranked {
		lines[i] = fmt.Sprintf("%s = %.2f, SHAP: %+.2f", a.Feature, a.Value, a.Contribution)
	}
	return strings.Join(lines, "\n")
}

// UnrecognizedAudienceText is the sentinel narrative for an unknown audience.
func UnrecognizedAudienceText(audience string) string {
	return fmt.Sprintf("Audience type '%s' not recognized.", audience)
}

const generalTemplate = `
A machine learning model predicted this case as **%[1]s**, meaning there is an unusual rise in emergency visits.

Here are the top model explanations (feature name, value, contribution):

%[2]s

The forecast covers %[3]s. Explain this in plain language for a non-technical audience. Focus on *why* this spike might occur. Use 3–5 sentences.
`

const policyMakerTemplate = `
This model was trained to support heat-health response planning. It predicts **%[1]s** in emergency department (ED) visits over %[3]s.

Key contributing features and their values:

%[2]s

Please summarize the likely cause of this spike and suggest **policy-relevant interpretations** in 2–3 sentences. Use clear but technical language, appropriate for government or NGO briefings.
`

const scientificTemplate = `
Model prediction: **%[1]s** (spike in heat-related ED visits), horizon: %[3]s

SHAP top features:

%[2]s

Please explain the mechanistic interpretation in **scientific terms** (e.g., thermoregulation, wet bulb effects), but still concise. Aim for clarity and precision.
`

// ComposePrompt maps ranked attributions, a predicted label, an audience and a
// time horizon to the narrative request text. It is pure and deterministic.
func ComposePrompt(ranked []Attribution, label int, audience, timeframe string) NarrativeRequest {
	var tmpl string
	switch Audience(audience) {
	case AudienceGeneral:
		tmpl = generalTemplate
	case AudiencePolicyMaker:
		tmpl = policyMakerTemplate
	case AudienceScientific:
		tmpl = scientificTemplate
	default:
		return NarrativeRequest{
			Audience:     Audience(audience),
			Text:         UnrecognizedAudienceText(audience),
			ShortCircuit: true,
		}
	}

	return NarrativeRequest{
		Audience: Audience(audience),
		Text:     fmt.Sprintf(tmpl, LabelPhrase(label), FormatAttributions(ranked), timeframe),
	}
}
