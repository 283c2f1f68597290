// Package domain models the explanation of heat-related hospitalization
// spike predictions.
//
// # Inputs
//
// A fitted model consumes one feature row per county and day. The canonical
// row is the [FeatureTemplate]: an ordered list of columns with a default
// value for each. Weather features are standardized anomalies, so a default
// of 0 means "climatological normal":
//
//	T2M      mean 2 m air temperature anomaly
//	T2MWET   wet-bulb temperature anomaly (heat stress combining heat and humidity)
//	month    calendar month, 1–12
//	county_* one-hot county indicators, exactly one set to 1
//
// Callers supply an [Override] (a partial assignment) that [BuildRow] merges
// into a copy of the template, or a full row that must match the template
// exactly.
//
// # Attribution
//
// The fitted preprocessing stage may rename and expand columns (standard
// scaling becomes "num__T2M", a categorical month becomes "cat__month_7").
// Contributions are reported against these output names. A contribution is
// the signed amount one feature moved the prediction away from the model's
// baseline: positive values push towards a spike, negative values away.
// [RankAttributions] orders them by magnitude with a stable sort so equal
// magnitudes keep the preprocessing order.
//
// # Narratives
//
// [ComposePrompt] renders the ranked attributions into one of three audience
// templates:
//
//	general       plain language, 3–5 sentences
//	policy_maker  heat-health response planning, 2–3 sentences
//	scientific    mechanistic interpretation (thermoregulation, wet-bulb effects)
//
// Each attribution line has the fixed form
//
//	<name> = <value, 2 decimals>, SHAP: <signed contribution, 2 decimals>
//
// An unrecognized audience produces a short-circuit request carrying the
// sentinel text "Audience type '<x>' not recognized." and no language model
// is called for it.
package domain
