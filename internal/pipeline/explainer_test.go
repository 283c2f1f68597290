package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	"github.com/couchcryptid/heat-risk-explainer/internal/observability"
	"github.com/couchcryptid/heat-risk-explainer/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stubs ---

// identityModel passes the row through preprocessing unchanged.
type identityModel struct {
	tmpl  domain.FeatureTemplate
	label int
	err   error
}

func (m *identityModel) Template() *domain.FeatureTemplate { return &m.tmpl }

func (m *identityModel) Transform(row domain.InputRow) (domain.TransformedFeatures, error) {
	if m.err != nil {
		return domain.TransformedFeatures{}, m.err
	}
	return domain.TransformedFeatures{Names: row.Columns, Values: row.Values}, nil
}

func (m *identityModel) Predict(domain.InputRow) (domain.Prediction, error) {
	return domain.Prediction{Label: m.label}, nil
}

type fixedExplainer struct {
	phi []float64
}

func (e *fixedExplainer) Explain(domain.TransformedFeatures) ([]float64, error) {
	return e.phi, nil
}

type recordingNarrator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []domain.NarrativeRequest
}

func (n *recordingNarrator) Generate(_ context.Context, req domain.NarrativeRequest) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, req)
	return n.reply, n.err
}

func heatTemplate() domain.FeatureTemplate {
	return domain.FeatureTemplate{
		Columns:  []string{"T2M", "T2MWET", "month", "county_fresno"},
		Defaults: []float64{0, 0, 1, 0},
	}
}

func newTestExplainer(model domain.ModelPipeline, phi []float64, n domain.Narrator) (*pipeline.Explainer, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	opts := pipeline.Options{Timeframe: "the next 7 days", TopN: 5, Workers: 2}
	return pipeline.New(model, &fixedExplainer{phi: phi}, n, opts, slog.Default(), metrics), metrics
}

func intPtr(n int) *int { return &n }

// --- tests ---

func TestExplain_EndToEnd(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC))
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })

	narrator := &recordingNarrator{reply: "Heat stress is likely to drive admissions."}
	e, metrics := newTestExplainer(&identityModel{tmpl: heatTemplate(), label: 1}, []float64{0.42, 0.31, -0.05, 0.02}, narrator)

	res, err := e.Explain(context.Background(), domain.ExplainRequest{
		ID:        "req-1",
		Overrides: domain.Override{"T2M": 1.5, "T2MWET": 1.2, "county_fresno": 1},
		Audience:  "policy_maker",
		TopN:      intPtr(3),
	})
	require.NoError(t, err)

	wantBlock := "T2M = 1.50, SHAP: +0.42\nT2MWET = 1.20, SHAP: +0.31\nmonth = 1.00, SHAP: -0.05"
	require.Len(t, narrator.calls, 1)
	assert.Contains(t, narrator.calls[0].Text, wantBlock)
	assert.Contains(t, narrator.calls[0].Text, "a spike (1)")
	assert.Contains(t, narrator.calls[0].Text, "the next 7 days")
	assert.Equal(t, domain.AudiencePolicyMaker, narrator.calls[0].Audience)

	want := domain.ExplainResult{
		ID:         "req-1",
		State:      domain.StateCompleted,
		Audience:   "policy_maker",
		Prediction: &domain.Prediction{Label: 1},
		Attributions: []domain.Attribution{
			{Feature: "T2M", Value: 1.5, Contribution: 0.42},
			{Feature: "T2MWET", Value: 1.2, Contribution: 0.31},
			{Feature: "month", Value: 1, Contribution: -0.05},
		},
		Prompt:      narrator.calls[0].Text,
		Narrative:   "Heat stress is likely to drive admissions.",
		GeneratedAt: clock.Now(),
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Requests.WithLabelValues("completed")), 0)
}

func TestExplain_UnrecognizedAudienceShortCircuits(t *testing.T) {
	narrator := &recordingNarrator{reply: "unused"}
	e, metrics := newTestExplainer(&identityModel{tmpl: heatTemplate()}, []float64{0.1, 0.2, 0.3, 0.4}, narrator)

	res, err := e.Explain(context.Background(), domain.ExplainRequest{Audience: "unknown_value"})
	require.NoError(t, err)

	assert.Empty(t, narrator.calls)
	assert.Equal(t, domain.StateShortCircuited, res.State)
	assert.Equal(t, "Audience type 'unknown_value' not recognized.", res.Narrative)
	assert.NotEmpty(t, res.ID)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Requests.WithLabelValues("short_circuited")), 0)
}

func TestExplain_DefaultsApplied(t *testing.T) {
	narrator := &recordingNarrator{reply: "ok"}
	e, _ := newTestExplainer(&identityModel{tmpl: heatTemplate()}, []float64{0.1, 0.2, 0.3, 0.4}, narrator)

	res, err := e.Explain(context.Background(), domain.ExplainRequest{Audience: "general"})
	require.NoError(t, err)

	assert.Len(t, res.Attributions, 4)
	assert.Contains(t, res.Prompt, "not a spike (0)")
	assert.Contains(t, res.Prompt, "the next 7 days")
}

func TestExplain_ValidationFailures(t *testing.T) {
	tests := []struct {
		name      string
		model     *identityModel
		phi       []float64
		req       domain.ExplainRequest
		wantState domain.State
		wantKind  string
		check     func(t *testing.T, err error)
	}{
		{
			name:      "unknown override",
			model:     &identityModel{tmpl: heatTemplate()},
			phi:       []float64{0, 0, 0, 0},
			req:       domain.ExplainRequest{Overrides: domain.Override{"nonexistent": 1}, Audience: "general"},
			wantState: domain.StateIdle,
			wantKind:  "unknown_feature",
			check: func(t *testing.T, err error) {
				var unknown *domain.UnknownFeatureError
				require.ErrorAs(t, err, &unknown)
				assert.Equal(t, "nonexistent", unknown.Key)
			},
		},
		{
			name:      "empty template",
			model:     &identityModel{},
			phi:       nil,
			req:       domain.ExplainRequest{Audience: "general"},
			wantState: domain.StateIdle,
			wantKind:  "empty_template",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrEmptyTemplate)
			},
		},
		{
			name:      "negative top n",
			model:     &identityModel{tmpl: heatTemplate()},
			phi:       []float64{0, 0, 0, 0},
			req:       domain.ExplainRequest{Audience: "general", TopN: intPtr(-1)},
			wantState: domain.StateIdle,
			wantKind:  "invalid_top_n",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidTopN)
			},
		},
		{
			name:      "explainer schema mismatch",
			model:     &identityModel{tmpl: heatTemplate()},
			phi:       []float64{0.1, 0.2, 0.3},
			req:       domain.ExplainRequest{Audience: "general"},
			wantState: domain.StatePredicted,
			wantKind:  "schema_mismatch",
			check: func(t *testing.T, err error) {
				var schema *domain.SchemaMismatchError
				require.ErrorAs(t, err, &schema)
				assert.Equal(t, 4, schema.Expected)
				assert.Equal(t, 3, schema.Got)
			},
		},
		{
			name:      "transform failure",
			model:     &identityModel{tmpl: heatTemplate(), err: &domain.SchemaMismatchError{Stage: "preprocess", Expected: 4, Got: 3}},
			phi:       []float64{0, 0, 0, 0},
			req:       domain.ExplainRequest{Audience: "general"},
			wantState: domain.StateRowBuilt,
			wantKind:  "schema_mismatch",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			narrator := &recordingNarrator{reply: "unused"}
			e, metrics := newTestExplainer(tt.model, tt.phi, narrator)

			res, err := e.Explain(context.Background(), tt.req)
			require.Error(t, err)

			var stage *domain.StageError
			require.ErrorAs(t, err, &stage)
			assert.Equal(t, tt.wantState, stage.State)
			assert.Equal(t, domain.StateFailed, res.State)
			assert.Equal(t, tt.wantKind, res.ErrorKind)
			assert.Empty(t, res.Narrative)
			assert.Empty(t, narrator.calls)
			assert.InDelta(t, 1, testutil.ToFloat64(metrics.StageErrors.WithLabelValues(string(tt.wantState), tt.wantKind)), 0)
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestExplain_NarratorFailure(t *testing.T) {
	extErr := &domain.ExternalServiceError{Provider: "openai", Kind: domain.KindAuth, StatusCode: 401}
	narrator := &recordingNarrator{err: extErr}
	e, _ := newTestExplainer(&identityModel{tmpl: heatTemplate(), label: 1}, []float64{0.4, 0.3, 0.2, 0.1}, narrator)

	res, err := e.Explain(context.Background(), domain.ExplainRequest{Audience: "scientific"})
	require.Error(t, err)

	var stage *domain.StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, domain.StateNarrativeRequested, stage.State)
	assert.ErrorIs(t, err, extErr)
	assert.Equal(t, "auth", res.ErrorKind)
	assert.Empty(t, res.Narrative)
	assert.NotEmpty(t, res.Prompt)
}

func TestExplain_FullRowWithOverrideAndCounty(t *testing.T) {
	model := &identityModel{tmpl: domain.FeatureTemplate{
		Columns:  []string{"T2M", "county_fresno", "county_kern"},
		Defaults: []float64{0, 1, 0},
	}}
	narrator := &recordingNarrator{reply: "ok"}
	e, _ := newTestExplainer(model, []float64{0.3, 0.2, 0.1}, narrator)

	res, err := e.Explain(context.Background(), domain.ExplainRequest{
		Row:       map[string]float64{"T2M": 1, "county_fresno": 1, "county_kern": 0},
		Overrides: domain.Override{"T2M": 2.5},
		County:    "Kern",
		Audience:  "general",
	})
	require.NoError(t, err)

	got := map[string]float64{}
	for _, a := range res.Attributions {
		got[a.Feature] = a.Value
	}
	assert.Equal(t, map[string]float64{"T2M": 2.5, "county_fresno": 0, "county_kern": 1}, got)
}

func TestExplain_FullRowMissingColumn(t *testing.T) {
	e, _ := newTestExplainer(&identityModel{tmpl: heatTemplate()}, []float64{0, 0, 0, 0}, &recordingNarrator{})

	_, err := e.Explain(context.Background(), domain.ExplainRequest{
		Row:      map[string]float64{"T2M": 1},
		Audience: "general",
	})

	var schema *domain.SchemaMismatchError
	require.ErrorAs(t, err, &schema)
	assert.Equal(t, "input", schema.Stage)
}

func TestExplain_UnknownCounty(t *testing.T) {
	e, _ := newTestExplainer(&identityModel{tmpl: heatTemplate()}, []float64{0, 0, 0, 0}, &recordingNarrator{})

	_, err := e.Explain(context.Background(), domain.ExplainRequest{County: "orange", Audience: "general"})

	var unknown *domain.UnknownFeatureError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "county_orange", unknown.Key)
}

func TestExplain_ConcurrentRequestsAreIsolated(t *testing.T) {
	narrator := &recordingNarrator{reply: "ok"}
	e, _ := newTestExplainer(&identityModel{tmpl: heatTemplate()}, []float64{0.1, 0.2, 0.3, 0.4}, narrator)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := domain.ExplainRequest{Audience: "general"}
			if i%2 == 1 {
				req.Overrides = domain.Override{"bogus": 1}
			}
			_, errs[i] = e.Explain(context.Background(), req)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if i%2 == 1 {
			assert.Error(t, err)
		} else {
			assert.NoError(t, err)
		}
	}
	assert.Len(t, narrator.calls, 8)
}

func TestExplain_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	narrator := &recordingNarrator{reply: "unused"}
	e, _ := newTestExplainer(&identityModel{tmpl: heatTemplate()}, []float64{0, 0, 0, 0}, narrator)

	res, err := e.Explain(ctx, domain.ExplainRequest{Audience: "general"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "canceled", res.ErrorKind)
	assert.Empty(t, res.Narrative)
	assert.Empty(t, narrator.calls)
}

func TestExplainFunc_ReturnsNarrative(t *testing.T) {
	narrator := &recordingNarrator{reply: "verbatim text"}
	model := &identityModel{tmpl: heatTemplate(), label: 1}

	text, err := pipeline.Explain(context.Background(), model, &fixedExplainer{phi: []float64{1, 2, 3, 4}}, narrator,
		domain.ExplainRequest{Audience: "general"})
	require.NoError(t, err)
	assert.Equal(t, "verbatim text", text)

	_, err = pipeline.Explain(context.Background(), model, &fixedExplainer{phi: []float64{1, 2, 3, 4}}, narrator,
		domain.ExplainRequest{Overrides: domain.Override{"nope": 1}, Audience: "general"})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrEmptyTemplate))
}

func TestCheckReadiness(t *testing.T) {
	ready, _ := newTestExplainer(&identityModel{tmpl: heatTemplate()}, nil, &recordingNarrator{})
	assert.NoError(t, ready.CheckReadiness(context.Background()))

	empty, _ := newTestExplainer(&identityModel{}, nil, &recordingNarrator{})
	assert.ErrorIs(t, empty.CheckReadiness(context.Background()), domain.ErrEmptyTemplate)
}
