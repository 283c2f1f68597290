package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	"github.com/couchcryptid/heat-risk-explainer/internal/observability"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const countyPrefix = "county_"

// Options are the request defaults applied by an Explainer.
type Options struct {
	Timeframe string
	TopN      int
	// Workers bounds concurrent attribution computations.
	Workers int
}

// DefaultOptions matches the service defaults.
func DefaultOptions() Options {
	return Options{Timeframe: "the next 7 days", TopN: 5, Workers: 4}
}

// Explainer runs one request through row building, prediction, attribution,
// prompt composition and narrative generation. It holds no per-request state
// and is safe for concurrent use.
type Explainer struct {
	model     domain.ModelPipeline
	explainer domain.Explainer
	narrator  domain.Narrator
	opts      Options
	workers   *semaphore.Weighted
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates an Explainer over loaded artifacts and a narrator.
func New(model domain.ModelPipeline, explainer domain.Explainer, narrator domain.Narrator, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Explainer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewUnregisteredMetrics()
	}
	return &Explainer{
		model:     model,
		explainer: explainer,
		narrator:  narrator,
		opts:      opts,
		workers:   semaphore.NewWeighted(int64(opts.Workers)),
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness reports whether model artifacts are loaded.
func (e *Explainer) CheckReadiness(_ context.Context) error {
	if e.model.Template().Empty() {
		return domain.ErrEmptyTemplate
	}
	return nil
}

// Explain processes req. On failure the partially filled result is returned
// alongside a *domain.StageError naming the last state reached.
func (e *Explainer) Explain(ctx context.Context, req domain.ExplainRequest) (domain.ExplainResult, error) {
	start := time.Now()
	res := domain.ExplainResult{
		ID:       req.ID,
		State:    domain.StateIdle,
		Audience: req.Audience,
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	logger := e.logger.With("request_id", res.ID, "audience", req.Audience)

	err := e.run(ctx, req, &res, logger)
	res.GeneratedAt = domain.Now()
	e.metrics.RequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		failedAt := res.State
		res.State = domain.StateFailed
		res.Error = err.Error()
		res.ErrorKind = domain.ErrorKind(err)
		e.metrics.Requests.WithLabelValues(string(domain.StateFailed)).Inc()
		e.metrics.StageErrors.WithLabelValues(string(failedAt), res.ErrorKind).Inc()
		logger.Warn("explain failed", "state", failedAt, "kind", res.ErrorKind, "error", err)
		return res, &domain.StageError{State: failedAt, Err: err}
	}

	e.metrics.Requests.WithLabelValues(string(res.State)).Inc()
	logger.Info("explain finished", "state", res.State, "duration", time.Since(start))
	return res, nil
}

// run advances res through the request states, leaving res.State at the
// last state reached when it returns an error.
func (e *Explainer) run(ctx context.Context, req domain.ExplainRequest, res *domain.ExplainResult, logger *slog.Logger) error {
	topN := e.opts.TopN
	if req.TopN != nil {
		topN = *req.TopN
	}
	if topN < 0 {
		return domain.ErrInvalidTopN
	}
	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = e.opts.Timeframe
	}

	row, err := e.buildRow(req)
	if err != nil {
		return err
	}
	res.State = domain.StateRowBuilt
	logger.Debug("row built", "row", row.String())

	features, err := e.model.Transform(row)
	if err != nil {
		return err
	}
	res.State = domain.StateTransformed

	pred, err := e.model.Predict(row)
	if err != nil {
		return err
	}
	res.Prediction = &pred
	res.State = domain.StatePredicted

	contributions, err := e.attribute(ctx, features)
	if err != nil {
		return err
	}
	ranked, err := domain.RankAttributions(features, contributions, topN)
	if err != nil {
		return err
	}
	res.Attributions = ranked
	res.State = domain.StateAttributed

	nreq := domain.ComposePrompt(ranked, pred.Label, req.Audience, timeframe)
	res.Prompt = nreq.Text
	res.State = domain.StateComposed

	if nreq.ShortCircuit {
		res.Narrative = nreq.Text
		res.State = domain.StateShortCircuited
		return nil
	}

	res.State = domain.StateNarrativeRequested
	logger.Debug("requesting narrative", "prompt_chars", len(nreq.Text))
	text, err := e.narrator.Generate(ctx, nreq)
	if err != nil {
		return err
	}
	res.Narrative = text
	res.State = domain.StateCompleted
	return nil
}

// buildRow resolves the request into a model-ready row. A full row is used
// as given with overrides layered on top; otherwise overrides are merged
// into the template.
func (e *Explainer) buildRow(req domain.ExplainRequest) (domain.InputRow, error) {
	tmpl := e.model.Template()

	var row domain.InputRow
	var err error
	if req.Row != nil {
		row, err = domain.RowFromMap(tmpl, req.Row)
		if err != nil {
			return domain.InputRow{}, err
		}
		if len(req.Overrides) > 0 {
			base := domain.FeatureTemplate{Columns: row.Columns, Defaults: row.Values}
			row, err = domain.BuildRow(&base, req.Overrides)
		}
	} else {
		row, err = domain.BuildRow(tmpl, req.Overrides)
	}
	if err != nil {
		return domain.InputRow{}, err
	}

	if req.County == "" {
		return row, nil
	}
	county := strings.ToLower(req.County)
	if !strings.HasPrefix(county, countyPrefix) {
		county = countyPrefix + county
	}
	return domain.SelectCategory(row, countyPrefix, county)
}

// attribute runs the explainer on a bounded worker slot.
func (e *Explainer) attribute(ctx context.Context, features domain.TransformedFeatures) ([]float64, error) {
	if err := e.workers.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.workers.Release(1)

	e.metrics.AttributionActive.Inc()
	defer e.metrics.AttributionActive.Dec()

	start := time.Now()
	defer func() { e.metrics.AttributionTime.Observe(time.Since(start).Seconds()) }()

	return e.explainer.Explain(features)
}

// Explain is the single-call surface: it explains one request with default
// options and returns only the narrative text.
func Explain(ctx context.Context, model domain.ModelPipeline, explainer domain.Explainer, narrator domain.Narrator, req domain.ExplainRequest) (string, error) {
	res, err := New(model, explainer, narrator, DefaultOptions(), nil, nil).Explain(ctx, req)
	if err != nil {
		return "", err
	}
	return res.Narrative, nil
}
