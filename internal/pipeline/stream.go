package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	"github.com/couchcryptid/heat-risk-explainer/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw request messages from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawMessage, error)
}

// RequestExplainer explains one decoded request.
type RequestExplainer interface {
	Explain(ctx context.Context, req domain.ExplainRequest) (domain.ExplainResult, error)
}

// BatchLoader writes results to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, results []domain.ExplainResult) error
}

// Stream consumes explanation requests from a topic and publishes one
// result per request, failures included.
type Stream struct {
	extractor   BatchExtractor
	explainer   RequestExplainer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
	concurrency int
}

// NewStream creates a Stream with the given stages and observability.
func NewStream(e BatchExtractor, x RequestExplainer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize, concurrency int) *Stream {
	return &Stream{
		extractor:   e,
		explainer:   x,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   max(batchSize, 1),
		concurrency: max(concurrency, 1),
	}
}

// CheckReadiness returns nil once a batch has been published.
func (s *Stream) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("stream has not published any results yet")
	}
	return nil
}

// Run executes the consume-explain-publish loop until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	s.logger.Info("stream started", "batch_size", s.batchSize, "concurrency", s.concurrency)
	s.metrics.StreamRunning.Set(1)
	defer s.metrics.StreamRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stream stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !s.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// processBatch runs one cycle. Returns false if the stream should stop.
// Messages returned alongside an extract error are still explained and
// published before backing off.
func (s *Stream) processBatch(ctx context.Context, backoff *time.Duration) bool {
	raws, extractErr := s.extractor.ExtractBatch(ctx, s.batchSize)
	if extractErr != nil {
		if ctx.Err() != nil {
			return false
		}
		s.logger.Error("extract batch failed", "error", extractErr, "fetched", len(raws))
		if len(raws) == 0 {
			return backoffOrStop(ctx, backoff)
		}
	}
	if len(raws) == 0 {
		return ctx.Err() == nil
	}

	s.metrics.MessagesConsumed.Add(float64(len(raws)))
	s.metrics.BatchSize.Observe(float64(len(raws)))

	results := s.explainBatch(ctx, raws)
	if ctx.Err() != nil {
		return false
	}

	if err := s.loader.LoadBatch(ctx, results); err != nil {
		s.logger.Error("load batch failed", "error", err, "batch_size", len(results))
		return backoffOrStop(ctx, backoff)
	}
	s.metrics.MessagesProduced.Add(float64(len(results)))
	s.ready.Store(true)

	for _, raw := range raws {
		s.commitOffset(ctx, raw)
	}

	if extractErr != nil {
		return backoffOrStop(ctx, backoff)
	}
	*backoff = initialBackoff
	return true
}

// explainBatch explains every message concurrently. Results keep the batch
// order and a failing request never affects its neighbours.
func (s *Stream) explainBatch(ctx context.Context, raws []domain.RawMessage) []domain.ExplainResult {
	results := make([]domain.ExplainResult, len(raws))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, raw := range raws {
		g.Go(func() error {
			results[i] = s.explainOne(ctx, raw)
			return nil
		})
	}
	_ = g.Wait() // explainOne never returns an error
	return results
}

func (s *Stream) explainOne(ctx context.Context, raw domain.RawMessage) domain.ExplainResult {
	req, err := decodeRequest(raw)
	if err != nil {
		s.logger.Warn("undecodable request",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		return domain.ExplainResult{
			ID:          req.ID,
			State:       domain.StateFailed,
			Error:       err.Error(),
			ErrorKind:   "bad_request",
			GeneratedAt: domain.Now(),
		}
	}

	// The returned result already carries the failure details.
	res, _ := s.explainer.Explain(ctx, req)
	return res
}

func decodeRequest(raw domain.RawMessage) (domain.ExplainRequest, error) {
	var req domain.ExplainRequest
	if err := json.Unmarshal(raw.Value, &req); err != nil {
		return domain.ExplainRequest{ID: string(raw.Key)}, fmt.Errorf("decode request: %w", err)
	}
	if req.ID == "" {
		req.ID = string(raw.Key)
	}
	return req, nil
}

// commitOffset commits the message offset if a commit function is available.
func (s *Stream) commitOffset(ctx context.Context, raw domain.RawMessage) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		s.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

// backoffOrStop sleeps for the current backoff and advances it. Returns
// false if ctx is done.
func backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func nextBackoff(current, limit time.Duration) time.Duration {
	return min(current*2, limit)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
