package domain

import (
	"context"
	"time"
)

// State is the position of one explanation request in its lifecycle.
type State string

const (
	StateIdle               State = "idle"
	StateRowBuilt           State = "row_built"
	StateTransformed        State = "transformed"
	StatePredicted          State = "predicted"
	StateAttributed         State = "attributed"
	StateComposed           State = "composed"
	StateNarrativeRequested State = "narrative_requested"
	StateCompleted          State = "completed"
	StateShortCircuited     State = "short_circuited"
	StateFailed             State = "failed"
)

// ExplainRequest asks for one narrative. Row, when set, is a full feature row
// and must match the template exactly; otherwise Overrides are merged into
// the template. County, when set, selects one column of the county_ one-hot
// group after the merge.
type ExplainRequest struct {
	ID        string             `json:"id,omitempty"`
	Row       map[string]float64 `json:"row,omitempty"`
	Overrides Override           `json:"overrides,omitempty"`
	County    string             `json:"county,omitempty"`
	Audience  string             `json:"audience"`
	Timeframe string             `json:"timeframe,omitempty"`
	TopN      *int               `json:"top_n,omitempty"`
}

// ExplainResult is the outcome of one request. Error fields are only set when
// State is StateFailed.
type ExplainResult struct {
	ID           string        `json:"id"`
	State        State         `json:"state"`
	Audience     string        `json:"audience"`
	Prediction   *Prediction   `json:"prediction,omitempty"`
	Attributions []Attribution `json:"attributions,omitempty"`
	Prompt       string        `json:"prompt,omitempty"`
	Narrative    string        `json:"narrative,omitempty"`
	Error        string        `json:"error,omitempty"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	GeneratedAt  time.Time     `json:"generated_at"`
}

// RawMessage is an unprocessed message from the request topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}
